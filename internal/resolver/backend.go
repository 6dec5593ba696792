// Package resolver resolves links to their final destination in a shared,
// crash-prone browser process and captures a snapshot of the landing page.
package resolver

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

var (
	// ErrDisconnected means the browser process itself became unreachable.
	ErrDisconnected = errors.New("browser disconnected")
	// ErrTabUnavailable means no tab could be opened within the retry budget.
	ErrTabUnavailable = errors.New("browser tab unavailable")
	// ErrPoolStopped is returned once the pool has been closed.
	ErrPoolStopped = errors.New("browser pool stopped")
)

// Launcher starts a browser process.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Tab is one browsing context. Implementations wrap transport failures that
// mean the process is gone in ErrDisconnected.
type Tab interface {
	// OnResponse registers the handler for every HTTP response the tab sees,
	// redirect responses included.
	OnResponse(fn func(Response))
	Navigate(ctx context.Context, target, referrer string) error
	Location(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// Snapshots names snapshot files.
type Snapshots interface {
	PathFor(hostPath string) string
}

// Response is an HTTP response observed by a tab. Header names are lower case.
type Response struct {
	URL     string
	Status  int
	Headers map[string]string
}

func (r Response) Header(name string) string {
	return r.Headers[strings.ToLower(name)]
}

// FileSentinel marks a link classified as a file download.
const FileSentinel = -1.0

// ResolvedLink is the outcome of one successful ProcessLink call.
type ResolvedLink struct {
	Start        *url.URL
	Location     *url.URL
	RedirectPath string
	Snapshot     string
	Elapsed      float64
}

// IsFile reports whether the link was classified without navigation.
func (r *ResolvedLink) IsFile() bool {
	return r.Elapsed == FileSentinel
}

// Redirected reports whether the link landed on another host.
func (r *ResolvedLink) Redirected() bool {
	return !strings.EqualFold(r.Start.Host, r.Location.Host)
}
