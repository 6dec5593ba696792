// Package cdp drives Chrome tabs over the DevTools protocol for the resolver pool.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/visionary/internal/browser"
	"github.com/dgnsrekt/visionary/internal/resolver"
)

const screenshotQuality = 100 // png

// Launcher starts Chrome through a browser.Launcher and attaches chromedp to it.
type Launcher struct {
	proc *browser.Launcher
}

func NewLauncher(proc *browser.Launcher) *Launcher {
	return &Launcher{proc: proc}
}

func (l *Launcher) Launch(ctx context.Context) (resolver.Browser, error) {
	if err := l.proc.Launch(ctx); err != nil {
		return nil, err
	}

	cdpURL := l.proc.CDPURL()
	slog.Info("connecting to browser", "url", cdpURL)
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		l.proc.Stop()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	return &Browser{
		proc:        l.proc,
		cdpURL:      cdpURL,
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		probe:       Probe,
	}, nil
}

// Browser is a connected Chrome process.
type Browser struct {
	proc        *browser.Launcher
	cdpURL      string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	probe       func(ctx context.Context, httpBase string) error
	closeOnce   sync.Once
}

// NewTab opens a tab. The first chromedp.Run on a tab binds the target to the
// context it is given, so it runs on the tab context and ctx only bounds the wait.
func (b *Browser) NewTab(ctx context.Context) (resolver.Tab, error) {
	tabCtx, cancel := chromedp.NewContext(b.ctx)
	t := &Tab{browser: b, ctx: tabCtx, cancel: cancel}
	chromedp.ListenTarget(tabCtx, t.handleEvent)

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(tabCtx, network.Enable(), network.SetCacheDisabled(true))
	}()
	select {
	case err := <-done:
		if err != nil {
			cancel()
			return nil, b.classify(fmt.Errorf("open tab: %w", err))
		}
		return t, nil
	case <-ctx.Done():
		cancel()
		return nil, fmt.Errorf("open tab: %w", ctx.Err())
	}
}

// Close detaches chromedp and stops the process.
func (b *Browser) Close() error {
	b.closeOnce.Do(func() {
		b.cancel()
		b.allocCancel()
		b.proc.Stop()
		slog.Info("browser closed")
	})
	return nil
}

// Tab is one chromedp target.
type Tab struct {
	browser *Browser
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	handler func(resolver.Response)
}

func (t *Tab) OnResponse(fn func(resolver.Response)) {
	t.mu.Lock()
	t.handler = fn
	t.mu.Unlock()
}

func (t *Tab) handleEvent(ev interface{}) {
	var resp *network.Response
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		resp = e.RedirectResponse
	case *network.EventResponseReceived:
		resp = e.Response
	}
	if resp == nil {
		return
	}

	t.mu.Lock()
	fn := t.handler
	t.mu.Unlock()
	if fn != nil {
		fn(toResponse(resp))
	}
}

func toResponse(r *network.Response) resolver.Response {
	headers := make(map[string]string, len(r.Headers))
	for k, v := range r.Headers {
		headers[strings.ToLower(k)] = fmt.Sprint(v)
	}
	return resolver.Response{URL: r.URL, Status: int(r.Status), Headers: headers}
}

func (t *Tab) Navigate(ctx context.Context, target, referrer string) error {
	headers := network.Headers{}
	if referrer != "" {
		headers["Referer"] = referrer
	}
	return t.run(ctx, network.SetExtraHTTPHeaders(headers), chromedp.Navigate(target))
}

func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	err := t.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (t *Tab) Content(ctx context.Context) (string, error) {
	var doc string
	err := t.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ""`, &doc))
	return doc, err
}

func (t *Tab) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := t.run(ctx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (t *Tab) Close() error {
	t.cancel()
	return nil
}

// run executes actions on the tab, bounded by both the tab and ctx.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return t.browser.classify(chromedp.Run(runCtx, actions...))
}
