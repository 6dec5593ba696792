// Package controller implements the admin operations behind the HTTP API.
package controller

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/dgnsrekt/visionary/internal/pipeline"
	"github.com/dgnsrekt/visionary/internal/resolver"
	"github.com/dgnsrekt/visionary/internal/snapshot"
)

// Pool is the browser pool surface the admin API drives.
type Pool interface {
	State() resolver.State
	Failures() int
	Restarts() int64
	OpenTabs() int64
	ProcessLink(ctx context.Context, link string) (*resolver.ResolvedLink, error)
	Restart(ctx context.Context) error
}

type PipelineStats interface {
	Stats() pipeline.Stats
}

// Service wraps the running bot for operators.
type Service struct {
	pool  Pool
	stats PipelineStats
	snaps *snapshot.Store
}

// NewService builds a Service. stats may be nil when the pipeline is not running.
func NewService(pool Pool, stats PipelineStats, snaps *snapshot.Store) *Service {
	return &Service{pool: pool, stats: stats, snaps: snaps}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return newError(CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

type Status struct {
	BrowserState string         `json:"browser_state"`
	Failures     int            `json:"failures"`
	Restarts     int64          `json:"restarts"`
	OpenTabs     int64          `json:"open_tabs"`
	Pipeline     pipeline.Stats `json:"pipeline"`
}

func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		BrowserState: s.pool.State().String(),
		Failures:     s.pool.Failures(),
		Restarts:     s.pool.Restarts(),
		OpenTabs:     s.pool.OpenTabs(),
	}
	if s.stats != nil {
		st.Pipeline = s.stats.Stats()
	}
	return st
}

// Resolution is a resolved link as reported to operators.
type Resolution struct {
	Link     string  `json:"link"`
	Location string  `json:"location"`
	Chain    string  `json:"chain,omitempty"`
	Snapshot string  `json:"snapshot,omitempty"`
	Elapsed  float64 `json:"elapsed"`
	File     bool    `json:"file"`
}

// Resolve runs a link through the pool without posting to the chat.
func (s *Service) Resolve(ctx context.Context, link string) (Resolution, error) {
	if err := s.requireNonEmpty(link, "url"); err != nil {
		return Resolution{}, err
	}
	link = strings.TrimSpace(link)
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Resolution{}, newError(CodeValidation, "url must be an absolute http(s) URL", err)
	}

	res, err := s.pool.ProcessLink(ctx, link)
	if err != nil {
		if errors.Is(err, resolver.ErrPoolStopped) || errors.Is(err, resolver.ErrDisconnected) {
			return Resolution{}, newError(CodeBrowserUnavailable, "browser unavailable", err)
		}
		return Resolution{}, newError(CodeResolveFailed, "could not resolve "+link, err)
	}

	out := Resolution{
		Link:     link,
		Location: res.Location.String(),
		Chain:    res.RedirectPath,
		Elapsed:  res.Elapsed,
		File:     res.IsFile(),
	}
	if res.Snapshot != "" {
		out.Snapshot = filepath.Base(res.Snapshot)
	}
	return out, nil
}

func (s *Service) RestartBrowser(ctx context.Context) error {
	if err := s.pool.Restart(ctx); err != nil {
		return newError(CodeBrowserUnavailable, "browser restart failed", err)
	}
	return nil
}

// ListSnapshots returns at most limit snapshots, newest first. A non-positive
// limit returns all of them.
func (s *Service) ListSnapshots(ctx context.Context, limit int) ([]snapshot.Meta, error) {
	metas, err := s.snaps.List()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

func (s *Service) ReadSnapshot(ctx context.Context, name string) ([]byte, error) {
	if err := s.requireNonEmpty(name, "name"); err != nil {
		return nil, err
	}
	data, err := s.snaps.Read(name)
	switch {
	case errors.Is(err, snapshot.ErrInvalidName):
		return nil, newError(CodeValidation, "invalid snapshot name", err)
	case errors.Is(err, fs.ErrNotExist):
		return nil, newError(CodeSnapshotNotFound, "snapshot not found: "+name, err)
	case err != nil:
		return nil, err
	}
	return data, nil
}
