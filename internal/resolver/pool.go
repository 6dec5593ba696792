package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgnsrekt/visionary/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// Config tunes the pool. Zero values fall back to the defaults below.
type Config struct {
	MaxTabs           int
	Attempts          int
	NavTimeout        time.Duration
	TabTimeout        time.Duration
	RetryDelay        time.Duration
	RestartTimeout    time.Duration
	MaxRefreshHops    int
	FailureThreshold  int
	BrowsableExts     []string
	OnStateTransition func(from, to State)
}

func (c Config) withDefaults() Config {
	if c.MaxTabs < 1 {
		c.MaxTabs = 5
	}
	if c.Attempts < 1 {
		c.Attempts = 3
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 20 * time.Second
	}
	if c.TabTimeout <= 0 {
		c.TabTimeout = 3 * time.Second
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	if c.RestartTimeout <= 0 {
		c.RestartTimeout = time.Minute
	}
	if c.MaxRefreshHops < 1 {
		c.MaxRefreshHops = 5
	}
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 4
	}
	return c
}

// Pool owns the single browser process and leases tabs from it.
type Pool struct {
	cfg        Config
	launcher   Launcher
	snaps      Snapshots
	classifier *Classifier
	fsm        *stateMachine
	leases     *semaphore.Weighted

	mu             sync.Mutex
	browser        Browser
	failures       int
	lastFailedHost string

	openTabs   atomic.Int64
	restarts   atomic.Int64
	restarting atomic.Bool
	closed     atomic.Bool
	bg         sync.WaitGroup
}

func NewPool(cfg Config, launcher Launcher, snaps Snapshots) *Pool {
	cfg = cfg.withDefaults()
	observe := cfg.OnStateTransition
	return &Pool{
		cfg:        cfg,
		launcher:   launcher,
		snaps:      snaps,
		classifier: NewClassifier(cfg.BrowsableExts),
		leases:     semaphore.NewWeighted(int64(cfg.MaxTabs)),
		fsm: newStateMachine(func(from, to State) {
			slog.Debug("browser pool transition", "from", from, "to", to)
			if observe != nil {
				observe(from, to)
			}
		}),
	}
}

func (p *Pool) State() State { return p.fsm.current() }

// Failures returns the consecutive failure count.
func (p *Pool) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

func (p *Pool) Restarts() int64 { return p.restarts.Load() }

func (p *Pool) OpenTabs() int64 { return p.openTabs.Load() }

// Start launches the browser process.
func (p *Pool) Start(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolStopped
	}
	if err := p.fsm.transition(StateStopped, StateStarting); err != nil {
		return err
	}
	b, err := p.launcher.Launch(ctx)
	if err != nil {
		if terr := p.fsm.transition(StateStarting, StateStopped); terr != nil {
			slog.Error("browser pool state rollback failed", "error", terr)
		}
		return fmt.Errorf("launch browser: %w", err)
	}

	p.mu.Lock()
	p.browser = b
	p.mu.Unlock()

	if err := p.fsm.transition(StateStarting, StateReady); err != nil {
		return err
	}
	slog.Info("browser pool ready", "max_tabs", p.cfg.MaxTabs)
	return nil
}

// Stop closes the browser process, waiting for it at most until ctx is done.
// Stopping a stopped pool is a no-op.
func (p *Pool) Stop(ctx context.Context) error {
	if err := p.fsm.transition(StateReady, StateStopping); err != nil {
		if p.fsm.current() == StateStopped {
			return nil
		}
		return err
	}

	p.mu.Lock()
	b := p.browser
	p.browser = nil
	p.mu.Unlock()

	if b != nil {
		closed := make(chan error, 1)
		go func() { closed <- b.Close() }()
		select {
		case err := <-closed:
			if err != nil {
				slog.Warn("browser close failed", "error", err)
			}
		case <-ctx.Done():
			slog.Warn("browser close abandoned", "error", ctx.Err())
		}
	}
	return p.fsm.transition(StateStopping, StateStopped)
}

// Restart stops and starts the browser and clears the failure counter.
func (p *Pool) Restart(ctx context.Context) error {
	if err := p.Stop(ctx); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	p.resetFailures()
	p.restarts.Add(1)
	telemetry.IncBrowserRestart()

	if err := p.Start(ctx); err != nil {
		var terr *TransitionError
		if errors.As(err, &terr) {
			// a waiter won the race to start it
			return nil
		}
		return fmt.Errorf("restart: %w", err)
	}
	return nil
}

// Close stops the pool for good; later calls fail with ErrPoolStopped.
func (p *Pool) Close(ctx context.Context) error {
	p.closed.Store(true)
	p.bg.Wait()
	return p.Stop(ctx)
}

// WaitReady blocks until the pool is ready, starting it when stopped.
func (p *Pool) WaitReady(ctx context.Context) error {
	for {
		state, changed := p.fsm.watch()
		switch state {
		case StateReady:
			return nil
		case StateStopped:
			if p.closed.Load() {
				return ErrPoolStopped
			}
			err := p.Start(ctx)
			var terr *TransitionError
			if err != nil && !errors.As(err, &terr) {
				return err
			}
			continue
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ProcessLink resolves link to its landing page. File links come back with
// the FileSentinel elapsed time and no navigation.
func (p *Pool) ProcessLink(ctx context.Context, link string) (*ResolvedLink, error) {
	started := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "visionary/resolver", "resolver.process_link", attribute.String("link", link))
	defer span.End()

	start, err := parseLink(link)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if p.classifier.IsFile(start) {
		return &ResolvedLink{Start: start, Location: start, Elapsed: FileSentinel}, nil
	}

	res, err := p.resolve(ctx, start, started)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.ObserveResolve(time.Since(started))
	return res, nil
}

func (p *Pool) resolve(ctx context.Context, start *url.URL, started time.Time) (*ResolvedLink, error) {
	if err := p.WaitReady(ctx); err != nil {
		return nil, fmt.Errorf("wait for browser: %w", err)
	}

	tab, err := p.acquireTab(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.triggerRestart("tab acquisition exhausted")
		}
		return nil, err
	}
	defer func() {
		if err := tab.Close(); err != nil {
			slog.Debug("tab close failed", "error", err)
		}
	}()

	tracker := NewRedirectTracker()
	tab.OnResponse(tracker.Observe)

	end, err := p.follow(ctx, tab, start)
	if err != nil {
		switch {
		case errors.Is(err, ErrDisconnected):
			p.triggerRestart("browser disconnected")
		case ctx.Err() != nil:
		default:
			p.recordFailure(start.Host)
		}
		return nil, err
	}

	snap := p.snaps.PathFor(end.Host + end.Path)
	if err := tab.Screenshot(ctx, snap); err != nil {
		slog.Warn("snapshot capture failed", "url", end.String(), "error", err)
		snap = ""
	}

	return &ResolvedLink{
		Start:        start,
		Location:     end,
		RedirectPath: tracker.Chain(start, end),
		Snapshot:     snap,
		Elapsed:      time.Since(started).Seconds(),
	}, nil
}

func (p *Pool) acquireTab(ctx context.Context) (Tab, error) {
	if err := p.leases.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	release := func() {
		p.leases.Release(1)
		p.openTabs.Add(-1)
		telemetry.AddOpenTabs(-1)
	}
	p.openTabs.Add(1)
	telemetry.AddOpenTabs(1)

	var tab Tab
	err := p.retry(ctx, func() error {
		b := p.currentBrowser()
		if b == nil {
			return backoff.Permanent(ErrPoolStopped)
		}
		tabCtx, cancel := context.WithTimeout(ctx, p.cfg.TabTimeout)
		defer cancel()
		t, err := b.NewTab(tabCtx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			slog.Debug("tab open attempt failed", "error", err)
			return err
		}
		tab = t
		return nil
	})
	if err != nil {
		release()
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTabUnavailable, err)
	}
	return &leasedTab{Tab: tab, release: release}, nil
}

// follow navigates to start and chases meta-refresh directives up to the hop bound.
func (p *Pool) follow(ctx context.Context, tab Tab, start *url.URL) (*url.URL, error) {
	current, referrer := start, ""
	for hop := 0; ; hop++ {
		if err := p.navigate(ctx, tab, current.String(), referrer); err != nil {
			return nil, err
		}
		here := p.location(ctx, tab, current)
		if hop >= p.cfg.MaxRefreshHops {
			slog.Warn("meta refresh hop limit reached", "url", here.String(), "hops", hop)
			return here, nil
		}

		doc, err := p.content(ctx, tab)
		if err != nil {
			if errors.Is(err, ErrDisconnected) {
				return nil, err
			}
			slog.Debug("page content unavailable, skipping meta refresh", "url", here.String(), "error", err)
			return here, nil
		}
		target := MetaRefreshTarget(doc)
		if target == "" {
			return here, nil
		}
		next, err := here.Parse(target)
		if err != nil || next.Host == "" || (next.Scheme != "http" && next.Scheme != "https") {
			return here, nil
		}
		if next.String() == here.String() {
			return here, nil
		}
		slog.Debug("following meta refresh", "from", here.String(), "to", next.String())
		current, referrer = next, here.String()
	}
}

func (p *Pool) navigate(ctx context.Context, tab Tab, target, referrer string) error {
	err := p.retry(ctx, func() error {
		navCtx, cancel := context.WithTimeout(ctx, p.cfg.NavTimeout)
		defer cancel()
		err := tab.Navigate(navCtx, target, referrer)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrDisconnected):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		}
		telemetry.IncNavigationFailure()
		slog.Debug("navigation attempt failed", "url", target, "error", err)
		return err
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", target, err)
	}
	p.resetFailures()
	return nil
}

func (p *Pool) content(ctx context.Context, tab Tab) (string, error) {
	var doc string
	err := p.retry(ctx, func() error {
		s, err := tab.Content(ctx)
		if err != nil {
			if errors.Is(err, ErrDisconnected) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		doc = s
		return nil
	})
	return doc, err
}

func (p *Pool) location(ctx context.Context, tab Tab, fallback *url.URL) *url.URL {
	raw, err := tab.Location(ctx)
	if err != nil {
		slog.Debug("tab location unavailable", "error", err)
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fallback
	}
	return u
}

func (p *Pool) retry(ctx context.Context, op backoff.Operation) error {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(p.cfg.RetryDelay), uint64(p.cfg.Attempts-1))
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (p *Pool) currentBrowser() Browser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.browser
}

// recordFailure counts a failed link, ignoring a repeat of the last failed host.
func (p *Pool) recordFailure(host string) {
	p.mu.Lock()
	if host == p.lastFailedHost {
		p.mu.Unlock()
		return
	}
	p.lastFailedHost = host
	p.failures++
	n := p.failures
	p.mu.Unlock()

	slog.Warn("link resolution failed", "host", host, "consecutive_failures", n)
	if n >= p.cfg.FailureThreshold {
		p.triggerRestart("consecutive navigation failures")
	}
}

func (p *Pool) resetFailures() {
	p.mu.Lock()
	p.failures = 0
	p.lastFailedHost = ""
	p.mu.Unlock()
}

// triggerRestart restarts the pool in the background; concurrent triggers collapse into one.
func (p *Pool) triggerRestart(reason string) {
	if p.closed.Load() || !p.restarting.CompareAndSwap(false, true) {
		return
	}
	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		defer p.restarting.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RestartTimeout)
		defer cancel()
		slog.Warn("restarting browser pool", "reason", reason)
		if err := p.Restart(ctx); err != nil {
			slog.Error("browser pool restart failed", "reason", reason, "error", err)
		}
	}()
}

func parseLink(link string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("parse link: %q is not an http(s) url", link)
	}
	return u, nil
}
