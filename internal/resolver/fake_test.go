package resolver

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// navFunc resolves a navigation to the landing URL, emitting responses on the way.
type navFunc func(ctx context.Context, target, referrer string, emit func(Response)) (string, error)

type fakeLauncher struct {
	nav      navFunc
	pages    map[string]string
	tabErr   error
	launches atomic.Int32

	// closeGate, when set, blocks browser Close until it is closed.
	closeGate chan struct{}

	mu       sync.Mutex
	browsers []*fakeBrowser
}

func (l *fakeLauncher) Launch(ctx context.Context) (Browser, error) {
	l.launches.Add(1)
	b := &fakeBrowser{launcher: l}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

type fakeBrowser struct {
	launcher *fakeLauncher
	closed   atomic.Bool

	mu        sync.Mutex
	open      int
	maxOpen   int
	navs      []string
	referrers []string
	shots     []string
}

func (b *fakeBrowser) NewTab(ctx context.Context) (Tab, error) {
	if b.launcher.tabErr != nil {
		return nil, b.launcher.tabErr
	}
	b.mu.Lock()
	b.open++
	if b.open > b.maxOpen {
		b.maxOpen = b.open
	}
	b.mu.Unlock()
	return &fakeTab{browser: b}, nil
}

func (b *fakeBrowser) Close() error {
	if b.launcher.closeGate != nil {
		<-b.launcher.closeGate
	}
	b.closed.Store(true)
	return nil
}

type fakeTab struct {
	browser *fakeBrowser
	handler func(Response)
	loc     string
}

func (t *fakeTab) OnResponse(fn func(Response)) { t.handler = fn }

func (t *fakeTab) Navigate(ctx context.Context, target, referrer string) error {
	b := t.browser
	b.mu.Lock()
	b.navs = append(b.navs, target)
	b.referrers = append(b.referrers, referrer)
	b.mu.Unlock()

	emit := func(r Response) {
		if t.handler != nil {
			t.handler(r)
		}
	}
	loc, err := b.launcher.nav(ctx, target, referrer, emit)
	if err != nil {
		return err
	}
	t.loc = loc
	return nil
}

func (t *fakeTab) Location(ctx context.Context) (string, error) { return t.loc, nil }

func (t *fakeTab) Content(ctx context.Context) (string, error) {
	if doc, ok := t.browser.launcher.pages[t.loc]; ok {
		return doc, nil
	}
	return "<html><body>ok</body></html>", nil
}

func (t *fakeTab) Screenshot(ctx context.Context, path string) error {
	t.browser.mu.Lock()
	t.browser.shots = append(t.browser.shots, path)
	t.browser.mu.Unlock()
	return nil
}

func (t *fakeTab) Close() error {
	t.browser.mu.Lock()
	t.browser.open--
	t.browser.mu.Unlock()
	return nil
}

// browser returns the first launched browser.
func (l *fakeLauncher) browser() *fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.browsers[0]
}

type dirSnapshots string

func (d dirSnapshots) PathFor(hostPath string) string {
	return filepath.Join(string(d), hostPath+".png")
}

func landOn(url string) navFunc {
	return func(context.Context, string, string, func(Response)) (string, error) {
		return url, nil
	}
}

var errNavTimeout = errors.New("navigation timeout")

func failNav(context.Context, string, string, func(Response)) (string, error) {
	return "", errNavTimeout
}
