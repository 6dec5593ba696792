package controller

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgnsrekt/visionary/internal/pipeline"
	"github.com/dgnsrekt/visionary/internal/resolver"
	"github.com/dgnsrekt/visionary/internal/snapshot"
)

type stubPool struct {
	state      resolver.State
	resolveErr error
	restartErr error
	restarts   int64
	lastLink   string
}

func (p *stubPool) State() resolver.State { return p.state }
func (p *stubPool) Failures() int         { return 2 }
func (p *stubPool) Restarts() int64       { return p.restarts }
func (p *stubPool) OpenTabs() int64       { return 1 }

func (p *stubPool) ProcessLink(ctx context.Context, link string) (*resolver.ResolvedLink, error) {
	p.lastLink = link
	if p.resolveErr != nil {
		return nil, p.resolveErr
	}
	start, _ := url.Parse(link)
	end, _ := url.Parse("https://long-site.example/article")
	return &resolver.ResolvedLink{
		Start:        start,
		Location:     end,
		RedirectPath: "short.ly/abc -> long-site.example/article",
		Snapshot:     filepath.Join("img", "abc.png"),
		Elapsed:      0.5,
	}, nil
}

func (p *stubPool) Restart(ctx context.Context) error {
	if p.restartErr != nil {
		return p.restartErr
	}
	p.restarts++
	return nil
}

type stubStats pipeline.Stats

func (s stubStats) Stats() pipeline.Stats { return pipeline.Stats(s) }

func codeOf(t *testing.T, err error) string {
	t.Helper()
	var coded *CodedError
	if !errors.As(err, &coded) {
		t.Fatalf("error = %T %v; want *CodedError", err, err)
	}
	return coded.Code
}

func TestRequireNonEmpty(t *testing.T) {
	s := &Service{}
	if err := s.requireNonEmpty("https://a.com", "url"); err != nil {
		t.Fatalf("requireNonEmpty() = %v; want nil", err)
	}

	err := s.requireNonEmpty("   ", "url")
	var got *CodedError
	if !errors.As(err, &got) {
		t.Fatalf("requireNonEmpty() = %T; want *CodedError", err)
	}
	if got.Code != CodeValidation || got.Message != "url is required" {
		t.Fatalf("requireNonEmpty() = %+v; want validation error for url", got)
	}
}

func TestStatusCombinesPoolAndPipeline(t *testing.T) {
	s := NewService(&stubPool{state: resolver.StateReady, restarts: 3}, stubStats{QueueDepth: 4, WorkersAlive: 5}, nil)

	st := s.Status(context.Background())
	if st.BrowserState != "ready" || st.Failures != 2 || st.Restarts != 3 || st.OpenTabs != 1 {
		t.Fatalf("Status() = %+v", st)
	}
	if st.Pipeline.QueueDepth != 4 || st.Pipeline.WorkersAlive != 5 {
		t.Fatalf("Status().Pipeline = %+v", st.Pipeline)
	}
}

func TestResolveValidatesURL(t *testing.T) {
	pool := &stubPool{}
	s := NewService(pool, nil, nil)

	for _, link := range []string{"", "ftp://a.com/x", "not a url", "https://"} {
		if _, err := s.Resolve(context.Background(), link); codeOf(t, err) != CodeValidation {
			t.Fatalf("Resolve(%q) code = %q; want %q", link, codeOf(t, err), CodeValidation)
		}
	}
	if pool.lastLink != "" {
		t.Fatalf("pool called with %q for invalid input", pool.lastLink)
	}
}

func TestResolveReportsResult(t *testing.T) {
	s := NewService(&stubPool{}, nil, nil)

	got, err := s.Resolve(context.Background(), " https://short.ly/abc ")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got.Link != "https://short.ly/abc" || got.Location != "https://long-site.example/article" || got.Snapshot != "abc.png" || got.File {
		t.Fatalf("Resolve() = %+v", got)
	}
}

func TestResolveMapsFailures(t *testing.T) {
	s := NewService(&stubPool{resolveErr: resolver.ErrPoolStopped}, nil, nil)
	if _, err := s.Resolve(context.Background(), "https://a.com"); codeOf(t, err) != CodeBrowserUnavailable {
		t.Fatalf("Resolve() code = %q; want %q", codeOf(t, err), CodeBrowserUnavailable)
	}

	s = NewService(&stubPool{resolveErr: errors.New("net::ERR_NAME_NOT_RESOLVED")}, nil, nil)
	if _, err := s.Resolve(context.Background(), "https://a.com"); codeOf(t, err) != CodeResolveFailed {
		t.Fatalf("Resolve() code = %q; want %q", codeOf(t, err), CodeResolveFailed)
	}
}

func TestRestartBrowser(t *testing.T) {
	pool := &stubPool{}
	s := NewService(pool, nil, nil)
	if err := s.RestartBrowser(context.Background()); err != nil || pool.restarts != 1 {
		t.Fatalf("RestartBrowser() = %v, restarts = %d", err, pool.restarts)
	}

	s = NewService(&stubPool{restartErr: errors.New("launch failed")}, nil, nil)
	if err := s.RestartBrowser(context.Background()); codeOf(t, err) != CodeBrowserUnavailable {
		t.Fatalf("RestartBrowser() code = %q; want %q", codeOf(t, err), CodeBrowserUnavailable)
	}
}

func TestSnapshots(t *testing.T) {
	store, err := snapshot.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	for _, hp := range []string{"a.com/1", "b.com/2"} {
		if err := os.WriteFile(store.PathFor(hp), []byte(hp), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	s := NewService(&stubPool{}, nil, store)

	metas, err := s.ListSnapshots(context.Background(), 1)
	if err != nil || len(metas) != 1 {
		t.Fatalf("ListSnapshots(1) = %v, %v; want one entry", metas, err)
	}

	data, err := s.ReadSnapshot(context.Background(), filepath.Base(store.PathFor("a.com/1")))
	if err != nil || string(data) != "a.com/1" {
		t.Fatalf("ReadSnapshot() = %q, %v", data, err)
	}
	if _, err := s.ReadSnapshot(context.Background(), snapshot.Key("c.com")+".png"); codeOf(t, err) != CodeSnapshotNotFound {
		t.Fatalf("ReadSnapshot(missing) code = %q; want %q", codeOf(t, err), CodeSnapshotNotFound)
	}
	if _, err := s.ReadSnapshot(context.Background(), "../etc/passwd"); codeOf(t, err) != CodeValidation {
		t.Fatalf("ReadSnapshot(traversal) code = %q; want %q", codeOf(t, err), CodeValidation)
	}
}
