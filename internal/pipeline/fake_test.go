package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/visionary/internal/resolver"
)

type sentMessage struct {
	peer int64
	text string
}

type editedMessage struct {
	id         int64
	text       string
	attachment string
}

type fakeChat struct {
	mu        sync.Mutex
	sends     []sentMessage
	edits     []editedMessage
	sendErr   error
	uploadErr error
	editGate  chan struct{}
}

func (c *fakeChat) Send(ctx context.Context, peerID int64, text, attachment string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return 0, c.sendErr
	}
	c.sends = append(c.sends, sentMessage{peer: peerID, text: text})
	return int64(100 + len(c.sends)), nil
}

func (c *fakeChat) Edit(ctx context.Context, peerID, messageID int64, text, attachment string) error {
	if c.editGate != nil {
		select {
		case <-c.editGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.edits = append(c.edits, editedMessage{id: messageID, text: text, attachment: attachment})
	return nil
}

func (c *fakeChat) UploadPhoto(ctx context.Context, peerID int64, path string) (string, error) {
	if c.uploadErr != nil {
		return "", c.uploadErr
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return "photo1_2", nil
}

func (c *fakeChat) snapshot() ([]sentMessage, []editedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sends...), append([]editedMessage(nil), c.edits...)
}

// waitEdits polls until n edits were made.
func (c *fakeChat) waitEdits(t *testing.T, n int) []editedMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, edits := c.snapshot(); len(edits) >= n {
			return edits
		}
		time.Sleep(5 * time.Millisecond)
	}
	_, edits := c.snapshot()
	t.Fatalf("edits = %+v; want %d", edits, n)
	return nil
}

// sliceFeed queues its messages and then waits for cancellation.
type sliceFeed []string

func (f sliceFeed) Run(ctx context.Context, out chan<- string) error {
	for _, text := range f {
		select {
		case out <- text:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

type resolverFunc func(ctx context.Context, link string) (*resolver.ResolvedLink, error)

func (f resolverFunc) ProcessLink(ctx context.Context, link string) (*resolver.ResolvedLink, error) {
	return f(ctx, link)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

// page describes where a fake navigation lands and which responses it emits.
type page struct {
	responses []resolver.Response
	landing   string
}

type fakeLauncher struct {
	pages map[string]page
}

func (l *fakeLauncher) Launch(ctx context.Context) (resolver.Browser, error) {
	return &fakeBrowser{pages: l.pages}, nil
}

type fakeBrowser struct {
	pages map[string]page
}

func (b *fakeBrowser) NewTab(ctx context.Context) (resolver.Tab, error) {
	return &fakeTab{pages: b.pages}, nil
}

func (b *fakeBrowser) Close() error { return nil }

type fakeTab struct {
	pages   map[string]page
	handler func(resolver.Response)
	loc     string
}

func (t *fakeTab) OnResponse(fn func(resolver.Response)) { t.handler = fn }

func (t *fakeTab) Navigate(ctx context.Context, target, referrer string) error {
	pg, ok := t.pages[target]
	if !ok {
		return errors.New("net::ERR_NAME_NOT_RESOLVED")
	}
	for _, r := range pg.responses {
		t.handler(r)
	}
	t.loc = pg.landing
	return nil
}

func (t *fakeTab) Location(ctx context.Context) (string, error) { return t.loc, nil }

func (t *fakeTab) Content(ctx context.Context) (string, error) {
	return "<html><body>ok</body></html>", nil
}

func (t *fakeTab) Screenshot(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (t *fakeTab) Close() error { return nil }

func redirect(from, to string, status int) resolver.Response {
	return resolver.Response{URL: from, Status: status, Headers: map[string]string{"location": to}}
}
