package cdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/visionary/internal/resolver"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

func newDevToolsServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/json/version":
			wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/devtools/browser/abc"
			fmt.Fprintf(w, `{"Browser":"Chrome/120","webSocketDebuggerUrl":%q}`, wsURL)
		case "/devtools/browser/abc":
			conn, _, _, err := ws.UpgradeHTTP(r, w)
			if err != nil {
				return
			}
			defer conn.Close()
			if _, err := wsutil.ReadClientText(conn); err != nil {
				return
			}
			_ = wsutil.WriteServerText(conn, []byte(`{"method":"Target.targetCreated","params":{}}`))
			_ = wsutil.WriteServerText(conn, []byte(reply))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeSucceedsWhenBrowserAnswers(t *testing.T) {
	srv := newDevToolsServer(t, `{"id":1,"result":{"product":"Chrome/120"}}`)
	if err := Probe(context.Background(), srv.URL); err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
}

func TestProbeReportsProtocolError(t *testing.T) {
	srv := newDevToolsServer(t, `{"id":1,"error":{"message":"not allowed"}}`)
	err := Probe(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "not allowed") {
		t.Fatalf("Probe() error = %v; want protocol error", err)
	}
}

func TestProbeFailsWithoutEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if err := Probe(context.Background(), srv.URL); err == nil {
		t.Fatalf("Probe() = nil; want error")
	}
}

func newTestBrowser(probeErr error) *Browser {
	ctx, cancel := context.WithCancel(context.Background())
	return &Browser{
		ctx:    ctx,
		cancel: cancel,
		probe: func(context.Context, string) error {
			return probeErr
		},
	}
}

func TestClassifyMarksDeadBrowserAsDisconnected(t *testing.T) {
	b := newTestBrowser(errors.New("dial tcp: connection refused"))
	err := b.classify(errors.New("websocket: close 1006"))
	if !errors.Is(err, resolver.ErrDisconnected) {
		t.Fatalf("classify() = %v; want %v", err, resolver.ErrDisconnected)
	}
}

func TestClassifyKeepsPageErrorsWhenBrowserAlive(t *testing.T) {
	b := newTestBrowser(nil)
	pageErr := errors.New("page load error net::ERR_NAME_NOT_RESOLVED")
	if err := b.classify(pageErr); err != pageErr {
		t.Fatalf("classify() = %v; want %v", err, pageErr)
	}
	transient := errors.New("unexpected EOF")
	if err := b.classify(transient); err != transient {
		t.Fatalf("classify() = %v; want %v", err, transient)
	}
}

func TestClassifyCancelledBrowserContext(t *testing.T) {
	b := newTestBrowser(nil)
	b.cancel()
	if err := b.classify(errors.New("anything")); !errors.Is(err, resolver.ErrDisconnected) {
		t.Fatalf("classify() = %v; want %v", err, resolver.ErrDisconnected)
	}
}

func TestHandleEventForwardsRedirectResponses(t *testing.T) {
	tab := &Tab{}
	var got []resolver.Response
	tab.OnResponse(func(r resolver.Response) { got = append(got, r) })

	tab.handleEvent(&network.EventRequestWillBeSent{
		RedirectResponse: &network.Response{
			URL:     "https://short.ly/abc",
			Status:  301,
			Headers: network.Headers{"Location": "https://redirector.io/x"},
		},
	})
	tab.handleEvent(&network.EventRequestWillBeSent{})
	tab.handleEvent(&network.EventResponseReceived{
		Response: &network.Response{URL: "https://long-site.example/article", Status: 200},
	})

	if len(got) != 2 {
		t.Fatalf("responses = %d; want 2", len(got))
	}
	if loc := got[0].Header("Location"); loc != "https://redirector.io/x" {
		t.Fatalf("Header(Location) = %q; want %q", loc, "https://redirector.io/x")
	}
	if got[1].Status != 200 {
		t.Fatalf("Status = %d; want 200", got[1].Status)
	}
}
