package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const probeTimeout = 3 * time.Second

// Probe asks the browser for its version over the browser-level DevTools
// websocket. A nil error means the process is alive and answering.
func Probe(ctx context.Context, httpBase string) error {
	wsURL, err := browserWSURL(ctx, strings.TrimRight(httpBase, "/"))
	if err != nil {
		return fmt.Errorf("cdp probe: browser ws url: %w", err)
	}

	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("cdp probe: dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := wsutil.WriteClientText(conn, []byte(`{"id":1,"method":"Browser.getVersion"}`)); err != nil {
		return fmt.Errorf("cdp probe: send: %w", err)
	}
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return fmt.Errorf("cdp probe: read: %w", err)
		}
		var msg struct {
			ID    int64 `json:"id"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.ID != 1 {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("cdp probe: %s", msg.Error.Message)
		}
		return nil
	}
}

func browserWSURL(ctx context.Context, httpBase string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("/json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
