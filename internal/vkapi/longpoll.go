package vkapi

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// EventNewMessage is the long-poll update code for an incoming message.
const EventNewMessage = 4

type longPollServer struct {
	server string
	key    string
	ts     string
}

// Update is one long-poll update. Only new-message updates carry PeerID and Text.
type Update struct {
	Type   int64
	PeerID int64
	Text   string
}

// LongPollBatch is one long-poll response. Cursor is the server's ts value.
type LongPollBatch struct {
	Cursor  int64
	Updates []Update
}

// LongPoll blocks server-side until events arrive or the wait elapses. Failed
// responses return an empty batch: failed=1 moves the cursor forward, 2 and 3
// force a new server key on the next call.
func (c *Client) LongPoll(ctx context.Context) (LongPollBatch, error) {
	srv, err := c.longPollServer(ctx)
	if err != nil {
		return LongPollBatch{}, err
	}

	if err := c.throttle(ctx); err != nil {
		return LongPollBatch{}, err
	}
	resp, err := c.poll.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"act":     "a_check",
			"key":     srv.key,
			"ts":      srv.ts,
			"wait":    strconv.Itoa(c.wait),
			"mode":    "2",
			"version": "3",
		}).
		Get(pollURL(srv.server))
	if err != nil {
		return LongPollBatch{}, fmt.Errorf("long poll: %w", err)
	}
	if resp.IsError() {
		return LongPollBatch{}, fmt.Errorf("long poll: HTTP %d", resp.StatusCode())
	}

	body := gjson.ParseBytes(resp.Body())
	if failed := body.Get("failed"); failed.Exists() {
		switch failed.Int() {
		case 1:
			c.setCursor(body.Get("ts").String())
			return LongPollBatch{Cursor: body.Get("ts").Int()}, nil
		default:
			slog.Debug("long poll key expired", "failed", failed.Int())
			c.resetLongPoll()
			return LongPollBatch{}, nil
		}
	}

	c.setCursor(body.Get("ts").String())
	batch := LongPollBatch{Cursor: body.Get("ts").Int()}
	for _, raw := range body.Get("updates").Array() {
		fields := raw.Array()
		if len(fields) == 0 {
			continue
		}
		u := Update{Type: fields[0].Int()}
		if u.Type == EventNewMessage && len(fields) > 5 {
			u.PeerID = fields[3].Int()
			u.Text = fields[5].String()
		}
		batch.Updates = append(batch.Updates, u)
	}
	return batch, nil
}

func (c *Client) longPollServer(ctx context.Context) (longPollServer, error) {
	c.mu.Lock()
	if c.lp != nil {
		srv := *c.lp
		c.mu.Unlock()
		return srv, nil
	}
	c.mu.Unlock()

	res, err := c.call(ctx, "messages.getLongPollServer", map[string]string{"lp_version": "3"})
	if err != nil {
		return longPollServer{}, err
	}
	srv := longPollServer{
		server: res.Get("server").String(),
		key:    res.Get("key").String(),
		ts:     res.Get("ts").String(),
	}
	if srv.server == "" || srv.key == "" {
		return longPollServer{}, fmt.Errorf("messages.getLongPollServer: incomplete server info")
	}
	c.mu.Lock()
	c.lp = &srv
	c.mu.Unlock()
	return srv, nil
}

func (c *Client) setCursor(ts string) {
	if ts == "" {
		return
	}
	c.mu.Lock()
	if c.lp != nil {
		c.lp.ts = ts
	}
	c.mu.Unlock()
}

func (c *Client) resetLongPoll() {
	c.mu.Lock()
	c.lp = nil
	c.mu.Unlock()
}

func pollURL(server string) string {
	if strings.Contains(server, "://") {
		return server
	}
	return "https://" + server
}
