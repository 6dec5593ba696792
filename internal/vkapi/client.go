// Package vkapi is a small client for the VK messages API: dialogs, long-poll,
// send, edit and photo upload. Every request waits on a shared rate limiter.
package vkapi

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/visionary/internal/ratelimit"
	"github.com/dgnsrekt/visionary/internal/telemetry"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://api.vk.com/method/"
	DefaultVersion = "5.131"

	requestTimeout = 30 * time.Second
	// randMax bounds random_id on send.
	randMax = 100000
)

type Config struct {
	BaseURL string
	Version string
	Token   string
	// LongPollWait is the server-side long-poll wait in seconds.
	LongPollWait int
}

// Client talks to the API on behalf of one bot token.
type Client struct {
	api      *resty.Client
	poll     *resty.Client
	limiter  *ratelimit.Limiter
	version  string
	token    string
	wait     int
	randomID func() int64

	mu         sync.Mutex
	uploadURLs map[int64]string
	lp         *longPollServer
}

func New(cfg Config, limiter *ratelimit.Limiter) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.LongPollWait <= 0 {
		cfg.LongPollWait = 25
	}
	return &Client{
		api: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(requestTimeout),
		poll:       resty.New().SetTimeout(time.Duration(cfg.LongPollWait)*time.Second + requestTimeout),
		limiter:    limiter,
		version:    cfg.Version,
		token:      cfg.Token,
		wait:       cfg.LongPollWait,
		randomID:   func() int64 { return rand.Int64N(randMax + 1) },
		uploadURLs: make(map[int64]string),
	}
}

func (c *Client) throttle(ctx context.Context) error {
	waited, err := c.limiter.Wait(ctx)
	if err != nil {
		return err
	}
	telemetry.ObserveRateLimitWait(waited)
	return nil
}

// call invokes an API method and returns the "response" member of the envelope.
func (c *Client) call(ctx context.Context, method string, params map[string]string) (gjson.Result, error) {
	if err := c.throttle(ctx); err != nil {
		return gjson.Result{}, err
	}

	form := map[string]string{"access_token": c.token, "v": c.version}
	for k, v := range params {
		form[k] = v
	}
	resp, err := c.api.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/" + method)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", method, err)
	}
	if resp.IsError() {
		return gjson.Result{}, fmt.Errorf("%s: HTTP %d", method, resp.StatusCode())
	}

	body := gjson.ParseBytes(resp.Body())
	if apiErr := body.Get("error"); apiErr.Exists() {
		return gjson.Result{}, &APIError{
			Code:    apiErr.Get("error_code").Int(),
			Message: apiErr.Get("error_msg").String(),
			Method:  method,
		}
	}
	result := body.Get("response")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%s: response missing", method)
	}
	return result, nil
}

// Dialog is one conversation visible to the bot.
type Dialog struct {
	PeerID int64
	Title  string
}

// ListDialogs returns the bot's conversations that carry a title.
func (c *Client) ListDialogs(ctx context.Context) ([]Dialog, error) {
	res, err := c.call(ctx, "messages.getConversations", map[string]string{"count": "200"})
	if err != nil {
		return nil, err
	}
	var dialogs []Dialog
	for _, item := range res.Get("items").Array() {
		conv := item.Get("conversation")
		title := conv.Get("chat_settings.title")
		if !title.Exists() {
			continue
		}
		dialogs = append(dialogs, Dialog{PeerID: conv.Get("peer.id").Int(), Title: title.String()})
	}
	return dialogs, nil
}

// Send posts a message and returns its id.
func (c *Client) Send(ctx context.Context, peerID int64, text, attachment string) (int64, error) {
	res, err := c.call(ctx, "messages.send", map[string]string{
		"peer_id":    strconv.FormatInt(peerID, 10),
		"random_id":  strconv.FormatInt(c.randomID(), 10),
		"message":    text,
		"attachment": attachment,
	})
	if err != nil {
		return 0, err
	}
	return res.Int(), nil
}

// Edit replaces the text and attachment of a sent message.
func (c *Client) Edit(ctx context.Context, peerID, messageID int64, text, attachment string) error {
	res, err := c.call(ctx, "messages.edit", map[string]string{
		"peer_id":    strconv.FormatInt(peerID, 10),
		"message_id": strconv.FormatInt(messageID, 10),
		"message":    text,
		"attachment": attachment,
	})
	if err != nil {
		return err
	}
	if res.Int() != 1 {
		return fmt.Errorf("messages.edit: message %d not edited", messageID)
	}
	return nil
}

// UploadPhoto uploads an image for peerID and returns the attachment id
// "photo{owner_id}_{id}". The upload URL is fetched once per peer.
func (c *Client) UploadPhoto(ctx context.Context, peerID int64, path string) (string, error) {
	uploadURL, err := c.uploadURL(ctx, peerID)
	if err != nil {
		return "", err
	}

	if err := c.throttle(ctx); err != nil {
		return "", err
	}
	resp, err := c.api.R().
		SetContext(ctx).
		SetFile("photo", path).
		Post(uploadURL)
	if err != nil || resp.IsError() {
		c.forgetUploadURL(peerID)
		if err == nil {
			err = fmt.Errorf("HTTP %d", resp.StatusCode())
		}
		return "", fmt.Errorf("upload photo: %w", err)
	}
	uploaded := gjson.ParseBytes(resp.Body())
	if uploaded.Get("photo").String() == "" {
		c.forgetUploadURL(peerID)
		return "", fmt.Errorf("upload photo: empty photo field")
	}

	saved, err := c.call(ctx, "photos.saveMessagesPhoto", map[string]string{
		"server": uploaded.Get("server").String(),
		"photo":  uploaded.Get("photo").String(),
		"hash":   uploaded.Get("hash").String(),
	})
	if err != nil {
		return "", err
	}
	photo := saved.Get("0")
	if !photo.Exists() {
		return "", fmt.Errorf("photos.saveMessagesPhoto: no photo returned")
	}
	return fmt.Sprintf("photo%d_%d", photo.Get("owner_id").Int(), photo.Get("id").Int()), nil
}

func (c *Client) uploadURL(ctx context.Context, peerID int64) (string, error) {
	c.mu.Lock()
	cached, ok := c.uploadURLs[peerID]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	res, err := c.call(ctx, "photos.getMessagesUploadServer", map[string]string{
		"peer_id": strconv.FormatInt(peerID, 10),
	})
	if err != nil {
		return "", err
	}
	u := res.Get("upload_url").String()
	if u == "" {
		return "", fmt.Errorf("photos.getMessagesUploadServer: empty upload_url")
	}
	c.mu.Lock()
	c.uploadURLs[peerID] = u
	c.mu.Unlock()
	return u, nil
}

func (c *Client) forgetUploadURL(peerID int64) {
	c.mu.Lock()
	delete(c.uploadURLs, peerID)
	c.mu.Unlock()
}

// Close drops idle connections.
func (c *Client) Close() {
	c.api.GetClient().CloseIdleConnections()
	c.poll.GetClient().CloseIdleConnections()
}
