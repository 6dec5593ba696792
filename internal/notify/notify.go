// Package notify posts plain-text operator alerts to an ntfy-style endpoint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const sendTimeout = 10 * time.Second

// Notifier posts messages to one endpoint. A Notifier with an empty endpoint
// drops every message.
type Notifier struct {
	client   *resty.Client
	endpoint string
}

// New builds a Notifier. A nil transport uses the default one.
func New(endpoint string, transport http.RoundTripper) *Notifier {
	c := resty.New().SetTimeout(sendTimeout)
	if transport != nil {
		c.SetTransport(transport)
	}
	return &Notifier{client: c, endpoint: endpoint}
}

func (n *Notifier) Enabled() bool { return n != nil && n.endpoint != "" }

// Notify sends message, or does nothing when the notifier is disabled.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if !n.Enabled() {
		return nil
	}
	return Send(ctx, n.client, n.endpoint, message)
}

// Send posts message as text/plain to endpoint.
func Send(ctx context.Context, client *resty.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("ntfy notification failed: missing endpoint")
	}
	resp, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "text/plain").
		SetBody(message).
		Post(endpoint)
	if err != nil {
		return err
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode())
	}
	return nil
}
