package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/dgnsrekt/visionary/internal/resolver"
)

// transientHints are substrings in errors that point at a broken
// connection rather than a page that failed to load.
var transientHints = []string{
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"invalid context",
}

func looksTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

// classify wraps err in resolver.ErrDisconnected when the browser no longer answers.
func (b *Browser) classify(err error) error {
	if err == nil {
		return nil
	}
	if b.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", resolver.ErrDisconnected, err)
	}
	if !looksTransient(err) {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if perr := b.probe(ctx, b.cdpURL); perr != nil {
		return fmt.Errorf("%w: %v (probe: %v)", resolver.ErrDisconnected, err, perr)
	}
	return err
}
