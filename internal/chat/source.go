// Package chat turns the chat API long-poll into a stream of message texts
// for one bound conversation.
package chat

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgnsrekt/visionary/internal/vkapi"
)

// API is the subset of the chat platform client the source needs.
type API interface {
	ListDialogs(ctx context.Context) ([]vkapi.Dialog, error)
	LongPoll(ctx context.Context) (vkapi.LongPollBatch, error)
}

// ChatBinding holds the peers resolved from chat names at startup.
type ChatBinding struct {
	ListenPeerID int64
	ReplyPeerID  int64
}

// ChatNotFoundError reports a chat name with no matching dialog.
type ChatNotFoundError struct {
	Name string
}

func (e *ChatNotFoundError) Error() string {
	return fmt.Sprintf("chat %q not found", e.Name)
}

// Source reads new messages for the listen chat. ResolveNames must succeed
// before Events or Run are used.
type Source struct {
	api        API
	listenName string
	replyName  string
	newBackOff func() backoff.BackOff

	mu      sync.Mutex
	dialogs []vkapi.Dialog
	binding ChatBinding
	bound   bool

	cursor int64
}

// NewSource binds to listenName and replies to replyName, or to the listen
// chat when replyName is empty.
func NewSource(api API, listenName, replyName string) *Source {
	if replyName == "" {
		replyName = listenName
	}
	return &Source{
		api:        api,
		listenName: listenName,
		replyName:  replyName,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// ResolveNames maps the configured chat names to peer ids. The dialog list is
// fetched once and reused for the life of the source.
func (s *Source) ResolveNames(ctx context.Context) (ChatBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dialogs == nil {
		dialogs, err := s.api.ListDialogs(ctx)
		if err != nil {
			return ChatBinding{}, fmt.Errorf("list dialogs: %w", err)
		}
		if dialogs == nil {
			dialogs = []vkapi.Dialog{}
		}
		s.dialogs = dialogs
		slog.Debug("dialog directory loaded", "dialogs", len(dialogs))
	}

	listen, ok := s.lookup(s.listenName)
	if !ok {
		return ChatBinding{}, &ChatNotFoundError{Name: s.listenName}
	}
	reply := listen
	if s.replyName != s.listenName {
		if reply, ok = s.lookup(s.replyName); !ok {
			return ChatBinding{}, &ChatNotFoundError{Name: s.replyName}
		}
	}

	s.binding = ChatBinding{ListenPeerID: listen, ReplyPeerID: reply}
	s.bound = true
	slog.Info("chat bound", "listen", s.listenName, "listen_peer", listen, "reply", s.replyName, "reply_peer", reply)
	return s.binding, nil
}

func (s *Source) lookup(name string) (int64, bool) {
	for _, d := range s.dialogs {
		if d.Title == name {
			return d.PeerID, true
		}
	}
	return 0, false
}

// Binding returns the resolved peers.
func (s *Source) Binding() ChatBinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.binding
}

// Events long-polls until ctx is done, yielding the text of each new message
// in the listen chat in batch order. A batch whose cursor is not ahead of the
// last one seen is dropped whole. Poll errors are retried with backoff.
func (s *Source) Events(ctx context.Context) iter.Seq[string] {
	return func(yield func(string) bool) {
		s.mu.Lock()
		listen, bound := s.binding.ListenPeerID, s.bound
		s.mu.Unlock()
		if !bound {
			slog.Error("chat events requested before names were resolved")
			return
		}

		bo := s.newBackOff()
		for ctx.Err() == nil {
			batch, err := s.api.LongPoll(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				delay := bo.NextBackOff()
				slog.Warn("long poll failed", "error", err, "retry_in", delay)
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				continue
			}
			bo.Reset()

			if batch.Cursor <= s.cursor {
				continue
			}
			s.cursor = batch.Cursor

			for _, u := range batch.Updates {
				if u.Type != vkapi.EventNewMessage || u.PeerID != listen {
					continue
				}
				if !yield(u.Text) {
					return
				}
			}
		}
	}
}

// Run feeds Events into out until ctx is done. It is the single consumer of
// the long-poll; workers read from out.
func (s *Source) Run(ctx context.Context, out chan<- string) error {
	for text := range s.Events(ctx) {
		select {
		case out <- text:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
