// Package pipeline drives chat messages through link resolution and back to
// the chat as edited replies.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/visionary/internal/resolver"
	"github.com/dgnsrekt/visionary/internal/storage"
	"github.com/dgnsrekt/visionary/internal/telemetry"
	"github.com/dgnsrekt/visionary/internal/vkapi"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const tracerName = "visionary/pipeline"

// ErrWorkerKilled wraps the API rejection that stopped a worker.
var ErrWorkerKilled = errors.New("worker stopped by api rejection")

// Feed pushes incoming message texts into out until ctx is done.
type Feed interface {
	Run(ctx context.Context, out chan<- string) error
}

type Resolver interface {
	ProcessLink(ctx context.Context, link string) (*resolver.ResolvedLink, error)
}

// Messenger sends and edits replies in the reply chat.
type Messenger interface {
	Send(ctx context.Context, peerID int64, text, attachment string) (int64, error)
	Edit(ctx context.Context, peerID, messageID int64, text, attachment string) error
	UploadPhoto(ctx context.Context, peerID int64, path string) (string, error)
}

type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type History interface {
	Append(rec storage.Record) error
}

// Publisher receives every terminal reply state for live subscribers.
type Publisher interface {
	PublishRecord(rec storage.Record)
}

type Config struct {
	Workers      int
	QueueSize    int
	DrainTimeout time.Duration
	ReplyPeerID  int64
}

// Pipeline runs one feed poller and Workers message workers over a bounded queue.
type Pipeline struct {
	cfg      Config
	feed     Feed
	resolver Resolver
	chat     Messenger
	notifier Notifier
	history  History
	events   Publisher

	queue chan string

	editCtx     context.Context
	cancelEdits context.CancelFunc
	edits       sync.WaitGroup
	pending     atomic.Int64
	alive       atomic.Int64
}

// Option configures optional collaborators.
type Option func(*Pipeline)

func WithNotifier(n Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

func WithHistory(h History) Option { return func(p *Pipeline) { p.history = h } }

func WithEvents(e Publisher) Option { return func(p *Pipeline) { p.events = e } }

func New(cfg Config, feed Feed, res Resolver, chat Messenger, opts ...Option) *Pipeline {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 2 * cfg.Workers
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	editCtx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:         cfg,
		feed:        feed,
		resolver:    res,
		chat:        chat,
		queue:       make(chan string, cfg.QueueSize),
		editCtx:     editCtx,
		cancelEdits: cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stats is a point-in-time view of the pipeline.
type Stats struct {
	QueueDepth   int   `json:"queueDepth"`
	PendingEdits int64 `json:"pendingEdits"`
	WorkersAlive int64 `json:"workersAlive"`
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		QueueDepth:   len(p.queue),
		PendingEdits: p.pending.Load(),
		WorkersAlive: p.alive.Load(),
	}
}

// Run blocks until ctx is done or every worker has died. It then stops the
// poller, answers links left in the queue with a timeout reply and drains the
// detached edits. It returns the first worker's fatal error, if all died.
func (p *Pipeline) Run(ctx context.Context) error {
	pollCtx, stopPoll := context.WithCancel(ctx)
	defer stopPoll()

	var poller sync.WaitGroup
	poller.Add(1)
	go func() {
		defer poller.Done()
		if err := p.feed.Run(pollCtx, p.queue); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("message feed stopped", "error", err)
		}
	}()

	var workers errgroup.Group
	for i := range p.cfg.Workers {
		id := i + 1
		workers.Go(func() error { return p.work(ctx, id) })
	}
	err := workers.Wait()

	stopPoll()
	poller.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainTimeout)
	defer cancel()
	p.abandonQueued(drainCtx)
	p.Drain(drainCtx)
	p.cancelEdits()
	return err
}

// Drain waits for detached edits until ctx is done, then cancels the rest.
func (p *Pipeline) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		p.edits.Wait()
		close(done)
	}()

	slog.Info("draining reply edits", "pending", p.pending.Load())
	select {
	case <-done:
		slog.Info("reply edits drained")
	case <-ctx.Done():
		slog.Warn("drain timed out, cancelling reply edits", "pending", p.pending.Load())
		p.cancelEdits()
		<-done
	}
}

func (p *Pipeline) work(ctx context.Context, id int) error {
	p.alive.Add(1)
	telemetry.AddWorkersAlive(1)
	defer func() {
		p.alive.Add(-1)
		telemetry.AddWorkersAlive(-1)
	}()

	slog.Debug("worker started", "worker", id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-p.queue:
			telemetry.SetQueueDepth(len(p.queue))
			if err := p.handle(ctx, text); err != nil {
				p.workerDied(id, err)
				return err
			}
		}
	}
}

// abandonQueued answers every link still queued after the workers stopped
// with a timeout reply. The long-poll cursor has moved past them already.
func (p *Pipeline) abandonQueued(ctx context.Context) {
	defer telemetry.SetQueueDepth(0)
	for {
		select {
		case text := <-p.queue:
			p.abandon(ctx, text)
		default:
			return
		}
	}
}

func (p *Pipeline) abandon(ctx context.Context, text string) {
	link := FindLink(text)
	if link == "" {
		return
	}
	telemetry.IncLinkAbandoned()
	slog.Warn("link abandoned on shutdown", "link", link)

	msgID, err := p.chat.Send(ctx, p.cfg.ReplyPeerID, processingText(link), "")
	if err != nil {
		slog.Warn("abandoned link reply failed", "link", link, "error", err)
		return
	}
	p.detach(nil, msgID, timeoutText(link), "")
	telemetry.ObserveLink(telemetry.OutcomeTimeout)
	p.record(storage.Record{Link: link, Outcome: telemetry.OutcomeTimeout})
}

// replyContext keeps the values of ctx but survives its cancellation until
// the detached edits are cancelled, so a message being handled at shutdown
// still gets its reply.
func (p *Pipeline) replyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(p.editCtx, cancel)
	return rctx, func() {
		stop()
		cancel()
	}
}

func (p *Pipeline) workerDied(id int, err error) {
	telemetry.IncWorkerDeath()
	slog.Error("worker stopped", "worker", id, "error", err)
	if p.notifier == nil {
		return
	}
	msg := fmt.Sprintf("%s visionary worker %d stopped: %v", EmojiCross, id, err)
	nctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if nerr := p.notifier.Notify(nctx, msg); nerr != nil {
		slog.Warn("worker death notification failed", "error", nerr)
	}
}

// handle drives one message to a terminal reply. Only API rejections are
// returned; every other failure ends in a reply edit.
func (p *Pipeline) handle(ctx context.Context, text string) error {
	link := FindLink(text)
	if link == "" {
		return nil
	}

	ctx, corr := telemetry.NewCorrelation(ctx)
	log := telemetry.LoggerWithCorr(ctx)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "pipeline.handle_message", attribute.String("link", link))
	defer span.End()
	log.Info("found link in message", "link", link)

	var (
		msgID   int64
		sendErr error
		sent    = make(chan struct{})
	)
	sendCtx, cancelSend := p.replyContext(ctx)
	defer cancelSend()
	go func() {
		defer close(sent)
		msgID, sendErr = p.chat.Send(sendCtx, p.cfg.ReplyPeerID, processingText(link), "")
	}()
	res, resErr := p.resolver.ProcessLink(ctx, link)
	<-sent

	if sendErr != nil {
		telemetry.RecordError(span, sendErr)
		if errors.Is(sendErr, vkapi.ErrCaptchaNeeded) {
			return fmt.Errorf("%w: %w", ErrWorkerKilled, sendErr)
		}
		log.Error("processing reply failed", "link", link, "error", sendErr)
		return nil
	}

	rec := storage.Record{Corr: corr, Link: link}
	switch {
	case resErr != nil || res == nil:
		log.Warn("skipping link", "link", link, "error", resErr)
		p.detach(nil, msgID, timeoutText(link), "")
		rec.Outcome = telemetry.OutcomeTimeout

	case res.IsFile():
		log.Info("treated link as a file", "link", link)
		p.detach(nil, msgID, fileText(res), "")
		rec.Outcome = telemetry.OutcomeFile
		rec.Location = res.Location.String()
		rec.Elapsed = res.Elapsed

	default:
		body := resolvedText(link, res)
		edited := p.detach(nil, msgID, body, "")
		rec.Outcome = telemetry.OutcomeResolved
		rec.Location = res.Location.String()
		rec.Chain = res.RedirectPath
		rec.Elapsed = res.Elapsed
		rec.Snapshot = res.Snapshot

		if res.Snapshot == "" {
			log.Warn("no snapshot available", "link", link)
			break
		}
		attachment, err := p.chat.UploadPhoto(ctx, p.cfg.ReplyPeerID, res.Snapshot)
		if err != nil {
			telemetry.RecordError(span, err)
			if errors.Is(err, vkapi.ErrCaptchaNeeded) {
				p.record(rec)
				return fmt.Errorf("%w: %w", ErrWorkerKilled, err)
			}
			log.Error("snapshot upload failed", "link", link, "error", err)
			break
		}
		rec.Attachment = attachment
		p.detach(edited, msgID, body, attachment)
	}

	telemetry.ObserveLink(rec.Outcome)
	p.record(rec)
	return nil
}

func (p *Pipeline) record(rec storage.Record) {
	rec.Time = time.Now().UTC()
	if p.events != nil {
		p.events.PublishRecord(rec)
	}
	if p.history == nil {
		return
	}
	if err := p.history.Append(rec); err != nil {
		slog.Debug("history append failed", "error", err)
	}
}

// detach edits the reply in the background once after is closed, and returns
// a channel closed when the edit finishes.
func (p *Pipeline) detach(after <-chan struct{}, msgID int64, text, attachment string) <-chan struct{} {
	done := make(chan struct{})
	p.edits.Add(1)
	p.pending.Add(1)
	telemetry.AddPendingEdits(1)
	go func() {
		defer func() {
			close(done)
			p.pending.Add(-1)
			telemetry.AddPendingEdits(-1)
			p.edits.Done()
		}()
		if after != nil {
			<-after
		}
		if err := p.chat.Edit(p.editCtx, p.cfg.ReplyPeerID, msgID, text, attachment); err != nil {
			slog.Warn("reply edit failed", "message_id", msgID, "error", err)
		}
	}()
	return done
}
