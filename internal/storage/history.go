// Package storage persists the resolution history as daily JSON lines files.
package storage

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	ErrClosed     = errors.New("history writer closed")
	ErrBufferFull = errors.New("history buffer full")
)

// Record is one terminal reply state.
type Record struct {
	Time       time.Time `json:"time"`
	Corr       string    `json:"corr,omitempty"`
	Link       string    `json:"link"`
	Outcome    string    `json:"outcome"`
	Location   string    `json:"location,omitempty"`
	Chain      string    `json:"chain,omitempty"`
	Elapsed    float64   `json:"elapsed"`
	Snapshot   string    `json:"snapshot,omitempty"`
	Attachment string    `json:"attachment,omitempty"`
}

// History appends records asynchronously to baseDir/<date>/history.jsonl.
// Writes never block the caller; a full buffer drops the record.
type History struct {
	baseDir   string
	maxSizeMB int
	now       func() time.Time

	records chan Record
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu   sync.Mutex
	date string
	out  *lumberjack.Logger
}

func NewHistory(baseDir string, bufferSize, maxSizeMB int) *History {
	if bufferSize < 1 {
		bufferSize = 256
	}
	if maxSizeMB < 1 {
		maxSizeMB = 50
	}
	h := &History{
		baseDir:   baseDir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		records:   make(chan Record, bufferSize),
		done:      make(chan struct{}),
	}
	h.wg.Add(1)
	go h.loop()
	return h
}

// Append queues rec. A zero Time is set to the current time.
func (h *History) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = h.now().UTC()
	}
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	select {
	case h.records <- rec:
		return nil
	default:
		slog.Warn("history buffer full, dropping record", "link", rec.Link)
		return ErrBufferFull
	}
}

// Close flushes queued records and closes the current file.
func (h *History) Close() error {
	h.once.Do(func() { close(h.done) })
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.out != nil {
		err := h.out.Close()
		h.out = nil
		return err
	}
	return nil
}

func (h *History) loop() {
	defer h.wg.Done()
	for {
		select {
		case rec := <-h.records:
			h.write(rec)
		case <-h.done:
			for {
				select {
				case rec := <-h.records:
					h.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (h *History) write(rec Record) {
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Error("marshal history record", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	date := rec.Time.UTC().Format(time.DateOnly)
	if h.out == nil || date != h.date {
		if err := h.rotate(date); err != nil {
			slog.Error("open history file", "error", err, "date", date)
			return
		}
	}
	if _, err := h.out.Write(append(data, '\n')); err != nil {
		slog.Error("write history record", "error", err)
	}
}

func (h *History) rotate(date string) error {
	if h.out != nil {
		_ = h.out.Close()
	}
	dir := filepath.Join(h.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	h.out = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "history.jsonl"),
		MaxSize:    h.maxSizeMB,
		MaxBackups: 30,
		MaxAge:     90,
	}
	h.date = date
	slog.Debug("history file opened", "file", h.out.Filename)
	return nil
}
