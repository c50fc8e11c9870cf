// Package audit records who did what, off the request path, and serves the
// audit trail to administrators.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// Recorder persists a single audit record.
type Recorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DefaultBuffer is the queue size used when none is configured.
const DefaultBuffer = 256

// Writer is a fire-and-forget shared.AuditSink. One goroutine drains the
// buffer; when the buffer is full new records are dropped with a warning.
type Writer struct {
	recorder Recorder
	logger   *slog.Logger
	queue    chan shared.AuditLog
	timeout  time.Duration
	onDrop   func()

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWriter starts the drain goroutine.
func NewWriter(recorder Recorder, logger *slog.Logger, buffer int) *Writer {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{
		recorder: recorder,
		logger:   logger,
		queue:    make(chan shared.AuditLog, buffer),
		timeout:  5 * time.Second,
		done:     make(chan struct{}),
	}
	go w.drain()
	return w
}

// OnDrop registers a callback invoked for every dropped record.
func (w *Writer) OnDrop(fn func()) *Writer {
	w.mu.Lock()
	w.onDrop = fn
	w.mu.Unlock()
	return w
}

func (w *Writer) dropped() {
	if w.onDrop != nil {
		w.onDrop()
	}
}

// Log implements shared.AuditSink. It never blocks.
func (w *Writer) Log(_ context.Context, entry shared.AuditLog) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		w.logger.Warn("audit writer closed, dropping record", slog.String("action", entry.Action))
		w.dropped()
		return
	}
	select {
	case w.queue <- entry:
	default:
		w.logger.Warn("audit buffer full, dropping record",
			slog.String("action", entry.Action),
			slog.String("entity", entry.Entity),
			slog.String("entity_id", entry.EntityID))
		w.dropped()
	}
}

// Close stops accepting records and waits until the buffer is written.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) drain() {
	defer close(w.done)
	for entry := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		if err := w.recorder.Record(ctx, entry); err != nil {
			w.logger.Error("write audit record",
				slog.String("action", entry.Action),
				slog.String("entity", entry.Entity),
				slog.String("entity_id", entry.EntityID),
				slog.Any("error", err))
		}
		cancel()
	}
}
