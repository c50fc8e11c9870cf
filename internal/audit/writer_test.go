package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type memoryRecorder struct {
	mu      sync.Mutex
	records []shared.AuditLog
	block   chan struct{}
	err     error
}

func (m *memoryRecorder) Record(_ context.Context, log shared.AuditLog) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, log)
	return m.err
}

func (m *memoryRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterCloseDrainsBuffer(t *testing.T) {
	rec := &memoryRecorder{}
	w := NewWriter(rec, quietLogger(), 16)
	for i := 0; i < 10; i++ {
		w.Log(context.Background(), shared.AuditLog{Action: "entry.create", Entity: "ledger_entry", EntityID: "1"})
	}
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 10, rec.count())
	assert.False(t, rec.records[0].At.IsZero())
}

func TestWriterDropsWhenFullWithoutBlocking(t *testing.T) {
	rec := &memoryRecorder{block: make(chan struct{})}
	var drops atomic.Int32
	w := NewWriter(rec, quietLogger(), 2).OnDrop(func() { drops.Add(1) })

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			w.Log(context.Background(), shared.AuditLog{Action: "entry.create", Entity: "ledger_entry", EntityID: "1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full buffer")
	}
	close(rec.block)
	require.NoError(t, w.Close(context.Background()))
	// One record may be in flight in the drain goroutine plus the two buffered.
	assert.LessOrEqual(t, rec.count(), 3)
	assert.GreaterOrEqual(t, rec.count(), 2)
	assert.Equal(t, 20, rec.count()+int(drops.Load()))
}

func TestWriterKeepsDrainingAfterRecorderErrors(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("db down")}
	w := NewWriter(rec, quietLogger(), 4)
	w.Log(context.Background(), shared.AuditLog{Action: "a", Entity: "e", EntityID: "1"})
	w.Log(context.Background(), shared.AuditLog{Action: "b", Entity: "e", EntityID: "2"})
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, 2, rec.count())

	w.Log(context.Background(), shared.AuditLog{Action: "late", Entity: "e", EntityID: "3"})
	assert.Equal(t, 2, rec.count())
}
