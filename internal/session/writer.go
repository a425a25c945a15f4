package session

import (
	"context"
	"sync/atomic"

	"github.com/astromind-data/vigil.report/internal/monitoring"
	"github.com/astromind-data/vigil.report/internal/store"
)

// writeOp is one queued forensic write.
type writeOp func(ctx context.Context, s *store.Store) error

// Writer serialises forensic writes through a single goroutine so the
// ordering of the append-only log matches the ordering of the pipeline.
// The queue never blocks the detection path: when the buffer is full the
// write is dropped and counted, and the pipeline keeps ticking.
type Writer struct {
	store   *store.Store
	ops     chan writeOp
	done    chan struct{}
	dropped atomic.Int64
	errs    atomic.Int64
}

// NewWriter starts a Writer with the given queue depth.
func NewWriter(s *store.Store, buffer int) *Writer {
	if buffer < 1 {
		buffer = 1
	}
	w := &Writer{
		store: s,
		ops:   make(chan writeOp, buffer),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	ctx := context.Background()
	for op := range w.ops {
		if err := op(ctx, w.store); err != nil {
			w.errs.Add(1)
			monitoring.Logf("forensic write failed: %v", err)
		}
	}
}

func (w *Writer) enqueue(op writeOp) {
	select {
	case w.ops <- op:
	default:
		n := w.dropped.Add(1)
		monitoring.Logf("forensic write queue full, dropped write (%d total)", n)
	}
}

// AppendStageEvent queues a stage transition for persistence.
func (w *Writer) AppendStageEvent(e store.StageEvent) {
	w.enqueue(func(ctx context.Context, s *store.Store) error {
		return s.AppendStageEvent(ctx, e)
	})
}

// AppendSnapshot queues a ratio snapshot for persistence.
func (w *Writer) AppendSnapshot(sn store.Snapshot) {
	w.enqueue(func(ctx context.Context, s *store.Store) error {
		return s.AppendSnapshot(ctx, sn)
	})
}

// Dropped returns the number of writes discarded because the queue was
// full.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Errors returns the number of writes that reached the store but failed.
func (w *Writer) Errors() int64 { return w.errs.Load() }

// Close drains the queue and stops the writer goroutine. Queued writes
// are flushed before Close returns.
func (w *Writer) Close() {
	close(w.ops)
	<-w.done
}
