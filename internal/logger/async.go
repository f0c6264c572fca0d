package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

// nopCloser is a no-op Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// asyncState is shared by an AsyncHandler and every handler derived from it.
type asyncState struct {
	ch      chan slog.Record
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// AsyncHandler wraps an slog.Handler with a buffered channel and worker pool.
// Records reach the inner handler with a background context, so attributes
// derived from the context must be added before Handle is called.
type AsyncHandler struct {
	inner slog.Handler
	state *asyncState
}

// NewAsyncHandler creates an AsyncHandler with the given channel capacity and worker count.
func NewAsyncHandler(inner slog.Handler, chanSize, workers int) *AsyncHandler {
	st := &asyncState{ch: make(chan slog.Record, chanSize)}
	for range workers {
		st.wg.Add(1)
		go st.drain(inner)
	}
	return &AsyncHandler{inner: inner, state: st}
}

func (st *asyncState) drain(inner slog.Handler) {
	defer st.wg.Done()
	for rec := range st.ch {
		_ = inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues a clone of the record. It drops the record when the
// channel is full or the handler is closed.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	st := h.state
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.closed {
		st.dropped.Add(1)
		return nil
	}
	select {
	case st.ch <- h.bind(rec.Clone()):
	default:
		st.dropped.Add(1)
	}
	return nil
}

// bind carries attributes added through WithAttrs on derived handlers. The
// worker pool only knows the root inner handler, so derived attributes are
// attached to the record itself.
func (h *AsyncHandler) bind(rec slog.Record) slog.Record {
	if bh, ok := h.inner.(boundHandler); ok {
		rec.AddAttrs(bh.attrs...)
	}
	return rec
}

// boundHandler remembers attributes added to a derived AsyncHandler.
type boundHandler struct {
	slog.Handler
	attrs []slog.Attr
}

// WithAttrs returns a handler sharing the same queue whose records carry attrs.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prev, _ := h.inner.(boundHandler)
	merged := make([]slog.Attr, 0, len(prev.attrs)+len(attrs))
	merged = append(merged, prev.attrs...)
	merged = append(merged, attrs...)
	base := h.inner
	if prev.Handler != nil {
		base = prev.Handler
	}
	return &AsyncHandler{inner: boundHandler{Handler: base, attrs: merged}, state: h.state}
}

// WithGroup is not supported across the shared queue; grouped records are
// written ungrouped.
func (h *AsyncHandler) WithGroup(string) slog.Handler {
	return h
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.state.dropped.Load()
}

// Close stops accepting records and waits for the workers to drain what is
// queued. Safe to call more than once.
func (h *AsyncHandler) Close() {
	st := h.state
	st.mu.Lock()
	if !st.closed {
		st.closed = true
		close(st.ch)
	}
	st.mu.Unlock()
	st.wg.Wait()
}
