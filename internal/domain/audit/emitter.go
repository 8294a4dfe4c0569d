package audit

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultQueueSize is the default capacity of the emitter's in-memory
// backlog before it starts dropping (with a logged backpressure
// warning), matching the teacher's file-store pattern of a single
// background goroutine draining a channel.
const DefaultQueueSize = 4096

// Emitter is the async front door to a Store: Emit never blocks the
// client response on a slow or saturated backing store. A single
// consumer goroutine drains the channel and calls Store.Append; when the
// channel is full, Emit drops the record and logs a backpressure
// warning rather than blocking the request path.
type Emitter struct {
	store  Store
	logger *slog.Logger
	queue  chan Record

	mu      sync.Mutex
	dropped int64

	done chan struct{}
}

// NewEmitter creates an Emitter backed by store, with queueSize pending
// records before drops begin. It starts the background drain goroutine;
// callers must call Close during shutdown to flush and stop it.
func NewEmitter(store Store, logger *slog.Logger, queueSize int) *Emitter {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	e := &Emitter{
		store:  store,
		logger: logger,
		queue:  make(chan Record, queueSize),
		done:   make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit enqueues rec for asynchronous persistence. Non-blocking: if the
// queue is saturated, the record is dropped and a backpressure warning
// is logged instead of stalling the caller.
func (e *Emitter) Emit(rec Record) {
	select {
	case e.queue <- rec:
	default:
		e.mu.Lock()
		e.dropped++
		n := e.dropped
		e.mu.Unlock()
		e.logger.Warn("audit queue saturated, dropping record",
			"request_id", rec.RequestID, "total_dropped", n)
	}
}

// Dropped returns the number of records dropped so far due to
// backpressure.
func (e *Emitter) Dropped() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

func (e *Emitter) run() {
	defer close(e.done)
	for rec := range e.queue {
		if err := e.store.Append(context.Background(), rec); err != nil {
			e.logger.Error("audit append failed", "request_id", rec.RequestID, "error", err)
		}
	}
}

// Close stops accepting new records, drains the remaining backlog, and
// flushes the underlying store.
func (e *Emitter) Close(ctx context.Context) error {
	close(e.queue)
	<-e.done
	return e.store.Flush(ctx)
}
