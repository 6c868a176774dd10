package goBankID

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// outcomeEnqueueWait is how long an order outcome may wait for buffer room
// under DropIfFull before it is dropped like any other event.
const outcomeEnqueueWait = 200 * time.Millisecond

// auditDispatcher moves lifecycle events off the request path into one sink
// goroutine.
type auditDispatcher struct {
	sink       AuditSink
	queue      chan AuditEvent
	dropIfFull bool
	flush      time.Duration

	stopping  chan struct{}
	finished  chan struct{}
	abandoned atomic.Bool
	dropped   atomic.Uint64
	closeOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}

	d := &auditDispatcher{
		sink:       sink,
		queue:      make(chan AuditEvent, size),
		dropIfFull: cfg.DropIfFull,
		flush:      cfg.FlushTimeout,
		stopping:   make(chan struct{}),
		finished:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer close(d.finished)

	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.stopping:
			d.drain()
			return
		}
	}
}

// drain hands queued events to the sink until the queue is empty or Close
// gave up waiting.
func (d *auditDispatcher) drain() {
	for !d.abandoned.Load() {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit queues event. Under DropIfFull a full buffer drops the event, except
// that order outcomes first wait up to outcomeEnqueueWait for room. Without
// DropIfFull Emit blocks until there is room, ctx is done or Close starts.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	select {
	case <-d.stopping:
		return
	default:
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case d.queue <- event:
		return
	default:
	}

	if d.dropIfFull && !isOutcome(event.EventType) {
		d.dropped.Add(1)
		return
	}

	var expire <-chan time.Time
	if d.dropIfFull {
		t := time.NewTimer(outcomeEnqueueWait)
		defer t.Stop()
		expire = t.C
	}
	select {
	case d.queue <- event:
	case <-expire:
		d.dropped.Add(1)
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stopping:
		d.dropped.Add(1)
	}
}

// Close stops accepting events and flushes the queue into the sink. With a
// FlushTimeout it returns once that elapses and counts what was left as
// dropped. Safe to call twice.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.stopping)
		if d.flush <= 0 {
			<-d.finished
			return
		}

		t := time.NewTimer(d.flush)
		defer t.Stop()
		select {
		case <-d.finished:
		case <-t.C:
			d.abandoned.Store(true)
			d.dropped.Add(uint64(len(d.queue)))
		}
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// isOutcome reports whether eventType ends an order's lifecycle.
func isOutcome(eventType string) bool {
	switch eventType {
	case EventOrderCompleted, EventOrderFailed, EventOrderCancelled:
		return true
	}
	return false
}
