package authcore

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// auditDispatcher decouples audit emission from request latency: events are
// queued to a bounded channel and delivered by a single worker goroutine.
// When the queue is full and DropIfFull is set, events are counted and
// discarded instead of blocking the caller.
type auditDispatcher struct {
	sink       AuditSink
	logger     *zap.Logger
	queue      chan AuditEvent
	stop       chan struct{}
	stopped    chan struct{}
	dropIfFull bool
	dropped    atomic.Uint64
	closeOnce  sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *zap.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &auditDispatcher{
		sink:       sink,
		logger:     logger,
		queue:      make(chan AuditEvent, cfg.BufferSize),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
		dropIfFull: cfg.DropIfFull,
	}
	go d.run()

	return d
}

func (d *auditDispatcher) run() {
	defer close(d.stopped)

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain empties whatever is already queued so Close never discards accepted
// events.
func (d *auditDispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// deliver shields the worker from sink panics; one broken sink call must not
// end audit delivery for the rest of the process.
func (d *auditDispatcher) deliver(event AuditEvent) {
	defer func() {
		if r := recover(); r != nil && d.logger != nil {
			d.logger.Error("audit sink panicked", zap.Any("panic", r))
		}
	}()
	d.sink.Emit(context.Background(), event)
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	select {
	case <-d.stop:
		return
	default:
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			if d.dropped.Add(1) == 1 && d.logger != nil {
				d.logger.Warn("audit queue full, dropping events",
					zap.Int("queue_capacity", cap(d.queue)))
			}
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.stop:
	}
}

// Close stops the worker after draining queued events. Safe to call twice.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		close(d.stop)
		<-d.stopped
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
