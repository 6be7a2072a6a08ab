package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"patchwarden/internal/logging"
)

// Sink accepts events without blocking the caller.
type Sink interface {
	Emit(actor string, eventType string, payload any)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(string, string, any) {}

// OrNop returns s, or a Nop sink when s is nil.
func OrNop(s Sink) Sink {
	if s == nil {
		return Nop{}
	}
	return s
}

type pending struct {
	ts      time.Time
	actor   string
	typ     string
	payload any
}

// Async buffers events and writes them to a Log from a single goroutine. When the buffer is
// full, events are dropped and counted.
type Async struct {
	log    *Log
	logger *zap.Logger
	onDrop func()

	ch      chan pending
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsync starts the writer goroutine. onDrop may be nil.
func NewAsync(log *Log, buffer int, logger *zap.Logger, onDrop func()) *Async {
	if buffer <= 0 {
		buffer = 256
	}
	a := &Async{
		log:    log,
		logger: logging.OrNop(logger),
		onDrop: onDrop,
		ch:     make(chan pending, buffer),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// Emit enqueues an event. It never blocks.
func (a *Async) Emit(actor string, eventType string, payload any) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(eventType)
		return
	}
	select {
	case a.ch <- pending{ts: time.Now().UTC(), actor: actor, typ: eventType, payload: payload}:
	default:
		a.drop(eventType)
	}
}

func (a *Async) drop(eventType string) {
	a.dropped.Add(1)
	if a.onDrop != nil {
		a.onDrop()
	}
	a.logger.Debug("audit event dropped", zap.String("type", eventType))
}

// Dropped returns the number of events that were never written.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Failed returns the number of events whose write failed.
func (a *Async) Failed() int64 { return a.failed.Load() }

// Close stops accepting events and waits for queued events to be written or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.once.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.ch)
		a.mu.Unlock()
	})
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for ev := range a.ch {
		if err := a.log.write(ev.ts, ev.actor, ev.typ, ev.payload); err != nil {
			a.failed.Add(1)
			a.logger.Warn("audit event write failed", zap.String("type", ev.typ), zap.Error(err))
		}
	}
}
