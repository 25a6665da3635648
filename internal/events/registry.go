package events

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// QueueSize bounds the events waiting for one asynchronous listener. Overflow is dropped.
const QueueSize = 256

type delivery struct {
	ctx   context.Context
	event Event
}

type registration struct {
	name     string
	listener Listener
	types    []Type
	// nil for inline listeners
	queue chan delivery
}

func (r registration) wants(t Type) bool {
	return len(r.types) == 0 || slices.Contains(r.types, t)
}

// Registry fans events out to listeners. A failing or slow listener never affects the others:
// each asynchronous listener drains its own ordered queue on its own goroutine.
type Registry struct {
	listeners atomic.Pointer[[]registration]
	now       func() time.Time
	logger    zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	pending sync.WaitGroup
	workers sync.WaitGroup
}

// NewRegistry constructs an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	r := &Registry{now: time.Now, logger: logger.With().Str("component", "events").Logger()}
	r.listeners.Store(&[]registration{})
	return r
}

// Register adds l under name with its own delivery queue. With no types the listener receives every event.
func (r *Registry) Register(name string, l Listener, types ...Type) {
	reg := registration{name: name, listener: l, types: types, queue: make(chan delivery, QueueSize)}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn().Str("listener", name).Msg("registry closed, listener ignored")
		return
	}
	r.workers.Add(1)
	go r.drain(reg)
	r.add(reg)
}

// RegisterInline adds l delivered on the caller's goroutine.
// Only for listeners that cannot block, such as in-memory recorders or the log.
func (r *Registry) RegisterInline(name string, l Listener, types ...Type) {
	r.add(registration{name: name, listener: l, types: types})
}

func (r *Registry) add(reg registration) {
	for {
		old := r.listeners.Load()
		next := append(slices.Clone(*old), reg)
		if r.listeners.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	return len(*r.listeners.Load())
}

// Fire hands event to every interested listener and returns without waiting for queued ones.
func (r *Registry) Fire(ctx context.Context, event Event) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = r.now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for _, reg := range *r.listeners.Load() {
		if !reg.wants(event.Type) {
			continue
		}
		if reg.queue == nil {
			r.report(reg, event, r.deliver(ctx, reg, event))
			continue
		}
		r.pending.Add(1)
		select {
		case reg.queue <- delivery{ctx: context.WithoutCancel(ctx), event: event}:
		default:
			r.pending.Done()
			r.logger.Warn().Str("listener", reg.name).Str("event", string(event.Type)).Msg("listener queue full, event dropped")
		}
	}
}

// Flush waits until every queued event has been handled.
func (r *Registry) Flush() {
	r.pending.Wait()
}

// Close flushes the queues and stops the listener goroutines. Later events are discarded.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	for _, reg := range *r.listeners.Load() {
		if reg.queue != nil {
			close(reg.queue)
		}
	}
	r.mu.Unlock()
	r.workers.Wait()
}

func (r *Registry) drain(reg registration) {
	defer r.workers.Done()
	for d := range reg.queue {
		r.report(reg, d.event, r.deliver(d.ctx, reg, d.event))
		r.pending.Done()
	}
}

func (r *Registry) report(reg registration, event Event, err error) {
	if err != nil {
		r.logger.Warn().Err(err).Str("listener", reg.name).Str("event", string(event.Type)).Msg("listener failed")
	}
}

func (r *Registry) deliver(ctx context.Context, reg registration, event Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("listener panicked: %v", p)
		}
	}()
	return reg.listener.Handle(ctx, event)
}
