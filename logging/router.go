package logging

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// Sink receives routed events on its own goroutine.
type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

type RouterStats struct {
	EventsTotal  uint64 `json:"eventsTotal"`
	DroppedTotal uint64 `json:"droppedTotal"`
}

// Router stamps published events and hands them to every sink. Publish
// never blocks the caller; events that do not fit in the queue are counted
// as dropped and reported on stderr at most once per DropWarnInterval.
type Router struct {
	clock    Clock
	minimum  Severity
	fields   map[string]any
	fallback *log.Logger
	outlets  []*outlet

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	routed  atomic.Uint64
	dropped atomic.Uint64
	warn    dropWarner
}

func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink) (*Router, error) {
	if clock == nil {
		clock = ClockFunc(time.Now)
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultConfig().BufferSize
	}
	interval := cfg.DropWarnInterval
	if interval <= 0 {
		interval = DefaultConfig().DropWarnInterval
	}
	fallback := log.New(os.Stderr, "[logging] ", log.LstdFlags)

	r := &Router{
		clock:    clock,
		minimum:  cfg.MinimumSeverity,
		fields:   cfg.CloneFields(),
		fallback: fallback,
		queue:    make(chan Event, size),
		done:     make(chan struct{}),
		warn:     dropWarner{interval: interval},
	}
	seen := make(map[string]bool, len(namedSinks))
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		if seen[named.Name] {
			return nil, errors.New("logging: duplicate sink " + named.Name)
		}
		seen[named.Name] = true
		r.outlets = append(r.outlets, newOutlet(named, min(max(size, 32), 1024), fallback))
	}

	go r.dispatch()
	return r, nil
}

func (r *Router) dispatch() {
	var wg sync.WaitGroup
	for _, o := range r.outlets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.run()
		}()
	}
	for event := range r.queue {
		if event.Time.IsZero() {
			event.Time = r.clock.Now()
		}
		event = mergeFields(event, r.fields)
		r.routed.Add(1)
		for _, o := range r.outlets {
			o.offer(event)
		}
	}
	for _, o := range r.outlets {
		close(o.events)
	}
	wg.Wait()
	close(r.done)
}

// Publish queues an event. Untyped events and events below the configured
// severity are discarded, as is anything published after Close.
func (r *Router) Publish(_ context.Context, event Event) {
	if event.Type == "" || event.Severity < r.minimum {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		if r.warn.due(time.Now()) {
			r.fallback.Printf("queue full, dropping event type=%s tick=%d", event.Type, event.Tick)
		}
	}
}

// Close delivers what is already queued, then closes the sinks. Calling it
// again is a no-op.
func (r *Router) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	var errs []error
	for _, o := range r.outlets {
		if err := o.sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Stats() RouterStats {
	return RouterStats{
		EventsTotal:  r.routed.Load(),
		DroppedTotal: r.dropped.Load(),
	}
}

// Sink returns the sink registered under name, or nil.
func (r *Router) Sink(name string) Sink {
	for _, o := range r.outlets {
		if o.name == name {
			return o.sink
		}
	}
	return nil
}

type dropWarner struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
}

func (w *dropWarner) due(now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.last.IsZero() && now.Sub(w.last) < w.interval {
		return false
	}
	w.last = now
	return true
}

// outlet feeds one sink. A failing sink is paused with a doubling delay,
// capped at 32 seconds, while its backlog keeps accepting events.
type outlet struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
	failures int
}

func newOutlet(named NamedSink, buffer int, fallback *log.Logger) *outlet {
	return &outlet{
		name:     named.Name,
		sink:     named.Sink,
		events:   make(chan Event, buffer),
		fallback: fallback,
	}
}

func (o *outlet) offer(event Event) {
	select {
	case o.events <- cloneEvent(event):
	default:
		o.fallback.Printf("sink %s backlog full, dropping event type=%s", o.name, event.Type)
	}
}

func (o *outlet) run() {
	for event := range o.events {
		err := o.sink.Write(event)
		if err == nil {
			o.failures = 0
			continue
		}
		o.failures++
		delay := time.Second << min(o.failures, 5)
		o.fallback.Printf("sink %s failed: %v (retry in %s)", o.name, err, delay)
		time.Sleep(delay)
	}
}
