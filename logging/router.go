package logging

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

type Sink interface {
	Write(Event) error
	Close(context.Context) error
}

type NamedSink struct {
	Name string
	Sink Sink
}

// Router fans published events out to its sinks. Publish never blocks: an
// event that does not fit the queue is dropped and counted, and so is an
// event that does not fit a single sink's backlog.
type Router struct {
	cfg         Config
	clock       Clock
	fallback    *log.Logger
	minSeverity Severity
	fields      map[string]any

	queue   chan Event
	workers []*sinkWorker
	stop    chan struct{}
	closed  atomic.Bool
	wg      sync.WaitGroup

	published   atomic.Uint64
	dropped     atomic.Uint64
	nextDropLog atomic.Int64
}

// SinkStats reports delivery counters of one sink.
type SinkStats struct {
	Name      string `json:"name"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

type RouterStats struct {
	EventsTotal  uint64      `json:"eventsTotal"`
	DroppedTotal uint64      `json:"droppedTotal"`
	Sinks        []SinkStats `json:"sinks,omitempty"`
}

// NewRouter starts a router delivering to the given sinks. A nil fallback
// logger writes router diagnostics to stderr.
func NewRouter(clock Clock, cfg Config, namedSinks []NamedSink, fallback *log.Logger) *Router {
	if clock == nil {
		clock = SystemClock{}
	}
	if fallback == nil {
		fallback = log.New(os.Stderr, "[logging] ", log.LstdFlags)
	}
	cfg = cfg.withDefaults()

	r := &Router{
		cfg:         cfg,
		clock:       clock,
		fallback:    fallback,
		minSeverity: cfg.MinimumSeverity,
		fields:      cfg.CloneFields(),
		queue:       make(chan Event, cfg.BufferSize),
		stop:        make(chan struct{}),
	}
	backlog := min(max(cfg.BufferSize, 32), 1024)
	for _, named := range namedSinks {
		if named.Sink == nil {
			continue
		}
		r.workers = append(r.workers, &sinkWorker{
			name:     named.Name,
			sink:     named.Sink,
			events:   make(chan Event, backlog),
			fallback: fallback,
			backoff:  cfg.RetryBackoff,
			maxWait:  cfg.MaxRetryBackoff,
		})
	}

	r.wg.Add(1 + len(r.workers))
	go r.dispatch()
	for _, worker := range r.workers {
		go func(w *sinkWorker) {
			defer r.wg.Done()
			w.run()
		}(worker)
	}
	return r
}

// Publish queues event for delivery. Events without a type, events below the
// severity floor and events published after Close are discarded. The trace
// ID of the span active in ctx is attached when the event has none.
func (r *Router) Publish(ctx context.Context, event Event) {
	if event.Type == "" || event.Severity < r.minSeverity || r.closed.Load() {
		return
	}
	if event.TraceID == "" && ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			event.TraceID = sc.TraceID().String()
		}
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		r.warnDrop(event)
	}
}

func (r *Router) dispatch() {
	defer func() {
		for _, worker := range r.workers {
			close(worker.events)
		}
		r.wg.Done()
	}()
	for {
		select {
		case event := <-r.queue:
			r.fanOut(event)
		case <-r.stop:
			// Drain what was accepted before Close.
			for {
				select {
				case event := <-r.queue:
					r.fanOut(event)
				default:
					return
				}
			}
		}
	}
}

func (r *Router) fanOut(event Event) {
	if event.Time.IsZero() {
		event.Time = r.clock.Now()
	}
	event = mergeFields(event, r.fields)
	r.published.Add(1)
	for _, worker := range r.workers {
		worker.offer(event)
	}
}

func (r *Router) warnDrop(event Event) {
	now := time.Now().UnixNano()
	next := r.nextDropLog.Load()
	if now < next {
		return
	}
	if r.nextDropLog.CompareAndSwap(next, now+r.cfg.DropWarnInterval.Nanoseconds()) {
		r.fallback.Printf("queue full, dropping event type=%s session=%s seq=%d", event.Type, event.SessionID, event.Seq)
	}
}

// Close stops accepting events, drains the queue into the sinks and closes
// them. It returns ctx.Err() if draining outlives ctx.
func (r *Router) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(r.stop)
	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		return ctx.Err()
	}

	var firstErr error
	for _, worker := range r.workers {
		if err := worker.sink.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Stats reports router and per-sink counters in sink registration order.
func (r *Router) Stats() RouterStats {
	stats := RouterStats{
		EventsTotal:  r.published.Load(),
		DroppedTotal: r.dropped.Load(),
	}
	for _, worker := range r.workers {
		stats.Sinks = append(stats.Sinks, SinkStats{
			Name:      worker.name,
			Delivered: worker.delivered.Load(),
			Failed:    worker.failed.Load(),
			Dropped:   worker.dropped.Load(),
		})
	}
	return stats
}

// Sink returns the sink registered under name, or nil.
func (r *Router) Sink(name string) Sink {
	for _, worker := range r.workers {
		if worker.name == name {
			return worker.sink
		}
	}
	return nil
}

type sinkWorker struct {
	name     string
	sink     Sink
	events   chan Event
	fallback *log.Logger
	backoff  time.Duration
	maxWait  time.Duration

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	// Owned by run.
	streak    int
	nextRetry time.Time
}

func (w *sinkWorker) offer(event Event) {
	select {
	case w.events <- Clone(event):
	default:
		w.dropped.Add(1)
	}
}

func (w *sinkWorker) run() {
	for event := range w.events {
		if w.streak > 0 {
			if wait := time.Until(w.nextRetry); wait > 0 {
				time.Sleep(wait)
			}
		}
		if err := w.sink.Write(event); err != nil {
			w.failed.Add(1)
			w.streak++
			delay := min(w.backoff<<min(w.streak-1, 16), w.maxWait)
			w.nextRetry = time.Now().Add(delay)
			w.fallback.Printf("sink %s failed to write %s: %v (next attempt in %s)", w.name, event.Type, err, delay)
			continue
		}
		w.delivered.Add(1)
		w.streak = 0
	}
}
