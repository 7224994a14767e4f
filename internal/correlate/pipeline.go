package correlate

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/httptap/httptap/internal/entry"
)

const defaultQueueSize = 256

type eventKind int

const (
	eventStart eventKind = iota
	eventData
	eventComplete
	eventFailed
)

// event carries one interceptor callback into the worker goroutine.
// Headers and body are owned by the event once enqueued.
type event struct {
	kind    eventKind
	id      string
	method  string
	url     string
	headers http.Header
	body    []byte
	status  int
	reason  string
	at      time.Time
}

// Sink receives each finalized entry, in finalization order, from the
// pipeline worker. Sinks must not block for long; they run on the
// single worker goroutine.
type Sink func(*entry.Entry)

// Options tunes the pipeline. Zero values select defaults.
type Options struct {
	// QueueSize bounds the event queue.
	QueueSize int
	// MaxBodySize bounds retained bytes per captured body.
	MaxBodySize int
}

// Metrics carries optional counter hooks. Nil fields are skipped.
type Metrics struct {
	OnAccepted  func()
	OnDropped   func()
	OnFinalized func()
}

// Diagnostics is a point-in-time snapshot of pipeline state.
type Diagnostics struct {
	QueueCapacity int   `json:"queue_capacity"`
	QueueDepth    int   `json:"queue_depth"`
	Accepted      int64 `json:"accepted"`
	Dropped       int64 `json:"dropped"`
	InFlight      int64 `json:"in_flight"`
}

// Pipeline decouples interception callsites from table mutation: a
// bounded queue absorbs events from any goroutine and a single worker
// applies them to the Table. When the queue is full the event is
// dropped and counted; enqueue never blocks traffic.
type Pipeline struct {
	table  *Table
	sink   Sink
	logger *slog.Logger

	queue   chan event
	queueMu sync.RWMutex
	stopped bool

	startOnce sync.Once
	started   atomic.Bool
	stopOnce  sync.Once
	done      chan struct{}

	accepted atomic.Int64
	dropped  atomic.Int64
	inflight atomic.Int64

	metrics Metrics
}

// NewPipeline builds a pipeline delivering finalized entries to sink.
// A nil logger falls back to slog.Default().
func NewPipeline(sink Sink, options Options, logger *slog.Logger) *Pipeline {
	if options.QueueSize <= 0 {
		options.QueueSize = defaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		table:  NewTable(options.MaxBodySize),
		sink:   sink,
		logger: logger,
		queue:  make(chan event, options.QueueSize),
		done:   make(chan struct{}),
	}
}

// SetMetrics installs counter hooks. Call before Start.
func (p *Pipeline) SetMetrics(m Metrics) {
	p.metrics = m
}

// Start launches the worker goroutine. Subsequent calls are no-ops.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.started.Store(true)
		go p.run(ctx)
	})
}

// OnStart implements the network observer start callback.
func (p *Pipeline) OnStart(id, method, url string, headers http.Header, body []byte, at time.Time) {
	p.enqueue(event{kind: eventStart, id: id, method: method, url: url, headers: cloneHeader(headers), body: cloneBytes(body), at: at})
}

// OnData implements the network observer data callback.
func (p *Pipeline) OnData(id string, status int, headers http.Header, chunk []byte) {
	p.enqueue(event{kind: eventData, id: id, status: status, headers: cloneHeader(headers), body: cloneBytes(chunk)})
}

// OnComplete implements the network observer completion callback.
func (p *Pipeline) OnComplete(id string, at time.Time) {
	p.enqueue(event{kind: eventComplete, id: id, at: at})
}

// OnFailed implements the network observer failure callback.
func (p *Pipeline) OnFailed(id, reason string, at time.Time) {
	p.enqueue(event{kind: eventFailed, id: id, reason: reason, at: at})
}

func (p *Pipeline) enqueue(ev event) {
	p.queueMu.RLock()
	defer p.queueMu.RUnlock()

	if p.stopped {
		p.dropped.Add(1)
		if p.metrics.OnDropped != nil {
			p.metrics.OnDropped()
		}
		return
	}

	select {
	case p.queue <- ev:
		p.accepted.Add(1)
		if p.metrics.OnAccepted != nil {
			p.metrics.OnAccepted()
		}
	default:
		p.dropped.Add(1)
		if p.metrics.OnDropped != nil {
			p.metrics.OnDropped()
		}
		p.logger.Warn("correlation queue full, dropping event", "exchange_id", ev.id, "kind", int(ev.kind))
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case ev, ok := <-p.queue:
			if !ok {
				return
			}
			p.apply(ev)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

// drain consumes whatever is already buffered so that in-flight
// exchanges finalized before shutdown still reach the sink.
func (p *Pipeline) drain() {
	for {
		select {
		case ev, ok := <-p.queue:
			if !ok {
				return
			}
			p.apply(ev)
		default:
			return
		}
	}
}

func (p *Pipeline) apply(ev event) {
	switch ev.kind {
	case eventStart:
		p.table.Begin(ev.id, ev.method, ev.url, ev.headers, ev.body, ev.at)
	case eventData:
		p.table.AppendData(ev.id, ev.status, ev.headers, ev.body)
	case eventComplete:
		if e, ok := p.table.Finish(ev.id, ev.at); ok {
			p.deliver(e)
		}
	case eventFailed:
		if e, ok := p.table.Fail(ev.id, ev.reason, ev.at); ok {
			p.deliver(e)
		}
	}
	p.inflight.Store(int64(p.table.InFlight()))
}

func (p *Pipeline) deliver(e *entry.Entry) {
	if p.metrics.OnFinalized != nil {
		p.metrics.OnFinalized()
	}
	if p.sink != nil {
		p.sink(e)
	}
}

// Shutdown stops intake, lets the worker finish the queued backlog,
// and waits for it up to the context deadline.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.queueMu.Lock()
		p.stopped = true
		close(p.queue)
		p.queueMu.Unlock()

		if !p.started.Load() {
			p.drain()
			close(p.done)
		}
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Diagnostics returns a snapshot of queue and counter state.
func (p *Pipeline) Diagnostics() Diagnostics {
	return Diagnostics{
		QueueCapacity: cap(p.queue),
		QueueDepth:    len(p.queue),
		Accepted:      p.accepted.Load(),
		Dropped:       p.dropped.Load(),
		InFlight:      p.inflight.Load(),
	}
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	return h.Clone()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
