package audit

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull discards events instead of making the emitting controller wait.
	DropIfFull bool
}

// queued is either an event or a flush marker. Markers travel the same FIFO as
// events, so reaching one means everything emitted before it was delivered.
type queued struct {
	event   Event
	flushed chan struct{}
}

// Dispatcher delivers events to a sink on a single goroutine, in emit order.
// Lost events are counted per event type so operators can tell a dropped
// login_failure from a dropped logout.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	queue   chan queued
	stop    chan struct{}
	stopped chan struct{}
	once    sync.Once
	closed  atomic.Bool

	lost    atomic.Uint64
	mu      sync.Mutex
	lostFor map[string]uint64
}

// NewDispatcher returns nil when auditing is disabled; a nil Dispatcher
// accepts and ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:     cfg,
		sink:    sink,
		queue:   make(chan queued, cfg.BufferSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		lostFor: make(map[string]uint64),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case q := <-d.queue:
			d.deliver(q)
		case <-d.stop:
			for {
				select {
				case q := <-d.queue:
					d.deliver(q)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(q queued) {
	if q.flushed != nil {
		close(q.flushed)
		return
	}
	d.sink.Emit(context.Background(), q.event)
}

// Emit queues event. With DropIfFull a full queue loses the event at once;
// otherwise Emit waits and loses it only if ctx ends first.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- queued{event: event}:
		case <-d.stop:
		default:
			d.lose(event.EventType)
		}
		return
	}

	select {
	case d.queue <- queued{event: event}:
	case <-d.stop:
	case <-ctx.Done():
		d.lose(event.EventType)
	}
}

func (d *Dispatcher) lose(eventType string) {
	d.lost.Add(1)
	d.mu.Lock()
	d.lostFor[eventType]++
	d.mu.Unlock()
}

// Flush waits until every event emitted before the call reached the sink.
// It returns ctx.Err() if ctx ends first; a closed dispatcher flushes trivially.
func (d *Dispatcher) Flush(ctx context.Context) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case d.queue <- queued{flushed: done}:
	case <-d.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-d.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close delivers whatever is queued and stops the worker. Later calls return
// immediately.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		<-d.stopped
	})
}

// Dropped is the total number of lost events.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.lost.Load()
}

// DroppedByType breaks Dropped down by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return map[string]uint64{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.lostFor)
}
