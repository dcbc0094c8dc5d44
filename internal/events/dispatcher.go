package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type pending struct {
	name string
	key  string
	data interface{}
}

// Dispatcher moves sink writes off the request path. Emit never blocks; when
// the queue is full the event is dropped and logged.
type Dispatcher struct {
	sink    Sink
	log     *zap.SugaredLogger
	queue   chan pending
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewDispatcher(sink Sink, log *zap.SugaredLogger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Dispatcher{
		sink:    sink,
		log:     log,
		queue:   make(chan pending, buffer),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Emit(name, key string, data interface{}) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- pending{name: name, key: key, data: data}:
	default:
		d.log.Warnw("event queue full, dropping", "event", name, "key", key)
	}
}

// Run drains the queue until Close is called.
func (d *Dispatcher) Run() {
	defer close(d.done)
	for ev := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.sink.Publish(ctx, ev.name, ev.key, ev.data); err != nil {
			d.log.Errorw("publish event", "event", ev.name, "key", ev.key, "err", err)
		}
		cancel()
	}
}

// Close stops accepting events, waits for the queue to drain (bounded by
// ctx) and closes the sink. Run must have been started.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	select {
	case <-d.done:
	case <-ctx.Done():
	}
	return d.sink.Close()
}
