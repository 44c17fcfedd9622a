package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBuffer      = 256
	defaultSendTimeout = 10 * time.Second
)

// Dispatcher decouples the monitoring core from slow sinks: Publish only
// enqueues, a single worker goroutine delivers. When the buffer is full the
// event is dropped and logged, never queued against the core loop.
type Dispatcher struct {
	log         *zap.Logger
	sink        Sink
	sendTimeout time.Duration

	ch       chan Event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.RWMutex
	closed bool
}

type DispatcherOption func(*Dispatcher)

func WithBuffer(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.ch = make(chan Event, n)
		}
	}
}

func WithSendTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if t > 0 {
			d.sendTimeout = t
		}
	}
}

func NewDispatcher(log *zap.Logger, sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		log:         log,
		sink:        sink,
		sendTimeout: defaultSendTimeout,
		ch:          make(chan Event, defaultBuffer),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Publish enqueues e, dropping it with a log when the buffer is full or
// the dispatcher is closed. The events channel is never closed, so a late
// Publish racing shutdown (an attempt finishing past the drain deadline)
// can not panic.
func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropEvent(e, "dispatcher closed")
		return
	}
	select {
	case d.ch <- e:
	default:
		d.dropEvent(e, "buffer full")
	}
}

func (d *Dispatcher) dropEvent(e Event, cause string) {
	d.log.Warn("notify_dropped_event",
		zap.String("kind", e.Kind()),
		zap.String("target_id", string(e.Target())),
		zap.String("cause", cause),
	)
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		select {
		case e := <-d.ch:
			d.deliver(e)
		case <-d.quit:
			// flush whatever was buffered before Close
			for {
				select {
				case e := <-d.ch:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	if err := d.sink.Send(ctx, e); err != nil {
		d.log.Warn("notify_send_error",
			zap.String("kind", e.Kind()),
			zap.String("target_id", string(e.Target())),
			zap.Error(err),
		)
	}
}

// Close stops accepting events and waits for the queue to drain. Publish
// after Close is safe; the event is dropped and logged.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.mu.Unlock()
		close(d.quit)
	})
	<-d.done
}
