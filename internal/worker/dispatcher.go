package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Dispatcher runs posted closures one at a time on a single goroutine.
// State touched only from posted closures needs no further locking.
// Calling Call from inside a posted closure deadlocks.
type Dispatcher struct {
	queue chan func()
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(buffer int) *Dispatcher {
	if buffer < 0 {
		buffer = 0
	}
	d := &Dispatcher{
		queue: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for fn := range d.queue {
		d.run(fn)
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("dispatched closure panicked")
		}
	}()
	fn()
}

// Post queues fn and returns without waiting. It reports false once the dispatcher is closed.
func (d *Dispatcher) Post(fn func()) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	d.queue <- fn
	return true
}

// Call runs fn on the dispatcher goroutine and waits for it.
func (d *Dispatcher) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !d.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrDispatcherClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close runs what is already queued, then stops the goroutine.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}
