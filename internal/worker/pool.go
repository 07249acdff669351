package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

var ErrPoolClosed = errors.New("worker pool is shut down")

// Task is background work. It must return soon after ctx is cancelled.
type Task func(ctx context.Context)

// Handle controls one submitted task.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel asks the task to stop. It does not wait.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed when the task has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Pool runs each task on its own goroutine with its own cancel handle.
// With maxConcurrent > 0 at most that many tasks run at once, the rest wait.
type Pool struct {
	ctx  context.Context
	stop context.CancelFunc
	sem  chan struct{}
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPool(maxConcurrent int) *Pool {
	ctx, stop := context.WithCancel(context.Background())
	p := &Pool{ctx: ctx, stop: stop}
	if maxConcurrent > 0 {
		p.sem = make(chan struct{}, maxConcurrent)
	}
	return p
}

// Go starts task. Its context ends when parent ends, when the handle is
// cancelled or when the pool shuts down.
func (p *Pool) Go(parent context.Context, name string, task Task) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	ctx, cancel := context.WithCancel(parent)
	stopOnShutdown := context.AfterFunc(p.ctx, cancel)
	h := &Handle{name: name, cancel: cancel, done: make(chan struct{})}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(h.done)
		defer stopOnShutdown()
		defer cancel()

		if !p.acquire(ctx) {
			logrus.WithField("task", name).Debug("task cancelled before start")
			return
		}
		defer p.release()

		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{"task": name, "panic": r}).Error("task panicked")
			}
		}()
		task(ctx)
	}()
	return h, nil
}

func (p *Pool) acquire(ctx context.Context) bool {
	if p.sem == nil {
		return ctx.Err() == nil
	}
	select {
	case p.sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) release() {
	if p.sem != nil {
		<-p.sem
	}
}

// Shutdown cancels every running task and waits for them to return or for ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.stop()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
