package service

import (
	"fmt"
	"sync"

	"github.com/ds124wfegd/espdisplay/internal/entity"
)

// ProgressFunc receives a copy of an attempt after every change.
type ProgressFunc func(entity.AttemptSnapshot)

// Attempt is one observable upload attempt.
type Attempt struct {
	mu       sync.RWMutex
	number   int
	state    entity.UploadState
	progress int
	message  string
	failure  *entity.FailureReason
	fileName string
	retried  bool
	// set on attempts handed out by Retry until they leave failed state
	armed   bool
	observe ProgressFunc
}

// NewAttempt creates the first attempt of an upload in idle state.
func NewAttempt(observe ProgressFunc) *Attempt {
	return &Attempt{number: 1, state: entity.UploadIdle, observe: observe}
}

// Transition moves the attempt to state and reports a progress checkpoint.
func (a *Attempt) Transition(to entity.UploadState, progress int, message string) error {
	a.mu.Lock()
	if !isValidTransition(a.state, to) {
		from := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, from, to)
	}
	if a.state == entity.UploadFailed {
		if !a.armed {
			a.mu.Unlock()
			return fmt.Errorf("%w: attempt %d needs an explicit retry", entity.ErrRetryNotAllowed, a.number)
		}
		a.armed = false
	}
	a.state = to
	a.progress = progress
	a.message = message
	if to != entity.UploadFailed {
		a.failure = nil
	}
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return nil
}

// Report updates the progress checkpoint without changing state.
func (a *Attempt) Report(progress int, message string) {
	a.mu.Lock()
	a.progress = progress
	a.message = message
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
}

// Fail ends the attempt with reason. Progress falls back to zero.
func (a *Attempt) Fail(reason *entity.FailureReason) error {
	a.mu.Lock()
	if !isValidTransition(a.state, entity.UploadFailed) {
		from := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, from, entity.UploadFailed)
	}
	a.state = entity.UploadFailed
	a.progress = entity.ProgressStart
	a.failure = reason
	a.message = reason.Error()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return nil
}

// Succeed ends the attempt as delivered.
func (a *Attempt) Succeed(fileName, message string) error {
	a.mu.Lock()
	if !isValidTransition(a.state, entity.UploadSucceeded) {
		from := a.state
		a.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", entity.ErrInvalidTransition, from, entity.UploadSucceeded)
	}
	a.state = entity.UploadSucceeded
	a.progress = entity.ProgressDone
	a.fileName = fileName
	a.message = message
	snap := a.snapshotLocked()
	a.mu.Unlock()

	a.notify(snap)
	return nil
}

// Retry hands out the next attempt after a failure. A failed attempt can be
// retried once; the new attempt starts in failed state so its first move is
// failed -> preparing.
func (a *Attempt) Retry() (*Attempt, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != entity.UploadFailed {
		return nil, fmt.Errorf("%w: attempt %d is %s", entity.ErrRetryNotAllowed, a.number, a.state)
	}
	if a.retried {
		return nil, fmt.Errorf("%w: attempt %d", entity.ErrAlreadyRetried, a.number)
	}
	a.retried = true

	return &Attempt{
		number:  a.number + 1,
		state:   entity.UploadFailed,
		failure: a.failure,
		message: a.message,
		armed:   true,
		observe: a.observe,
	}, nil
}

// releaseRetry returns the retry taken by next when next never left its
// initial failed state.
func (a *Attempt) releaseRetry(next *Attempt) {
	next.mu.RLock()
	unused := next.armed && next.state == entity.UploadFailed
	next.mu.RUnlock()
	if !unused {
		return
	}
	a.mu.Lock()
	a.retried = false
	a.mu.Unlock()
}

func (a *Attempt) State() entity.UploadState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Attempt) Snapshot() entity.AttemptSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshotLocked()
}

func (a *Attempt) snapshotLocked() entity.AttemptSnapshot {
	return entity.AttemptSnapshot{
		Number:   a.number,
		State:    a.state,
		Progress: a.progress,
		Message:  a.message,
		Failure:  a.failure,
		FileName: a.fileName,
	}
}

func (a *Attempt) notify(snap entity.AttemptSnapshot) {
	if a.observe != nil {
		a.observe(snap)
	}
}

// isValidTransition enforces the allowed upload state machine edges.
func isValidTransition(from, to entity.UploadState) bool {
	switch from {
	case entity.UploadIdle:
		return to == entity.UploadPreparing
	case entity.UploadPreparing:
		return to == entity.UploadEncoding || to == entity.UploadFailed
	case entity.UploadEncoding:
		return to == entity.UploadTransmitting || to == entity.UploadFailed
	case entity.UploadTransmitting:
		return to == entity.UploadSucceeded || to == entity.UploadFailed
	case entity.UploadFailed:
		return to == entity.UploadPreparing
	default:
		return false
	}
}
