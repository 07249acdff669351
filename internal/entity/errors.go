package entity

import (
	"errors"
	"fmt"
)

var (
	// Transcode errors
	ErrSourceUnreadable = errors.New("image source unreadable")
	ErrInvalidSpec      = errors.New("invalid target spec")
	ErrSourceTooLarge   = errors.New("image source has too many pixels")

	// Upload errors
	ErrNoImage           = errors.New("no image selected")
	ErrInvalidTarget     = errors.New("invalid upload target")
	ErrInvalidTransition = errors.New("invalid upload state transition")
	ErrRetryNotAllowed   = errors.New("retry is only allowed after a failed attempt")
	ErrAlreadyRetried    = errors.New("failed attempt was already retried")

	// Flow errors
	ErrFlowNotFound = errors.New("flow not found")
	ErrFlowBusy     = errors.New("flow is busy")
	ErrFlowNotReady = errors.New("flow has no transcoded image")

	// Device errors
	ErrInvalidAddress = errors.New("invalid device address")
	ErrDeviceRejected = errors.New("device rejected the request")
)

// TranscodeError is returned when a source cannot be turned into a pixel buffer.
// It always matches ErrSourceUnreadable with errors.Is.
type TranscodeError struct {
	Op  string
	Err error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.Op, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

func (e *TranscodeError) Is(target error) bool { return target == ErrSourceUnreadable }
