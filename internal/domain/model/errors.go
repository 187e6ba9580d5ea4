package model

import (
	"errors"
	"fmt"
)

// Class is the engine-visible error classification. Adapters may carry a
// richer device code inside their result payload; the engine only acts
// on the class.
//
//go:generate stringer -type=Class
type Class int16

const (
	// [ZERO_VALUE_GUARD] WE START FROM 1 TO DISTINGUISH FROM UNINITIALIZED DATA
	ClassLinkFailure Class = iota + 1
	ClassTimeout
	ClassCommandFailed
	ClassQueueFull
	ClassInvalidParameter
	ClassInvalidState
	ClassOutOfMemory
	ClassNotFound
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassLinkFailure:
		return "link_failure"
	case ClassTimeout:
		return "timeout"
	case ClassCommandFailed:
		return "command_failed"
	case ClassQueueFull:
		return "queue_full"
	case ClassInvalidParameter:
		return "invalid_parameter"
	case ClassInvalidState:
		return "invalid_state"
	case ClassOutOfMemory:
		return "out_of_memory"
	case ClassNotFound:
		return "not_found"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Sentinel errors for errors.Is checks across the whole service.
var (
	ErrLinkFailure      = errors.New("device link failure")
	ErrTimeout          = errors.New("operation timed out")
	ErrCommandFailed    = errors.New("device refused command")
	ErrQueueFull        = errors.New("command queue full")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidState     = errors.New("invalid state")
	ErrOutOfMemory      = errors.New("out of memory")
	ErrNotFound         = errors.New("not found")
	ErrCancelled        = errors.New("cancelled")
)

var classSentinels = map[Class]error{
	ClassLinkFailure:      ErrLinkFailure,
	ClassTimeout:          ErrTimeout,
	ClassCommandFailed:    ErrCommandFailed,
	ClassQueueFull:        ErrQueueFull,
	ClassInvalidParameter: ErrInvalidParameter,
	ClassInvalidState:     ErrInvalidState,
	ClassOutOfMemory:      ErrOutOfMemory,
	ClassNotFound:         ErrNotFound,
	ClassCancelled:        ErrCancelled,
}

// ClassifiedError attaches a Class to an underlying device error while
// keeping the cause reachable through errors.Unwrap.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return e.Class.String()
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match both the class sentinel and the wrapped cause.
func (e *ClassifiedError) Is(target error) bool {
	if s, ok := classSentinels[e.Class]; ok && target == s {
		return true
	}
	if t, ok := target.(*ClassifiedError); ok {
		return e.Class == t.Class
	}
	return false
}

// LinkError marks err as a recoverable link failure. The worker reacts
// to this class by flipping the connection state and starting the
// reconnect schedule.
func LinkError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassLinkFailure, Err: err}
}

// TimeoutError marks err as a per-operation timeout. It does not force
// a reconnect.
func TimeoutError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassTimeout, Err: err}
}

// CommandError marks err as a device-level refusal.
func CommandError(err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: ClassCommandFailed, Err: err}
}

// Classify maps any error to its engine-visible class. Unclassified
// errors count as command failures: the link is assumed healthy unless
// the adapter said otherwise.
func Classify(err error) Class {
	if err == nil {
		return 0
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	for class, sentinel := range classSentinels {
		if errors.Is(err, sentinel) {
			return class
		}
	}
	return ClassCommandFailed
}
