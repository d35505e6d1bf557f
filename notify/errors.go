package notify

import "errors"

var (
	// ErrPoolClosed is returned when work is submitted after the pool stopped.
	ErrPoolClosed = errors.New("notification pool is closed")

	// ErrPoolSaturated is returned when the worker queue is at capacity.
	ErrPoolSaturated = errors.New("notification queue is saturated")

	// ErrTrackerClosed is returned to admissions made or blocked during Close.
	ErrTrackerClosed = errors.New("notification tracker is closed")

	// ErrShutdownTimeout is returned when workers fail to exit in time.
	ErrShutdownTimeout = errors.New("timed out waiting for notification workers to exit")
)
