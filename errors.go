package channel

import (
	"errors"
	"fmt"
)

// Channel errors.
var (
	// ErrClosedChannel is returned (via promise failure) when an operation is
	// attempted on a channel that has been closed, or when outstanding writes
	// are drained during close.
	ErrClosedChannel = errors.New("channel: channel is closed")

	// ErrNotYetConnected is returned when a flush is attempted on an open
	// channel that has not yet become active.
	ErrNotYetConnected = errors.New("channel: channel is not yet connected")

	// ErrAlreadyConnected is returned when a connect is attempted on a
	// channel that is already active.
	ErrAlreadyConnected = errors.New("channel: channel is already connected")

	// ErrNotRegistered is returned when an operation requires the channel to
	// be registered with an event loop and it is not.
	ErrNotRegistered = errors.New("channel: channel is not registered with an event loop")

	// ErrAlreadyRegistered is returned when a registration is attempted on a
	// channel that is already registered.
	ErrAlreadyRegistered = errors.New("channel: channel is already registered with an event loop")

	// ErrConnectPending is returned when a connect is attempted while an
	// earlier connection attempt has not yet completed.
	ErrConnectPending = errors.New("channel: connection attempt already in progress")
)

// Promise errors.
var (
	// ErrDeadlockDetected is returned by [Future.Await] when the blocking
	// wait is attempted from the owning event loop goroutine. Blocking that
	// goroutine would block the very goroutine required to complete the
	// promise.
	ErrDeadlockDetected = errors.New("channel: Await called from the owning event loop goroutine")

	// ErrPromiseAlreadyCompleted is the panic value used when SetSuccess or
	// SetFailure is called on an already-completed promise. Use TrySuccess
	// or TryFailure when racing completions are expected.
	ErrPromiseAlreadyCompleted = errors.New("channel: promise already completed")

	// ErrPromiseCancelled is reported by [Future.Err] when the promise was
	// cancelled before completion.
	ErrPromiseCancelled = errors.New("channel: promise was cancelled")
)

// Event loop errors.
var (
	// ErrLoopAlreadyRunning is returned when Run is called on a loop that is
	// already running.
	ErrLoopAlreadyRunning = errors.New("channel: event loop is already running")

	// ErrLoopTerminated is returned when operations are attempted on a
	// terminated loop.
	ErrLoopTerminated = errors.New("channel: event loop has been terminated")

	// ErrReentrantRun is returned when Run is called from within the loop
	// itself.
	ErrReentrantRun = errors.New("channel: cannot call Run from within the event loop")
)

// WrapError wraps an error with a message, preserving the cause chain.
// The result satisfies errors.Is(result, cause) == true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
