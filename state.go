package channel

import (
	"sync/atomic"
)

// LoopState represents the current state of an event loop.
//
// State Machine:
//
//	LoopAwake → LoopRunning            [Run()]
//	LoopRunning → LoopSleeping         [park() via CAS]
//	LoopSleeping → LoopRunning         [wake via CAS]
//	LoopRunning → LoopTerminating      [Shutdown()/Close()]
//	LoopSleeping → LoopTerminating     [Shutdown()/Close()]
//	LoopTerminating → LoopTerminated   [drain complete]
//	LoopTerminated → (terminal)
//
// Temporary states (Running, Sleeping) transition via CAS only; the terminal
// state is stored unconditionally once the drain completes.
type LoopState uint64

const (
	// LoopAwake indicates the loop has been created but not started.
	LoopAwake LoopState = iota
	// LoopRunning indicates the loop is actively processing tasks.
	LoopRunning
	// LoopSleeping indicates the loop is parked waiting for work.
	LoopSleeping
	// LoopTerminating indicates shutdown has been requested but not completed.
	LoopTerminating
	// LoopTerminated indicates the loop has fully stopped.
	LoopTerminated
)

// String returns a human-readable representation of the state.
func (s LoopState) String() string {
	switch s {
	case LoopAwake:
		return "Awake"
	case LoopRunning:
		return "Running"
	case LoopSleeping:
		return "Sleeping"
	case LoopTerminating:
		return "Terminating"
	case LoopTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// loopStateMachine is a lock-free state machine with cache-line padding to
// prevent false sharing; it is read from arbitrary goroutines on the Submit
// hot path.
type loopStateMachine struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64 // State value
	_ [56]byte      //nolint:unused
}

func newLoopStateMachine() *loopStateMachine {
	s := &loopStateMachine{}
	s.v.Store(uint64(LoopAwake))
	return s
}

// Load returns the current state atomically.
func (s *loopStateMachine) Load() LoopState {
	return LoopState(s.v.Load())
}

// Store atomically stores a new state. Only valid for irreversible states;
// temporary states must go through TryTransition.
func (s *loopStateMachine) Store(state LoopState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to another.
func (s *loopStateMachine) TryTransition(from, to LoopState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// ChannelState is the lifecycle state of a [Channel].
//
//	ChannelCreated → ChannelRegistered → (ChannelBound) → ChannelActive
//	              → ChannelClosing → ChannelClosed
//
// A channel accepted from a listening channel becomes active directly after
// registration. ChannelClosed is terminal; all operations after it fail with
// [ErrClosedChannel] except idempotent queries. Registration is tracked
// separately so deregistration can return a registered channel to an
// unregistered-but-open state without destroying it.
type ChannelState uint32

const (
	// ChannelCreated indicates the channel was constructed but has not been
	// registered with an event loop.
	ChannelCreated ChannelState = iota
	// ChannelRegistered indicates the channel is attached to its event loop.
	ChannelRegistered
	// ChannelBound indicates a local address has been associated.
	ChannelBound
	// ChannelActive indicates the channel is connected/usable for I/O.
	ChannelActive
	// ChannelClosing indicates close has been initiated but not completed.
	ChannelClosing
	// ChannelClosed is terminal.
	ChannelClosed
)

// String returns a human-readable representation of the state.
func (s ChannelState) String() string {
	switch s {
	case ChannelCreated:
		return "Created"
	case ChannelRegistered:
		return "Registered"
	case ChannelBound:
		return "Bound"
	case ChannelActive:
		return "Active"
	case ChannelClosing:
		return "Closing"
	case ChannelClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// channelStateMachine holds channel lifecycle state. Mutated only by the
// owning loop goroutine; read from any goroutine through atomic loads, which
// is what makes the facade queries safe without per-channel locks.
type channelStateMachine struct {
	v atomic.Uint32
}

func (s *channelStateMachine) Load() ChannelState {
	return ChannelState(s.v.Load())
}

func (s *channelStateMachine) Store(state ChannelState) {
	s.v.Store(uint32(state))
}

func (s *channelStateMachine) TryTransition(from, to ChannelState) bool {
	return s.v.CompareAndSwap(uint32(from), uint32(to))
}
