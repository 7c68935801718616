package channel

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
)

// FutureState represents the lifecycle state of a [Future].
// A future starts Pending and makes exactly one terminal transition to
// Succeeded, Failed, or Cancelled. Terminal transitions are irreversible.
type FutureState int32

const (
	// Pending indicates the asynchronous operation is still in progress.
	Pending FutureState = iota
	// Succeeded indicates the operation completed successfully.
	Succeeded
	// Failed indicates the operation failed with an error.
	Failed
	// Cancelled indicates the operation was cancelled before completion.
	Cancelled
)

// String returns a human-readable representation of the state.
func (s FutureState) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// FutureListener is a callback invoked exactly once with the completed
// future. Listeners added before completion run synchronously on whichever
// goroutine completes the promise; a listener added after completion runs
// immediately and synchronously on the adding goroutine, so a late
// subscriber can never miss the outcome.
type FutureListener func(Future)

// Future is a read-only view of a single-assignment asynchronous result.
type Future interface {
	// State returns the current [FutureState].
	State() FutureState

	// IsDone reports whether the future has reached a terminal state.
	IsDone() bool

	// IsSuccess reports whether the future completed successfully.
	IsSuccess() bool

	// IsCancelled reports whether the future was cancelled.
	IsCancelled() bool

	// Value returns the success value, or nil if the future is pending,
	// failed, or cancelled. A succeeded future can legitimately hold a nil
	// value.
	Value() any

	// Err returns the failure cause, [ErrPromiseCancelled] if cancelled, or
	// nil if pending or succeeded.
	Err() error

	// AddListener registers a callback invoked exactly once with the final
	// outcome. See [FutureListener] for the execution-context guarantees.
	AddListener(listener FutureListener)

	// Done returns a channel closed when the future reaches a terminal
	// state. It returns nil for the void promise.
	Done() <-chan struct{}

	// Await blocks until the future completes or ctx expires, returning
	// [Future.Err] on completion and ctx.Err() on expiry.
	//
	// Await is only legal off the owning event loop goroutine: calling it on
	// that goroutine would block the very goroutine required to complete the
	// future, so it fails fast with [ErrDeadlockDetected] instead.
	Await(ctx context.Context) error
}

// Promise is the writable side of a [Future].
//
// Exactly one terminal transition ever occurs. The Set variants treat a
// second completion as a programming error and panic with
// [ErrPromiseAlreadyCompleted]; the Try variants report it via their return
// value instead, for paths where racing completions are legal (e.g. close
// versus write failure).
type Promise interface {
	Future

	// SetSuccess completes the promise successfully. Panics if already
	// completed.
	SetSuccess(value any)

	// TrySuccess completes the promise successfully, reporting whether this
	// call performed the transition.
	TrySuccess(value any) bool

	// SetFailure completes the promise with err. Panics if already
	// completed.
	SetFailure(err error)

	// TryFailure completes the promise with err, reporting whether this
	// call performed the transition.
	TryFailure(err error) bool

	// Cancel transitions a pending promise to Cancelled, reporting whether
	// this call performed the transition. Cancellation is advisory: the
	// underlying operation may still run to completion at the OS level, but
	// application-visible state treats it as cancelled.
	Cancel() bool
}

// executor is the affinity hook used for deadlock detection in Await.
// *EventLoop implements it, as does *Channel (delegating to its current
// loop).
type executor interface {
	InEventLoop() bool
}

// promise is the concrete single-assignment cell.
type promise struct {
	value     any
	err       error
	exec      executor
	listeners []FutureListener
	done      chan struct{}
	state     atomic.Int32
	mu        sync.Mutex
}

var _ Promise = (*promise)(nil)

// NewPromise creates an unbound promise. Unbound promises cannot detect
// Await deadlocks; prefer [Channel.NewPromise] for promises tied to a
// channel's event loop.
func NewPromise() Promise {
	return newPromise(nil)
}

func newPromise(exec executor) *promise {
	return &promise{
		exec: exec,
		done: make(chan struct{}),
	}
}

func (p *promise) State() FutureState {
	return FutureState(p.state.Load())
}

func (p *promise) IsDone() bool {
	return p.State() != Pending
}

func (p *promise) IsSuccess() bool {
	return p.State() == Succeeded
}

func (p *promise) IsCancelled() bool {
	return p.State() == Cancelled
}

func (p *promise) Value() any {
	if p.State() != Succeeded {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *promise) Err() error {
	switch p.State() {
	case Failed:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	case Cancelled:
		return ErrPromiseCancelled
	default:
		return nil
	}
}

func (p *promise) Done() <-chan struct{} {
	return p.done
}

// AddListener registers a completion callback. Uses an optimistic lock-free
// check for the common already-completed case, mirroring the settled
// fast-path of handler attachment in the event loop's promise machinery.
func (p *promise) AddListener(listener FutureListener) {
	if listener == nil {
		return
	}

	if p.State() != Pending {
		notifyListener(p, listener)
		return
	}

	p.mu.Lock()
	// Re-check under lock to avoid racing a concurrent completion.
	if p.State() != Pending {
		p.mu.Unlock()
		notifyListener(p, listener)
		return
	}
	p.listeners = append(p.listeners, listener)
	p.mu.Unlock()
}

func (p *promise) Await(ctx context.Context) error {
	if p.exec != nil && p.exec.InEventLoop() {
		return ErrDeadlockDetected
	}
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *promise) SetSuccess(value any) {
	if !p.complete(Succeeded, value, nil) {
		panic(ErrPromiseAlreadyCompleted)
	}
}

func (p *promise) TrySuccess(value any) bool {
	return p.complete(Succeeded, value, nil)
}

func (p *promise) SetFailure(err error) {
	if !p.complete(Failed, nil, err) {
		panic(ErrPromiseAlreadyCompleted)
	}
}

func (p *promise) TryFailure(err error) bool {
	return p.complete(Failed, nil, err)
}

func (p *promise) Cancel() bool {
	return p.complete(Cancelled, nil, nil)
}

// complete performs the single terminal transition and notifies listeners.
// Listeners run synchronously on the completing goroutine, outside the lock.
func (p *promise) complete(state FutureState, value any, err error) bool {
	p.mu.Lock()
	if p.State() != Pending {
		p.mu.Unlock()
		return false
	}
	p.value = value
	p.err = err
	p.state.Store(int32(state))
	listeners := p.listeners
	p.listeners = nil
	close(p.done)
	p.mu.Unlock()

	for _, l := range listeners {
		notifyListener(p, l)
	}
	return true
}

// notifyListener invokes a listener with panic recovery. A panicking
// listener must not corrupt the completing goroutine, which may be an event
// loop.
func notifyListener(f Future, listener FutureListener) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: channel: future listener panicked: %v", r)
		}
	}()
	listener(f)
}

// voidFuture accepts completion signals but never stores state or notifies;
// it is used where the caller has no interest in the outcome, avoiding
// allocation on hot write paths.
type voidFuture struct{}

var theVoidPromise Promise = voidFuture{}

// VoidPromise returns the shared write-only promise singleton. It reports
// itself as perpetually pending, drops completion signals, ignores
// listeners, and its Await returns immediately.
func VoidPromise() Promise {
	return theVoidPromise
}

func (voidFuture) State() FutureState               { return Pending }
func (voidFuture) IsDone() bool                     { return false }
func (voidFuture) IsSuccess() bool                  { return false }
func (voidFuture) IsCancelled() bool                { return false }
func (voidFuture) Value() any                       { return nil }
func (voidFuture) Err() error                       { return nil }
func (voidFuture) AddListener(FutureListener)       {}
func (voidFuture) Done() <-chan struct{}            { return nil }
func (voidFuture) Await(context.Context) error      { return nil }
func (voidFuture) SetSuccess(any)                   {}
func (voidFuture) TrySuccess(any) bool              { return false }
func (voidFuture) SetFailure(error)                 {}
func (voidFuture) TryFailure(error) bool            { return false }
func (voidFuture) Cancel() bool                     { return false }
