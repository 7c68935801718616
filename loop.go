package channel

import (
	"context"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/lfq"
	"github.com/joeycumines/logiface"
)

// Task is a unit of work executed by an [EventLoop].
type Task func()

var loopIDCounter atomic.Uint64

// EventLoop is a single goroutine driving a run-to-completion task queue.
//
// One loop serves many channels; each channel is pinned to exactly one loop
// for its active lifetime. All channel state mutation happens on the loop
// goroutine, which is what lets the rest of the package avoid per-channel
// locks.
//
// Submission ordering: the task queue is FIFO across the shared queue. Tasks
// submitted by a single goroutine execute in submission order; tasks from
// concurrent submitters interleave.
//
// The fast path is a lock-free MPSC ring ([lfq.MPSC]); bursts that overflow
// the ring spill into a mutex-guarded slice which drains ahead of any
// post-overflow submissions, preserving per-submitter FIFO order.
type EventLoop struct { // betteralign:ignore
	// Prevent copying
	_ [0]func()

	state *loopStateMachine

	// Ingress fast path (lock-free) and overflow spill.
	ingress     *lfq.MPSC[Task]
	overflow    []Task
	overflowLen atomic.Int64
	overflowMu  sync.Mutex

	// Wake-up signal for a sleeping loop. Buffered; a pending token means a
	// wake is already scheduled.
	wake chan struct{}

	// Goroutine identity of the running loop, 0 when not running.
	loopGoroutineID atomic.Uint64

	// In-flight submit counter for shutdown synchronization.
	inflight atomic.Int64

	// Loop termination signaling.
	loopDone chan struct{}
	stopOnce sync.Once

	logger  *logiface.Logger[logiface.Event]
	metrics *Metrics

	id uint64
}

// NewLoop creates a new event loop. The loop does not process tasks until
// [EventLoop.Run] is called.
func NewLoop(opts ...LoopOption) (*EventLoop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	return &EventLoop{
		id:       loopIDCounter.Add(1),
		state:    newLoopStateMachine(),
		ingress:  lfq.NewMPSC[Task](cfg.ingressCapacity),
		wake:     make(chan struct{}, 1),
		loopDone: make(chan struct{}),
		logger:   cfg.logger,
		metrics:  cfg.metrics,
	}, nil
}

// ID returns the process-unique loop identifier, for logging.
func (l *EventLoop) ID() uint64 { return l.id }

// State returns the current loop state.
func (l *EventLoop) State() LoopState { return l.state.Load() }

// InEventLoop reports whether the calling goroutine is the goroutine
// currently driving this loop.
func (l *EventLoop) InEventLoop() bool {
	id := l.loopGoroutineID.Load()
	return id != 0 && goroutineID() == id
}

// Run runs the event loop and blocks until fully stopped, via
// [EventLoop.Shutdown], [EventLoop.Close], or ctx cancellation. To drive the
// loop in the background, use `go loop.Run(ctx)`.
func (l *EventLoop) Run(ctx context.Context) error {
	if l.InEventLoop() {
		return ErrReentrantRun
	}

	if !l.state.TryTransition(LoopAwake, LoopRunning) {
		if l.state.Load() == LoopTerminated {
			return ErrLoopTerminated
		}
		return ErrLoopAlreadyRunning
	}

	// Close loopDone when run exits to signal completion to Shutdown waiters.
	defer close(l.loopDone)

	return l.run(ctx)
}

func (l *EventLoop) run(ctx context.Context) error {
	l.loopGoroutineID.Store(goroutineID())
	defer l.loopGoroutineID.Store(0)

	// Watcher goroutine to wake the loop on context cancellation.
	ctxDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.wakeUp()
		case <-ctxDone:
		}
	}()
	defer close(ctxDone)

	for {
		if err := ctx.Err(); err != nil {
			l.beginTerminate()
			l.drainAndTerminate()
			return err
		}

		if s := l.state.Load(); s == LoopTerminating || s == LoopTerminated {
			l.drainAndTerminate()
			return nil
		}

		l.runTasks()
		l.park(ctx)
	}
}

// runTasks drains the ingress ring and the overflow spill until both are
// observed empty.
func (l *EventLoop) runTasks() {
	for {
		ran := false

		for {
			task, err := l.ingress.Dequeue()
			if err != nil {
				break
			}
			l.safeExecute(task)
			ran = true
		}

		if l.overflowLen.Load() > 0 {
			l.overflowMu.Lock()
			tasks := l.overflow
			l.overflow = nil
			l.overflowLen.Store(0)
			l.overflowMu.Unlock()
			for _, t := range tasks {
				l.safeExecute(t)
			}
			ran = ran || len(tasks) > 0
		}

		if !ran {
			return
		}
	}
}

// park blocks the loop goroutine until woken. The Sleeping transition is
// published before the final queue re-check, so a producer that enqueues
// after the re-check necessarily observes Sleeping and sends a wake token.
func (l *EventLoop) park(ctx context.Context) {
	if !l.state.TryTransition(LoopRunning, LoopSleeping) {
		return
	}

	// Re-check for work racing the transition.
	if task, err := l.ingress.Dequeue(); err == nil {
		l.state.TryTransition(LoopSleeping, LoopRunning)
		l.safeExecute(task)
		return
	}
	if l.overflowLen.Load() > 0 {
		l.state.TryTransition(LoopSleeping, LoopRunning)
		return
	}

	select {
	case <-l.wake:
	case <-ctx.Done():
	}

	l.state.TryTransition(LoopSleeping, LoopRunning)
}

// wakeUp delivers at most one pending wake token.
func (l *EventLoop) wakeUp() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Submit enqueues a task for execution on the loop goroutine. Safe to call
// from any goroutine.
//
// State policy during shutdown: submissions are allowed while Terminating
// (the loop drains in-flight work before stopping) and rejected with
// [ErrLoopTerminated] only once fully terminated.
func (l *EventLoop) Submit(task Task) error {
	if task == nil {
		return nil
	}

	// Increment inflight first; the shutdown drain waits for it to reach
	// zero before trusting an empty-queue observation.
	l.inflight.Add(1)
	defer l.inflight.Add(-1)

	if l.state.Load() == LoopTerminated {
		return ErrLoopTerminated
	}

	l.push(task)

	if l.state.Load() == LoopSleeping {
		l.wakeUp()
	}
	return nil
}

// push places a task on the ingress ring, spilling to the overflow slice
// when the ring is full. Once the overflow is in use, subsequent tasks
// follow it so per-submitter FIFO order is preserved.
func (l *EventLoop) push(task Task) {
	if l.overflowLen.Load() == 0 {
		if err := l.ingress.Enqueue(&task); err == nil {
			return
		}
	}
	l.overflowMu.Lock()
	l.overflow = append(l.overflow, task)
	l.overflowLen.Add(1)
	l.overflowMu.Unlock()
}

// Execute runs the task inline when called on the loop goroutine, and
// otherwise submits it to the task queue. This is the marshalling primitive
// the channel facade is built on.
func (l *EventLoop) Execute(task Task) error {
	if task == nil {
		return nil
	}
	if l.InEventLoop() {
		l.safeExecute(task)
		return nil
	}
	return l.Submit(task)
}

// Shutdown gracefully shuts down the event loop, waiting for queued tasks
// to complete. It blocks until termination completes or ctx expires.
func (l *EventLoop) Shutdown(ctx context.Context) error {
	var result error
	l.stopOnce.Do(func() {
		result = l.shutdownImpl(ctx)
	})
	if result == nil && l.state.Load() != LoopTerminated {
		return ErrLoopTerminated
	}
	return result
}

func (l *EventLoop) shutdownImpl(ctx context.Context) error {
	for {
		s := l.state.Load()
		if s == LoopTerminated || s == LoopTerminating {
			return ErrLoopTerminated
		}

		if l.state.TryTransition(s, LoopTerminating) {
			if s == LoopAwake {
				// Never ran; nothing will drain the queues, so do it here.
				l.drainQueues()
				l.state.Store(LoopTerminated)
				return nil
			}
			if s == LoopSleeping {
				l.wakeUp()
			}
			break
		}
	}

	select {
	case <-l.loopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close immediately requests termination without waiting for the drain to
// complete. Queued tasks are still executed by the loop goroutine's final
// drain.
func (l *EventLoop) Close() error {
	for {
		s := l.state.Load()
		if s == LoopTerminated {
			return ErrLoopTerminated
		}

		if l.state.TryTransition(s, LoopTerminating) {
			if s == LoopAwake {
				l.drainQueues()
				l.state.Store(LoopTerminated)
				return nil
			}
			if s == LoopSleeping {
				l.wakeUp()
			}
			return nil
		}
	}
}

// beginTerminate moves the loop to Terminating from any non-terminal state.
func (l *EventLoop) beginTerminate() {
	for {
		s := l.state.Load()
		if s == LoopTerminating || s == LoopTerminated {
			return
		}
		if l.state.TryTransition(s, LoopTerminating) {
			return
		}
	}
}

// drainAndTerminate runs on the loop goroutine. It publishes the terminal
// state first so new submissions are rejected, then drains until the queues
// are observed empty several times in a row with no in-flight submits; a
// Submit that passed its state check before the store is caught by the
// drain.
func (l *EventLoop) drainAndTerminate() {
	l.state.Store(LoopTerminated)

	emptyChecks := 0
	const requiredEmptyChecks = 3
	for emptyChecks < requiredEmptyChecks {
		spinCount := 0
		for l.inflight.Load() > 0 {
			spinCount++
			if spinCount > 1000 {
				time.Sleep(100 * time.Microsecond)
			} else {
				runtime.Gosched()
			}
		}

		if l.drainQueues() {
			emptyChecks = 0
		} else {
			emptyChecks++
			runtime.Gosched()
		}
	}

	if l.logger != nil {
		l.logger.Debug().Uint64("loop", l.id).Log("event loop terminated")
	}
}

// drainQueues executes everything currently queued, reporting whether any
// work was found (or submits are still in flight).
func (l *EventLoop) drainQueues() bool {
	drained := false

	for {
		task, err := l.ingress.Dequeue()
		if err != nil {
			break
		}
		l.safeExecute(task)
		drained = true
	}

	if l.overflowLen.Load() > 0 {
		l.overflowMu.Lock()
		tasks := l.overflow
		l.overflow = nil
		l.overflowLen.Store(0)
		l.overflowMu.Unlock()
		for _, t := range tasks {
			l.safeExecute(t)
		}
		drained = drained || len(tasks) > 0
	}

	return drained || l.inflight.Load() > 0
}

// safeExecute executes a task with panic recovery. A panicking task must
// never tear down the loop.
func (l *EventLoop) safeExecute(task Task) {
	if task == nil {
		return
	}

	if l.metrics != nil {
		l.metrics.TasksExecuted.Inc()
	}

	defer func() {
		if r := recover(); r != nil {
			if l.metrics != nil {
				l.metrics.TaskPanics.Inc()
			}
			if l.logger != nil {
				l.logger.Err().Uint64("loop", l.id).Any("panic", r).Log("event loop task panicked")
			} else {
				log.Printf("ERROR: channel: event loop task panicked: %v", r)
			}
		}
	}()

	task()
}

// goroutineID returns the current goroutine's ID, parsed from the runtime
// stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}
