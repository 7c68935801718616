package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubExecutor lets promise tests control the InEventLoop answer directly.
type stubExecutor struct{ inLoop bool }

func (e *stubExecutor) InEventLoop() bool { return e.inLoop }

func TestPromise_Transitions(t *testing.T) {
	failure := errors.New("boom")

	for _, tc := range []struct {
		name      string
		complete  func(Promise)
		wantState FutureState
		wantValue any
		wantErr   error
	}{
		{
			name:      "success",
			complete:  func(p Promise) { p.SetSuccess("ok") },
			wantState: Succeeded,
			wantValue: "ok",
		},
		{
			name:      "success nil value",
			complete:  func(p Promise) { p.SetSuccess(nil) },
			wantState: Succeeded,
		},
		{
			name:      "failure",
			complete:  func(p Promise) { p.SetFailure(failure) },
			wantState: Failed,
			wantErr:   failure,
		},
		{
			name:      "cancel",
			complete:  func(p Promise) { p.Cancel() },
			wantState: Cancelled,
			wantErr:   ErrPromiseCancelled,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPromise()
			if p.IsDone() {
				t.Fatal("fresh promise should be pending")
			}
			if p.Err() != nil || p.Value() != nil {
				t.Fatal("pending promise should report no outcome")
			}

			tc.complete(p)

			if got := p.State(); got != tc.wantState {
				t.Errorf("State = %v, want %v", got, tc.wantState)
			}
			if !p.IsDone() {
				t.Error("completed promise should report done")
			}
			if got := p.Value(); got != tc.wantValue {
				t.Errorf("Value = %v, want %v", got, tc.wantValue)
			}
			if got := p.Err(); !errors.Is(got, tc.wantErr) {
				t.Errorf("Err = %v, want %v", got, tc.wantErr)
			}

			select {
			case <-p.Done():
			default:
				t.Error("Done channel should be closed")
			}
		})
	}
}

func TestPromise_SetPanicsOnSecondCompletion(t *testing.T) {
	for _, tc := range []struct {
		name   string
		second func(Promise)
	}{
		{"SetSuccess", func(p Promise) { p.SetSuccess(nil) }},
		{"SetFailure", func(p Promise) { p.SetFailure(errors.New("late")) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPromise()
			p.SetSuccess("first")

			defer func() {
				r := recover()
				if r == nil {
					t.Fatal("expected panic on second completion")
				}
				err, ok := r.(error)
				if !ok || !errors.Is(err, ErrPromiseAlreadyCompleted) {
					t.Fatalf("panic value = %v, want ErrPromiseAlreadyCompleted", r)
				}
			}()
			tc.second(p)
		})
	}
}

func TestPromise_TryVariantsReportLoser(t *testing.T) {
	p := NewPromise()
	if !p.TrySuccess(1) {
		t.Fatal("first TrySuccess should win")
	}
	if p.TrySuccess(2) {
		t.Error("second TrySuccess should lose")
	}
	if p.TryFailure(errors.New("late")) {
		t.Error("TryFailure after completion should lose")
	}
	if p.Cancel() {
		t.Error("Cancel after completion should lose")
	}
	// The winning outcome is untouched.
	if got := p.Value(); got != 1 {
		t.Errorf("Value = %v, want 1", got)
	}
}

func TestPromise_ListenerBeforeCompletion(t *testing.T) {
	p := NewPromise()
	var calls atomic.Int32
	p.AddListener(func(f Future) {
		if !f.IsSuccess() {
			t.Error("listener should observe the terminal state")
		}
		calls.Add(1)
	})
	if calls.Load() != 0 {
		t.Fatal("listener must not fire before completion")
	}
	p.SetSuccess(nil)
	if calls.Load() != 1 {
		t.Fatalf("listener fired %d times, want 1", calls.Load())
	}
}

func TestPromise_ListenerAfterCompletionFiresSynchronously(t *testing.T) {
	p := NewPromise()
	p.SetFailure(errors.New("done"))

	fired := false
	p.AddListener(func(f Future) {
		fired = true
		if f.Err() == nil {
			t.Error("listener should see the failure")
		}
	})
	if !fired {
		t.Fatal("late listener must fire synchronously on the adding goroutine")
	}
}

func TestPromise_ListenerOrder(t *testing.T) {
	p := NewPromise()
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		p.AddListener(func(Future) { order = append(order, i) })
	}
	p.SetSuccess(nil)
	for i, got := range order {
		if got != i {
			t.Fatalf("listener order = %v", order)
		}
	}
}

func TestPromise_ListenerPanicDoesNotPropagate(t *testing.T) {
	p := NewPromise()
	p.AddListener(func(Future) { panic("listener bug") })
	var after atomic.Bool
	p.AddListener(func(Future) { after.Store(true) })

	p.SetSuccess(nil) // must not panic
	if !after.Load() {
		t.Error("subsequent listener should still run")
	}
}

func TestPromise_ListenerExactlyOnceUnderRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		p := NewPromise()
		var calls atomic.Int32
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.AddListener(func(Future) { calls.Add(1) })
		}()
		go func() {
			defer wg.Done()
			p.TrySuccess(nil)
		}()
		wg.Wait()
		if got := calls.Load(); got != 1 {
			t.Fatalf("listener fired %d times, want 1", got)
		}
	}
}

func TestPromise_Await(t *testing.T) {
	p := NewPromise()
	go func() {
		time.Sleep(10 * time.Millisecond)
		p.SetSuccess(nil)
	}()
	if err := awaitFuture(t, p); err != nil {
		t.Fatalf("Await = %v", err)
	}
}

func TestPromise_AwaitContextExpiry(t *testing.T) {
	p := NewPromise()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Await = %v, want DeadlineExceeded", err)
	}
}

func TestPromise_AwaitDeadlockDetection(t *testing.T) {
	exec := &stubExecutor{inLoop: true}
	p := newPromise(exec)
	if err := p.Await(context.Background()); !errors.Is(err, ErrDeadlockDetected) {
		t.Fatalf("Await on loop goroutine = %v, want ErrDeadlockDetected", err)
	}

	// Off the loop the same promise awaits normally.
	exec.inLoop = false
	p.TrySuccess(nil)
	if err := p.Await(context.Background()); err != nil {
		t.Fatalf("Await off loop = %v", err)
	}
}

func TestVoidPromise(t *testing.T) {
	p := VoidPromise()
	if p != VoidPromise() {
		t.Fatal("VoidPromise must be a shared singleton")
	}

	// Completion signals are dropped without state change or panic.
	p.SetSuccess("x")
	p.SetFailure(errors.New("x"))
	if p.TrySuccess(nil) || p.TryFailure(errors.New("x")) || p.Cancel() {
		t.Error("void promise must report every completion as lost")
	}
	if p.IsDone() || p.IsSuccess() || p.IsCancelled() {
		t.Error("void promise never reaches a terminal state")
	}
	if p.Value() != nil || p.Err() != nil {
		t.Error("void promise carries no outcome")
	}
	if p.Done() != nil {
		t.Error("void promise Done should be nil")
	}
	if err := p.Await(context.Background()); err != nil {
		t.Errorf("void Await = %v", err)
	}
	p.AddListener(func(Future) {
		t.Error("void promise must not invoke listeners")
	})
}
