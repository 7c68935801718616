package channel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// LoopGroup is a fixed pool of event loops. Channels registered through a
// group are distributed round-robin; once registered, a channel stays on its
// assigned loop for its active lifetime.
type LoopGroup struct {
	loops []*EventLoop
	next  atomic.Uint64
}

// NewLoopGroup creates n event loops and starts each on its own goroutine.
// The group owns the loop goroutines; stop them with [LoopGroup.Shutdown].
func NewLoopGroup(n int, opts ...LoopOption) (*LoopGroup, error) {
	if n <= 0 {
		return nil, fmt.Errorf("channel: loop group size must be positive, got %d", n)
	}

	g := &LoopGroup{loops: make([]*EventLoop, 0, n)}
	for i := 0; i < n; i++ {
		loop, err := NewLoop(opts...)
		if err != nil {
			_ = g.Shutdown(context.Background())
			return nil, err
		}
		g.loops = append(g.loops, loop)
		go func() {
			// Run exits via Shutdown; the error is surfaced there.
			_ = loop.Run(context.Background())
		}()
	}
	return g, nil
}

// Next returns the next loop in round-robin order.
func (g *LoopGroup) Next() *EventLoop {
	return g.loops[g.next.Add(1)%uint64(len(g.loops))]
}

// Loops returns the loops in the group. The returned slice must not be
// modified.
func (g *LoopGroup) Loops() []*EventLoop {
	return g.loops
}

// Shutdown gracefully shuts down every loop in the group, returning the
// joined errors.
func (g *LoopGroup) Shutdown(ctx context.Context) error {
	var errs []error
	for _, loop := range g.loops {
		if err := loop.Shutdown(ctx); err != nil && !errors.Is(err, ErrLoopTerminated) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
