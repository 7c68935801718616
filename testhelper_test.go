package channel

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeTransport is a fully controllable in-memory Transport. Error fields
// and the write hook let tests exercise every failure path without real I/O.
type fakeTransport struct {
	mu     sync.Mutex
	open   bool
	active bool
	meta   Metadata
	local  net.Addr
	remote net.Addr

	// accepted collects messages fully accepted by Write (when writeFn is
	// unset).
	accepted []any

	// writeFn, when set, replaces the default accept-everything Write.
	writeFn func(msg any) (bool, error)

	beginReads int
	closeCalls int

	// activateOnBind makes Bind activate the transport, modelling a
	// listener or datagram socket that is usable once bound.
	activateOnBind bool

	// connectSync makes Connect complete synchronously, modelling loopback.
	connectSync bool

	bindErr       error
	connectErr    error
	disconnectErr error
	beginReadErr  error
	closeErr      error
}

var _ Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	return &fakeTransport{open: true}
}

// newActiveTransport returns a transport that is already connected, like a
// socket accepted from a listener.
func newActiveTransport() *fakeTransport {
	return &fakeTransport{
		open:   true,
		active: true,
		local:  fakeAddr("local"),
		remote: fakeAddr("remote"),
	}
}

func (t *fakeTransport) LocalAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

func (t *fakeTransport) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *fakeTransport) IsActive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *fakeTransport) Metadata() Metadata {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.meta
}

func (t *fakeTransport) Bind(local net.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bindErr != nil {
		return t.bindErr
	}
	t.local = local
	if t.activateOnBind {
		t.active = true
	}
	return nil
}

func (t *fakeTransport) Connect(remote, local net.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.remote = remote
	if local != nil {
		t.local = local
	}
	if t.connectSync {
		t.active = true
	}
	return nil
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disconnectErr != nil {
		return t.disconnectErr
	}
	t.active = false
	t.remote = nil
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeCalls++
	t.open = false
	t.active = false
	return t.closeErr
}

func (t *fakeTransport) BeginRead() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.beginReadErr != nil {
		return t.beginReadErr
	}
	t.beginReads++
	return nil
}

func (t *fakeTransport) Write(msg any) (bool, error) {
	t.mu.Lock()
	fn := t.writeFn
	t.mu.Unlock()
	if fn != nil {
		return fn(msg)
	}
	t.mu.Lock()
	t.accepted = append(t.accepted, msg)
	t.mu.Unlock()
	return true, nil
}

func (t *fakeTransport) acceptedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.accepted)
}

func (t *fakeTransport) closeCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCalls
}

func (t *fakeTransport) beginReadCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.beginReads
}

// recordingPipeline appends each event name in arrival order.
type recordingPipeline struct {
	mu     sync.Mutex
	events []string
	errs   []error
}

var _ Pipeline = (*recordingPipeline)(nil)

func (p *recordingPipeline) record(event string) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *recordingPipeline) FireChannelRegistered()   { p.record("registered") }
func (p *recordingPipeline) FireChannelActive()       { p.record("active") }
func (p *recordingPipeline) FireChannelInactive()     { p.record("inactive") }
func (p *recordingPipeline) FireChannelRead(any)      { p.record("read") }
func (p *recordingPipeline) FireChannelReadComplete() { p.record("readComplete") }
func (p *recordingPipeline) FireChannelWritabilityChanged() {
	p.record("writabilityChanged")
}
func (p *recordingPipeline) FireExceptionCaught(err error) {
	p.mu.Lock()
	p.events = append(p.events, "exception")
	p.errs = append(p.errs, err)
	p.mu.Unlock()
}

func (p *recordingPipeline) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	copy(out, p.events)
	return out
}

func (p *recordingPipeline) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == event {
			n++
		}
	}
	return n
}

func (p *recordingPipeline) lastErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.errs) == 0 {
		return nil
	}
	return p.errs[len(p.errs)-1]
}

// startLoop creates a running loop and registers cleanup.
func startLoop(t *testing.T, opts ...LoopOption) *EventLoop {
	t.Helper()
	loop, err := NewLoop(opts...)
	require.NoError(t, err)
	go func() {
		_ = loop.Run(context.Background())
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = loop.Shutdown(ctx)
	})
	return loop
}

// runOnLoop executes fn on the loop goroutine and waits for it to finish.
func runOnLoop(t *testing.T, loop *EventLoop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, loop.Submit(func() {
		defer close(done)
		fn()
	}))
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for loop task")
	}
}

// awaitFuture waits for f with the standard test timeout.
func awaitFuture(t *testing.T, f Future) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	return f.Await(ctx)
}

// newRegisteredChannel builds a channel around tr and registers it with loop.
func newRegisteredChannel(t *testing.T, loop *EventLoop, tr Transport, opts ...ChannelOption) (*Channel, Unsafe) {
	t.Helper()
	ch, u, err := NewChannel(tr, opts...)
	require.NoError(t, err)
	p := ch.NewPromise()
	u.Register(loop, p)
	require.NoError(t, awaitFuture(t, p))
	return ch, u
}
