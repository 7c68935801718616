package channel

import (
	"fmt"
	"net"
)

// Unsafe is the restricted operation set used by transport implementations
// to perform actual I/O. It is intended only for transport implementors,
// never for application code; the handle is only obtainable from
// [NewChannel], by the code that constructs the channel.
//
// Every mutating method must be invoked only while the owning loop's
// [EventLoop.InEventLoop] is true; violating this is a programming error
// and panics. The exceptions, callable from any goroutine, are
// [Unsafe.Register] (which establishes the affinity and transparently
// reschedules itself onto the loop), [Unsafe.LocalAddr],
// [Unsafe.RemoteAddr], [Unsafe.CloseForcibly], and [Unsafe.VoidPromise].
type Unsafe interface {
	// Register attaches the channel to its event loop. The assignment is
	// immutable for the channel's active lifetime; re-registration after
	// [Unsafe.Deregister] may pick a different loop. On success the channel
	// transitions to registered, a registration event fires, and if the
	// transport is already connected an active event fires as well.
	// Registration strictly precedes every other Unsafe operation.
	Register(loop *EventLoop, p Promise)

	// Bind associates a local address. Valid any time for connectionless
	// transports, and only before the channel becomes active for
	// connection-oriented ones.
	Bind(local net.Addr, p Promise)

	// Connect initiates an outbound connection; local is optional. Deferred
	// completion is expected for non-blocking transports: p resolves via
	// [Unsafe.FinishConnect] when the OS-level handshake completes, not
	// when the call returns.
	Connect(remote, local net.Addr, p Promise)

	// FinishConnect completes a deferred connection attempt. Transports
	// call it on the loop goroutine once the OS reports the handshake
	// outcome.
	FinishConnect(err error)

	// Disconnect tears down the remote association, failing outstanding
	// writes; equivalent to Close on transports without disconnect support.
	Disconnect(p Promise)

	// Close drains remaining outbound entries via fail-all, closes the
	// transport, and completes the channel's close future exactly once.
	// Concurrent close attempts chain onto the first outcome.
	Close(p Promise)

	// Deregister detaches the channel from its loop without destroying it.
	Deregister(p Promise)

	// BeginRead starts the inbound read loop that fills buffers for
	// consumption. Idempotent: scheduling a read while one is pending is a
	// no-op.
	BeginRead()

	// Write enqueues msg into the outbound buffer; it does not transmit.
	// Transmission happens only on Flush.
	Write(msg any, p Promise)

	// Flush hands as many buffered entries as possible to the transport.
	// Partial progress is legal: a short write leaves the remainder
	// correctly ordered at the head of the buffer for the next flush.
	Flush()

	// ReadCompleted reports the end of an inbound read batch: fires the
	// pipeline's read-complete event and, when auto-read is enabled,
	// schedules the next read.
	ReadCompleted()

	// LocalAddr returns the transport's local address. Any goroutine.
	LocalAddr() net.Addr

	// RemoteAddr returns the transport's remote address. Any goroutine.
	RemoteAddr() net.Addr

	// CloseForcibly is the emergency teardown used when registration itself
	// failed: it closes the transport and completes the close future while
	// bypassing event notification. Any goroutine.
	CloseForcibly()

	// VoidPromise returns the shared write-only promise for callers with no
	// interest in an operation's outcome. Any goroutine.
	VoidPromise() Promise
}

// channelUnsafe implements [Unsafe] for a single channel.
type channelUnsafe struct {
	ch *Channel
}

var _ Unsafe = (*channelUnsafe)(nil)

// assertEventLoop panics unless called on the owning loop goroutine.
// Off-loop invocation of a mutating Unsafe operation is a programming
// error, not a recoverable condition.
func (u *channelUnsafe) assertEventLoop() {
	if loop := u.ch.loop.Load(); loop == nil || !loop.InEventLoop() {
		panic(fmt.Sprintf("channel: unsafe operation on %s outside its event loop", u.ch))
	}
}

func (u *channelUnsafe) Register(loop *EventLoop, p Promise) {
	c := u.ch
	if loop == nil {
		p.TryFailure(WrapError("channel: register", ErrLoopTerminated))
		return
	}
	if !c.loop.CompareAndSwap(nil, loop) {
		p.TryFailure(ErrAlreadyRegistered)
		return
	}

	if err := loop.Execute(func() { u.register0(p) }); err != nil {
		c.loop.Store(nil)
		u.CloseForcibly()
		p.TryFailure(WrapError("channel: failed to register with event loop", err))
	}
}

// register0 runs on the loop goroutine.
func (u *channelUnsafe) register0(p Promise) {
	c := u.ch
	if !c.IsOpen() || !c.transport.IsOpen() {
		c.loop.Store(nil)
		p.TryFailure(ErrClosedChannel)
		return
	}

	firstRegistration := !c.everRegistered
	c.everRegistered = true
	c.setRegistered(true)
	c.state.TryTransition(ChannelCreated, ChannelRegistered)

	if c.logger != nil {
		c.logger.Debug().
			Stringer("channel", c.id).
			Uint64("loop", c.loop.Load().ID()).
			Log("channel registered")
	}

	p.TrySuccess(nil)
	c.pipeline.FireChannelRegistered()

	if c.transport.IsActive() {
		if firstRegistration {
			// A channel accepted from a listening channel arrives here
			// already connected: it becomes active directly after
			// registration.
			u.markActive()
		} else if c.config.AutoRead() {
			// Re-registered while active: resume reading, but do not
			// re-fire the active event.
			u.BeginRead()
		}
	}
}

// markActive publishes the active state, fires the pipeline event, and
// kicks off the read loop under auto-read.
func (u *channelUnsafe) markActive() {
	c := u.ch
	c.state.Store(ChannelActive)
	c.pipeline.FireChannelActive()
	if c.config.AutoRead() {
		u.BeginRead()
	}
}

func (u *channelUnsafe) Bind(local net.Addr, p Promise) {
	u.assertEventLoop()
	c := u.ch

	if !c.IsOpen() {
		p.TryFailure(ErrClosedChannel)
		return
	}
	if c.IsActive() && !c.transport.Metadata().Connectionless {
		p.TryFailure(ErrAlreadyConnected)
		return
	}

	wasActive := c.transport.IsActive()
	if err := c.transport.Bind(local); err != nil {
		p.TryFailure(WrapError("channel: bind failed", err))
		return
	}

	c.state.TryTransition(ChannelRegistered, ChannelBound)
	p.TrySuccess(nil)

	if !wasActive && c.transport.IsActive() {
		u.markActive()
	}
}

func (u *channelUnsafe) Connect(remote, local net.Addr, p Promise) {
	u.assertEventLoop()
	c := u.ch

	if !c.IsOpen() {
		p.TryFailure(ErrClosedChannel)
		return
	}
	if c.transport.IsActive() {
		p.TryFailure(ErrAlreadyConnected)
		return
	}
	if c.connectPromise != nil {
		p.TryFailure(ErrConnectPending)
		return
	}

	c.connectPromise = p
	if err := c.transport.Connect(remote, local); err != nil {
		c.connectPromise = nil
		p.TryFailure(WrapError("channel: connect failed", err))
		return
	}

	if c.transport.IsActive() {
		// Connected synchronously (e.g. loopback transports).
		u.FinishConnect(nil)
	}
}

func (u *channelUnsafe) FinishConnect(err error) {
	u.assertEventLoop()
	c := u.ch

	p := c.connectPromise
	c.connectPromise = nil
	if p == nil {
		p = VoidPromise()
	}

	if err != nil {
		p.TryFailure(WrapError("channel: connect failed", err))
		return
	}

	wasActive := c.IsActive()
	if !p.TrySuccess(nil) && p.IsCancelled() {
		// Advisory cancellation: the OS-level connect may have completed,
		// but application-visible state treats the attempt as cancelled, so
		// tear the connection down.
		u.closeNow(VoidPromise(), ErrPromiseCancelled)
		return
	}
	if !wasActive && c.transport.IsActive() {
		u.markActive()
	}
}

func (u *channelUnsafe) Disconnect(p Promise) {
	u.assertEventLoop()
	c := u.ch

	if !c.transport.Metadata().HasDisconnect {
		u.Close(p)
		return
	}
	if !c.IsOpen() {
		p.TryFailure(ErrClosedChannel)
		return
	}

	wasActive := c.IsActive()
	c.out.failAll(ErrNotYetConnected)
	if err := c.transport.Disconnect(); err != nil {
		p.TryFailure(WrapError("channel: disconnect failed", err))
		return
	}

	c.state.Store(ChannelBound)
	p.TrySuccess(nil)
	if wasActive {
		c.pipeline.FireChannelInactive()
	}
}

func (u *channelUnsafe) Close(p Promise) {
	u.assertEventLoop()
	u.closeNow(p, ErrClosedChannel)
}

// closeNow performs the close sequence on the loop goroutine. cause is the
// error delivered to all outstanding write promises; close strictly follows
// and subsumes in-flight write failures.
func (u *channelUnsafe) closeNow(p Promise, cause error) {
	c := u.ch

	if !c.closeInitiated.CompareAndSwap(false, true) {
		// Already closing: chain this promise onto the single outcome.
		c.closeFuture.AddListener(func(f Future) {
			if err := f.Err(); err != nil {
				p.TryFailure(err)
			} else {
				p.TrySuccess(nil)
			}
		})
		return
	}

	wasActive := c.IsActive()
	c.state.Store(ChannelClosing)
	if cp := c.connectPromise; cp != nil {
		c.connectPromise = nil
		cp.TryFailure(cause)
	}
	c.out.failAll(cause)

	err := c.transport.Close()
	c.state.Store(ChannelClosed)

	if err != nil {
		if c.logger != nil {
			c.logger.Warning().
				Stringer("channel", c.id).
				Err(err).
				Log("transport close failed")
		}
		p.TryFailure(WrapError("channel: close failed", err))
	} else {
		if c.logger != nil {
			c.logger.Debug().Stringer("channel", c.id).Log("channel closed")
		}
		p.TrySuccess(nil)
	}

	// The close future reports that the channel is closed, regardless of
	// whether the transport released cleanly; the per-operation promise
	// carries any close error.
	c.closeFuture.TrySuccess(nil)

	if wasActive {
		c.pipeline.FireChannelInactive()
	}
	c.setRegistered(false)
}

func (u *channelUnsafe) Deregister(p Promise) {
	u.assertEventLoop()
	c := u.ch

	if !c.registered.Load() {
		p.TrySuccess(nil)
		return
	}

	c.setRegistered(false)
	c.loop.Store(nil)
	p.TrySuccess(nil)
}

func (u *channelUnsafe) BeginRead() {
	u.assertEventLoop()
	c := u.ch

	if !c.IsActive() {
		return
	}
	if c.readPending {
		// Idempotent: a read is already scheduled.
		return
	}
	c.readPending = true

	if err := c.transport.BeginRead(); err != nil {
		c.readPending = false
		c.pipeline.FireExceptionCaught(WrapError("channel: begin read failed", err))
		u.closeNow(VoidPromise(), WrapError("channel: begin read failed", err))
	}
}

func (u *channelUnsafe) Write(msg any, p Promise) {
	u.assertEventLoop()
	c := u.ch

	if c.closeInitiated.Load() {
		p.TryFailure(ErrClosedChannel)
		return
	}

	size := c.sizeEstimator(msg)
	c.out.add(msg, size, p)
	if c.metrics != nil {
		c.metrics.MessagesWritten.Inc()
	}
}

func (u *channelUnsafe) Flush() {
	u.assertEventLoop()
	c := u.ch

	if c.out.isEmpty() {
		return
	}

	if !c.transport.IsActive() {
		// Nothing can be transmitted; callers must never be left waiting.
		if c.IsOpen() {
			c.out.failAll(ErrNotYetConnected)
		} else {
			c.out.failAll(ErrClosedChannel)
		}
		return
	}

	for {
		e, ok := c.out.current()
		if !ok {
			return
		}

		if e.promise.IsCancelled() {
			// Advisory cancel honoured before transmission: drop the entry
			// without handing it to the transport.
			c.out.failFirst(ErrPromiseCancelled)
			continue
		}

		done, err := c.transport.Write(e.msg)
		if err != nil {
			// Channel-fatal: fail this entry with the transport error, then
			// escalate to close, which fails the remainder.
			wrapped := WrapError("channel: transport write failed", err)
			if c.logger != nil {
				c.logger.Err().Stringer("channel", c.id).Err(err).Log("transport write failed")
			}
			c.out.failFirst(wrapped)
			c.pipeline.FireExceptionCaught(wrapped)
			u.closeNow(VoidPromise(), ErrClosedChannel)
			return
		}
		if !done {
			// Short write: the entry stays at the head for the next flush.
			return
		}

		if c.metrics != nil {
			c.metrics.BytesFlushed.Add(float64(e.size))
		}
		c.out.removeFirst()
	}
}

func (u *channelUnsafe) ReadCompleted() {
	u.assertEventLoop()
	c := u.ch

	c.readPending = false
	c.pipeline.FireChannelReadComplete()

	if c.config.AutoRead() && c.IsActive() {
		u.BeginRead()
	}
}

func (u *channelUnsafe) LocalAddr() net.Addr { return u.ch.transport.LocalAddr() }

func (u *channelUnsafe) RemoteAddr() net.Addr { return u.ch.transport.RemoteAddr() }

func (u *channelUnsafe) CloseForcibly() {
	c := u.ch
	if !c.closeInitiated.CompareAndSwap(false, true) {
		return
	}
	_ = c.transport.Close()
	c.state.Store(ChannelClosed)
	c.setRegistered(false)
	c.closeFuture.TrySuccess(nil)
	if c.logger != nil {
		c.logger.Warning().Stringer("channel", c.id).Log("channel closed forcibly")
	}
}

func (u *channelUnsafe) VoidPromise() Promise { return VoidPromise() }
