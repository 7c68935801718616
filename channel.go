package channel

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/joeycumines/logiface"
)

// Channel is an asynchronous handle to a network endpoint or virtual
// sub-connection.
//
// Every query method is safe from any goroutine and reflects the latest
// state published by the owning event loop. Every operation method is
// likewise safe from any goroutine: it executes immediately when called on
// the owning loop, and is otherwise scheduled onto it, reporting its outcome
// through the returned [Future]. Operations never block.
//
// Channels are created by transport implementations via [NewChannel], which
// also yields the [Unsafe] handle used to drive actual I/O.
type Channel struct {
	id            ChannelID
	parent        *Channel
	config        *Config
	pipeline      Pipeline
	transport     Transport
	logger        *logiface.Logger[logiface.Event]
	metrics       *Metrics
	sizeEstimator SizeEstimator

	loop           atomic.Pointer[EventLoop]
	state          channelStateMachine
	registered     atomic.Bool
	closeInitiated atomic.Bool

	out         outboundBuffer
	closeFuture *promise

	// Loop-goroutine-only lifecycle bookkeeping.
	everRegistered bool
	readPending    bool
	connectPromise Promise

	u *channelUnsafe
}

// NewChannel constructs a channel around the given transport. The returned
// [Unsafe] handle is the only way to obtain the restricted transport-facing
// operation set: hold it inside the transport implementation and never hand
// it to application code.
func NewChannel(transport Transport, opts ...ChannelOption) (*Channel, Unsafe, error) {
	if transport == nil {
		return nil, nil, errors.New("channel: transport must not be nil")
	}

	cfg, err := resolveChannelOptions(opts)
	if err != nil {
		return nil, nil, err
	}

	c := &Channel{
		id:            NewChannelID(),
		parent:        cfg.parent,
		config:        newConfig(),
		pipeline:      cfg.pipeline,
		transport:     transport,
		logger:        cfg.logger,
		metrics:       cfg.metrics,
		sizeEstimator: cfg.sizeEstimator,
	}
	if cfg.watermarks != nil {
		if err := c.config.SetWriteBufferWatermarks(cfg.watermarks.Low, cfg.watermarks.High); err != nil {
			return nil, nil, err
		}
	}
	if cfg.autoRead != nil {
		c.config.SetAutoRead(*cfg.autoRead)
	}
	if cfg.allocator != nil {
		c.config.SetAllocator(cfg.allocator)
	}

	c.out.ch = c
	c.closeFuture = newPromise(c)
	c.u = &channelUnsafe{ch: c}
	return c, c.u, nil
}

// ID returns the channel's process-unique identity.
func (c *Channel) ID() ChannelID { return c.id }

// Parent returns the channel this one was accepted from (e.g. the listening
// channel), or nil. The reference is non-owning: the parent may be closed
// or outlive this channel independently.
func (c *Channel) Parent() *Channel { return c.parent }

// Config returns the channel's configuration. Never nil.
func (c *Channel) Config() *Config { return c.config }

// Pipeline returns the event sink chain. Never nil.
func (c *Channel) Pipeline() Pipeline { return c.pipeline }

// Metadata returns the transport's static properties.
func (c *Channel) Metadata() Metadata { return c.transport.Metadata() }

// EventLoop returns the owning event loop, or nil before registration and
// after deregistration.
func (c *Channel) EventLoop() *EventLoop { return c.loop.Load() }

// InEventLoop reports whether the calling goroutine is the one driving this
// channel's owning loop.
func (c *Channel) InEventLoop() bool {
	loop := c.loop.Load()
	return loop != nil && loop.InEventLoop()
}

// State returns the current lifecycle state.
func (c *Channel) State() ChannelState { return c.state.Load() }

// IsOpen reports whether the channel is open (close not initiated).
func (c *Channel) IsOpen() bool {
	s := c.state.Load()
	return s != ChannelClosing && s != ChannelClosed
}

// IsActive reports whether the channel is active (connected/usable for I/O).
func (c *Channel) IsActive() bool {
	return c.state.Load() == ChannelActive
}

// IsRegistered reports whether the channel is registered with an event
// loop.
func (c *Channel) IsRegistered() bool { return c.registered.Load() }

// IsWritable reports whether the outbound buffer is below its watermarks.
// When false, write requests are still queued, but producers should slow
// down until the pipeline's writability-changed event reports writable
// again.
func (c *Channel) IsWritable() bool { return c.out.isWritable() }

// PendingWriteBytes returns the total unflushed outbound byte count.
func (c *Channel) PendingWriteBytes() uint64 { return c.out.pending() }

// BytesBeforeUnwritable returns how many bytes can be written before the
// channel turns unwritable, or 0 if it already is.
func (c *Channel) BytesBeforeUnwritable() uint64 { return c.out.bytesBeforeUnwritable() }

// BytesBeforeWritable returns how many bytes must be flushed before the
// channel turns writable, or 0 if it already is.
func (c *Channel) BytesBeforeWritable() uint64 { return c.out.bytesBeforeWritable() }

// LocalAddr returns the bound local address, or nil.
func (c *Channel) LocalAddr() net.Addr { return c.transport.LocalAddr() }

// RemoteAddr returns the connected remote address, or nil.
func (c *Channel) RemoteAddr() net.Addr { return c.transport.RemoteAddr() }

// CloseFuture returns the future completed when the channel is closed. It
// returns the same instance for the channel's whole lifetime, and completes
// exactly once even under concurrent close attempts, so listeners may be
// attached at any point and always observe the close outcome.
func (c *Channel) CloseFuture() Future { return c.closeFuture }

// NewPromise creates a promise bound to this channel, enabling Await
// deadlock detection against the owning loop.
func (c *Channel) NewPromise() Promise { return newPromise(c) }

// String returns a short diagnostic description.
func (c *Channel) String() string {
	return fmt.Sprintf("Channel(%s, %s)", c.id, c.State())
}

// setRegistered publishes the registration flag, keeping the metrics gauge
// in sync. The CAS guards against double counting when close and deregister
// race to clear the flag.
func (c *Channel) setRegistered(registered bool) {
	if !c.registered.CompareAndSwap(!registered, registered) {
		return
	}
	if c.metrics != nil {
		if registered {
			c.metrics.ChannelsRegistered.Inc()
		} else {
			c.metrics.ChannelsRegistered.Dec()
		}
	}
}

// Read requests one inbound read from the transport. Idempotent while a
// read is pending. Returns the channel for fluent chaining; never blocks.
func (c *Channel) Read() *Channel {
	if loop := c.loop.Load(); loop != nil {
		_ = loop.Execute(c.u.BeginRead)
	}
	return c
}

// Flush requests that buffered writes be handed to the transport. Returns
// the channel for fluent chaining; never blocks.
func (c *Channel) Flush() *Channel {
	if loop := c.loop.Load(); loop != nil {
		_ = loop.Execute(c.u.Flush)
	}
	return c
}

// Write enqueues msg to the outbound buffer without transmitting it;
// transmission happens on the next [Channel.Flush]. The returned future
// completes once the message has been fully handed to the transport, in
// submission order relative to other writes on this channel.
func (c *Channel) Write(msg any) Future {
	p := c.NewPromise()
	c.invoke(p, func() { c.u.Write(msg, p) })
	return p
}

// WriteAndFlush enqueues msg and immediately requests a flush.
func (c *Channel) WriteAndFlush(msg any) Future {
	p := c.NewPromise()
	c.invoke(p, func() {
		c.u.Write(msg, p)
		c.u.Flush()
	})
	return p
}

// Bind associates a local address with the channel.
func (c *Channel) Bind(local net.Addr) Future {
	p := c.NewPromise()
	c.invoke(p, func() { c.u.Bind(local, p) })
	return p
}

// Connect initiates an outbound connection; local is optional. The future
// resolves when the OS-level handshake completes, not when the request is
// issued.
func (c *Channel) Connect(remote, local net.Addr) Future {
	p := c.NewPromise()
	c.invoke(p, func() { c.u.Connect(remote, local, p) })
	return p
}

// Disconnect tears down the remote association. On transports without
// disconnect support (see [Metadata.HasDisconnect]) this is equivalent to
// [Channel.Close].
func (c *Channel) Disconnect() Future {
	p := c.NewPromise()
	c.invoke(p, func() { c.u.Disconnect(p) })
	return p
}

// Close closes the channel, failing all outstanding writes. Close is
// idempotent: every returned future observes the single close outcome, and
// [Channel.CloseFuture] completes exactly once.
func (c *Channel) Close() Future {
	p := c.NewPromise()
	loop := c.loop.Load()
	if loop == nil {
		// Never registered: nothing can run on a loop, tear down directly.
		c.u.CloseForcibly()
		p.TrySuccess(nil)
		return p
	}
	if err := loop.Execute(func() { c.u.Close(p) }); err != nil {
		// Loop already terminated; emergency teardown.
		c.u.CloseForcibly()
		p.TrySuccess(nil)
	}
	return p
}

// Deregister detaches the channel from its event loop without destroying
// it. Rarely needed; supports transport-specific reuse where a channel is
// re-registered with a (possibly different) loop later.
func (c *Channel) Deregister() Future {
	p := c.NewPromise()
	c.invoke(p, func() { c.u.Deregister(p) })
	return p
}

// invoke schedules fn onto the owning loop, failing p when the channel is
// not registered or the loop rejects the task. Failures surface exclusively
// through p; invoke never panics and never blocks.
func (c *Channel) invoke(p Promise, fn func()) {
	loop := c.loop.Load()
	if loop == nil {
		p.TryFailure(ErrNotRegistered)
		return
	}
	if err := loop.Execute(fn); err != nil {
		p.TryFailure(WrapError("channel: failed to schedule on event loop", err))
	}
}
