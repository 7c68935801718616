package channel

import (
	"net"
)

// Metadata describes static properties of a transport, replacing dynamic
// downcasts to transport-specific channel types.
type Metadata struct {
	// HasDisconnect is true for transports that support disconnect without
	// close (e.g. UDP "connected" sockets); Disconnect on other transports
	// fails.
	HasDisconnect bool

	// Connectionless is true for datagram-style transports. Connectionless
	// transports may Bind at any time; connection-oriented ones only before
	// becoming active.
	Connectionless bool
}

// Transport supplies the OS-level I/O primitives behind a [Channel]. The
// core supplies buffering, ordering, and lifecycle guarantees around
// whatever the transport does.
//
// All methods except the address and state queries are invoked exclusively
// on the channel's event loop goroutine. Transports deliver inbound data by
// firing [Pipeline.FireChannelRead] (via the channel's pipeline) and calling
// [Unsafe.ReadCompleted] at batch end, and complete deferred connects via
// [Unsafe.FinishConnect].
type Transport interface {
	// LocalAddr returns the bound local address, or nil.
	LocalAddr() net.Addr

	// RemoteAddr returns the connected remote address, or nil.
	RemoteAddr() net.Addr

	// IsOpen reports whether the underlying resource is open.
	IsOpen() bool

	// IsActive reports whether the transport is usable for I/O.
	IsActive() bool

	// Metadata returns the transport's static properties.
	Metadata() Metadata

	// Bind associates a local address.
	Bind(local net.Addr) error

	// Connect initiates an outbound connection. A non-blocking transport
	// returns nil immediately and reports the handshake outcome later via
	// [Unsafe.FinishConnect]; the connect promise resolves when the
	// OS-level handshake completes, not when this call returns.
	Connect(remote, local net.Addr) error

	// Disconnect tears down the remote association while keeping the
	// transport open. Only valid when [Metadata.HasDisconnect].
	Disconnect() error

	// Close releases the underlying resource. Must be idempotent.
	Close() error

	// BeginRead starts (or resumes) the inbound read loop.
	BeginRead() error

	// Write hands one message to the transport. done=false reports partial
	// progress (e.g. a short write): the message stays at the head of the
	// outbound buffer and is retried on the next flush. A non-nil error is
	// channel-fatal.
	Write(msg any) (done bool, err error)
}

// Capability queries the transport behind ch for an optional specialized
// interface (e.g. a multicast-join capability on a datagram transport),
// replacing unchecked type casts with an explicit check.
func Capability[T any](ch *Channel) (T, bool) {
	t, ok := ch.transport.(T)
	return t, ok
}

// Allocator supplies buffer objects for inbound data. The core only tracks
// byte counts; pooling strategy belongs to the implementation.
type Allocator interface {
	// Allocate returns a buffer with the given capacity and zero length.
	Allocate(capacity int) []byte
}

// defaultAllocator allocates plain heap buffers.
type defaultAllocator struct{}

func (defaultAllocator) Allocate(capacity int) []byte {
	return make([]byte, 0, capacity)
}

// SizeEstimator reports the backpressure size of an outbound message in
// bytes. Entries of size 0 are legal: they add no backpressure but still
// occupy FIFO order for completion-ordering correctness.
type SizeEstimator func(msg any) uint64

// DefaultSizeEstimator sizes []byte and string by length, honours a
// ReadableBytes method when present, and treats everything else as size 0.
func DefaultSizeEstimator(msg any) uint64 {
	switch m := msg.(type) {
	case []byte:
		return uint64(len(m))
	case string:
		return uint64(len(m))
	case interface{ ReadableBytes() int }:
		n := m.ReadableBytes()
		if n < 0 {
			return 0
		}
		return uint64(n)
	default:
		return 0
	}
}
