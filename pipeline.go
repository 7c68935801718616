package channel

// Pipeline is the ordered chain of event sinks reacting to channel
// lifecycle and data events. The core calls into it but does not implement
// its dispatch mechanism; supply an implementation via [WithPipeline].
//
// All Fire methods are invoked on the channel's event loop goroutine.
// Implementations must not block; long-running reactions belong on another
// goroutine with results marshalled back via [EventLoop.Submit].
type Pipeline interface {
	// FireChannelRegistered is invoked once the channel is attached to its
	// event loop.
	FireChannelRegistered()

	// FireChannelActive is invoked once the channel becomes active
	// (connected, or ready for I/O on connectionless transports).
	FireChannelActive()

	// FireChannelInactive is invoked once when the channel goes inactive or
	// is closed.
	FireChannelInactive()

	// FireChannelRead is invoked for each inbound message produced by the
	// transport's read loop.
	FireChannelRead(msg any)

	// FireChannelReadComplete is invoked when the transport finishes an
	// inbound read batch.
	FireChannelReadComplete()

	// FireChannelWritabilityChanged is invoked exactly once per writability
	// transition (not per byte); check [Channel.IsWritable] for the new
	// state.
	FireChannelWritabilityChanged()

	// FireExceptionCaught is invoked for failures that do not belong to a
	// single operation's promise.
	FireExceptionCaught(err error)
}

// NopPipeline is a [Pipeline] that discards every event. It is the default
// when no pipeline is configured, and a convenient embed for tests and
// partial implementations.
type NopPipeline struct{}

var _ Pipeline = NopPipeline{}

func (NopPipeline) FireChannelRegistered()         {}
func (NopPipeline) FireChannelActive()             {}
func (NopPipeline) FireChannelInactive()           {}
func (NopPipeline) FireChannelRead(any)            {}
func (NopPipeline) FireChannelReadComplete()       {}
func (NopPipeline) FireChannelWritabilityChanged() {}
func (NopPipeline) FireExceptionCaught(error)      {}
