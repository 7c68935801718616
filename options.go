package channel

import (
	"fmt"

	"github.com/joeycumines/logiface"
)

// defaultIngressCapacity is the fast-path ring capacity of a loop's task
// queue; submissions beyond it spill to the overflow slice.
const defaultIngressCapacity = 1024

// loopOptions holds configuration for EventLoop creation.
type loopOptions struct {
	logger          *logiface.Logger[logiface.Event]
	metrics         *Metrics
	ingressCapacity int
}

// channelOptions holds configuration for Channel creation.
type channelOptions struct {
	pipeline      Pipeline
	parent        *Channel
	logger        *logiface.Logger[logiface.Event]
	metrics       *Metrics
	sizeEstimator SizeEstimator
	watermarks    *Watermarks
	allocator     Allocator
	autoRead      *bool
}

// LoopOption configures an [EventLoop].
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// ChannelOption configures a [Channel].
type ChannelOption interface {
	applyChannel(*channelOptions) error
}

type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (o *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return o.applyLoopFunc(opts)
}

type channelOptionImpl struct {
	applyChannelFunc func(*channelOptions) error
}

func (o *channelOptionImpl) applyChannel(opts *channelOptions) error {
	return o.applyChannelFunc(opts)
}

// sharedOptionImpl implements both LoopOption and ChannelOption, for
// concerns (logging, metrics) shared across the two surfaces.
type sharedOptionImpl struct {
	applyLoopFunc    func(*loopOptions) error
	applyChannelFunc func(*channelOptions) error
}

func (o *sharedOptionImpl) applyLoop(opts *loopOptions) error {
	return o.applyLoopFunc(opts)
}

func (o *sharedOptionImpl) applyChannel(opts *channelOptions) error {
	return o.applyChannelFunc(opts)
}

// WithLogger attaches a structured logger. Applies to both loops and
// channels; nil disables logging (the default).
func WithLogger(logger *logiface.Logger[logiface.Event]) interface {
	LoopOption
	ChannelOption
} {
	return &sharedOptionImpl{
		applyLoopFunc: func(opts *loopOptions) error {
			opts.logger = logger
			return nil
		},
		applyChannelFunc: func(opts *channelOptions) error {
			opts.logger = logger
			return nil
		},
	}
}

// WithMetrics attaches a [Metrics] instance. Applies to both loops and
// channels; share one instance across a whole runtime so the meters
// aggregate. Nil disables instrumentation (the default).
func WithMetrics(metrics *Metrics) interface {
	LoopOption
	ChannelOption
} {
	return &sharedOptionImpl{
		applyLoopFunc: func(opts *loopOptions) error {
			opts.metrics = metrics
			return nil
		},
		applyChannelFunc: func(opts *channelOptions) error {
			opts.metrics = metrics
			return nil
		},
	}
}

// WithIngressCapacity sets the loop task queue's fast-path ring capacity.
// Rounded up to the next power of two; must be at least 2.
func WithIngressCapacity(capacity int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if capacity < 2 {
			return fmt.Errorf("channel: ingress capacity must be >= 2, got %d", capacity)
		}
		opts.ingressCapacity = capacity
		return nil
	}}
}

// WithPipeline sets the event sink chain notified of channel lifecycle and
// data events. Defaults to [NopPipeline].
func WithPipeline(p Pipeline) ChannelOption {
	return &channelOptionImpl{func(opts *channelOptions) error {
		opts.pipeline = p
		return nil
	}}
}

// WithParent records a non-owning back-reference to the channel this one
// was accepted from (e.g. the listening channel). Parent lifetime is
// independent of the child's.
func WithParent(parent *Channel) ChannelOption {
	return &channelOptionImpl{func(opts *channelOptions) error {
		opts.parent = parent
		return nil
	}}
}

// WithWriteBufferWatermarks sets the initial watermark pair; see
// [Config.SetWriteBufferWatermarks].
func WithWriteBufferWatermarks(low, high uint64) ChannelOption {
	return &channelOptionImpl{func(opts *channelOptions) error {
		if low > high {
			return fmt.Errorf("channel: low watermark %d exceeds high watermark %d", low, high)
		}
		opts.watermarks = &Watermarks{Low: low, High: high}
		return nil
	}}
}

// WithAutoRead sets the initial auto-read flag; see [Config.SetAutoRead].
func WithAutoRead(enabled bool) ChannelOption {
	return &channelOptionImpl{func(opts *channelOptions) error {
		opts.autoRead = &enabled
		return nil
	}}
}

// WithAllocator sets the inbound buffer allocator; see
// [Config.SetAllocator].
func WithAllocator(alloc Allocator) ChannelOption {
	return &channelOptionImpl{func(opts *channelOptions) error {
		opts.allocator = alloc
		return nil
	}}
}

// WithSizeEstimator sets the outbound message size estimator. Defaults to
// [DefaultSizeEstimator].
func WithSizeEstimator(estimator SizeEstimator) ChannelOption {
	return &channelOptionImpl{func(opts *channelOptions) error {
		opts.sizeEstimator = estimator
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances over the defaults.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		ingressCapacity: defaultIngressCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// resolveChannelOptions applies ChannelOption instances over the defaults.
func resolveChannelOptions(opts []ChannelOption) (*channelOptions, error) {
	cfg := &channelOptions{
		pipeline:      NopPipeline{},
		sizeEstimator: DefaultSizeEstimator,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyChannel(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
