package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Default write-buffer watermarks, in bytes.
const (
	DefaultLowWaterMark  uint64 = 32 * 1024
	DefaultHighWaterMark uint64 = 64 * 1024

	defaultConnectTimeout = 30 * time.Second
)

// Well-known option names accepted by [Config.SetOption]. Transport-specific
// options (e.g. "SO_RCVBUF") pass through to the named-option map for the
// transport to observe.
const (
	OptionAutoRead                 = "AUTO_READ"
	OptionConnectTimeout           = "CONNECT_TIMEOUT"
	OptionWriteBufferLowWaterMark  = "WRITE_BUFFER_LOW_WATER_MARK"
	OptionWriteBufferHighWaterMark = "WRITE_BUFFER_HIGH_WATER_MARK"
)

// Watermarks is the write-buffer watermark pair. PendingBytes above High
// turns the channel unwritable; draining to Low or below turns it writable
// again. Between the two marks the writable state does not change
// (hysteresis, preventing oscillation).
type Watermarks struct {
	Low  uint64
	High uint64
}

// Config holds per-channel options. It is owned exclusively by its channel
// and mutable at any time from any goroutine; changes affecting I/O
// scheduling take effect when next observed by the owning loop (eventual,
// not instantaneous, consistency).
type Config struct {
	watermarks     atomic.Pointer[Watermarks]
	allocator      atomic.Pointer[allocatorHolder]
	connectTimeout atomic.Int64
	autoRead       atomic.Bool

	optsMu sync.RWMutex
	opts   map[string]any
}

// allocator interfaces cannot be stored in atomic.Pointer directly.
type allocatorHolder struct {
	alloc Allocator
}

func newConfig() *Config {
	c := &Config{}
	c.watermarks.Store(&Watermarks{Low: DefaultLowWaterMark, High: DefaultHighWaterMark})
	c.allocator.Store(&allocatorHolder{alloc: defaultAllocator{}})
	c.connectTimeout.Store(int64(defaultConnectTimeout))
	c.autoRead.Store(true)
	return c
}

// WriteBufferWatermarks returns the current watermark pair.
func (c *Config) WriteBufferWatermarks() Watermarks {
	return *c.watermarks.Load()
}

// SetWriteBufferWatermarks replaces the watermark pair. Both values are byte
// counts and must satisfy low <= high.
func (c *Config) SetWriteBufferWatermarks(low, high uint64) error {
	if low > high {
		return fmt.Errorf("channel: low watermark %d exceeds high watermark %d", low, high)
	}
	c.watermarks.Store(&Watermarks{Low: low, High: high})
	return nil
}

// AutoRead reports whether reads are issued automatically on channel-active
// and after each read-complete. Defaults to true.
func (c *Config) AutoRead() bool {
	return c.autoRead.Load()
}

// SetAutoRead sets the auto-read flag.
func (c *Config) SetAutoRead(enabled bool) {
	c.autoRead.Store(enabled)
}

// ConnectTimeout returns the connect timeout hint made available to
// transports. The core does not enforce it; connection-oriented transports
// should.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.connectTimeout.Load())
}

// SetConnectTimeout sets the connect timeout hint.
func (c *Config) SetConnectTimeout(d time.Duration) {
	c.connectTimeout.Store(int64(d))
}

// Allocator returns the buffer allocator supplied to the transport for
// inbound data.
func (c *Config) Allocator() Allocator {
	return c.allocator.Load().alloc
}

// SetAllocator replaces the buffer allocator.
func (c *Config) SetAllocator(alloc Allocator) {
	if alloc == nil {
		alloc = defaultAllocator{}
	}
	c.allocator.Store(&allocatorHolder{alloc: alloc})
}

// SetOption sets a named option. Core options (the Option* constants) are
// routed to their typed setters; anything else lands in the named-option
// map for the transport to interpret.
func (c *Config) SetOption(name string, value any) error {
	switch name {
	case OptionAutoRead:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("channel: option %s requires bool, got %T", name, value)
		}
		c.SetAutoRead(v)
		return nil
	case OptionConnectTimeout:
		v, ok := value.(time.Duration)
		if !ok {
			return fmt.Errorf("channel: option %s requires time.Duration, got %T", name, value)
		}
		c.SetConnectTimeout(v)
		return nil
	case OptionWriteBufferLowWaterMark:
		v, ok := value.(uint64)
		if !ok {
			return fmt.Errorf("channel: option %s requires uint64, got %T", name, value)
		}
		return c.SetWriteBufferWatermarks(v, c.WriteBufferWatermarks().High)
	case OptionWriteBufferHighWaterMark:
		v, ok := value.(uint64)
		if !ok {
			return fmt.Errorf("channel: option %s requires uint64, got %T", name, value)
		}
		return c.SetWriteBufferWatermarks(c.WriteBufferWatermarks().Low, v)
	}

	c.optsMu.Lock()
	if c.opts == nil {
		c.opts = make(map[string]any)
	}
	c.opts[name] = value
	c.optsMu.Unlock()
	return nil
}

// Option returns a named option previously set via [Config.SetOption].
// Core options are reported from their typed fields.
func (c *Config) Option(name string) (any, bool) {
	switch name {
	case OptionAutoRead:
		return c.AutoRead(), true
	case OptionConnectTimeout:
		return c.ConnectTimeout(), true
	case OptionWriteBufferLowWaterMark:
		return c.WriteBufferWatermarks().Low, true
	case OptionWriteBufferHighWaterMark:
		return c.WriteBufferWatermarks().High, true
	}

	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	v, ok := c.opts[name]
	return v, ok
}
