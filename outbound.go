package channel

import (
	"sync/atomic"
)

// outboundEntry is one queued write: the message, its backpressure size, and
// the promise completed once the message has been fully handed to the
// transport (not necessarily once bytes hit the wire).
type outboundEntry struct {
	msg     any
	promise Promise
	size    uint64
}

// outboundCompactThreshold bounds the dead prefix kept in the entries slice
// before it is compacted away.
const outboundCompactThreshold = 32

// outboundBuffer is the queue of pending writes with byte-size accounting
// and watermark-driven writability state.
//
// Mutation happens exclusively on the channel's event loop goroutine. The
// pending-byte count and the unwritable flag are atomics so the facade's
// any-thread queries ([Channel.IsWritable], [Channel.BytesBeforeWritable],
// [Channel.BytesBeforeUnwritable]) read consistent snapshots.
//
// Writability transitions fire [Pipeline.FireChannelWritabilityChanged]
// exactly once per transition. Because the count is only decremented when an
// entry has been fully accepted by the transport, a partial (short) write
// never changes pendingBytes and no notification can fire mid-entry; during
// a flush, transitions occur at entry boundaries only.
type outboundBuffer struct {
	ch      *Channel
	entries []outboundEntry
	head    int

	pendingBytes atomic.Uint64
	unwritable   atomic.Uint32
}

// add appends an entry and accounts its size, flipping writability if the
// high watermark is exceeded.
func (b *outboundBuffer) add(msg any, size uint64, p Promise) {
	b.entries = append(b.entries, outboundEntry{msg: msg, size: size, promise: p})
	b.incrementPending(size)
}

// current returns the oldest entry without removing it.
func (b *outboundBuffer) current() (outboundEntry, bool) {
	if b.head >= len(b.entries) {
		return outboundEntry{}, false
	}
	return b.entries[b.head], true
}

// isEmpty reports whether no entries remain.
func (b *outboundBuffer) isEmpty() bool {
	return b.head >= len(b.entries)
}

// size returns the number of queued entries.
func (b *outboundBuffer) size() int {
	return len(b.entries) - b.head
}

// removeFirst pops the oldest entry after the transport reported it fully
// accepted, completing its promise with success and releasing its bytes.
func (b *outboundBuffer) removeFirst() {
	e, ok := b.pop()
	if !ok {
		return
	}
	e.promise.TrySuccess(nil)
	b.decrementPending(e.size)
}

// failFirst pops the oldest entry and completes its promise with err.
func (b *outboundBuffer) failFirst(err error) {
	e, ok := b.pop()
	if !ok {
		return
	}
	e.promise.TryFailure(err)
	b.decrementPending(e.size)
}

// failAll fails every remaining entry in FIFO order, ensuring callers are
// never left waiting. Used on close and disconnect.
func (b *outboundBuffer) failAll(err error) {
	for !b.isEmpty() {
		b.failFirst(err)
	}
}

// pop removes and returns the head entry.
func (b *outboundBuffer) pop() (outboundEntry, bool) {
	if b.head >= len(b.entries) {
		return outboundEntry{}, false
	}
	e := b.entries[b.head]
	b.entries[b.head] = outboundEntry{} // release for GC
	b.head++

	if b.head == len(b.entries) {
		b.entries = b.entries[:0]
		b.head = 0
	} else if b.head > outboundCompactThreshold && b.head*2 >= len(b.entries) {
		n := copy(b.entries, b.entries[b.head:])
		clear(b.entries[n:])
		b.entries = b.entries[:n]
		b.head = 0
	}
	return e, true
}

// pending returns the total unflushed byte count. Safe from any goroutine.
func (b *outboundBuffer) pending() uint64 {
	return b.pendingBytes.Load()
}

// isWritable reports the hysteresis-driven writable state. Safe from any
// goroutine.
func (b *outboundBuffer) isWritable() bool {
	return b.unwritable.Load() == 0
}

// bytesBeforeUnwritable returns how many bytes may still be queued before
// the channel turns unwritable, or 0 if it already is.
func (b *outboundBuffer) bytesBeforeUnwritable() uint64 {
	if !b.isWritable() {
		return 0
	}
	high := b.ch.config.WriteBufferWatermarks().High
	pending := b.pending()
	if pending >= high {
		return 0
	}
	return high - pending
}

// bytesBeforeWritable returns how many bytes must drain before the channel
// turns writable again, or 0 if it already is.
func (b *outboundBuffer) bytesBeforeWritable() uint64 {
	if b.isWritable() {
		return 0
	}
	low := b.ch.config.WriteBufferWatermarks().Low
	pending := b.pending()
	if pending <= low {
		return 0
	}
	return pending - low
}

// incrementPending accounts size bytes, flipping unwritable when the count
// first exceeds the high watermark. The CAS gives exactly-once notification
// per transition; entries of size 0 contribute no backpressure.
func (b *outboundBuffer) incrementPending(size uint64) {
	if size == 0 {
		return
	}
	pending := b.pendingBytes.Add(size)
	if pending > b.ch.config.WriteBufferWatermarks().High && b.unwritable.CompareAndSwap(0, 1) {
		b.fireWritabilityChanged()
	}
}

// decrementPending releases size bytes, flipping writable when the count
// first falls to or below the low watermark.
func (b *outboundBuffer) decrementPending(size uint64) {
	if size == 0 {
		return
	}
	pending := b.pendingBytes.Add(^(size - 1))
	if pending <= b.ch.config.WriteBufferWatermarks().Low && b.unwritable.CompareAndSwap(1, 0) {
		b.fireWritabilityChanged()
	}
}

func (b *outboundBuffer) fireWritabilityChanged() {
	if m := b.ch.metrics; m != nil {
		if b.isWritable() {
			m.WritabilityChanges.WithLabelValues("writable").Inc()
		} else {
			m.WritabilityChanges.WithLabelValues("unwritable").Inc()
		}
	}
	b.ch.pipeline.FireChannelWritabilityChanged()
}
