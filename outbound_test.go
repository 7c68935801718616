package channel

import (
	"errors"
	"testing"
)

// newBufferChannel builds an unregistered channel whose outbound buffer can
// be driven directly from the test goroutine.
func newBufferChannel(t *testing.T, low, high uint64) (*Channel, *recordingPipeline) {
	t.Helper()
	pipe := &recordingPipeline{}
	ch, _, err := NewChannel(newFakeTransport(),
		WithPipeline(pipe),
		WithWriteBufferWatermarks(low, high),
	)
	if err != nil {
		t.Fatal(err)
	}
	return ch, pipe
}

func TestOutboundBuffer_FIFO(t *testing.T) {
	ch, _ := newBufferChannel(t, 32, 64)
	b := &ch.out

	promises := make([]Promise, 3)
	for i, msg := range []string{"a", "b", "c"} {
		promises[i] = ch.NewPromise()
		b.add(msg, 1, promises[i])
	}
	if got := b.size(); got != 3 {
		t.Fatalf("size = %d, want 3", got)
	}

	for _, want := range []string{"a", "b", "c"} {
		e, ok := b.current()
		if !ok || e.msg != want {
			t.Fatalf("current = %v %v, want %q", e.msg, ok, want)
		}
		b.removeFirst()
	}
	if !b.isEmpty() {
		t.Error("buffer should be empty")
	}
	for i, p := range promises {
		if !p.IsSuccess() {
			t.Errorf("promise %d not succeeded", i)
		}
	}
}

func TestOutboundBuffer_WatermarkHysteresis(t *testing.T) {
	ch, pipe := newBufferChannel(t, 32, 64)
	b := &ch.out

	// Climb to exactly the high watermark: still writable, crossing is
	// strict.
	b.add("a", 64, ch.NewPromise())
	if !b.isWritable() {
		t.Fatal("pending == high must stay writable")
	}
	if got := pipe.count("writabilityChanged"); got != 0 {
		t.Fatalf("no transition expected, got %d events", got)
	}

	// One byte over: exactly one unwritable transition.
	b.add("b", 1, ch.NewPromise())
	if b.isWritable() {
		t.Fatal("pending > high must be unwritable")
	}
	if got := pipe.count("writabilityChanged"); got != 1 {
		t.Fatalf("want 1 transition, got %d", got)
	}

	// More load while already unwritable: no extra events.
	b.add("c", 100, ch.NewPromise())
	if got := pipe.count("writabilityChanged"); got != 1 {
		t.Fatalf("want 1 transition, got %d", got)
	}

	// Drain to just above low: hysteresis keeps it unwritable.
	b.removeFirst() // -64 -> 101
	b.removeFirst() // -1  -> 100
	if b.isWritable() {
		t.Fatal("pending above low must stay unwritable")
	}
	if got := pipe.count("writabilityChanged"); got != 1 {
		t.Fatalf("want 1 transition, got %d", got)
	}

	// Drain to zero: exactly one writable transition.
	b.removeFirst()
	if !b.isWritable() {
		t.Fatal("drained buffer must be writable")
	}
	if got := pipe.count("writabilityChanged"); got != 2 {
		t.Fatalf("want 2 transitions, got %d", got)
	}
}

func TestOutboundBuffer_BytesBeforeQueries(t *testing.T) {
	ch, _ := newBufferChannel(t, 32, 64)
	b := &ch.out

	if got := b.bytesBeforeUnwritable(); got != 64 {
		t.Errorf("bytesBeforeUnwritable = %d, want 64", got)
	}
	if got := b.bytesBeforeWritable(); got != 0 {
		t.Errorf("bytesBeforeWritable = %d, want 0", got)
	}

	b.add("a", 50, ch.NewPromise())
	if got := b.bytesBeforeUnwritable(); got != 14 {
		t.Errorf("bytesBeforeUnwritable = %d, want 14", got)
	}

	b.add("b", 50, ch.NewPromise()) // 100 > 64: unwritable
	if got := b.bytesBeforeUnwritable(); got != 0 {
		t.Errorf("bytesBeforeUnwritable = %d, want 0", got)
	}
	if got := b.bytesBeforeWritable(); got != 68 {
		t.Errorf("bytesBeforeWritable = %d, want 68", got)
	}
}

func TestOutboundBuffer_ZeroSizeEntries(t *testing.T) {
	ch, pipe := newBufferChannel(t, 0, 0)
	b := &ch.out

	// Size-0 entries add no backpressure even with zero watermarks, but
	// still occupy FIFO slots.
	p := ch.NewPromise()
	b.add("ctrl", 0, p)
	if !b.isWritable() {
		t.Fatal("size-0 entry must not affect writability")
	}
	if got := b.pending(); got != 0 {
		t.Fatalf("pending = %d, want 0", got)
	}
	b.removeFirst()
	if !p.IsSuccess() {
		t.Error("promise should complete on removal")
	}
	if got := pipe.count("writabilityChanged"); got != 0 {
		t.Fatalf("no transitions expected, got %d", got)
	}
}

func TestOutboundBuffer_FailAll(t *testing.T) {
	ch, _ := newBufferChannel(t, 32, 64)
	b := &ch.out

	cause := errors.New("teardown")
	var promises []Promise
	var failOrder []int
	for i := 0; i < 4; i++ {
		i := i
		p := ch.NewPromise()
		p.AddListener(func(Future) { failOrder = append(failOrder, i) })
		promises = append(promises, p)
		b.add(i, 10, p)
	}

	b.failAll(cause)

	if !b.isEmpty() {
		t.Error("buffer should be empty after failAll")
	}
	if got := b.pending(); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
	for i, p := range promises {
		if !errors.Is(p.Err(), cause) {
			t.Errorf("promise %d err = %v, want cause", i, p.Err())
		}
	}
	for i, got := range failOrder {
		if got != i {
			t.Fatalf("failure order = %v, want FIFO", failOrder)
		}
	}
}

func TestOutboundBuffer_Compaction(t *testing.T) {
	ch, _ := newBufferChannel(t, 0, 1<<40)
	b := &ch.out

	const n = 200
	for i := 0; i < n; i++ {
		b.add(i, 1, ch.NewPromise())
	}
	// Pop most but not all; the dead prefix must be compacted away rather
	// than pinning the slice.
	for i := 0; i < n-10; i++ {
		b.removeFirst()
	}
	if b.head > outboundCompactThreshold {
		t.Errorf("head = %d, compaction should bound the dead prefix", b.head)
	}
	if got := b.size(); got != 10 {
		t.Fatalf("size = %d, want 10", got)
	}
	for want := n - 10; want < n; want++ {
		e, ok := b.current()
		if !ok || e.msg != want {
			t.Fatalf("current = %v, want %d", e.msg, want)
		}
		b.removeFirst()
	}
}
