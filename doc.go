// Package channel provides the core abstraction of an asynchronous network
// I/O runtime: a [Channel] is a handle to a network endpoint (or a virtual
// sub-connection) that performs all I/O asynchronously, reports completion
// through [Future] and [Promise] objects, and exposes backpressure so
// producers never overrun the network stack.
//
// # Architecture
//
// The package is built around four cooperating pieces:
//
//   - [EventLoop]: a single goroutine driving a run-to-completion task queue.
//     Each channel is pinned to exactly one loop for its active lifetime, so
//     channel state is only ever mutated by one goroutine and no per-channel
//     locks are required.
//   - [Channel]: the public, thread-safe-by-delegation facade. Queries are
//     safe from any goroutine; mutating operations are marshalled onto the
//     owning loop and report their outcome through a [Future].
//   - [Unsafe]: the restricted, loop-goroutine-only operation set used by
//     transport implementations to perform actual I/O. The handle is only
//     obtainable at construction time via [NewChannel], preserving the
//     "never call from application code" contract at the type level.
//   - outbound buffer: a FIFO of pending writes with byte-size accounting
//     and watermark-driven writability, surfaced through
//     [Channel.IsWritable] and the pipeline's writability-changed event.
//
// Concrete transports (TCP/UDP/file-descriptor mechanics) live behind the
// [Transport] interface; the handler chain lives behind [Pipeline]. This
// package supplies buffering, ordering, and lifecycle guarantees around
// whatever the transport does.
//
// # Thread Safety
//
//   - All [Channel] query methods are safe from any goroutine and read
//     through atomic snapshots.
//   - [Channel] operation methods ([Channel.Write], [Channel.Close], ...)
//     are safe from any goroutine; when called off the owning loop they are
//     enqueued onto it, never executed inline off-thread.
//   - [Unsafe] mutating methods must only be called while
//     [EventLoop.InEventLoop] is true; violating this is a programming
//     error and panics.
//   - [Future.Await] blocks, and therefore fails fast with
//     [ErrDeadlockDetected] when called from the owning loop goroutine.
//
// # Usage
//
//	loop, err := channel.NewLoop()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go loop.Run(context.Background())
//	defer loop.Shutdown(context.Background())
//
//	ch, u, err := channel.NewChannel(transport,
//	    channel.WithPipeline(pipeline),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	reg := ch.NewPromise()
//	u.Register(loop, reg)
//	if err := reg.Await(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	future := ch.WriteAndFlush(payload)
//	future.AddListener(func(f channel.Future) {
//	    if !f.IsSuccess() {
//	        log.Printf("write failed: %v", f.Err())
//	    }
//	})
//
// # Error Types
//
// Failures never propagate synchronously across goroutine boundaries; every
// failure surfaces through a promise or a pipeline event. The sentinel
// errors are:
//   - [ErrClosedChannel]: operation attempted after terminal close
//   - [ErrNotYetConnected]: flush attempted on an inactive channel
//   - [ErrAlreadyConnected]: connect attempted on an active channel
//   - [ErrDeadlockDetected]: blocking wait from the owning loop goroutine
//   - [ErrPromiseAlreadyCompleted]: double completion without a Try variant
package channel
