// Package reactor defines the event-loop abstraction the core depends on
// (spec.md §4.6, C6): non-blocking TCP, a coalescing cross-thread async
// wakeup, one-shot timers re-armed with Reset, and handle close. It also provides
// GoLoop, a goroutine-and-channel-based implementation — Go already gives
// every goroutine a cooperative scheduler, so the natural idiomatic
// reactor is one dedicated goroutine per loop draining a work channel,
// the same "one loop, one owning goroutine" shape SagerNet/smux's
// recvLoop/sendLoop/shaperLoop trio uses, generalized into a reusable
// dispatcher instead of three purpose-built goroutines per session.
package reactor

import (
	"context"
	"time"
)

// Async is a cross-thread wakeup primitive. Multiple Signal calls that
// arrive before the loop has processed the previous one collapse into a
// single delivery, matching spec.md §4.6's coalescing requirement and the
// queue's wakeup-coalescing invariant (spec.md §4.4/§8 property 4).
type Async interface {
	// Signal requests delivery of fn on the loop thread. Safe to call from
	// any goroutine, including concurrently.
	Signal()
	// Close releases the async handle. Safe to call once.
	Close()
}

// Timer is a one-shot timer scheduled on the loop: each Reset arms it to
// fire once. It does not repeat on its own; a callback that wants another
// fire calls Reset again.
type Timer interface {
	// Reset (re)arms the timer to fire after d. Safe to call from the loop
	// goroutine only.
	Reset(d time.Duration)
	Stop()
}

// Loop is the minimum reactor capability the core requires. A Loop is
// owned by exactly one goroutine, which is the only goroutine ever
// permitted to run the callbacks the Loop schedules — the core's single-
// writer invariant (spec.md §5) rests entirely on this guarantee.
type Loop interface {
	// ID identifies the loop for logging/metrics labeling; it carries no
	// other semantics.
	ID() string

	// Run blocks, processing scheduled work, until ctx is done or Stop is
	// called. Exactly one goroutine should call Run for a given Loop.
	Run(ctx context.Context)

	// Stop asks Run to return; work still queued at that point is not run.
	Stop()

	// NewAsync creates a coalescing wakeup that invokes fn on the loop
	// goroutine whenever Signal is called.
	NewAsync(fn func()) Async

	// NewTimer creates a timer that invokes fn on the loop goroutine when
	// it fires. The timer starts disarmed; call Reset to arm it.
	NewTimer(fn func()) Timer

	// Connect performs a non-blocking TCP dial, invoking cb on the loop
	// goroutine with the result.
	Connect(ctx context.Context, network, address string, cb func(Conn, error))
}

// Conn is the non-blocking socket handle the loop hands back from
// Connect: reads/writes are dispatched via callbacks on the loop
// goroutine rather than blocking calls, matching spec.md §4.6.
type Conn interface {
	// Read arranges for cb to be invoked on the loop goroutine the next
	// time data is available (or the socket errors/EOFs).
	Read(cb func([]byte, error))
	// Write submits b for writing; cb is invoked on the loop goroutine
	// once the write completes or fails. Multiple Writes may be
	// coalesced by the implementation into fewer syscalls.
	Write(b []byte, cb func(error))
	// Close tears the socket down, invoking cb on completion.
	Close(cb func(error))
	RemoteAddr() string
}
