// Package queue implements the request queue / flush coalescer (spec.md
// C4) and the per-event-loop queue manager (C5): a bounded MPMC ring that
// decouples arbitrary submitter threads from the event-loop thread owning
// a connection, coalescing many submissions into a small number of loop
// wakeups and at most one socket-flush syscall per touched connection per
// flush cycle.
package queue

import (
	"sync/atomic"
	"time"

	"github.com/kostja/native-driver-core/coreerr"
	"github.com/kostja/native-driver-core/internal/corelog"
	"github.com/kostja/native-driver-core/metrics"
	"github.com/kostja/native-driver-core/reactor"
)

// Connection is everything the queue needs from a connection to coalesce
// its writes: one trigger per flush cycle that turns every frame written
// during that cycle into a single socket syscall. The connection's actual
// stream allocation and frame encoding happen inside the Callback a
// caller submits via Write — the queue itself never touches frame
// contents.
type Connection interface {
	FlushWrites() error
}

// Callback is invoked on the connection's owning loop goroutine during a
// flush. It carries everything the submitter needs to encode the
// outbound frame and receive the result (stream reservation, encoding,
// and future resolution all happen inside it, via conn.Connection.Execute
// or equivalent).
type Callback func()

// Item is one submitted (connection, callback) pair.
type Item struct {
	Conn     Connection
	Callback Callback
}

// Back-off tunables (spec.md §4.4, §6 "Tunables"); defaults match the
// spec's suggested values.
const (
	DefaultBackoffThreshold = 4
	DefaultBackoffDelay     = time.Millisecond
)

// Queue is the bounded MPMC request queue for a single event loop.
// Write is safe from any goroutine; the flush algorithm only ever runs on
// the owning Loop's goroutine.
type Queue struct {
	ring *ring
	loop reactor.Loop
	log  *corelog.Logger
	met  *metrics.Set

	isFlushing int32 // atomic bool: a wakeup is in flight or being serviced
	isClosing  int32 // atomic bool: no further enqueues are honored

	flushesWithoutWrites int
	backoffThreshold     int
	backoffDelay         time.Duration

	async reactor.Async
	timer reactor.Timer

	touched map[Connection]struct{} // loop-thread only
}

// New creates a Queue of the given ring capacity, bound to loop, and
// registers its async wakeup and back-off timer on loop; there is no
// separate start step.
func New(loop reactor.Loop, capacity int, log *corelog.Logger, met *metrics.Set) *Queue {
	q := &Queue{
		ring:             newRing(capacity),
		loop:             loop,
		log:              log,
		met:              met,
		backoffThreshold: DefaultBackoffThreshold,
		backoffDelay:     DefaultBackoffDelay,
		touched:          make(map[Connection]struct{}),
	}
	q.async = loop.NewAsync(q.flush)
	q.timer = loop.NewTimer(q.flush)
	return q
}

// SetBackoff overrides the default back-off threshold/delay (spec.md §6
// tunables).
func (q *Queue) SetBackoff(threshold int, delay time.Duration) {
	q.backoffThreshold = threshold
	q.backoffDelay = delay
}

// Write submits (conn, cb) for execution on the owning loop. It never
// blocks: a full ring returns false immediately so the caller can apply
// backpressure, per spec.md §5's "submitter threads never block inside
// write()".
//
// On a successful push, Write claims the right to signal the loop by
// CAS-ing isFlushing from false to true; if another producer already
// claimed it, no additional wakeup is issued, because the in-progress (or
// about-to-run) flush will drain this item too. This is the
// wakeup-coalescing invariant: at most one async signal is in flight per
// queue at any instant (spec.md §8 property 4).
func (q *Queue) Write(conn Connection, cb Callback) bool {
	if atomic.LoadInt32(&q.isClosing) == 1 {
		return false
	}
	if !q.ring.push(Item{Conn: conn, Callback: cb}) {
		return false
	}
	if atomic.CompareAndSwapInt32(&q.isFlushing, 0, 1) {
		q.async.Signal()
	}
	if q.met != nil {
		q.met.SetQueueDepth(q.loop.ID(), q.ring.len())
	}
	return true
}

// Depth reports the ring's current item count, for metrics.
func (q *Queue) Depth() int { return q.ring.len() }

// CloseHandles marks the queue closing and schedules async/timer teardown
// on the loop thread. Safe to call from any goroutine.
func (q *Queue) CloseHandles() {
	atomic.StoreInt32(&q.isClosing, 1)
	q.async.Signal()
}

// flush runs on the loop goroutine only — invoked either by the async
// wakeup or by the back-off timer. It implements spec.md §4.4's four-step
// algorithm exactly.
func (q *Queue) flush() {
	if atomic.LoadInt32(&q.isClosing) == 1 {
		q.async.Close()
		q.timer.Stop()
		return
	}

	drained := 0
	max := q.ring.capacity()
	for drained < max {
		v, ok := q.ring.pop()
		if !ok {
			break
		}
		item := v.(Item)
		item.Callback()
		q.touched[item.Conn] = struct{}{}
		drained++
	}
	if q.met != nil {
		q.met.ObserveFlushBatch(drained)
		q.met.SetQueueDepth(q.loop.ID(), q.ring.len())
	}
	q.log.Debugf("flush drained %d items (loop=%s)", drained, q.loop.ID())

	wrote := false
	for c := range q.touched {
		if err := c.FlushWrites(); err != nil {
			q.log.Warnf("flush write failed: %v", err)
		} else {
			wrote = true
		}
		delete(q.touched, c)
	}

	if wrote {
		q.flushesWithoutWrites = 0
		atomic.StoreInt32(&q.isFlushing, 0)
		// A producer that observed isFlushing=true while we were draining
		// will not have signaled; re-check and re-arm ourselves.
		if q.ring.len() > 0 && atomic.CompareAndSwapInt32(&q.isFlushing, 0, 1) {
			q.async.Signal()
		}
		return
	}

	q.flushesWithoutWrites++
	if q.met != nil {
		q.met.IncFlushWithoutWrites(q.loop.ID())
	}
	if q.flushesWithoutWrites < q.backoffThreshold {
		q.timer.Reset(q.backoffDelay)
		return
	}
	atomic.StoreInt32(&q.isFlushing, 0)
}

// ErrQueueFull is returned by higher-level wrappers that want an error
// instead of Write's boolean; Write itself returns bool per spec.md §4.4.
var ErrQueueFull = coreerr.ErrQueueFull
