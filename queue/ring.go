package queue

import "sync/atomic"

// ring is a bounded, lock-free multi-producer/multi-consumer queue: the
// classic Vyukov MPMC algorithm (a per-slot sequence counter instead of a
// single head/tail pair), sized to a power of two so the index mask is a
// single AND instead of a modulo. No corpus library stands in for it — a
// bounded lock-free MPMC ring with wakeup coalescing on top is exactly the
// component spec.md calls out as one of "the hardest parts of the
// repository", and no dependency in the example corpus implements it;
// DESIGN.md records why it is hand-rolled on the standard library.
type ring struct {
	mask  uint64
	cells []cell

	enqueuePos uint64
	_          [7]uint64 // padding to keep enqueuePos/dequeuePos off the same cache line
	dequeuePos uint64
}

type cell struct {
	sequence uint64
	data     interface{}
}

// newRing returns a ring whose capacity is the next power of two >= capacity
// (minimum 2).
func newRing(capacity int) *ring {
	n := 2
	for n < capacity {
		n <<= 1
	}
	r := &ring{mask: uint64(n - 1), cells: make([]cell, n)}
	for i := range r.cells {
		r.cells[i].sequence = uint64(i)
	}
	return r
}

func (r *ring) capacity() int { return len(r.cells) }

// push attempts to enqueue data, returning false if the ring is full.
func (r *ring) push(data interface{}) bool {
	for {
		pos := atomic.LoadUint64(&r.enqueuePos)
		c := &r.cells[pos&r.mask]
		seq := atomic.LoadUint64(&c.sequence)
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.enqueuePos, pos, pos+1) {
				c.data = data
				atomic.StoreUint64(&c.sequence, pos+1)
				return true
			}
		case diff < 0:
			return false
		default:
			// another producer raced ahead; reload and retry
		}
	}
}

// pop attempts to dequeue one item, returning ok=false if the ring is
// empty.
func (r *ring) pop() (interface{}, bool) {
	for {
		pos := atomic.LoadUint64(&r.dequeuePos)
		c := &r.cells[pos&r.mask]
		seq := atomic.LoadUint64(&c.sequence)
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&r.dequeuePos, pos, pos+1) {
				data := c.data
				c.data = nil
				atomic.StoreUint64(&c.sequence, pos+r.mask+1)
				return data, true
			}
		case diff < 0:
			return nil, false
		default:
			// another consumer raced ahead; reload and retry
		}
	}
}

// len returns an instantaneous, possibly-stale count of queued items —
// exact only when no producer/consumer is concurrently active, which is
// sufficient for the metrics and tests that use it.
func (r *ring) len() int {
	enq := atomic.LoadUint64(&r.enqueuePos)
	deq := atomic.LoadUint64(&r.dequeuePos)
	if enq < deq {
		return 0
	}
	return int(enq - deq)
}
