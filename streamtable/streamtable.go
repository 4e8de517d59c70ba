// Package streamtable implements the stream-id allocator for a single
// connection: a fixed-capacity mapping from protocol stream id to a
// pending-request handle, accessed only from the connection's owning
// event-loop goroutine.
//
// The allocation strategy mirrors the stream-id bookkeeping in
// SagerNet/smux's Session (a map guarded by a single owner plus a counter),
// but trades the unbounded map for a fixed array and a free bitmap since
// stream ids here are a hard-capped, reusable [0,127] range rather than a
// monotonically increasing counter.
package streamtable

import (
	"math/bits"

	"github.com/kostja/native-driver-core/coreerr"
)

// MaxStreams is the CQL native protocol v3 per-connection concurrency cap:
// stream ids are a signed byte, and negative ids are reserved for
// server-initiated events.
const MaxStreams = 128

const wordBits = 64

// Pending is the opaque handle associated with a stream id. The core never
// interprets it; callers type-assert to whatever they stored.
type Pending interface{}

// Table is a fixed-capacity [0, MaxStreams) stream-id allocator. It is not
// safe for concurrent use: the connection that owns a Table must only
// touch it from its event-loop goroutine, per the core's single-writer
// ownership model.
//
// Free stream ids are tracked in a bitmap (one bit per id, 1 = free)
// instead of a LIFO freelist, so Reserve can find the lowest-indexed free
// id with a handful of word scans regardless of release order — a plain
// stack would hand back the most-recently-released id first, violating
// the "lowest-indexed free slot" allocation rule the moment ids are
// released out of order.
type Table struct {
	slots    []Pending
	freeBits []uint64
	capacity int
	free     int
}

// New returns a Table with the given capacity (spec default: MaxStreams).
func New(capacity int) *Table {
	t := &Table{
		slots:    make([]Pending, capacity),
		freeBits: make([]uint64, (capacity+wordBits-1)/wordBits),
		capacity: capacity,
		free:     capacity,
	}
	for i := 0; i < capacity; i++ {
		t.freeBits[i/wordBits] |= 1 << uint(i%wordBits)
	}
	return t
}

// Reserve allocates the lowest-indexed free stream id and associates it
// with p. Returns coreerr.ErrNoStreamsAvailable if the table is full.
func (t *Table) Reserve(p Pending) (int8, error) {
	for w, word := range t.freeBits {
		if word == 0 {
			continue
		}
		bit := bits.TrailingZeros64(word)
		id := w*wordBits + bit
		t.freeBits[w] &^= 1 << uint(bit)
		t.slots[id] = p
		t.free--
		return int8(id), nil
	}
	return 0, coreerr.ErrNoStreamsAvailable
}

// Release returns the pending handle for id and frees the slot for reuse.
// Releasing an id that is not currently live (never allocated, or already
// released) is an error — double-release must never silently succeed.
func (t *Table) Release(id int8) (Pending, error) {
	if id < 0 || int(id) >= t.capacity || t.isFree(int(id)) {
		return nil, coreerr.ErrInvalidStream
	}
	p := t.slots[id]
	t.slots[id] = nil
	t.freeBits[int(id)/wordBits] |= 1 << uint(int(id)%wordBits)
	t.free++
	return p, nil
}

func (t *Table) isFree(id int) bool {
	return t.freeBits[id/wordBits]&(1<<uint(id%wordBits)) != 0
}

// Available returns the number of stream ids not currently allocated.
// Available() + live-count always equals the table's capacity.
func (t *Table) Available() int {
	return t.free
}

// Capacity returns the table's fixed size.
func (t *Table) Capacity() int {
	return t.capacity
}

// EachLive invokes fn for every currently-allocated stream id, in
// ascending id order, and releases it as it goes. Used to fail every
// pending request when a connection transitions to Disconnecting.
func (t *Table) EachLive(fn func(id int8, p Pending)) {
	for id := 0; id < t.capacity; id++ {
		if t.isFree(id) {
			continue
		}
		p := t.slots[id]
		t.slots[id] = nil
		fn(int8(id), p)
	}
	for w := range t.freeBits {
		t.freeBits[w] = ^uint64(0)
	}
	// Clear any padding bits beyond capacity in the last word so they
	// never appear as a falsely-free id.
	if rem := t.capacity % wordBits; rem != 0 {
		last := len(t.freeBits) - 1
		t.freeBits[last] = (uint64(1) << uint(rem)) - 1
	}
	t.free = t.capacity
}
