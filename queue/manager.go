package queue

import (
	"fmt"

	"github.com/kostja/native-driver-core/internal/corelog"
	"github.com/kostja/native-driver-core/metrics"
	"github.com/kostja/native-driver-core/reactor"
)

// Manager owns exactly one Queue per event loop in a group, allocated
// once at init and never resized — spec.md §4.5's "contiguous storage,
// by-index, never resized after init". It is lifetime-bound to the event
// loop group it was built from.
type Manager struct {
	loops   []reactor.Loop
	queues  []*Queue
	byLoop  map[string]int
}

// NewManager allocates one Queue of the given ring capacity per loop in
// loops, in the order given. The index of loops[i] and queues (returned
// by Get) always agree.
func NewManager(loops []reactor.Loop, capacity int, log *corelog.Logger, met *metrics.Set) *Manager {
	m := &Manager{
		loops:  append([]reactor.Loop(nil), loops...),
		queues: make([]*Queue, len(loops)),
		byLoop: make(map[string]int, len(loops)),
	}
	for i, l := range loops {
		m.queues[i] = New(l, capacity, log, met)
		m.byLoop[l.ID()] = i
	}
	return m
}

// Get returns the queue owned by loop, in O(1). It panics if loop was not
// part of the group the Manager was built from — a programming error, not
// a runtime condition callers should need to handle per spec.md §4.5's
// "lifetime-bound to the event-loop group" contract.
func (m *Manager) Get(loop reactor.Loop) *Queue {
	idx, ok := m.byLoop[loop.ID()]
	if !ok {
		panic(fmt.Sprintf("queue: manager has no queue for loop %q", loop.ID()))
	}
	return m.queues[idx]
}

// GetByID is the string-keyed variant of Get, useful when only the loop
// id (not the Loop value) is on hand.
func (m *Manager) GetByID(loopID string) (*Queue, bool) {
	idx, ok := m.byLoop[loopID]
	if !ok {
		return nil, false
	}
	return m.queues[idx], true
}

// Queues returns every queue the manager owns, indexed identically to the
// loop group it was constructed from.
func (m *Manager) Queues() []*Queue {
	return append([]*Queue(nil), m.queues...)
}

// CloseAll propagates CloseHandles to every queue the manager owns.
// CloseHandles itself is fire-and-forget (it only schedules teardown on
// the loop thread, per spec.md §4.4), so there is nothing to aggregate
// synchronously here; the connection package is where multiple concurrent
// failures actually need aggregating (see conn.Connection.failPending).
func (m *Manager) CloseAll() {
	for _, q := range m.queues {
		q.CloseHandles()
	}
}
