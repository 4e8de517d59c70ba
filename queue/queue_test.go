package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kostja/native-driver-core/internal/corelog"
	"github.com/kostja/native-driver-core/metrics"
	"github.com/kostja/native-driver-core/reactor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeConn struct {
	flushes int32
}

func (c *fakeConn) FlushWrites() error {
	atomic.AddInt32(&c.flushes, 1)
	return nil
}

func TestWriteSignalsExactlyOnceUntilDrained(t *testing.T) {
	loop := reactor.NewFakeLoop("loop-0")
	q := New(loop, 16, corelog.Nop(), nil)
	conn := &fakeConn{}

	var executed int32
	for i := 0; i < 5; i++ {
		ok := q.Write(conn, func() { atomic.AddInt32(&executed, 1) })
		require.True(t, ok)
	}

	loop.Pump()
	assert.Equal(t, int32(5), executed)
	assert.Equal(t, int32(1), conn.flushes, "all 5 writes should coalesce into one socket flush")
}

func TestWriteReturnsFalseWhenRingFull(t *testing.T) {
	loop := reactor.NewFakeLoop("loop-0")
	q := New(loop, 2, corelog.Nop(), nil)
	conn := &fakeConn{}

	// Capacity rounds up to next power of two (2), so 2 writes succeed
	// before the ring is observed full by a 3rd concurrent producer.
	require.True(t, q.Write(conn, func() {}))
	require.True(t, q.Write(conn, func() {}))
	ok := q.Write(conn, func() {})
	assert.False(t, ok)
}

func TestNoLossEveryAcceptedItemIsDrainedExactlyOnce(t *testing.T) {
	loop := reactor.NewFakeLoop("loop-0")
	q := New(loop, 64, corelog.Nop(), nil)
	conn := &fakeConn{}

	var mu sync.Mutex
	seen := map[int]int{}
	for i := 0; i < 50; i++ {
		i := i
		ok := q.Write(conn, func() {
			mu.Lock()
			seen[i]++
			mu.Unlock()
		})
		require.True(t, ok)
	}
	loop.Pump()

	require.Len(t, seen, 50)
	for i, n := range seen {
		assert.Equal(t, 1, n, "item %d drained %d times", i, n)
	}
}

func TestConnectionsTouchedCoalescesFlushPerConnection(t *testing.T) {
	loop := reactor.NewFakeLoop("loop-0")
	q := New(loop, 64, corelog.Nop(), nil)
	connA := &fakeConn{}
	connB := &fakeConn{}

	for i := 0; i < 10; i++ {
		require.True(t, q.Write(connA, func() {}))
	}
	for i := 0; i < 5; i++ {
		require.True(t, q.Write(connB, func() {}))
	}
	loop.Pump()

	assert.Equal(t, int32(1), connA.flushes)
	assert.Equal(t, int32(1), connB.flushes)
}

func TestBackoffRearmsTimerWhenNoWritesOccur(t *testing.T) {
	loop := reactor.NewFakeLoop("loop-0")
	q := New(loop, 16, corelog.Nop(), nil)
	q.SetBackoff(3, time.Millisecond)

	// Signal a flush with nothing in the ring: drained=0, touched is
	// empty, so "no writes occurred" and the back-off path should rearm
	// the timer instead of clearing isFlushing immediately.
	require.True(t, atomic.CompareAndSwapInt32(&q.isFlushing, 0, 1))
	q.async.Signal()
	loop.Pump()
	assert.Equal(t, 1, q.flushesWithoutWrites)
	assert.Equal(t, int32(1), atomic.LoadInt32(&q.isFlushing), "isFlushing must stay set while backing off")

	loop.Pump()
	assert.Equal(t, 2, q.flushesWithoutWrites)

	loop.Pump()
	assert.Equal(t, 3, q.flushesWithoutWrites)
	assert.Equal(t, int32(0), atomic.LoadInt32(&q.isFlushing), "isFlushing clears once threshold is reached")
}

func TestConcurrentWritersFromManyGoroutinesAllDrain(t *testing.T) {
	loop := reactor.NewFakeLoop("loop-0")
	q := New(loop, 16384, corelog.Nop(), nil)
	conn := &fakeConn{}

	const writers = 8
	const perWriter = 1000
	var executed int32
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				for !q.Write(conn, func() { atomic.AddInt32(&executed, 1) }) {
				}
			}
		}()
	}
	wg.Wait()
	loop.Pump()

	assert.Equal(t, int32(writers*perWriter), executed)
}

func TestCloseHandlesStopsFurtherWrites(t *testing.T) {
	loop := reactor.NewFakeLoop("loop-0")
	q := New(loop, 16, corelog.Nop(), nil)
	conn := &fakeConn{}

	q.CloseHandles()
	loop.Pump()

	ok := q.Write(conn, func() {})
	assert.False(t, ok)
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mf, err := reg.Gather()
	require.NoError(t, err)
	for _, m := range mf {
		if m.GetName() != name {
			continue
		}
		for _, metric := range m.Metric {
			match := true
			for _, lp := range metric.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					match = false
				}
			}
			if match {
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestQueueDepthMetricReflectsBacklogAndDrain(t *testing.T) {
	reg := prometheus.NewRegistry()
	met := metrics.NewSet("driver", reg)
	loop := reactor.NewFakeLoop("loop-0")
	q := New(loop, 64, corelog.Nop(), met)
	conn := &fakeConn{}

	for i := 0; i < 3; i++ {
		require.True(t, q.Write(conn, func() {}))
	}
	assert.Equal(t, float64(3), gaugeValue(t, reg, "driver_queue_depth", map[string]string{"loop": "loop-0"}))

	loop.Pump()
	assert.Equal(t, float64(0), gaugeValue(t, reg, "driver_queue_depth", map[string]string{"loop": "loop-0"}))
}

func TestManagerGetIsPerLoop(t *testing.T) {
	loopA := reactor.NewFakeLoop("loop-a")
	loopB := reactor.NewFakeLoop("loop-b")
	mgr := NewManager([]reactor.Loop{loopA, loopB}, 64, corelog.Nop(), nil)

	qa := mgr.Get(loopA)
	qb := mgr.Get(loopB)
	assert.NotSame(t, qa, qb)
	assert.Same(t, qa, mgr.Get(loopA))
}

func TestManagerCloseAllPropagates(t *testing.T) {
	loopA := reactor.NewFakeLoop("loop-a")
	loopB := reactor.NewFakeLoop("loop-b")
	mgr := NewManager([]reactor.Loop{loopA, loopB}, 64, corelog.Nop(), nil)

	mgr.CloseAll()
	loopA.Pump()
	loopB.Pump()

	assert.False(t, mgr.Get(loopA).Write(&fakeConn{}, func() {}))
	assert.False(t, mgr.Get(loopB).Write(&fakeConn{}, func() {}))
}
