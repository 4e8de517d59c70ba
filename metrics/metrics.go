// Package metrics exposes prometheus collectors for the connection and
// queue packages, following the Collector-per-concern shape
// prometheus/client_golang itself documents and the same library
// nabbar-golib wires in as a direct dependency. Metrics are optional: a
// nil *Set disables collection at every call site without branching,
// since every method is nil-safe.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Set groups every collector the core updates. Register it with a
// prometheus.Registerer once at driver start.
type Set struct {
	LiveStreams          *prometheus.GaugeVec
	ConnectionState       *prometheus.GaugeVec
	QueueDepth           *prometheus.GaugeVec
	FlushBatchSize       prometheus.Histogram
	FlushesWithoutWrites *prometheus.CounterVec
}

// NewSet constructs a Set with the given namespace and registers it with
// reg. Passing a nil reg skips registration (useful in tests).
func NewSet(namespace string, reg prometheus.Registerer) *Set {
	s := &Set{
		LiveStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_streams", Help: "In-flight request streams per connection.",
		}, []string{"remote"}),
		ConnectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connection_state", Help: "1 for the connection's current state, 0 otherwise.",
		}, []string{"remote", "state"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Items currently buffered in a request queue.",
		}, []string{"loop"}),
		FlushBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "flush_batch_size", Help: "Items drained per flush cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		FlushesWithoutWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "flushes_without_writes_total", Help: "Flush cycles that drained nothing and incremented the back-off counter.",
		}, []string{"loop"}),
	}
	if reg != nil {
		reg.MustRegister(s.LiveStreams, s.ConnectionState, s.QueueDepth, s.FlushBatchSize, s.FlushesWithoutWrites)
	}
	return s
}

func (s *Set) SetLiveStreams(remote string, n int) {
	if s == nil {
		return
	}
	s.LiveStreams.WithLabelValues(remote).Set(float64(n))
}

func (s *Set) SetConnectionState(remote string, state string, allStates []string) {
	if s == nil {
		return
	}
	for _, st := range allStates {
		v := 0.0
		if st == state {
			v = 1.0
		}
		s.ConnectionState.WithLabelValues(remote, st).Set(v)
	}
}

func (s *Set) SetQueueDepth(loop string, n int) {
	if s == nil {
		return
	}
	s.QueueDepth.WithLabelValues(loop).Set(float64(n))
}

func (s *Set) ObserveFlushBatch(n int) {
	if s == nil {
		return
	}
	s.FlushBatchSize.Observe(float64(n))
}

func (s *Set) IncFlushWithoutWrites(loop string) {
	if s == nil {
		return
	}
	s.FlushesWithoutWrites.WithLabelValues(loop).Inc()
}
