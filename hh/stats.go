package hh

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// stats holds the shard-wide monotone counters and the live in-flight
// gauge named in §3. All fields are updated with atomic operations so
// hot paths never take a lock purely for bookkeeping.
type stats struct {
	written int64
	errors  int64
	dropped int64
	sent    int64

	hintsInProgress int64 // shard-wide gauge, bytes

	shardID string
}

func newStats(shardID string) *stats { return &stats{shardID: shardID} }

func (s *stats) addWritten(n int64) { atomic.AddInt64(&s.written, n) }
func (s *stats) addErrors(n int64)  { atomic.AddInt64(&s.errors, n) }
func (s *stats) addDropped(n int64) { atomic.AddInt64(&s.dropped, n) }
func (s *stats) addSent(n int64)    { atomic.AddInt64(&s.sent, n) }

func (s *stats) addInProgress(delta int64) int64 {
	return atomic.AddInt64(&s.hintsInProgress, delta)
}

func (s *stats) inProgress() int64 { return atomic.LoadInt64(&s.hintsInProgress) }

// Snapshot is a point-in-time, race-free copy of the shard counters,
// exposed to callers that want to log or assert on them without
// reaching into prometheus.
type Snapshot struct {
	Written               int64
	Errors                int64
	Dropped               int64
	Sent                  int64
	SizeOfHintsInProgress int64
}

func (s *stats) snapshot() Snapshot {
	return Snapshot{
		Written:               atomic.LoadInt64(&s.written),
		Errors:                atomic.LoadInt64(&s.errors),
		Dropped:               atomic.LoadInt64(&s.dropped),
		Sent:                  atomic.LoadInt64(&s.sent),
		SizeOfHintsInProgress: atomic.LoadInt64(&s.hintsInProgress),
	}
}

// collector adapts stats to prometheus.Collector. The caller is
// responsible for registering it with whatever registry it uses;
// this package never calls MustRegister itself (§1: metrics
// registration is an external collaborator's job).
type collector struct {
	s *stats

	writtenDesc    *prometheus.Desc
	errorsDesc     *prometheus.Desc
	droppedDesc    *prometheus.Desc
	sentDesc       *prometheus.Desc
	inProgressDesc *prometheus.Desc
}

func newCollector(s *stats) *collector {
	labels := prometheus.Labels{"shard": s.shardID}
	constLabels := prometheus.Labels{}
	for k, v := range labels {
		constLabels[k] = v
	}
	return &collector{
		s:              s,
		writtenDesc:    prometheus.NewDesc("hh_hints_written_total", "Hints durably appended.", nil, constLabels),
		errorsDesc:     prometheus.NewDesc("hh_hints_errors_total", "Hints that failed to append durably.", nil, constLabels),
		droppedDesc:    prometheus.NewDesc("hh_hints_dropped_total", "Hints dropped by admission policy or replay expiry.", nil, constLabels),
		sentDesc:       prometheus.NewDesc("hh_hints_sent_total", "Hints successfully delivered.", nil, constLabels),
		inProgressDesc: prometheus.NewDesc("hh_hints_in_progress_bytes", "Bytes of hints accepted but not yet durably flushed.", nil, constLabels),
	}
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writtenDesc
	ch <- c.errorsDesc
	ch <- c.droppedDesc
	ch <- c.sentDesc
	ch <- c.inProgressDesc
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.s.snapshot()
	ch <- prometheus.MustNewConstMetric(c.writtenDesc, prometheus.CounterValue, float64(snap.Written))
	ch <- prometheus.MustNewConstMetric(c.errorsDesc, prometheus.CounterValue, float64(snap.Errors))
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(snap.Dropped))
	ch <- prometheus.MustNewConstMetric(c.sentDesc, prometheus.CounterValue, float64(snap.Sent))
	ch <- prometheus.MustNewConstMetric(c.inProgressDesc, prometheus.GaugeValue, float64(snap.SizeOfHintsInProgress))
}

var _ prometheus.Collector = (*collector)(nil)
