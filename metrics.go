package chunkdataplane

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// logarithmically spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks job-pool throughput, master-connection registration churn,
// read-session retry behavior, and wire-frame traffic.
type Metrics struct {
	// Job pool (BJP) counters, totalled across all op kinds.
	JobsSubmitted atomic.Uint64
	JobsCompleted atomic.Uint64
	JobErrors     atomic.Uint64

	// Master connection (MCPE) counters.
	RegisterCount   atomic.Uint64
	RegisterV2Count atomic.Uint64
	RegisterV3Count atomic.Uint64
	RegisterV4Count atomic.Uint64
	KillCount       atomic.Uint64
	FramesIn        atomic.Uint64
	FramesOut       atomic.Uint64
	FrameBytesIn    atomic.Uint64
	FrameBytesOut   atomic.Uint64

	// Read session manager (RPSM) counters.
	ReadRetries    atomic.Uint64
	ReadStale      atomic.Uint64
	ReadNoCopies   atomic.Uint64
	SessionsOpened atomic.Uint64
	SessionsReaped atomic.Uint64

	// Shared latency tracking, used for job completion latency.
	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a zeroed metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordJobSubmitted counts one job handed to the pool.
func (m *Metrics) RecordJobSubmitted() {
	m.JobsSubmitted.Add(1)
}

// RecordJob records a completed BJP job's latency and outcome.
func (m *Metrics) RecordJob(latencyNs uint64, status uint8) {
	m.JobsCompleted.Add(1)
	if status != 0 {
		m.JobErrors.Add(1)
	}
	m.recordLatency(latencyNs)
}

// RecordRegister records a registration attempt at the given wire version
// (2, 3, or 4).
func (m *Metrics) RecordRegister(version int) {
	m.RegisterCount.Add(1)
	switch version {
	case 2:
		m.RegisterV2Count.Add(1)
	case 3:
		m.RegisterV3Count.Add(1)
	case 4:
		m.RegisterV4Count.Add(1)
	}
}

// RecordFrame records one parsed/written wire frame.
func (m *Metrics) RecordFrame(incoming bool, size int) {
	if incoming {
		m.FramesIn.Add(1)
		m.FrameBytesIn.Add(uint64(size))
		return
	}
	m.FramesOut.Add(1)
	m.FrameBytesOut.Add(uint64(size))
}

// RecordReadRetry records an RPSM refresh-connection retry by its status
// code (0 success, -2 stale, -3 no-copies, -1 generic transient).
func (m *Metrics) RecordReadRetry(status int) {
	m.ReadRetries.Add(1)
	switch status {
	case -2:
		m.ReadStale.Add(1)
	case -3:
		m.ReadNoCopies.Add(1)
	}
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Stop marks the metrics instance as stopped, freezing uptime computation.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics plus derived stats.
type MetricsSnapshot struct {
	JobsSubmitted uint64
	JobsCompleted uint64
	JobErrors     uint64

	RegisterCount   uint64
	RegisterV2Count uint64
	RegisterV3Count uint64
	RegisterV4Count uint64
	KillCount       uint64
	FramesIn        uint64
	FramesOut       uint64
	FrameBytesIn    uint64
	FrameBytesOut   uint64

	ReadRetries    uint64
	ReadStale      uint64
	ReadNoCopies   uint64
	SessionsOpened uint64
	SessionsReaped uint64

	AvgLatencyNs  uint64
	LatencyP50Ns  uint64
	LatencyP99Ns  uint64
	LatencyP999Ns uint64
	UptimeNs      uint64

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot copies all counters and computes latency percentiles by linear
// interpolation across the histogram buckets.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		JobsSubmitted:   m.JobsSubmitted.Load(),
		JobsCompleted:   m.JobsCompleted.Load(),
		JobErrors:       m.JobErrors.Load(),
		RegisterCount:   m.RegisterCount.Load(),
		RegisterV2Count: m.RegisterV2Count.Load(),
		RegisterV3Count: m.RegisterV3Count.Load(),
		RegisterV4Count: m.RegisterV4Count.Load(),
		KillCount:       m.KillCount.Load(),
		FramesIn:        m.FramesIn.Load(),
		FramesOut:       m.FramesOut.Load(),
		FrameBytesIn:    m.FrameBytesIn.Load(),
		FrameBytesOut:   m.FrameBytesOut.Load(),
		ReadRetries:     m.ReadRetries.Load(),
		ReadStale:       m.ReadStale.Load(),
		ReadNoCopies:    m.ReadNoCopies.Load(),
		SessionsOpened:  m.SessionsOpened.Load(),
		SessionsReaped:  m.SessionsReaped.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = totalLatencyNs / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	if opCount > 0 {
		snap.LatencyP50Ns = m.calculatePercentile(0.50)
		snap.LatencyP99Ns = m.calculatePercentile(0.99)
		snap.LatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	totalOps := m.OpCount.Load()
	if totalOps == 0 {
		return 0
	}
	targetCount := uint64(float64(totalOps) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable metrics collection across BJP, MCPE, and RPSM.
type Observer interface {
	ObserveJobSubmitted()
	ObserveJob(latencyNs uint64, status uint8)
	ObserveRegister(version int)
	ObserveFrame(incoming bool, size int)
	ObserveReadRetry(status int)
	ObserveSessionOpened()
	ObserveSessionReaped()
	ObserveKill()
}

// NoOpObserver discards every observation.
type NoOpObserver struct{}

func (NoOpObserver) ObserveJobSubmitted()     {}
func (NoOpObserver) ObserveJob(uint64, uint8) {}
func (NoOpObserver) ObserveRegister(int)      {}
func (NoOpObserver) ObserveFrame(bool, int)   {}
func (NoOpObserver) ObserveReadRetry(int)     {}
func (NoOpObserver) ObserveSessionOpened()    {}
func (NoOpObserver) ObserveSessionReaped()    {}
func (NoOpObserver) ObserveKill()             {}

// MetricsObserver implements Observer by recording into a Metrics instance.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer backed by the given Metrics.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveJobSubmitted() { o.metrics.RecordJobSubmitted() }
func (o *MetricsObserver) ObserveJob(latencyNs uint64, status uint8) {
	o.metrics.RecordJob(latencyNs, status)
}
func (o *MetricsObserver) ObserveRegister(version int) { o.metrics.RecordRegister(version) }
func (o *MetricsObserver) ObserveFrame(incoming bool, size int) {
	o.metrics.RecordFrame(incoming, size)
}
func (o *MetricsObserver) ObserveReadRetry(status int) { o.metrics.RecordReadRetry(status) }
func (o *MetricsObserver) ObserveSessionOpened()       { o.metrics.SessionsOpened.Add(1) }
func (o *MetricsObserver) ObserveSessionReaped()       { o.metrics.SessionsReaped.Add(1) }
func (o *MetricsObserver) ObserveKill()                { o.metrics.KillCount.Add(1) }

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
