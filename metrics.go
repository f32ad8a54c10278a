package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or histogram. IDs are dense and
// stable within a release; exporters map them to stable names.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginLocked

	MetricTwoFactorRequired
	MetricTwoFactorSuccess
	MetricTwoFactorFailure
	MetricChallengeReplay
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated

	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected

	MetricAuthenticateSuccess
	MetricAuthenticateFailure
	MetricFingerprintMismatch
	MetricRiskAlert

	MetricSessionCreated
	MetricSessionEvicted
	MetricSessionInvalidated
	MetricLogout
	MetricLogoutAll

	MetricRateLimitHit
	MetricLockoutSoft
	MetricLockoutHard

	MetricRegisterSuccess
	MetricRegisterFailure
	MetricRegisterDuplicate
	MetricRegisterRateLimited

	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordChangeReuse
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure

	MetricEmailVerifyRequest
	MetricEmailVerifySuccess
	MetricEmailVerifyFailure

	MetricTwoFactorEnabled
	MetricTwoFactorDisabled

	// MetricAuthenticateLatency is the only histogram-backed ID.
	MetricAuthenticateLatency

	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// paddedCounter keeps each counter on its own cache line so hot-path
// increments from different cores do not false-share.
type paddedCounter struct {
	n atomic.Uint64
	_ [cacheLineSize - 8]byte
}

// latencyHistogram is a fixed-bucket duration distribution. The engine
// tracks exactly one (Authenticate), so it lives in a dedicated field
// rather than a per-ID array.
type latencyHistogram struct {
	buckets [histBucketCount]atomic.Uint64
}

func (h *latencyHistogram) record(d time.Duration) {
	h.buckets[bucketIndex(d)].Add(1)
}

func (h *latencyHistogram) snapshot() []uint64 {
	out := make([]uint64, histBucketCount)
	for i := range h.buckets {
		out[i] = h.buckets[i].Load()
	}
	return out
}

// Metrics is the engine's in-process counter set: fixed-size arrays of
// atomics, no maps and no locks on the increment path. A disabled Metrics
// turns every operation into a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	authLatency   latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histogram
// buckets, safe to retain and serialize.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds a Metrics instance from config. Latency histograms are
// only active when counters are too.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to the counter. Safe on a nil or disabled receiver.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records a latency sample. Only MetricAuthenticateLatency is
// histogram-backed; other IDs are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || id != MetricAuthenticateLatency {
		return
	}
	m.authLatency.record(d)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter and histogram. A disabled Metrics returns
// empty maps rather than nil so callers can range without guards.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if m == nil || !m.enabled {
		return s
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = m.counters[id].n.Load()
	}
	if m.enableLatency {
		s.Histograms[MetricAuthenticateLatency] = m.authLatency.snapshot()
	}

	return s
}

// Bucket upper bounds: 5ms 10ms 25ms 50ms 100ms 250ms 500ms +Inf.
var latencyBucketBoundsMs = [histBucketCount - 1]int64{5, 10, 25, 50, 100, 250, 500}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range latencyBucketBoundsMs {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
