package authcore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func enabledMetrics() *Metrics {
	return NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
}

func TestMetricsIncAndValue(t *testing.T) {
	m := enabledMetrics()

	for i := 0; i < 3; i++ {
		m.Inc(MetricLoginSuccess)
	}
	m.Inc(MetricLoginFailure)

	if got := m.Value(MetricLoginSuccess); got != 3 {
		t.Fatalf("Value(MetricLoginSuccess) = %d, want 3", got)
	}
	if got := m.Value(MetricLoginFailure); got != 1 {
		t.Fatalf("Value(MetricLoginFailure) = %d, want 1", got)
	}
	if got := m.Value(MetricRefreshSuccess); got != 0 {
		t.Fatalf("untouched counter = %d, want 0", got)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricAuthenticateLatency, 10*time.Millisecond)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled counter = %d, want 0", got)
	}

	snap := m.Snapshot()
	if snap.Counters == nil || snap.Histograms == nil {
		t.Fatal("disabled snapshot must return empty maps, not nil")
	}
	if len(snap.Counters) != 0 {
		t.Fatalf("disabled snapshot has %d counters, want 0", len(snap.Counters))
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics

	m.Inc(MetricLoginSuccess)
	m.Observe(MetricAuthenticateLatency, time.Millisecond)

	if m.Enabled() {
		t.Fatal("nil Metrics reports enabled")
	}
	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("nil Value = %d, want 0", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatal("nil Snapshot must be empty")
	}
}

func TestMetricsOutOfRangeID(t *testing.T) {
	m := enabledMetrics()

	m.Inc(MetricID(10000))
	if got := m.Value(MetricID(10000)); got != 0 {
		t.Fatalf("out-of-range Value = %d, want 0", got)
	}
}

func TestMetricsSnapshotIsIsolated(t *testing.T) {
	m := enabledMetrics()

	m.Inc(MetricLoginSuccess)
	before := m.Snapshot()

	m.Inc(MetricLoginSuccess)

	if got := before.Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("old snapshot mutated: %d, want 1", got)
	}
	if got := m.Snapshot().Counters[MetricLoginSuccess]; got != 2 {
		t.Fatalf("new snapshot = %d, want 2", got)
	}
}

func TestMetricsObserveFillsBuckets(t *testing.T) {
	m := enabledMetrics()

	m.Observe(MetricAuthenticateLatency, 3*time.Millisecond)
	m.Observe(MetricAuthenticateLatency, 7*time.Millisecond)
	m.Observe(MetricAuthenticateLatency, 600*time.Millisecond)
	// Non-histogram IDs are ignored.
	m.Observe(MetricLoginSuccess, time.Millisecond)

	snap := m.Snapshot()
	buckets, ok := snap.Histograms[MetricAuthenticateLatency]
	if !ok {
		t.Fatal("latency histogram missing from snapshot")
	}
	if buckets[0] != 1 || buckets[1] != 1 || buckets[7] != 1 {
		t.Fatalf("buckets = %v, want one sample in 0, 1 and 7", buckets)
	}
	if _, ok := snap.Histograms[MetricLoginSuccess]; ok {
		t.Fatal("counter ID must not grow a histogram")
	}
}

func TestMetricsObserveRequiresLatencyFlag(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: false})

	m.Observe(MetricAuthenticateLatency, time.Millisecond)

	snap := m.Snapshot()
	if len(snap.Histograms) != 0 {
		t.Fatalf("histograms recorded without the latency flag: %v", snap.Histograms)
	}
}

func TestMetricsBucketBoundaries(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{time.Millisecond, 0},
		{5 * time.Millisecond, 0},
		{6 * time.Millisecond, 1},
		{10 * time.Millisecond, 1},
		{25 * time.Millisecond, 2},
		{50 * time.Millisecond, 3},
		{100 * time.Millisecond, 4},
		{250 * time.Millisecond, 5},
		{500 * time.Millisecond, 6},
		{501 * time.Millisecond, 7},
		{10 * time.Second, 7},
	}
	for _, c := range cases {
		if got := bucketIndex(c.d); got != c.want {
			t.Fatalf("bucketIndex(%v) = %d, want %d", c.d, got, c.want)
		}
	}
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := enabledMetrics()

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				m.Inc(MetricAuthenticateSuccess)
			}
		}()
	}
	wg.Wait()

	if got := m.Value(MetricAuthenticateSuccess); got != workers*perWorker {
		t.Fatalf("Value = %d, want %d", got, workers*perWorker)
	}
}

func TestEngineMetricsSnapshot(t *testing.T) {
	mr, rdb := newTestRedis(t)
	defer mr.Close()

	store := newMockCredentialStore()
	seedIdentity(t, store, "u1", "alice@example.com", "correct horse battery")
	engine := newTestEngine(t, rdb, store)

	if _, err := engine.Login(context.Background(), "alice@example.com", "correct horse battery"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	snap := engine.MetricsSnapshot()
	if got := snap.Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("snapshot MetricLoginSuccess = %d, want 1", got)
	}
	if got := snap.Counters[MetricSessionCreated]; got != 1 {
		t.Fatalf("snapshot MetricSessionCreated = %d, want 1", got)
	}
}
