package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// GatewayMetrics tracks order flow through the gateway.
type GatewayMetrics struct {
	// Round trip from dispatch to venue response.
	ResponseLatency *LatencyHistogram

	queued      atomic.Uint64
	amended     atomic.Uint64
	cancelled   atomic.Uint64
	rejected    atomic.Uint64
	dispatched  atomic.Uint64
	accepted    atomic.Uint64
	venueReject atomic.Uint64
	expired     atomic.Uint64
	anomalies   atomic.Uint64

	mu          sync.RWMutex
	rejectCount map[string]uint64
	sessionOpen bool
	lastChange  time.Time
}

// LatencyHistogram tracks latency samples with sliding window.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewGatewayMetrics creates a new metrics instance.
func NewGatewayMetrics() *GatewayMetrics {
	return &GatewayMetrics{
		ResponseLatency: NewLatencyHistogram(1000),
		rejectCount:     make(map[string]uint64),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99. Stats are only recomputed
// after new samples arrive.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false
	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

func (m *GatewayMetrics) IncQueued()     { m.queued.Add(1) }
func (m *GatewayMetrics) IncAmended()    { m.amended.Add(1) }
func (m *GatewayMetrics) IncCancelled()  { m.cancelled.Add(1) }
func (m *GatewayMetrics) IncDispatched() { m.dispatched.Add(1) }
func (m *GatewayMetrics) IncExpired()    { m.expired.Add(1) }
func (m *GatewayMetrics) IncAnomalies()  { m.anomalies.Add(1) }

// IncRejected counts a client-facing rejection by reason.
func (m *GatewayMetrics) IncRejected(reason string) {
	m.rejected.Add(1)
	m.mu.Lock()
	m.rejectCount[reason]++
	m.mu.Unlock()
}

// RecordResponse counts a venue verdict and samples its latency.
func (m *GatewayMetrics) RecordResponse(accepted bool, latency time.Duration) {
	if accepted {
		m.accepted.Add(1)
	} else {
		m.venueReject.Add(1)
	}
	m.ResponseLatency.RecordDuration(latency)
}

// SetSession records the latest session state.
func (m *GatewayMetrics) SetSession(open bool, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionOpen = open
	m.lastChange = at
}

// MetricsSnapshot is a point-in-time view of GatewayMetrics.
type MetricsSnapshot struct {
	ResponseLatency   LatencyStats      `json:"response_latency_ms"`
	Queued            uint64            `json:"queued"`
	Amended           uint64            `json:"amended"`
	Cancelled         uint64            `json:"cancelled"`
	Rejected          uint64            `json:"rejected"`
	RejectedByReason  map[string]uint64 `json:"rejected_by_reason"`
	Dispatched        uint64            `json:"dispatched"`
	Accepted          uint64            `json:"accepted"`
	VenueRejected     uint64            `json:"venue_rejected"`
	Expired           uint64            `json:"expired"`
	Anomalies         uint64            `json:"anomalies"`
	SessionOpen       bool              `json:"session_open"`
	LastSessionChange time.Time         `json:"last_session_change"`
	GoroutineCount    int               `json:"goroutine_count"`
	HeapAlloc         uint64            `json:"heap_alloc_bytes"`
	Timestamp         time.Time         `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *GatewayMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	reasons := make(map[string]uint64, len(m.rejectCount))
	for k, v := range m.rejectCount {
		reasons[k] = v
	}
	open, changed := m.sessionOpen, m.lastChange
	m.mu.RUnlock()

	return MetricsSnapshot{
		ResponseLatency:   m.ResponseLatency.Stats(),
		Queued:            m.queued.Load(),
		Amended:           m.amended.Load(),
		Cancelled:         m.cancelled.Load(),
		Rejected:          m.rejected.Load(),
		RejectedByReason:  reasons,
		Dispatched:        m.dispatched.Load(),
		Accepted:          m.accepted.Load(),
		VenueRejected:     m.venueReject.Load(),
		Expired:           m.expired.Load(),
		Anomalies:         m.anomalies.Load(),
		SessionOpen:       open,
		LastSessionChange: changed,
		GoroutineCount:    runtime.NumGoroutine(),
		HeapAlloc:         memStats.HeapAlloc,
		Timestamp:         time.Now(),
	}
}
