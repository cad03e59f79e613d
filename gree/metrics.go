package gree

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a thread-safe counter
type Counter struct {
	value int64
}

// Add adds a delta to the counter
func (c *Counter) Add(delta int64) {
	atomic.AddInt64(&c.value, delta)
}

// Inc increments the counter by 1
func (c *Counter) Inc() {
	c.Add(1)
}

// Value returns the current counter value
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Reset resets the counter to 0
func (c *Counter) Reset() {
	atomic.StoreInt64(&c.value, 0)
}

// Gauge is a thread-safe gauge that can go up and down
type Gauge struct {
	value int64
}

// Set sets the gauge value
func (g *Gauge) Set(value int64) {
	atomic.StoreInt64(&g.value, value)
}

// Value returns the current gauge value
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// latencyBounds are the upper bounds of the histogram buckets; the last
// bucket is unbounded.
var latencyBounds = []time.Duration{
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	3 * time.Second,
	10 * time.Second,
}

// LatencyHistogram tracks latency measurements
type LatencyHistogram struct {
	mu      sync.RWMutex
	count   int64
	sum     int64 // nanoseconds
	min     int64
	max     int64
	buckets []int64
}

// NewLatencyHistogram creates a new latency histogram
func NewLatencyHistogram() *LatencyHistogram {
	return &LatencyHistogram{
		min:     -1,
		buckets: make([]int64, len(latencyBounds)+1),
	}
}

// Record records a latency measurement
func (h *LatencyHistogram) Record(d time.Duration) {
	ns := d.Nanoseconds()

	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += ns
	if h.min < 0 || ns < h.min {
		h.min = ns
	}
	if ns > h.max {
		h.max = ns
	}

	i := 0
	for i < len(latencyBounds) && d >= latencyBounds[i] {
		i++
	}
	h.buckets[i]++
}

// Stats returns histogram statistics
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := LatencyStats{
		Count:   h.count,
		Sum:     time.Duration(h.sum),
		Buckets: make([]int64, len(h.buckets)),
	}
	copy(stats.Buckets, h.buckets)

	if h.count > 0 {
		stats.Min = time.Duration(h.min)
		stats.Max = time.Duration(h.max)
		stats.Avg = time.Duration(h.sum / h.count)
	}
	return stats
}

// Reset resets the histogram
func (h *LatencyHistogram) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count = 0
	h.sum = 0
	h.min = -1
	h.max = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

// LatencyStats contains latency statistics. Buckets[i] counts samples below
// LatencyBounds()[i]; the last bucket counts the rest.
type LatencyStats struct {
	Count   int64
	Sum     time.Duration
	Min     time.Duration
	Max     time.Duration
	Avg     time.Duration
	Buckets []int64
}

// LatencyBounds returns the bucket upper bounds used by LatencyHistogram.
func LatencyBounds() []time.Duration {
	return append([]time.Duration(nil), latencyBounds...)
}

// Metrics holds client metrics
type Metrics struct {
	// Connection metrics
	ConnectAttempts   Counter
	ConnectSuccesses  Counter
	HandshakeTimeouts Counter
	Disconnects       Counter

	// Handshake
	ScansSent         Counter
	BindRequests      Counter
	CipherEscalations Counter
	HandshakeLatency  *LatencyHistogram

	// Datagrams
	DatagramsSent        Counter
	DatagramsReceived    Counter
	SendFailures         Counter
	DecodeErrors         Counter
	DecryptErrors        Counter
	UnrecognizedMessages Counter

	// Polling
	StatusRequests  Counter
	StatusResponses Counter
	PollTimeouts    Counter

	// Commands
	CommandsSent      Counter
	CommandsConfirmed Counter
	CommandTimeouts   Counter
	CommandLatency    *LatencyHistogram
	QueuedCommands    Gauge

	EventsDropped Counter

	// Bytes
	BytesSent     Counter
	BytesReceived Counter

	// Timestamps
	startTime    time.Time
	lastActivity atomic.Int64
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		HandshakeLatency: NewLatencyHistogram(),
		CommandLatency:   NewLatencyHistogram(),
		startTime:        time.Now(),
	}
}

// RecordActivity records the last activity time
func (m *Metrics) RecordActivity() {
	m.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the last activity time
func (m *Metrics) LastActivity() time.Time {
	ns := m.lastActivity.Load()
	if ns == 0 {
		return m.startTime
	}
	return time.Unix(0, ns)
}

// Uptime returns the time since metrics started
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns a snapshot of current metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Uptime: m.Uptime(),

		ConnectAttempts:   m.ConnectAttempts.Value(),
		ConnectSuccesses:  m.ConnectSuccesses.Value(),
		HandshakeTimeouts: m.HandshakeTimeouts.Value(),
		Disconnects:       m.Disconnects.Value(),

		ScansSent:         m.ScansSent.Value(),
		BindRequests:      m.BindRequests.Value(),
		CipherEscalations: m.CipherEscalations.Value(),
		HandshakeLatency:  m.HandshakeLatency.Stats(),

		DatagramsSent:        m.DatagramsSent.Value(),
		DatagramsReceived:    m.DatagramsReceived.Value(),
		SendFailures:         m.SendFailures.Value(),
		DecodeErrors:         m.DecodeErrors.Value(),
		DecryptErrors:        m.DecryptErrors.Value(),
		UnrecognizedMessages: m.UnrecognizedMessages.Value(),

		StatusRequests:  m.StatusRequests.Value(),
		StatusResponses: m.StatusResponses.Value(),
		PollTimeouts:    m.PollTimeouts.Value(),

		CommandsSent:      m.CommandsSent.Value(),
		CommandsConfirmed: m.CommandsConfirmed.Value(),
		CommandTimeouts:   m.CommandTimeouts.Value(),
		CommandLatency:    m.CommandLatency.Stats(),
		QueuedCommands:    m.QueuedCommands.Value(),

		EventsDropped: m.EventsDropped.Value(),

		BytesSent:     m.BytesSent.Value(),
		BytesReceived: m.BytesReceived.Value(),

		LastActivity: m.LastActivity(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	Uptime time.Duration

	ConnectAttempts   int64
	ConnectSuccesses  int64
	HandshakeTimeouts int64
	Disconnects       int64

	ScansSent         int64
	BindRequests      int64
	CipherEscalations int64
	HandshakeLatency  LatencyStats

	DatagramsSent        int64
	DatagramsReceived    int64
	SendFailures         int64
	DecodeErrors         int64
	DecryptErrors        int64
	UnrecognizedMessages int64

	StatusRequests  int64
	StatusResponses int64
	PollTimeouts    int64

	CommandsSent      int64
	CommandsConfirmed int64
	CommandTimeouts   int64
	CommandLatency    LatencyStats
	QueuedCommands    int64

	EventsDropped int64

	BytesSent     int64
	BytesReceived int64

	LastActivity time.Time
}
