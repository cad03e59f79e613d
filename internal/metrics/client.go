package greemetrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edgeo/drivers/gree/gree"
)

// snapshotCounter exposes one counter of a client metrics snapshot.
type snapshotCounter struct {
	desc  *prometheus.Desc
	value func(*gree.MetricsSnapshot) int64
}

// ClientCollector exposes the counters kept by a gree.Client. One snapshot is
// taken per scrape.
type ClientCollector struct {
	metrics  *gree.Metrics
	counters []snapshotCounter

	queued           *prometheus.Desc
	handshakeLatency *prometheus.Desc
	commandLatency   *prometheus.Desc
}

// NewClientCollector creates a collector for the metrics of one client.
// It must be registered by the caller.
func NewClientCollector(device string, m *gree.Metrics) *ClientCollector {
	labels := prometheus.Labels{labelDevice: device}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, nil, labels)
	}
	counter := func(name, help string, value func(*gree.MetricsSnapshot) int64) snapshotCounter {
		return snapshotCounter{desc: desc(name, help), value: value}
	}

	return &ClientCollector{
		metrics: m,
		counters: []snapshotCounter{
			counter("connect_attempts_total", "Connect cycles started.",
				func(s *gree.MetricsSnapshot) int64 { return s.ConnectAttempts }),
			counter("connects_total", "Connect cycles that reached the bound state.",
				func(s *gree.MetricsSnapshot) int64 { return s.ConnectSuccesses }),
			counter("handshake_timeouts_total", "Handshakes restarted after the connect timeout.",
				func(s *gree.MetricsSnapshot) int64 { return s.HandshakeTimeouts }),
			counter("disconnects_total", "Disconnects.",
				func(s *gree.MetricsSnapshot) int64 { return s.Disconnects }),
			counter("scans_sent_total", "Discovery requests sent.",
				func(s *gree.MetricsSnapshot) int64 { return s.ScansSent }),
			counter("bind_requests_total", "Bind requests sent.",
				func(s *gree.MetricsSnapshot) int64 { return s.BindRequests }),
			counter("cipher_escalations_total", "Bind requests that switched to the current cipher.",
				func(s *gree.MetricsSnapshot) int64 { return s.CipherEscalations }),
			counter("datagrams_sent_total", "Datagrams sent.",
				func(s *gree.MetricsSnapshot) int64 { return s.DatagramsSent }),
			counter("datagrams_received_total", "Datagrams received.",
				func(s *gree.MetricsSnapshot) int64 { return s.DatagramsReceived }),
			counter("send_failures_total", "Datagrams that could not be sent.",
				func(s *gree.MetricsSnapshot) int64 { return s.SendFailures }),
			counter("decode_errors_total", "Datagrams discarded because the envelope was invalid.",
				func(s *gree.MetricsSnapshot) int64 { return s.DecodeErrors }),
			counter("decrypt_errors_total", "Datagrams discarded because the payload could not be decrypted.",
				func(s *gree.MetricsSnapshot) int64 { return s.DecryptErrors }),
			counter("unrecognized_messages_total", "Messages discarded because of their type.",
				func(s *gree.MetricsSnapshot) int64 { return s.UnrecognizedMessages }),
			counter("status_requests_total", "Status requests sent.",
				func(s *gree.MetricsSnapshot) int64 { return s.StatusRequests }),
			counter("status_responses_total", "Status replies received.",
				func(s *gree.MetricsSnapshot) int64 { return s.StatusResponses }),
			counter("poll_timeouts_total", "Status requests left unanswered.",
				func(s *gree.MetricsSnapshot) int64 { return s.PollTimeouts }),
			counter("commands_sent_total", "Commands sent.",
				func(s *gree.MetricsSnapshot) int64 { return s.CommandsSent }),
			counter("commands_confirmed_total", "Commands confirmed by the appliance.",
				func(s *gree.MetricsSnapshot) int64 { return s.CommandsConfirmed }),
			counter("command_timeouts_total", "Commands left unconfirmed.",
				func(s *gree.MetricsSnapshot) int64 { return s.CommandTimeouts }),
			counter("events_dropped_total", "Events dropped because the event channel was full.",
				func(s *gree.MetricsSnapshot) int64 { return s.EventsDropped }),
			counter("bytes_sent_total", "Bytes sent.",
				func(s *gree.MetricsSnapshot) int64 { return s.BytesSent }),
			counter("bytes_received_total", "Bytes received.",
				func(s *gree.MetricsSnapshot) int64 { return s.BytesReceived }),
		},
		queued:           desc("queued_commands", "Commands waiting for the in-flight one to complete."),
		handshakeLatency: desc("handshake_duration_seconds", "Time from connect to bind confirmation."),
		commandLatency:   desc("command_duration_seconds", "Time from command to confirmation."),
	}
}

// Describe implements prometheus.Collector.
func (c *ClientCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, sc := range c.counters {
		ch <- sc.desc
	}
	ch <- c.queued
	ch <- c.handshakeLatency
	ch <- c.commandLatency
}

// Collect implements prometheus.Collector.
func (c *ClientCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	for _, sc := range c.counters {
		ch <- prometheus.MustNewConstMetric(sc.desc, prometheus.CounterValue, float64(sc.value(&snap)))
	}
	ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(snap.QueuedCommands))
	ch <- latencyHistogram(c.handshakeLatency, snap.HandshakeLatency)
	ch <- latencyHistogram(c.commandLatency, snap.CommandLatency)
}

// latencyHistogram converts per-bucket counts into cumulative Prometheus
// buckets. The overflow bucket is covered by the total count.
func latencyHistogram(desc *prometheus.Desc, stats gree.LatencyStats) prometheus.Metric {
	bounds := gree.LatencyBounds()
	buckets := make(map[float64]uint64, len(bounds))

	var cumulative uint64
	for i, bound := range bounds {
		if i < len(stats.Buckets) {
			cumulative += uint64(stats.Buckets[i])
		}
		buckets[bound.Seconds()] = cumulative
	}

	return prometheus.MustNewConstHistogram(desc, uint64(stats.Count), stats.Sum.Seconds(), buckets)
}
