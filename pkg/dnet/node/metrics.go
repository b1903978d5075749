package node

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes the counters and gauges that make the spec's stats
// fields (Transaction.Stats, the I/O queue's backpressure accounting)
// observable from outside the process. cmd/dnetnode mounts these behind
// promhttp.Handler; pkg/dnet itself stays exporter-agnostic.
type Metrics struct {
	Outstanding prometheus.Gauge
	Forwards    prometheus.Counter
	Timeouts    prometheus.Counter
	BytesSent   prometheus.Counter
	BytesRecv   prometheus.Counter
	QueueDepth  prometheus.Gauge
	LateReplies prometheus.Counter
}

// NewMetrics registers every gauge/counter on reg and returns the bundle.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// default global registry across parallel test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dnet", Subsystem: "mux", Name: "transactions_outstanding",
			Help: "Transactions currently registered across all peers.",
		}),
		Forwards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dnet", Subsystem: "mux", Name: "forwards_total",
			Help: "Requests forwarded to a peer that owns the key.",
		}),
		Timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dnet", Subsystem: "mux", Name: "timeouts_total",
			Help: "Transactions completed by deadline sweep instead of a reply.",
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dnet", Subsystem: "io", Name: "bytes_sent_total",
			Help: "Bytes of dispatcher replies enqueued for writing to peers.",
		}),
		BytesRecv: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dnet", Subsystem: "io", Name: "bytes_received_total",
			Help: "Bytes read across all peer connections.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dnet", Subsystem: "io", Name: "queue_depth_bytes",
			Help: "Bytes currently enqueued awaiting an I/O worker.",
		}),
		LateReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dnet", Subsystem: "mux", Name: "late_replies_total",
			Help: "Replies discarded because their transaction had already timed out.",
		}),
	}
	reg.MustRegister(m.Outstanding, m.Forwards, m.Timeouts, m.BytesSent, m.BytesRecv, m.QueueDepth, m.LateReplies)
	return m
}
