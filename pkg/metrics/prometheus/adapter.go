package prometheus

import (
	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// adapterMetrics is the Prometheus implementation of metrics.AdapterMetrics.
type adapterMetrics struct {
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsRejected    *prometheus.CounterVec
	connectionsForceClosed prometheus.Counter
	connectionsReaped      prometheus.Counter
	bytesTransferred       *prometheus.CounterVec
}

// NewAdapterMetrics creates Prometheus-backed dispatcher metrics on the
// global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewAdapterMetrics() metrics.AdapterMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopAdapterMetrics()
	}
	return NewAdapterMetricsWith(metrics.GetRegistry())
}

// NewAdapterMetricsWith registers the dispatcher metrics on reg.
func NewAdapterMetricsWith(reg prometheus.Registerer) metrics.AdapterMetrics {
	return &adapterMetrics{
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittorpc_active_connections",
				Help: "Current number of active RPC connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittorpc_connections_accepted_total",
				Help: "Total number of RPC connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittorpc_connections_closed_total",
				Help: "Total number of RPC connections closed",
			},
		),
		connectionsRejected: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittorpc_connections_rejected_total",
				Help: "Total number of RPC connections dropped at accept time, by reason",
			},
			[]string{"reason"},
		),
		connectionsForceClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittorpc_connections_force_closed_total",
				Help: "Total number of RPC connections force-closed during shutdown timeout",
			},
		),
		connectionsReaped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittorpc_connections_reaped_total",
				Help: "Total number of idle RPC connections closed by the reaper",
			},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittorpc_bytes_transferred_total",
				Help: "Total bytes transferred over RPC connections",
			},
			[]string{"direction"}, // read or write
		),
	}
}

func (m *adapterMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *adapterMetrics) RecordConnectionAccepted() {
	m.connectionsAccepted.Inc()
}

func (m *adapterMetrics) RecordConnectionClosed() {
	m.connectionsClosed.Inc()
}

func (m *adapterMetrics) RecordConnectionRejected(reason string) {
	m.connectionsRejected.WithLabelValues(reason).Inc()
}

func (m *adapterMetrics) RecordConnectionForceClosed() {
	m.connectionsForceClosed.Inc()
}

func (m *adapterMetrics) RecordConnectionsReaped(count int) {
	m.connectionsReaped.Add(float64(count))
}

func (m *adapterMetrics) RecordBytesTransferred(direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(direction).Add(float64(bytes))
}
