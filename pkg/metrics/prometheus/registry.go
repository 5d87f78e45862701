package prometheus

import (
	"strconv"
	"time"

	"github.com/marmos91/dittorpc/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// registryMetrics is the Prometheus implementation of metrics.RegistryMetrics.
type registryMetrics struct {
	inserts      *prometheus.CounterVec
	collisions   *prometheus.CounterVec
	removes      *prometheus.CounterVec
	registered   prometheus.Gauge
	scanDuration prometheus.Histogram
	scanVisits   prometheus.Counter
	scanRestarts prometheus.Counter
	incomplete   prometheus.Counter
}

// NewRegistryMetrics creates Prometheus-backed registry metrics on the global
// registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry not called).
func NewRegistryMetrics() metrics.RegistryMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopRegistryMetrics()
	}
	return NewRegistryMetricsWith(metrics.GetRegistry())
}

// NewRegistryMetricsWith registers the registry metrics on reg.
func NewRegistryMetricsWith(reg prometheus.Registerer) metrics.RegistryMetrics {
	return &registryMetrics{
		inserts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittorpc_registry_inserts_total",
				Help: "Total number of transports registered, by partition",
			},
			[]string{"partition"},
		),
		collisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittorpc_registry_insert_collisions_total",
				Help: "Total number of inserts rejected because the descriptor was already registered",
			},
			[]string{"partition"},
		),
		removes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittorpc_registry_removes_total",
				Help: "Total number of transports unlinked, by partition",
			},
			[]string{"partition"},
		),
		registered: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittorpc_registry_transports",
				Help: "Current number of registered transports",
			},
		),
		scanDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittorpc_registry_scan_duration_seconds",
				Help: "Duration of full registry enumerations in seconds",
				Buckets: []float64{
					0.0001, // 100us
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
					10.0,   // 10s
				},
			},
		),
		scanVisits: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittorpc_registry_scan_visits_total",
				Help: "Total number of visitor invocations across all enumerations",
			},
		),
		scanRestarts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittorpc_registry_scan_restarts_total",
				Help: "Total number of partition scan restarts",
			},
		),
		incomplete: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittorpc_registry_scan_incomplete_partitions_total",
				Help: "Total number of partition scans aborted after exhausting the restart budget",
			},
		),
	}
}

func (m *registryMetrics) RecordInsert(partition int) {
	m.inserts.WithLabelValues(strconv.Itoa(partition)).Inc()
}

func (m *registryMetrics) RecordCollision(partition int) {
	m.collisions.WithLabelValues(strconv.Itoa(partition)).Inc()
}

func (m *registryMetrics) RecordRemove(partition int) {
	m.removes.WithLabelValues(strconv.Itoa(partition)).Inc()
}

func (m *registryMetrics) SetRegistered(count int64) {
	m.registered.Set(float64(count))
}

func (m *registryMetrics) ObserveScan(duration time.Duration, visited, restarts, incomplete int) {
	m.scanDuration.Observe(duration.Seconds())
	m.scanVisits.Add(float64(visited))
	m.scanRestarts.Add(float64(restarts))
	m.incomplete.Add(float64(incomplete))
}
