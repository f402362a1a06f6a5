package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry wraps the Prometheus collectors used by a Talk2Me server.
// Each server instance owns its own registry so front and chat servers
// can run side by side in one test process.
type Registry struct {
	reg *prometheus.Registry

	ActiveConnections prometheus.Gauge
	RequestsTotal     *prometheus.CounterVec
	RequestLatency    prometheus.Histogram
	SnapshotErrors    prometheus.Counter
	FederationErrors  prometheus.Counter

	CPUPercent   prometheus.Gauge
	HeapAllocMB  prometheus.Gauge
	MemoryUsedMB prometheus.Gauge
}

// NewRegistry creates Prometheus metrics collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talk2me_connections_active",
			Help: "Number of active client connections",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "talk2me_requests_total",
			Help: "Total number of handled requests by operation",
		}, []string{"operation"}),
		RequestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "talk2me_request_latency_seconds",
			Help:    "Latency of handled requests",
			Buckets: prometheus.DefBuckets,
		}),
		SnapshotErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk2me_snapshot_errors_total",
			Help: "Total number of failed store snapshot writes",
		}),
		FederationErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "talk2me_federation_errors_total",
			Help: "Total number of failed federation round trips",
		}),
		CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talk2me_cpu_percent",
			Help: "Smoothed system CPU usage percentage",
		}),
		HeapAllocMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talk2me_heap_alloc_mb",
			Help: "Go heap in use, megabytes",
		}),
		MemoryUsedMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "talk2me_memory_used_mb",
			Help: "System memory in use, megabytes",
		}),
	}
}

// Handler returns an HTTP handler exposing this registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
