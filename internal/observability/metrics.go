package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the agent's in-process Prometheus registry. No HTTP server
// is required by the spec; Handler is exposed for completeness since the
// teacher always serves its metrics alongside its other HTTP surfaces.
type Metrics struct {
	registry *prometheus.Registry

	ToolInstallAttempts  *prometheus.CounterVec
	ToolInstallDuration  *prometheus.HistogramVec
	ToolProcessRestarts  *prometheus.CounterVec
	ConnectionProbeTotal *prometheus.CounterVec
	BusReconnects        prometheus.Counter
	SelfUpdateAttempts   *prometheus.CounterVec
}

// NewMetrics registers and returns the agent's metric set against a
// fresh registry (not the global default, so tests can construct more
// than one instance without collector-already-registered panics).
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ToolInstallAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openframe_tool_install_attempts_total",
			Help: "Tool installation attempts by tool_agent_id and outcome.",
		}, []string{"tool_agent_id", "outcome"}),
		ToolInstallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openframe_tool_install_duration_seconds",
			Help:    "Tool installation duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"tool_agent_id"}),
		ToolProcessRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openframe_tool_process_restarts_total",
			Help: "Supervised tool process restarts by tool_agent_id.",
		}, []string{"tool_agent_id"}),
		ConnectionProbeTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openframe_connection_probe_total",
			Help: "Connection-probe executions by tool_agent_id and outcome.",
		}, []string{"tool_agent_id", "outcome"}),
		BusReconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "openframe_bus_reconnects_total",
			Help: "NATS bus reconnect events, including auth-triggered redials.",
		}),
		SelfUpdateAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openframe_self_update_attempts_total",
			Help: "Agent self-update attempts by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
