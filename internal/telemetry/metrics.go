package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters/gauges the iron thread and bridge update.
// Names mirror the `neuroplc_*` convention used by the original metrics
// exporter this was distilled from.
type Metrics struct {
	Registry *prometheus.Registry

	CyclesTotal          prometheus.Counter
	SafetyRejectionsTotal *prometheus.CounterVec
	RecommendationsApplied prometheus.Counter
	WatchdogTripsTotal   prometheus.Counter
	AuditDroppedTotal    prometheus.Counter
	BridgeConnections    prometheus.Gauge
	JitterMicroseconds   prometheus.Histogram
}

// NewMetrics constructs and registers the metric set on a fresh registry
// (never the global default, so multiple instances in tests don't collide).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neuroplc_cycles_total",
			Help: "Total iron thread cycles executed.",
		}),
		SafetyRejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "neuroplc_safety_rejections_total",
			Help: "Total firewall rejections by violation kind.",
		}, []string{"kind"}),
		RecommendationsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neuroplc_recommendations_applied_total",
			Help: "Total recommendations committed to the actuator.",
		}),
		WatchdogTripsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neuroplc_watchdog_trips_total",
			Help: "Total watchdog timeouts (cycle overruns beyond the watchdog limit).",
		}),
		AuditDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neuroplc_audit_dropped_total",
			Help: "Total audit events dropped due to queue saturation.",
		}),
		BridgeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "neuroplc_bridge_connections",
			Help: "Current number of live bridge connections.",
		}),
		JitterMicroseconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "neuroplc_cycle_jitter_microseconds",
			Help:    "Cycle wake jitter in microseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3200},
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.SafetyRejectionsTotal,
		m.RecommendationsApplied,
		m.WatchdogTripsTotal,
		m.AuditDroppedTotal,
		m.BridgeConnections,
		m.JitterMicroseconds,
	)

	return m
}

// The methods below satisfy spine.MetricsSink, bridge.MetricsSink, and
// audit.MetricsSink structurally, without this package importing any of
// them — the same decoupling those packages' own AuditSink interfaces use.

// CycleObserved records one iron thread cycle against the cycle counter and
// jitter histogram.
func (m *Metrics) CycleObserved(jitterUS int32) {
	m.CyclesTotal.Inc()
	m.JitterMicroseconds.Observe(float64(jitterUS))
}

// RejectionObserved increments neuroplc_safety_rejections_total for kind.
func (m *Metrics) RejectionObserved(kind string) {
	m.SafetyRejectionsTotal.WithLabelValues(kind).Inc()
}

// ApplyObserved increments neuroplc_recommendations_applied_total.
func (m *Metrics) ApplyObserved() {
	m.RecommendationsApplied.Inc()
}

// WatchdogObserved increments neuroplc_watchdog_trips_total.
func (m *Metrics) WatchdogObserved() {
	m.WatchdogTripsTotal.Inc()
}

// DropObserved increments neuroplc_audit_dropped_total.
func (m *Metrics) DropObserved() {
	m.AuditDroppedTotal.Inc()
}

// ConnectionOpened/ConnectionClosed track neuroplc_bridge_connections.
func (m *Metrics) ConnectionOpened() { m.BridgeConnections.Inc() }
func (m *Metrics) ConnectionClosed() { m.BridgeConnections.Dec() }
