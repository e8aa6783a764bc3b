// Package telemetry provides Prometheus instrumentation for the SDK.
//
// Collectors live in a dedicated [prometheus.Registry] (never the global
// default) so that hosts control where SDK metrics surface. A nil *Metrics
// is valid and records nothing; call sites stay unconditional.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors used by the SDK.
type Metrics struct {
	Registry *prometheus.Registry

	EvaluationsTotal     *prometheus.CounterVec
	SnapshotPublishes    prometheus.Counter
	SnapshotFeatures     prometheus.Gauge
	SnapshotProperties   prometheus.Gauge
	SyncState            prometheus.Gauge
	SyncReconnectsTotal  prometheus.Counter
	TokenRefreshesTotal  *prometheus.CounterVec
	MeteringFlushesTotal *prometheus.CounterVec
	MeteringDroppedTotal prometheus.Counter
}

// New creates and registers all SDK metrics in a fresh registry.
func New() *Metrics {
	return NewWith(prometheus.NewRegistry())
}

// NewWith registers all SDK metrics in the given registry. A nil registry
// yields a nil *Metrics, which disables instrumentation.
func NewWith(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		Registry: reg,

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appconfig_evaluations_total",
			Help: "Total number of feature and property evaluations.",
		}, []string{"kind", "targeted"}),

		SnapshotPublishes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appconfig_snapshot_publishes_total",
			Help: "Total number of configuration snapshots published.",
		}),

		SnapshotFeatures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "appconfig_snapshot_features",
			Help: "Number of features in the current snapshot.",
		}),

		SnapshotProperties: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "appconfig_snapshot_properties",
			Help: "Number of properties in the current snapshot.",
		}),

		SyncState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "appconfig_sync_state",
			Help: "Current sync pipeline state (0 initializing, 1 online, 2 degraded, 3 stopped).",
		}),

		SyncReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appconfig_sync_reconnects_total",
			Help: "Total number of notification stream reconnect attempts.",
		}),

		TokenRefreshesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appconfig_token_refreshes_total",
			Help: "Total number of bearer token exchanges.",
		}, []string{"success"}),

		MeteringFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appconfig_metering_flushes_total",
			Help: "Total number of usage batch uploads.",
		}, []string{"success"}),

		MeteringDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "appconfig_metering_dropped_total",
			Help: "Total number of usage records dropped after upload retries were exhausted.",
		}),
	}

	reg.MustRegister(
		m.EvaluationsTotal,
		m.SnapshotPublishes,
		m.SnapshotFeatures,
		m.SnapshotProperties,
		m.SyncState,
		m.SyncReconnectsTotal,
		m.TokenRefreshesTotal,
		m.MeteringFlushesTotal,
		m.MeteringDroppedTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves the SDK metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// RecordEvaluation increments the evaluation counter.
func (m *Metrics) RecordEvaluation(kind string, targeted bool) {
	if m == nil {
		return
	}
	m.EvaluationsTotal.WithLabelValues(kind, strconv.FormatBool(targeted)).Inc()
}

// RecordSnapshot increments the publish counter and updates the size gauges.
func (m *Metrics) RecordSnapshot(features, properties int) {
	if m == nil {
		return
	}
	m.SnapshotPublishes.Inc()
	m.SnapshotFeatures.Set(float64(features))
	m.SnapshotProperties.Set(float64(properties))
}

// RecordSyncState updates the pipeline state gauge.
func (m *Metrics) RecordSyncState(state int) {
	if m == nil {
		return
	}
	m.SyncState.Set(float64(state))
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.SyncReconnectsTotal.Inc()
}

// RecordTokenRefresh increments the token exchange counter.
func (m *Metrics) RecordTokenRefresh(success bool) {
	if m == nil {
		return
	}
	m.TokenRefreshesTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordMeteringFlush increments the usage upload counter.
func (m *Metrics) RecordMeteringFlush(success bool) {
	if m == nil {
		return
	}
	m.MeteringFlushesTotal.WithLabelValues(strconv.FormatBool(success)).Inc()
}

// RecordMeteringDropped adds to the dropped usage record counter.
func (m *Metrics) RecordMeteringDropped(n int) {
	if m == nil {
		return
	}
	m.MeteringDroppedTotal.Add(float64(n))
}
