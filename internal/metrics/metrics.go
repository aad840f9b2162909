// Package metrics exposes Prometheus instrumentation for plugin loading,
// device capture and workflow execution. Every method is safe to call on a
// nil *Metrics so components can run uninstrumented.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vision"

// Metrics holds the collectors and the private registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	PluginLoads       *prometheus.CounterVec
	PluginsLoaded     prometheus.Gauge
	DeviceCaptures    *prometheus.CounterVec
	DevicesConnected  prometheus.Gauge
	NodeExecutions    *prometheus.CounterVec
	NodeDuration      *prometheus.HistogramVec
	WorkflowRuns      *prometheus.CounterVec
	WorkflowDuration  prometheus.Histogram
	AlgorithmCacheHit *prometheus.CounterVec
}

// New creates the collectors and registers them, with Go runtime collectors,
// on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		PluginLoads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "loads_total",
				Help:      "Plugin load attempts by outcome",
			},
			[]string{"plugin", "outcome"},
		),

		PluginsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "loaded",
				Help:      "Number of plugins currently loaded",
			},
		),

		DeviceCaptures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "captures_total",
				Help:      "Image captures by device and status",
			},
			[]string{"device", "status"},
		),

		DevicesConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "device",
				Name:      "connected",
				Help:      "Number of connected devices",
			},
		),

		NodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "node_executions_total",
				Help:      "Workflow node executions by node type and status",
			},
			[]string{"type", "status"},
		),

		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "node_duration_seconds",
				Help:      "Workflow node execution time",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"type"},
		),

		WorkflowRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "runs_total",
				Help:      "Workflow executions by outcome",
			},
			[]string{"outcome"},
		),

		WorkflowDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "workflow",
				Name:      "duration_seconds",
				Help:      "Whole workflow execution time",
				Buckets:   prometheus.DefBuckets,
			},
		),

		AlgorithmCacheHit: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plugin",
				Name:      "cache_lookups_total",
				Help:      "Cached algorithm lookups by plugin and result",
			},
			[]string{"plugin", "result"},
		),
	}

	m.registry.MustRegister(
		m.PluginLoads,
		m.PluginsLoaded,
		m.DeviceCaptures,
		m.DevicesConnected,
		m.NodeExecutions,
		m.NodeDuration,
		m.WorkflowRuns,
		m.WorkflowDuration,
		m.AlgorithmCacheHit,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the underlying Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordPluginLoad(id, outcome string) {
	if m == nil {
		return
	}
	m.PluginLoads.WithLabelValues(id, outcome).Inc()
}

func (m *Metrics) SetPluginsLoaded(n int) {
	if m == nil {
		return
	}
	m.PluginsLoaded.Set(float64(n))
}

func (m *Metrics) RecordCapture(deviceID string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.DeviceCaptures.WithLabelValues(deviceID, status).Inc()
}

func (m *Metrics) SetDevicesConnected(n int) {
	if m == nil {
		return
	}
	m.DevicesConnected.Set(float64(n))
}

func (m *Metrics) RecordNode(nodeType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.NodeExecutions.WithLabelValues(nodeType, status).Inc()
	m.NodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}

func (m *Metrics) RecordWorkflow(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowRuns.WithLabelValues(outcome).Inc()
	m.WorkflowDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordCacheLookup(pluginID string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.AlgorithmCacheHit.WithLabelValues(pluginID, result).Inc()
}
