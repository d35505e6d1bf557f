package telemetry

import (
	"net/http"
	"strconv"

	"github.com/maxpert/ripple/cfg"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const namespace = "ripple"

// registry stays nil until InitializeTelemetry; every constructor then
// hands out noops
var registry *prometheus.Registry

type Histogram interface {
	Observe(float64)
}

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
}

// Vec types for labeled metrics
type CounterVec interface {
	With(labels ...string) Counter
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

type NoopStat struct{}

func (NoopStat) Observe(float64) {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Inc()            {}
func (NoopStat) Dec()            {}
func (NoopStat) Add(float64)     {}

type noopCounterVec struct{}
type noopHistogramVec struct{}

func (noopCounterVec) With(...string) Counter     { return NoopStat{} }
func (noopHistogramVec) With(...string) Histogram { return NoopStat{} }

type counterVec struct{ vec *prometheus.CounterVec }

func (c counterVec) With(labelValues ...string) Counter {
	return c.vec.WithLabelValues(labelValues...)
}

type histogramVec struct{ vec *prometheus.HistogramVec }

func (h histogramVec) With(labelValues ...string) Histogram {
	return h.vec.WithLabelValues(labelValues...)
}

func constLabels() prometheus.Labels {
	return prometheus.Labels{"node_id": strconv.FormatUint(cfg.Config.NodeID, 10)}
}

func counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help, ConstLabels: constLabels()}
}

func gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help, ConstLabels: constLabels()}
}

func histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets, ConstLabels: constLabels()}
}

func NewCounter(name string, help string) Counter {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewCounter(counterOpts(name, help))
	registry.MustRegister(ret)
	return ret
}

func NewGauge(name string, help string) Gauge {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewGauge(gaugeOpts(name, help))
	registry.MustRegister(ret)
	return ret
}

// NewHistogramWithBuckets creates a histogram; nil buckets use prometheus defaults
func NewHistogramWithBuckets(name, help string, buckets []float64) Histogram {
	if registry == nil {
		return NoopStat{}
	}
	ret := prometheus.NewHistogram(histogramOpts(name, help, buckets))
	registry.MustRegister(ret)
	return ret
}

func NewCounterVec(name, help string, labels []string) CounterVec {
	if registry == nil {
		return noopCounterVec{}
	}
	ret := prometheus.NewCounterVec(counterOpts(name, help), labels)
	registry.MustRegister(ret)
	return counterVec{vec: ret}
}

func NewHistogramVec(name, help string, labels []string, buckets []float64) HistogramVec {
	if registry == nil {
		return noopHistogramVec{}
	}
	ret := prometheus.NewHistogramVec(histogramOpts(name, help, buckets), labels)
	registry.MustRegister(ret)
	return histogramVec{vec: ret}
}

// NewGaugeFunc registers a gauge whose value is sampled from fn on every scrape.
// Registering the same name twice keeps the first collector.
func NewGaugeFunc(name, help string, fn func() float64) {
	if registry == nil {
		return
	}
	if err := registry.Register(prometheus.NewGaugeFunc(gaugeOpts(name, help), fn)); err != nil {
		log.Warn().Err(err).Str("metric", name).Msg("Gauge already registered")
	}
}

func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()

	// Register process and Go runtime collectors for CPU/memory metrics
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())

	log.Info().Msg("Prometheus metrics enabled - served by the admin API at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics
// Returns nil if Prometheus is not enabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
