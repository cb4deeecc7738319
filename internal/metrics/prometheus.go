// ABOUTME: Prometheus-backed Recorder with its own registry.
// ABOUTME: Handler exposes the registry for scraping on the configured path.

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	sessionsTotal   *prometheus.CounterVec
	consumersActive prometheus.Gauge
	eventsTotal     *prometheus.CounterVec
	routingTotal    *prometheus.CounterVec
	executorRounds  prometheus.Histogram
	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder registered on a fresh registry,
// together with the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mimrai_sessions_total",
				Help: "Stream session lifecycle transitions by event",
			},
			[]string{"event"},
		),
		consumersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mimrai_consumers_active",
				Help: "Number of attached stream consumers",
			},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mimrai_stream_events_total",
				Help: "Events appended to stream buffers by kind",
			},
			[]string{"kind"},
		),
		routingTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mimrai_routing_decisions_total",
				Help: "Turns routed to each agent",
			},
			[]string{"agent", "fallback"},
		),
		executorRounds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mimrai_executor_rounds",
				Help:    "Generation rounds used per turn",
				Buckets: prometheus.LinearBuckets(1, 1, 10),
			},
		),
		toolInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mimrai_tool_invocations_total",
				Help: "Tool invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mimrai_tool_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
	}
}

// Registry returns the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusRecorder) SessionEvent(event string) {
	p.sessionsTotal.WithLabelValues(event).Inc()
}

func (p *PrometheusRecorder) ConsumerAttached() {
	p.consumersActive.Inc()
}

func (p *PrometheusRecorder) ConsumerDetached() {
	p.consumersActive.Dec()
}

func (p *PrometheusRecorder) EventAppended(kind string) {
	p.eventsTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusRecorder) RoutingDecision(agent string, fallback bool) {
	p.routingTotal.WithLabelValues(agent, strconv.FormatBool(fallback)).Inc()
}

func (p *PrometheusRecorder) ObserveRounds(rounds int) {
	p.executorRounds.Observe(float64(rounds))
}

func (p *PrometheusRecorder) ObserveTool(tool string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	p.toolInvocations.WithLabelValues(tool, status).Inc()
	p.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}
