// Package metrics exposes processing counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scopes label the pipeline a counter belongs to.
const (
	ScopeProcess = "processMedia"
	ScopeResize  = "resizeMedia"
)

type Prometheus struct {
	registry *prometheus.Registry

	succeeded    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	deadLettered *prometheus.CounterVec
}

// New registers the counters on a private registry together with the Go and
// process collectors.
func New() *Prometheus {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Prometheus{
		registry: reg,
		succeeded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_async_processing_success_total",
				Help: "Transformations that reached COMPLETE",
			},
			[]string{"scope"},
		),
		failed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_async_processing_failure_total",
				Help: "Transformations that ended in ERROR",
			},
			[]string{"scope", "reason"},
		),
		skipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_async_processing_skipped_total",
				Help: "Triggers dropped because another invocation owned the record",
			},
			[]string{"scope"},
		),
		deadLettered: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "media_messages_dead_lettered_total",
				Help: "Messages moved to a dead-letter topic",
			},
			[]string{"topic", "reason"},
		),
	}
}

func (p *Prometheus) ProcessingSucceeded(scope string) {
	p.succeeded.WithLabelValues(scope).Inc()
}

func (p *Prometheus) ProcessingFailed(scope, reason string) {
	p.failed.WithLabelValues(scope, reason).Inc()
}

func (p *Prometheus) ProcessingSkipped(scope string) {
	p.skipped.WithLabelValues(scope).Inc()
}

func (p *Prometheus) MessageDeadLettered(topic, reason string) {
	p.deadLettered.WithLabelValues(topic, reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
