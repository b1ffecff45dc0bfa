// Package metrics instruments the control plane with Prometheus. One
// Registry owns every collector; the node serves it on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the pre-registered collectors.
type Registry struct {
	reg *prometheus.Registry

	Cycles           *prometheus.CounterVec
	Decisions        *prometheus.CounterVec
	PolicyRejections *prometheus.CounterVec
	BreakerOpen      prometheus.Gauge
	QueueDepth       *prometheus.GaugeVec
	Sponsorships     *prometheus.CounterVec
	Posts            *prometheus.CounterVec
}

// NewRegistry creates the process registry with all collectors registered,
// plus the standard Go runtime and process collectors.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.Cycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_cycles_total",
		Help: "Orchestrator cycles run, by mode.",
	}, []string{"mode"})

	r.Decisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_decisions_total",
		Help: "Decisions produced, by action kind.",
	}, []string{"action"})

	r.PolicyRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_policy_rejections_total",
		Help: "Decisions rejected by policy, by first failing rule.",
	}, []string{"rule"})

	r.BreakerOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aegis_breaker_open",
		Help: "1 when the economic circuit breaker is open.",
	})

	r.QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "aegis_queue_depth",
		Help: "Sponsorship queue list lengths.",
	}, []string{"state"})

	r.Sponsorships = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_sponsorships_total",
		Help: "Queue sponsorships processed, by result.",
	}, []string{"result"})

	r.Posts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aegis_posts_total",
		Help: "Transparency posts published, by category.",
	}, []string{"category"})

	r.reg.MustRegister(
		r.Cycles, r.Decisions, r.PolicyRejections, r.BreakerOpen,
		r.QueueDepth, r.Sponsorships, r.Posts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler returns the scrape handler for the node mux.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// SetQueueDepth publishes one Stats snapshot.
func (r *Registry) SetQueueDepth(pending, processing, completed, failed int) {
	r.QueueDepth.WithLabelValues("pending").Set(float64(pending))
	r.QueueDepth.WithLabelValues("processing").Set(float64(processing))
	r.QueueDepth.WithLabelValues("completed").Set(float64(completed))
	r.QueueDepth.WithLabelValues("failed").Set(float64(failed))
}

// SetBreakerOpen publishes the breaker flag.
func (r *Registry) SetBreakerOpen(open bool) {
	if open {
		r.BreakerOpen.Set(1)
	} else {
		r.BreakerOpen.Set(0)
	}
}
