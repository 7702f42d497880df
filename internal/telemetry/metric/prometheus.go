package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "snapfn"

// Registry holds all application metrics.
//
// A nil *Registry is valid and records nothing, so components can be
// constructed without metrics in tests.
type Registry struct {
	reg *prometheus.Registry

	invocations        *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	abandoned          prometheus.Counter

	storeOps     *prometheus.CounterVec
	storeRetries *prometheus.CounterVec

	bootDuration *prometheus.GaugeVec
}

// NewRegistry creates a registry with the process and Go collectors plus
// the snapfn instruments.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		reg: reg,
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "invocations_total",
			Help:      "Invocations by route and outcome kind",
		}, []string{"route", "outcome"}),
		invocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "invocation_duration_seconds",
			Help:      "Invocation latency by route",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "abandoned_handlers_total",
			Help:      "Handlers still running when their invocation timed out",
		}),
		storeOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Durable store operations by operation and result",
		}, []string{"op", "result"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "store",
			Name:      "retries_total",
			Help:      "Durable store attempts retried after a transient failure",
		}, []string{"op"}),
		bootDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "boot_duration_seconds",
			Help:      "Time spent bringing the environment to ready, by path",
		}, []string{"path"}),
	}

	reg.MustRegister(
		r.invocations,
		r.invocationDuration,
		r.abandoned,
		r.storeOps,
		r.storeRetries,
		r.bootDuration,
	)

	return r
}

// Registerer exposes the underlying registry for components that register
// their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	if r == nil {
		return nil
	}
	return r.reg
}

// Gatherer exposes the underlying registry for scraping.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// ObserveInvocation records one finished invocation.
func (r *Registry) ObserveInvocation(route, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "none"
	}
	if outcome == "" {
		outcome = "success"
	}
	r.invocations.WithLabelValues(route, outcome).Inc()
	r.invocationDuration.WithLabelValues(route).Observe(d.Seconds())
}

// IncAbandoned counts a handler left running after a timeout.
func (r *Registry) IncAbandoned() {
	if r == nil {
		return
	}
	r.abandoned.Inc()
}

// ObserveStoreOp records the final result of a store operation.
func (r *Registry) ObserveStoreOp(op, result string) {
	if r == nil {
		return
	}
	r.storeOps.WithLabelValues(op, result).Inc()
}

// IncStoreRetry counts a retried store attempt.
func (r *Registry) IncStoreRetry(op string) {
	if r == nil {
		return
	}
	r.storeRetries.WithLabelValues(op).Inc()
}

// ObserveBoot records how long the environment took to become ready.
func (r *Registry) ObserveBoot(path string, d time.Duration) {
	if r == nil {
		return
	}
	r.bootDuration.WithLabelValues(path).Set(d.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.Gatherer(), promhttp.HandlerOpts{})
}
