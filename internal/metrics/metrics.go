// Package metrics exports harness and evaluator events as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"covbench/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements ports.MetricsRecorder on a private registry.
type Recorder struct {
	registry         *prometheus.Registry
	trialDuration    *prometheus.HistogramVec
	trialsTotal      *prometheus.CounterVec
	selectionSize    *prometheus.GaugeVec
	methodsCompleted *prometheus.CounterVec
	methodsFailed    *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them, together with the Go
// runtime and process collectors, on a new registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		trialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "covbench_trial_duration_seconds",
				Help:    "Wall time of one fit-and-score trial",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"method"},
		),
		trialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covbench_trials_total",
				Help: "Trials run, by outcome (ok or failed)",
			},
			[]string{"method", "outcome"},
		),
		selectionSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "covbench_selection_candidates",
				Help: "Number of candidate configurations in the latest grid search",
			},
			[]string{"method"},
		),
		methodsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covbench_methods_completed_total",
				Help: "Methods that finished selection and evaluation",
			},
			[]string{"method"},
		),
		methodsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covbench_methods_failed_total",
				Help: "Methods skipped because selection or evaluation failed",
			},
			[]string{"method"},
		),
	}
	r.registry.MustRegister(
		r.trialDuration, r.trialsTotal, r.selectionSize, r.methodsCompleted, r.methodsFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) ObserveTrial(method string, elapsed time.Duration, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	r.trialDuration.WithLabelValues(method).Observe(elapsed.Seconds())
	r.trialsTotal.WithLabelValues(method, outcome).Inc()
}

func (r *Recorder) ObserveSelection(method string, candidates int) {
	r.selectionSize.WithLabelValues(method).Set(float64(candidates))
}

func (r *Recorder) MethodFailed(method string) {
	r.methodsFailed.WithLabelValues(method).Inc()
}

func (r *Recorder) MethodCompleted(method string) {
	r.methodsCompleted.WithLabelValues(method).Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

var _ ports.MetricsRecorder = (*Recorder)(nil)
