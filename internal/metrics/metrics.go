// Package metrics exports Prometheus instrumentation for the generation
// workflows. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hexworld"

// Recorder holds the workflow metrics.
type Recorder struct {
	activations *prometheus.CounterVec
	yields      *prometheus.CounterVec
	iterations  *prometheus.CounterVec
	stagesDone  *prometheus.CounterVec
	retries     *prometheus.CounterVec
	activation  *prometheus.HistogramVec
	failures    *prometheus.CounterVec
}

// New creates the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activations_total",
			Help:      "Scheduler callbacks dispatched into a workflow stage.",
		}, []string{"workflow", "stage"}),
		yields: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "yields_total",
			Help:      "Activations that ran out of iteration budget and yielded.",
		}, []string{"workflow", "stage"}),
		iterations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Loop bodies executed per stage.",
		}, []string{"workflow", "stage"}),
		stagesDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stages_completed_total",
			Help:      "Stage completions.",
		}, []string{"workflow", "stage"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connectivity_retries_total",
			Help:      "Level propagation restarts after a failed connectivity check.",
		}, []string{"workflow"}),
		activation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "activation_duration_seconds",
			Help:      "Wall time spent inside one activation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"workflow"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_errors_total",
			Help:      "Workflows that ended in the error state.",
		}, []string{"workflow", "stage"}),
	}

	reg.MustRegister(r.activations, r.yields, r.iterations, r.stagesDone,
		r.retries, r.activation, r.failures)
	return r
}

// Activation records one dispatched callback.
func (r *Recorder) Activation(workflow, stage string, iterations int, yielded bool, took time.Duration) {
	if r == nil {
		return
	}
	r.activations.WithLabelValues(workflow, stage).Inc()
	if iterations > 0 {
		r.iterations.WithLabelValues(workflow, stage).Add(float64(iterations))
	}
	if yielded {
		r.yields.WithLabelValues(workflow, stage).Inc()
	}
	r.activation.WithLabelValues(workflow).Observe(took.Seconds())
}

// StageDone records a completed stage.
func (r *Recorder) StageDone(workflow, stage string) {
	if r == nil {
		return
	}
	r.stagesDone.WithLabelValues(workflow, stage).Inc()
}

// Retry records a connectivity retry.
func (r *Recorder) Retry(workflow string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(workflow).Inc()
}

// Failure records a workflow that stopped in the error state.
func (r *Recorder) Failure(workflow, stage string) {
	if r == nil {
		return
	}
	r.failures.WithLabelValues(workflow, stage).Inc()
}
