// Package metrics provides Prometheus metrics for worker lifecycle events.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// workerStates is the fixed label set for the state gauge. Exactly one
// label carries the value 1 at any time.
var workerStates = []string{"booting", "ready", "draining", "swapping", "terminated"}

var (
	workerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "workerd",
		Subsystem: "lifecycle",
		Name:      "worker_state",
		Help:      "Current worker lifecycle state (1 for the active state)",
	}, []string{"state"})

	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "workerd",
		Subsystem: "lifecycle",
		Name:      "inflight_requests",
		Help:      "Requests currently being served by the worker",
	})

	checkActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workerd",
		Subsystem: "lifecycle",
		Name:      "checks_total",
		Help:      "Lifecycle checks by resulting action",
	}, []string{"action"})

	drains = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "workerd",
		Subsystem: "lifecycle",
		Name:      "drains_total",
		Help:      "Graceful drains initiated",
	})

	rebinds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workerd",
		Subsystem: "lifecycle",
		Name:      "rebinds_total",
		Help:      "Module rebind attempts by outcome",
	}, []string{"outcome"})

	swaps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workerd",
		Subsystem: "lifecycle",
		Name:      "swaps_total",
		Help:      "Module hot-swap attempts by outcome",
	}, []string{"outcome"})

	signals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workerd",
		Subsystem: "signal",
		Name:      "signals_total",
		Help:      "Deploy signals consumed by action",
	}, []string{"action"})

	detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workerd",
		Subsystem: "detector",
		Name:      "detections_total",
		Help:      "Per-module change detections by result",
	}, []string{"result"})

	detectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "workerd",
		Subsystem: "detector",
		Name:      "detection_duration_seconds",
		Help:      "Duration of per-module change detection passes",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	containerRebinds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "workerd",
		Subsystem: "container",
		Name:      "rebind_count",
		Help:      "Cumulative rebind count reported by the DI container",
	})

	workerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workerd",
		Subsystem: "supervisor",
		Name:      "worker_restarts_total",
		Help:      "Crash restarts of supervised worker processes",
	}, []string{"worker"})
)

// SetWorkerState marks state as the active lifecycle state.
func SetWorkerState(state string) {
	for _, s := range workerStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		workerState.WithLabelValues(s).Set(v)
	}
}

// SetInflightRequests sets the in-flight request gauge.
func SetInflightRequests(n int) {
	inflightRequests.Set(float64(n))
}

// IncCheckAction counts one lifecycle check by resulting action.
func IncCheckAction(action string) {
	checkActions.WithLabelValues(action).Inc()
}

// IncDrain counts one initiated drain.
func IncDrain() {
	drains.Inc()
}

// IncRebind counts one rebind attempt outcome ("success" or "failure").
func IncRebind(outcome string) {
	rebinds.WithLabelValues(outcome).Inc()
}

// IncSwap counts one hot-swap attempt outcome ("success" or "failure").
func IncSwap(outcome string) {
	swaps.WithLabelValues(outcome).Inc()
}

// IncSignal counts one consumed deploy signal by action.
func IncSignal(action string) {
	signals.WithLabelValues(action).Inc()
}

// ObserveDetection records one per-module detection pass.
func ObserveDetection(result string, d time.Duration) {
	detections.WithLabelValues(result).Inc()
	detectionDuration.Observe(d.Seconds())
}

// SetContainerRebinds sets the cumulative container rebind gauge.
func SetContainerRebinds(total int) {
	containerRebinds.Set(float64(total))
}

// IncWorkerRestart counts one crash restart of a supervised worker.
func IncWorkerRestart(worker string) {
	workerRestarts.WithLabelValues(worker).Inc()
}

// Handler returns the Prometheus metrics HTTP handler. It collects all
// promauto-registered metrics automatically.
func Handler() http.Handler {
	return promhttp.Handler()
}
