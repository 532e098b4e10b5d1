package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWorkerStateGaugeExclusive(t *testing.T) {
	SetWorkerState("ready")
	if got := testutil.ToFloat64(workerState.WithLabelValues("ready")); got != 1 {
		t.Errorf("ready gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(workerState.WithLabelValues("booting")); got != 0 {
		t.Errorf("booting gauge = %v, want 0", got)
	}

	SetWorkerState("draining")
	if got := testutil.ToFloat64(workerState.WithLabelValues("ready")); got != 0 {
		t.Errorf("ready gauge = %v after transition, want 0", got)
	}
	if got := testutil.ToFloat64(workerState.WithLabelValues("draining")); got != 1 {
		t.Errorf("draining gauge = %v, want 1", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	SetWorkerState("ready")
	SetInflightRequests(3)
	IncCheckAction("continue")
	IncDrain()
	IncRebind("success")
	IncSwap("failure")
	IncSignal("restart")
	ObserveDetection("none", 2*time.Millisecond)
	SetContainerRebinds(7)
	IncWorkerRestart("web-1")

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("metrics handler status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"workerd_lifecycle_worker_state",
		"workerd_lifecycle_inflight_requests",
		"workerd_lifecycle_checks_total",
		"workerd_lifecycle_drains_total",
		"workerd_lifecycle_rebinds_total",
		"workerd_lifecycle_swaps_total",
		"workerd_signal_signals_total",
		"workerd_detector_detections_total",
		"workerd_detector_detection_duration_seconds",
		"workerd_container_rebind_count",
		"workerd_supervisor_worker_restarts_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
