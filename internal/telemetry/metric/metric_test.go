package metric

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry

	r.ObserveInvocation("greet", "success", time.Millisecond)
	r.ObserveStoreOp("get", "ok")
	r.IncStoreRetry("put")
	r.ObserveBoot("cold", time.Second)
	r.IncAbandoned()
	if err := r.RegisterEnvironment(func() EnvironmentStats { return EnvironmentStats{} }); err != nil {
		t.Errorf("RegisterEnvironment on nil = %v", err)
	}
}

func TestRegistry_ObserveInvocation(t *testing.T) {
	r := NewRegistry()

	r.ObserveInvocation("greet", "", time.Millisecond)
	r.ObserveInvocation("greet", "VersionConflict", time.Millisecond)
	r.ObserveInvocation("", "DecodeError", time.Millisecond)

	if got := testutil.ToFloat64(r.invocations.WithLabelValues("greet", "success")); got != 1 {
		t.Errorf("greet/success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.invocations.WithLabelValues("greet", "VersionConflict")); got != 1 {
		t.Errorf("greet/VersionConflict = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.invocations.WithLabelValues("none", "DecodeError")); got != 1 {
		t.Errorf("none/DecodeError = %v, want 1", got)
	}
}

func TestRegistry_StoreCounters(t *testing.T) {
	r := NewRegistry()

	r.ObserveStoreOp("put", "conflict")
	r.IncStoreRetry("put")
	r.IncStoreRetry("put")

	if got := testutil.ToFloat64(r.storeOps.WithLabelValues("put", "conflict")); got != 1 {
		t.Errorf("put/conflict = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.storeRetries.WithLabelValues("put")); got != 2 {
		t.Errorf("retries = %v, want 2", got)
	}
}

func TestEnvironmentCollector(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterEnvironment(func() EnvironmentStats {
		return EnvironmentStats{State: 2, Invocations: 5, Resources: 3}
	}); err != nil {
		t.Fatalf("RegisterEnvironment: %v", err)
	}

	expected := `
# HELP snapfn_lifecycle_state Lifecycle state of the execution environment (0 cold, 1 restoring, 2 ready, 3 draining)
# TYPE snapfn_lifecycle_state gauge
snapfn_lifecycle_state 2
`
	if err := testutil.GatherAndCompare(r.Gatherer(), strings.NewReader(expected), "snapfn_lifecycle_state"); err != nil {
		t.Error(err)
	}
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.ObserveBoot("restore", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `snapfn_boot_duration_seconds{path="restore"}`) {
		t.Error("boot duration missing from exposition")
	}
}
