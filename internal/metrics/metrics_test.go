package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestInit_RegistersWithoutPanic verifies that calling Init with a fresh
// registry does not panic. Successful registration is the invariant —
// if any metric descriptor is invalid or duplicated within the registry,
// MustRegister panics.
func TestInit_RegistersWithoutPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)
}

// TestInit_DoubleRegistrationPanics confirms that registering the same metric
// names twice to the same registry panics (standard prometheus behavior).
func TestInit_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg) // first call succeeds

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on double registration, but Init did not panic")
		}
	}()
	Init(reg) // second call must panic
}

// TestHTTPRequestsCounter_Increments confirms that the counter vec
// increments correctly via a new isolated registry.
func TestHTTPRequestsCounter_Increments(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "test_http_requests_total",
	}, []string{"route", "action", "status"})
	reg.MustRegister(counter)

	counter.WithLabelValues("avatar", "presign", "200").Inc()
	counter.WithLabelValues("avatar", "presign", "200").Inc()
	counter.WithLabelValues("document", "complete", "500").Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	var totalCount float64
	for _, mf := range mfs {
		if mf.GetName() == "test_http_requests_total" {
			for _, m := range mf.GetMetric() {
				totalCount += m.GetCounter().GetValue()
			}
		}
	}

	if totalCount != 3 {
		t.Errorf("expected 3 total requests, got %v", totalCount)
	}
}

// TestHandler_Returns200 confirms the metrics HTTP handler responds correctly.
func TestHandler_Returns200(t *testing.T) {
	h := Handler()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Handler() status = %d; want 200", w.Code)
	}
	body := w.Body.String()
	// Prometheus always includes at least go_ metrics in the default registry.
	if !strings.Contains(body, "go_") && !strings.Contains(body, "# HELP") {
		t.Error("expected Prometheus text format in response body")
	}
}

// TestMiddleware_RecordsMetrics confirms the HTTP middleware records a request
// against the route/action labels it's given.
func TestMiddleware_RecordsMetrics(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := Middleware("avatar", "presign", inner)

	req := httptest.NewRequest(http.MethodPost, "/upload", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("wrapped handler returned %d; want 204", w.Code)
	}

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "pushduck_http_requests_total" {
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "route" && lp.GetValue() == "avatar" {
						found = true
					}
				}
			}
		}
	}
	if !found {
		t.Error("pushduck_http_requests_total metric not found for route=avatar after middleware call")
	}
}
