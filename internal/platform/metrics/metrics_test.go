package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHTTP_ObserveRequest(t *testing.T) {
	reg := NewRegistry()
	m := NewHTTP(reg, "testsvc")

	m.ObserveRequest(http.MethodGet, http.StatusOK, 10*time.Millisecond)
	m.ObserveRequest(http.MethodGet, http.StatusOK, 20*time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "200")); got != 2 {
		t.Fatalf("requests=%v, want 2", got)
	}
}

func TestOutcomes_Inc(t *testing.T) {
	reg := NewRegistry()
	o := NewOutcomes(reg, "test_outcomes_total", "test outcomes")
	o.Inc("found")
	o.Inc("not_found")
	o.Inc("found")

	if got := testutil.ToFloat64(o.vec.WithLabelValues("found")); got != 2 {
		t.Fatalf("found=%v, want 2", got)
	}

	var nilOutcomes *Outcomes
	nilOutcomes.Inc("ignored")
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := NewRegistry()
	NewOutcomes(reg, "test_outcomes_total", "test outcomes").Inc("found")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `test_outcomes_total{outcome="found"} 1`) {
		t.Fatalf("metrics output missing counter: %s", rec.Body.String())
	}
}
