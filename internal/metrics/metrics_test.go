package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Handle("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	// Unlabelled collectors are exported before their first observation.
	for _, name := range []string{"heron_model_threshold", "heron_ood_decisions_total", "heron_risk_score"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("expected metrics output to contain %s", name)
		}
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/events/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/events/{id}", "4xx"))

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/events/"+id, nil))
	}

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/events/{id}", "4xx"))
	if after-before != 3 {
		t.Errorf("expected 3 requests under the route pattern, got %v", after-before)
	}
}

func TestObserveDecision(t *testing.T) {
	scored := testutil.ToFloat64(ExplanationsTotal.WithLabelValues("scored"))
	high := testutil.ToFloat64(DecisionsTotal.WithLabelValues("High", "true"))
	ood := testutil.ToFloat64(OODTotal)
	review := testutil.ToFloat64(EscalationsTotal.WithLabelValues("aml-review"))

	ObserveDecision(0.91, "High", true, true, []string{"aml-review"}, 12*time.Millisecond)
	ObserveDecision(0.1, "Low", false, false, nil, time.Millisecond)

	if got := testutil.ToFloat64(ExplanationsTotal.WithLabelValues("scored")) - scored; got != 2 {
		t.Errorf("expected 2 scored, got %v", got)
	}
	if got := testutil.ToFloat64(DecisionsTotal.WithLabelValues("High", "true")) - high; got != 1 {
		t.Errorf("expected 1 high alert, got %v", got)
	}
	if got := testutil.ToFloat64(OODTotal) - ood; got != 1 {
		t.Errorf("expected 1 ood decision, got %v", got)
	}
	if got := testutil.ToFloat64(EscalationsTotal.WithLabelValues("aml-review")) - review; got != 1 {
		t.Errorf("expected 1 escalation, got %v", got)
	}
}
