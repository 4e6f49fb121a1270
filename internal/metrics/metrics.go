// Package metrics provides Prometheus instrumentation for Heron.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "heron",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ExplanationsTotal counts analyses by outcome (scored, failed).
	ExplanationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "explanations_total",
			Help:      "Total transaction explanations by outcome.",
		},
		[]string{"outcome"},
	)

	// ExplainDuration observes end-to-end analysis latency.
	ExplainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "heron",
		Name:      "explain_duration_seconds",
		Help:      "Time to score, attribute and narrate one transaction.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// RiskScores observes the distribution of risk scores.
	RiskScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "heron",
		Name:      "risk_score",
		Help:      "Distribution of model risk scores.",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	// DecisionsTotal counts decisions by risk band and alert flag.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "decisions_total",
			Help:      "Total decisions by risk band and alert flag.",
		},
		[]string{"band", "alert"},
	)

	// OODTotal counts decisions with out-of-distribution inputs.
	OODTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "heron",
		Name:      "ood_decisions_total",
		Help:      "Total decisions with at least one feature outside the training range.",
	})

	// EscalationsTotal counts triggered policies by queue.
	EscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "escalations_total",
			Help:      "Total policy escalations by review queue.",
		},
		[]string{"queue"},
	)

	// CacheLookupsTotal counts result cache lookups by result (hit, miss, error).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "cache_lookups_total",
			Help:      "Total result cache lookups by result.",
		},
		[]string{"result"},
	)

	// FeedbackTotal counts analyst feedback by verdict.
	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "feedback_total",
			Help:      "Total analyst feedback by verdict.",
		},
		[]string{"feedback"},
	)

	// TrainingRunsTotal counts training runs by outcome.
	TrainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "heron",
			Name:      "training_runs_total",
			Help:      "Total model training runs by outcome.",
		},
		[]string{"outcome"},
	)

	// ModelThreshold exposes the decision threshold of the loaded bundle.
	ModelThreshold = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "heron",
		Name:      "model_threshold",
		Help:      "Decision threshold of the currently loaded model bundle.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ExplanationsTotal,
		ExplainDuration,
		RiskScores,
		DecisionsTotal,
		OODTotal,
		EscalationsTotal,
		CacheLookupsTotal,
		FeedbackTotal,
		TrainingRunsTotal,
		ModelThreshold,
	)
}

// ObserveDecision records one completed analysis.
func ObserveDecision(score float64, band string, alert, ood bool, queues []string, elapsed time.Duration) {
	ExplanationsTotal.WithLabelValues("scored").Inc()
	ExplainDuration.Observe(elapsed.Seconds())
	RiskScores.Observe(score)
	DecisionsTotal.WithLabelValues(band, strconv.FormatBool(alert)).Inc()
	if ood {
		OODTotal.Inc()
	}
	for _, q := range queues {
		EscalationsTotal.WithLabelValues(q).Inc()
	}
}

// Middleware records request counts and latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		// Route pattern, not the raw path, keeps label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(r.Method, path, statusBucket(status)).Inc()
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
