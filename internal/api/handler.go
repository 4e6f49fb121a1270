package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/validation"
)

// Event listing limits.
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 1000
)

// Handler holds dependencies for API handlers.
type Handler struct {
	analyzer *pipeline.Analyzer
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(analyzer *pipeline.Analyzer, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		analyzer: analyzer,
		repo:     repo,
		cache:    cache,
		bus:      bus,
		version:  version,
	}
}

// ExplainRequest is the request body for POST /explain.
// Features are decoded loosely so non-numeric values can be reported by name.
type ExplainRequest struct {
	ID       string         `json:"id,omitempty"`
	Features map[string]any `json:"features"`
}

// BarContribution is one bar of the contribution chart: the magnitude of a
// contribution plus the direction it pushed the score.
type BarContribution struct {
	Feature   string  `json:"feature"`
	Magnitude float64 `json:"magnitude"`
	Direction string  `json:"direction"`
}

// ExplainResponse is the response for POST /explain.
type ExplainResponse struct {
	*domain.Decision
	Contributions []BarContribution `json:"contributions"`
	Metadata      struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// Explain handles POST /explain requests.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	traceID := GetTraceID(ctx)

	var req ExplainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON request body")
		return
	}
	if req.Features == nil {
		badRequest(w, "features is required")
		return
	}

	features, err := validation.Numeric(req.Features, h.requiredFeatures())
	if err != nil {
		writeError(w, err)
		return
	}

	decision, err := h.analyzer.Analyze(ctx, &pipeline.Request{
		ID:       req.ID,
		TraceID:  traceID,
		Features: features,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	annotate(ctx,
		attribute.String("decision_id", decision.ID),
		attribute.String("risk_band", string(decision.Explanation.RiskBand)),
		attribute.Bool("alert_flag", decision.Explanation.AlertFlag),
		attribute.Bool("cached", decision.Cached),
	)
	if decision.Narrative != nil {
		annotate(ctx, attribute.String("pattern_id", decision.Narrative.PatternID))
	}

	resp := ExplainResponse{
		Decision:      decision,
		Contributions: barContributions(decision.Explanation.TopFeatures),
	}
	resp.Metadata.TraceID = traceID
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// requiredFeatures lists the loaded bundle's features. It is empty when the
// bundle cannot be read; the analyzer then reports the bundle problem.
func (h *Handler) requiredFeatures() []string {
	b, err := h.analyzer.Scorer().Bundle()
	if err != nil {
		return nil
	}
	return b.Features
}

func barContributions(top []domain.Contribution) []BarContribution {
	bars := make([]BarContribution, len(top))
	for i, c := range top {
		direction := "none"
		switch {
		case c.Contribution > 0:
			direction = "increase"
		case c.Contribution < 0:
			direction = "decrease"
		}
		bars[i] = BarContribution{
			Feature:   c.Feature,
			Magnitude: math.Abs(c.Contribution),
			Direction: direction,
		}
	}
	return bars
}

// Feedback handles POST /feedback requests.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	var fb domain.Feedback
	if err := json.NewDecoder(r.Body).Decode(&fb); err != nil {
		badRequest(w, "invalid JSON request body")
		return
	}

	annotate(r.Context(),
		attribute.String("feedback", string(fb.Feedback)),
		attribute.String("pattern_id", fb.PatternID),
	)

	result, err := h.analyzer.Feedback(r.Context(), &fb)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Index serves the root path. A "health" query parameter turns it into a
// liveness check for load balancers that can only hit "/".
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("health") {
		h.Health(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "heron",
		"version": h.version,
	})
}

// Health reports liveness as plain text.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Ready reports whether every configured backend answers.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	ready := true

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			checks[name] = err.Error()
			ready = false
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("event_bus", func() error { return h.bus.Ping(ctx) })
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":   ready,
		"checks":  checks,
		"version": h.version,
	})
}

// ModelInfo is the response for GET /model.
type ModelInfo struct {
	FormatVersion       int                            `json:"format_version"`
	Features            []string                       `json:"features"`
	Threshold           float64                        `json:"threshold"`
	FeatureRanges       map[string]domain.FeatureRange `json:"feature_ranges,omitempty"`
	TrainingDataVersion string                         `json:"training_data_version,omitempty"`
	TrainedAt           string                         `json:"trained_at,omitempty"`
	Params              *domain.ModelParams            `json:"model_params,omitempty"`
	Metrics             map[string]float64             `json:"metrics,omitempty"`
	Trees               int                            `json:"trees"`
	Checksum            string                         `json:"checksum"`
}

// Model returns metadata about the bundle currently used for scoring.
func (h *Handler) Model(w http.ResponseWriter, _ *http.Request) {
	b, err := h.analyzer.Scorer().Bundle()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ModelInfo{
		FormatVersion:       b.FormatVersion,
		Features:            b.Features,
		Threshold:           b.Threshold,
		FeatureRanges:       b.FeatureRanges,
		TrainingDataVersion: b.TrainingDataVersion,
		TrainedAt:           b.TrainedAt,
		Params:              b.Params,
		Metrics:             b.Metrics,
		Trees:               len(b.Model.Trees),
		Checksum:            b.Checksum(),
	})
}

// ListEvents queries the audit mirror, newest first.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeMirrorDisabled(w)
		return
	}

	filter := domain.EventFilter{Limit: DefaultEventLimit}

	if t := r.URL.Query().Get("type"); t != "" {
		filter.EventType = domain.EventType(t)
		if !filter.EventType.Known() {
			badRequest(w, fmt.Sprintf("unknown event type %q", t))
			return
		}
	}

	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, MaxEventLimit)
	}

	events, err := h.repo.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*domain.AuditEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// GetEvent retrieves one mirrored audit event.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeMirrorDisabled(w)
		return
	}

	event, err := h.repo.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, event)
}

func writeMirrorDisabled(w http.ResponseWriter) {
	writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{
		Error: "The audit mirror is disabled. Enable audit.mirror_to_repository to query events.",
		Code:  CodeMirrorDisabled,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
