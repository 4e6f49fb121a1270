// Package pipeline composes scoring, narration, escalation and audit into
// the single analysis path shared by the API, the CLI and the worker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/explain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/narrative"
	"github.com/opensource-finance/heron/internal/policy"
)

// ErrInvalidFeedback rejects a verdict other than Valid or Invalid.
var ErrInvalidFeedback = errors.New("feedback must be Valid or Invalid")

// DefaultCacheTTL bounds how long a cached analysis is reused.
const DefaultCacheTTL = 10 * time.Minute

// FeedbackWindow is the tally window for feedback per pattern.
const FeedbackWindow = 24 * time.Hour

// Recorder writes the audit trail.
type Recorder interface {
	domain.EventLogger
	LogDecision(ctx context.Context, d *domain.Decision) error
	LogFeedback(ctx context.Context, fb *domain.Feedback) error
}

// Request asks for one transaction to be analysed.
type Request struct {
	ID       string            `json:"id,omitempty"`
	TraceID  string            `json:"trace_id,omitempty"`
	Features domain.FeatureSet `json:"features"`
}

// FeedbackResult acknowledges a recorded verdict.
type FeedbackResult struct {
	PatternID string               `json:"pattern_id"`
	Feedback  domain.FeedbackLabel `json:"feedback"`

	// Tally counts this verdict for the pattern within FeedbackWindow.
	// Zero when no cache is configured.
	Tally int64 `json:"tally"`
}

// Analyzer runs the analysis pipeline.
type Analyzer struct {
	scorer   *explain.Scorer
	narrator *narrative.Generator
	recorder Recorder
	policies *policy.Engine
	cache    domain.Cache
	cacheTTL time.Duration
	bus      domain.EventBus
	logger   *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithPolicies evaluates escalation policies on every decision.
func WithPolicies(e *policy.Engine) Option {
	return func(a *Analyzer) {
		a.policies = e
	}
}

// WithCache reuses analyses for identical features against the same bundle.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(a *Analyzer) {
		a.cache = c
		if ttl > 0 {
			a.cacheTTL = ttl
		}
	}
}

// WithBus publishes decisions, alerts and feedback.
func WithBus(b domain.EventBus) Option {
	return func(a *Analyzer) {
		a.bus = b
	}
}

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = l
	}
}

// New creates an Analyzer.
func New(scorer *explain.Scorer, narrator *narrative.Generator, recorder Recorder, opts ...Option) *Analyzer {
	a := &Analyzer{
		scorer:   scorer,
		narrator: narrator,
		recorder: recorder,
		cacheTTL: DefaultCacheTTL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Scorer returns the underlying scorer.
func (a *Analyzer) Scorer() *explain.Scorer {
	return a.scorer
}

// Analyze scores, explains and narrates one transaction, applies the
// escalation policies and records a decision_logged event.
func (a *Analyzer) Analyze(ctx context.Context, req *Request) (*domain.Decision, error) {
	start := time.Now()

	result, cached, err := a.analyze(ctx, req.Features)
	if err != nil {
		metrics.ExplanationsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	decision := &domain.Decision{
		ID:          id,
		TraceID:     req.TraceID,
		Features:    req.Features,
		Explanation: result.Explanation,
		Narrative:   result.Narrative,
		Escalations: result.Escalations,
		Cached:      cached,
		ProcessMs:   time.Since(start).Milliseconds(),
	}

	if err := a.recorder.LogDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("recording decision: %w", err)
	}

	a.publish(ctx, decision)

	queues := make([]string, 0, len(decision.Escalations))
	for _, e := range decision.Escalations {
		queues = append(queues, e.Queue)
	}
	exp := decision.Explanation
	metrics.ObserveDecision(exp.RiskScore, string(exp.RiskBand), exp.AlertFlag, exp.OODFlag, queues, time.Since(start))

	return decision, nil
}

func (a *Analyzer) analyze(ctx context.Context, features domain.FeatureSet) (*domain.CachedDecision, bool, error) {
	key := a.cacheKey(features)
	if key != "" {
		hit, err := a.cache.GetDecision(ctx, key)
		switch {
		case err != nil:
			metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
			a.logger.Warn("result cache lookup failed", "error", err)
		case hit != nil && hit.Explanation != nil && hit.Narrative != nil:
			metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
			if err := a.recorder.Log(ctx, domain.EventTransactionScored, explain.ScoredEventData(features, hit.Explanation)); err != nil {
				return nil, false, fmt.Errorf("recording scored transaction: %w", err)
			}
			if hit.Escalations == nil {
				hit.Escalations = []domain.Escalation{}
			}
			return hit, true, nil
		default:
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		}
	}

	exp, err := a.scorer.Explain(ctx, features)
	if err != nil {
		return nil, false, err
	}

	nar := a.narrator.Generate(exp, features)

	escalations := []domain.Escalation{}
	if a.policies != nil {
		escalations = a.policies.Evaluate(ctx, &policy.Input{
			Explanation: exp,
			Features:    features,
			PatternID:   nar.PatternID,
		})
	}

	result := &domain.CachedDecision{
		Explanation: exp,
		Narrative:   nar,
		Escalations: escalations,
	}

	if key != "" {
		if err := a.cache.SetDecision(ctx, key, result, a.cacheTTL); err != nil {
			a.logger.Warn("result cache store failed", "error", err)
		}
	}

	return result, false, nil
}

// cacheKey is empty when caching is off or the artifacts cannot be read;
// the scorer then reports the artifact problem itself.
func (a *Analyzer) cacheKey(features domain.FeatureSet) string {
	if a.cache == nil {
		return ""
	}
	fp, err := a.scorer.Fingerprint()
	if err != nil {
		return ""
	}
	return cache.DecisionKey(fp, features)
}

func (a *Analyzer) publish(ctx context.Context, d *domain.Decision) {
	if a.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, a.bus, domain.TopicDecision, d); err != nil {
		a.logger.Warn("failed to publish decision", "decision_id", d.ID, "error", err)
	}
	if d.Explanation.AlertFlag || len(d.Escalations) > 0 {
		if err := bus.PublishJSON(ctx, a.bus, domain.TopicAlert, d); err != nil {
			a.logger.Warn("failed to publish alert", "decision_id", d.ID, "error", err)
		}
	}
}

// Feedback records an analyst verdict as a feedback_provided event.
func (a *Analyzer) Feedback(ctx context.Context, fb *domain.Feedback) (*FeedbackResult, error) {
	if fb == nil || !fb.Feedback.Valid() {
		return nil, ErrInvalidFeedback
	}

	if err := a.recorder.LogFeedback(ctx, fb); err != nil {
		return nil, fmt.Errorf("recording feedback: %w", err)
	}
	metrics.FeedbackTotal.WithLabelValues(string(fb.Feedback)).Inc()

	result := &FeedbackResult{PatternID: fb.PatternID, Feedback: fb.Feedback}

	if a.cache != nil && fb.PatternID != "" {
		tally, err := a.cache.IncrementCounter(ctx, cache.FeedbackCounterKey(fb.PatternID, fb.Feedback), FeedbackWindow)
		if err != nil {
			a.logger.Warn("failed to count feedback", "pattern_id", fb.PatternID, "error", err)
		} else {
			result.Tally = tally
		}
	}

	if a.bus != nil {
		if err := bus.PublishJSON(ctx, a.bus, domain.TopicFeedback, fb); err != nil {
			a.logger.Warn("failed to publish feedback", "error", err)
		}
	}

	return result, nil
}
