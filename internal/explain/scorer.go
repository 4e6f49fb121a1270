// Package explain scores transactions and attributes each score to its
// input features.
package explain

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/model"
	"github.com/opensource-finance/heron/internal/validation"
)

var tracer = otel.Tracer("heron-explain")

// Scorer produces Explanations from a model bundle and a background data set.
// Artifacts are cached and reloaded when their files change.
type Scorer struct {
	cfg       *domain.Config
	events    domain.EventLogger
	artifacts *artifactCache
	logger    *slog.Logger
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scorer) {
		s.logger = l
	}
}

// NewScorer creates a Scorer. events receives transaction_scored and
// explanation_failed entries.
func NewScorer(cfg *domain.Config, events domain.EventLogger, opts ...Option) *Scorer {
	s := &Scorer{
		cfg:       cfg,
		events:    events,
		artifacts: newArtifactCache(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ExplainOption overrides artifact locations for one call.
type ExplainOption func(*explainOptions)

type explainOptions struct {
	bundlePath string
	dataPath   string
}

// WithBundlePath scores against a different bundle file.
func WithBundlePath(path string) ExplainOption {
	return func(o *explainOptions) {
		o.bundlePath = path
	}
}

// WithDataPath draws the attribution baseline from a different CSV file.
func WithDataPath(path string) ExplainOption {
	return func(o *explainOptions) {
		o.dataPath = path
	}
}

// Bundle returns the configured bundle, loading it if needed.
func (s *Scorer) Bundle() (*model.Bundle, error) {
	return s.artifacts.bundle(s.cfg.ModelPath)
}

// Fingerprint identifies the configured bundle and background sample.
// Explain returns the same result for the same features while it is
// unchanged.
func (s *Scorer) Fingerprint() (string, error) {
	b, err := s.artifacts.bundle(s.cfg.ModelPath)
	if err != nil {
		return "", err
	}
	bg, err := s.artifacts.background(s.cfg.DataPath, b.Features, s.cfg.BackgroundSamples, s.cfg.BackgroundSeed)
	if err != nil {
		return "", err
	}
	return b.Checksum() + "-" + bg.sum + "-" + string(s.cfg.OODBoundary), nil
}

// Explain scores one transaction. Any failure is recorded as an
// explanation_failed audit event and returned unchanged.
func (s *Scorer) Explain(ctx context.Context, features domain.FeatureSet, opts ...ExplainOption) (exp *domain.Explanation, err error) {
	o := explainOptions{
		bundlePath: s.cfg.ModelPath,
		dataPath:   s.cfg.DataPath,
	}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracer.Start(ctx, "explain.Explain")
	defer span.End()

	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if logErr := s.events.Log(ctx, domain.EventExplanationFailed, map[string]any{"error": err.Error()}); logErr != nil {
			s.logger.Error("failed to record explanation failure", "error", logErr, "cause", err)
		}
	}()

	exp, err = s.explain(ctx, features, o)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Float64("risk_score", exp.RiskScore),
		attribute.String("risk_band", string(exp.RiskBand)),
		attribute.Bool("alert_flag", exp.AlertFlag),
		attribute.Bool("ood_flag", exp.OODFlag),
	)

	if err = s.events.Log(ctx, domain.EventTransactionScored, ScoredEventData(features, exp)); err != nil {
		return nil, fmt.Errorf("recording scored transaction: %w", err)
	}
	return exp, nil
}

func (s *Scorer) explain(_ context.Context, features domain.FeatureSet, o explainOptions) (*domain.Explanation, error) {
	if err := validation.FileExists(o.bundlePath); err != nil {
		return nil, err
	}
	if err := validation.FileExists(o.dataPath); err != nil {
		return nil, err
	}

	bundle, err := s.artifacts.bundle(o.bundlePath)
	if err != nil {
		return nil, err
	}
	if err := validation.Features(features, bundle.Features); err != nil {
		return nil, err
	}

	background, err := s.artifacts.background(o.dataPath, bundle.Features, s.cfg.BackgroundSamples, s.cfg.BackgroundSeed)
	if err != nil {
		return nil, err
	}

	row := bundle.Row(features)
	score, err := bundle.Model.PredictProba(row)
	if err != nil {
		return nil, err
	}

	phi, base, err := bundle.Model.Contributions(row, background.rows)
	if err != nil {
		return nil, err
	}

	ood := DetectOOD(features, bundle.Features, bundle.FeatureRanges, s.cfg.OODBoundary)

	return &domain.Explanation{
		RiskScore:   score,
		AlertFlag:   score > bundle.Threshold,
		RiskBand:    domain.BandFor(score),
		TopFeatures: Rank(bundle.Features, phi, domain.MaxTopFeatures),
		OODFlag:     len(ood) > 0,
		OODFeatures: ood,
		BaseValue:   base,
		Threshold:   bundle.Threshold,
	}, nil
}

// ScoredEventData is the transaction_scored audit payload.
func ScoredEventData(features domain.FeatureSet, exp *domain.Explanation) map[string]any {
	return map[string]any{
		"features":     features,
		"risk_score":   exp.RiskScore,
		"alert_flag":   exp.AlertFlag,
		"risk_band":    exp.RiskBand,
		"top_features": exp.TopFeatures,
		"ood_flag":     exp.OODFlag,
		"ood_features": exp.OODFeatures,
	}
}
