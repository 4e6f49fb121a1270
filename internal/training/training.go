// Package training fits the risk classifier and writes the model bundle.
package training

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/opensource-finance/heron/internal/dataset"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/model"
	"github.com/opensource-finance/heron/internal/validation"
)

// ReportCutoff is the probability cutoff the evaluation report uses.
// The decision threshold stored in the bundle is separate.
const ReportCutoff = 0.5

// ClassMetrics is the per-class slice of the evaluation report.
type ClassMetrics struct {
	Precision float64 `json:"precision" yaml:"precision"`
	Recall    float64 `json:"recall" yaml:"recall"`
	F1        float64 `json:"f1" yaml:"f1"`
	Support   int     `json:"support" yaml:"support"`
}

// Report summarizes one training run.
type Report struct {
	ModelPath           string                  `json:"model_path" yaml:"model_path"`
	Features            []string                `json:"features" yaml:"features"`
	Threshold           float64                 `json:"threshold" yaml:"threshold"`
	TrainingDataVersion string                  `json:"training_data_version" yaml:"training_data_version"`
	TrainedAt           string                  `json:"trained_at" yaml:"trained_at"`
	TrainRows           int                     `json:"train_rows" yaml:"train_rows"`
	TestRows            int                     `json:"test_rows" yaml:"test_rows"`
	Accuracy            float64                 `json:"accuracy" yaml:"accuracy"`
	Classes             map[string]ClassMetrics `json:"classes" yaml:"classes"`
}

// Trainer runs the training job.
type Trainer struct {
	cfg    *domain.Config
	events domain.EventLogger
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trainer) {
		t.logger = l
	}
}

// WithClock overrides the trained_at source.
func WithClock(now func() time.Time) Option {
	return func(t *Trainer) {
		t.now = now
	}
}

// New creates a Trainer. events receives model_trained and
// model_training_failed entries.
func New(cfg *domain.Config, events domain.EventLogger, opts ...Option) *Trainer {
	t := &Trainer{
		cfg:    cfg,
		events: events,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run trains on cfg.DataPath and writes the bundle to cfg.ModelPath.
// Any failure is recorded as model_training_failed and returned unchanged.
func (t *Trainer) Run(ctx context.Context) (report *Report, err error) {
	defer func() {
		if err == nil {
			metrics.TrainingRunsTotal.WithLabelValues("succeeded").Inc()
			return
		}
		metrics.TrainingRunsTotal.WithLabelValues("failed").Inc()
		if logErr := t.events.Log(ctx, domain.EventModelTrainingFailed, map[string]any{"error": err.Error()}); logErr != nil {
			t.logger.Error("failed to record training failure", "error", logErr, "cause", err)
		}
	}()

	report, err = t.train(ctx)
	if err != nil {
		return nil, err
	}

	err = t.events.Log(ctx, domain.EventModelTrained, map[string]any{
		"model_path":            report.ModelPath,
		"features":              report.Features,
		"threshold":             report.Threshold,
		"training_data_version": report.TrainingDataVersion,
		"trained_at":            report.TrainedAt,
		"accuracy":              report.Accuracy,
	})
	if err != nil {
		return nil, fmt.Errorf("recording trained model: %w", err)
	}
	return report, nil
}

func (t *Trainer) train(ctx context.Context) (*Report, error) {
	if err := validation.FileExists(t.cfg.DataPath); err != nil {
		return nil, err
	}

	frame, err := dataset.Load(t.cfg.DataPath)
	if err != nil {
		return nil, err
	}

	features := append([]string(nil), domain.ModelFeatures...)
	X, err := frame.Project(features)
	if err != nil {
		return nil, err
	}
	y, err := frame.Column(domain.TargetColumn)
	if err != nil {
		return nil, err
	}

	version := "unknown"
	if frame.Has(dataset.ColumnDataVersion) && frame.Len() > 0 {
		version = frame.Value(0, dataset.ColumnDataVersion)
	}

	testSize := t.cfg.ModelParams.TestSize
	if testSize <= 0 || testSize >= 1 {
		testSize = 0.2
	}
	trainIdx, testIdx := dataset.StratifiedSplit(y, testSize, t.cfg.ModelParams.RandomState)

	booster := model.NewBooster(model.WithParams(t.cfg.ModelParams))
	t.logger.Info("training model",
		"rows", len(X),
		"train_rows", len(trainIdx),
		"test_rows", len(testIdx),
		"n_estimators", booster.Params().NEstimators,
		"max_depth", booster.Params().MaxDepth,
	)

	ens, err := booster.Fit(ctx, dataset.Select(X, trainIdx), dataset.Select(y, trainIdx))
	if err != nil {
		return nil, fmt.Errorf("fitting model: %w", err)
	}

	accuracy, classes, err := evaluate(ens, dataset.Select(X, testIdx), dataset.Select(y, testIdx))
	if err != nil {
		return nil, err
	}

	params := booster.Params()
	bundle := &model.Bundle{
		Model:               ens,
		Features:            features,
		Threshold:           t.cfg.Threshold,
		FeatureRanges:       FeatureRanges(X, features),
		TrainingDataVersion: "data_v" + version,
		TrainedAt:           t.now().UTC().Format(time.RFC3339),
		Params:              &params,
		Metrics:             flatten(accuracy, classes),
	}
	if err := model.Save(t.cfg.ModelPath, bundle); err != nil {
		return nil, err
	}

	t.logger.Info("model bundle saved",
		"path", t.cfg.ModelPath,
		"accuracy", accuracy,
		"training_data_version", bundle.TrainingDataVersion,
	)

	return &Report{
		ModelPath:           t.cfg.ModelPath,
		Features:            features,
		Threshold:           bundle.Threshold,
		TrainingDataVersion: bundle.TrainingDataVersion,
		TrainedAt:           bundle.TrainedAt,
		TrainRows:           len(trainIdx),
		TestRows:            len(testIdx),
		Accuracy:            accuracy,
		Classes:             classes,
	}, nil
}

// FeatureRanges returns the observed [min, max] of every column.
func FeatureRanges(X [][]float64, features []string) map[string]domain.FeatureRange {
	ranges := make(map[string]domain.FeatureRange, len(features))
	if len(X) == 0 {
		return ranges
	}
	for j, name := range features {
		r := domain.FeatureRange{Min: math.Inf(1), Max: math.Inf(-1)}
		for _, row := range X {
			r.Min = math.Min(r.Min, row[j])
			r.Max = math.Max(r.Max, row[j])
		}
		ranges[name] = r
	}
	return ranges
}

// evaluate scores the held-out rows at ReportCutoff.
func evaluate(ens *model.Ensemble, X [][]float64, y []float64) (float64, map[string]ClassMetrics, error) {
	var tp, fp, tn, fn int
	for i, row := range X {
		p, err := ens.PredictProba(row)
		if err != nil {
			return 0, nil, err
		}
		predicted := p >= ReportCutoff
		actual := y[i] == 1
		switch {
		case predicted && actual:
			tp++
		case predicted && !actual:
			fp++
		case !predicted && actual:
			fn++
		default:
			tn++
		}
	}

	accuracy := 0.0
	if len(X) > 0 {
		accuracy = float64(tp+tn) / float64(len(X))
	}

	return accuracy, map[string]ClassMetrics{
		"0": classMetrics(tn, fn, fp),
		"1": classMetrics(tp, fp, fn),
	}, nil
}

// classMetrics derives one class's row from its true positives and the
// false positives and negatives with respect to that class.
func classMetrics(tp, fp, fn int) ClassMetrics {
	m := ClassMetrics{
		Precision: ratio(tp, tp+fp),
		Recall:    ratio(tp, tp+fn),
		Support:   tp + fn,
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func flatten(accuracy float64, classes map[string]ClassMetrics) map[string]float64 {
	out := map[string]float64{"accuracy": accuracy}
	for label, m := range classes {
		out["precision_"+label] = m.Precision
		out["recall_"+label] = m.Recall
		out["f1_"+label] = m.F1
		out["support_"+label] = float64(m.Support)
	}
	return out
}

// FormatReport renders the report as a plain-text table.
func FormatReport(r *Report) string {
	s := fmt.Sprintf("%-8s %10s %10s %10s %10s\n", "class", "precision", "recall", "f1-score", "support")
	for _, label := range []string{"0", "1"} {
		m := r.Classes[label]
		s += fmt.Sprintf("%-8s %10.2f %10.2f %10.2f %10s\n", label, m.Precision, m.Recall, m.F1, strconv.Itoa(m.Support))
	}
	s += fmt.Sprintf("%-8s %32.2f %10d\n", "accuracy", r.Accuracy, r.TestRows)
	return s
}
