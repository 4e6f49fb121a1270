// Package audit writes Heron's append-only governance log.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

// ErrUnknownEventType is returned for event types outside the fixed set.
var ErrUnknownEventType = errors.New("unknown audit event type")

// Logger timestamps, normalizes and fans out audit events. The primary sink
// is authoritative; mirror failures are reported to slog only.
type Logger struct {
	sink    Sink
	mirrors []Sink
	now     func() time.Time
	log     *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithMirror adds a secondary sink.
func WithMirror(s Sink) Option {
	return func(l *Logger) {
		l.mirrors = append(l.mirrors, s)
	}
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		l.now = now
	}
}

// WithLogger sets the operational logger used for mirror failures.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) {
		l.log = log
	}
}

// New creates a Logger writing to sink.
func New(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		sink: sink,
		now:  time.Now,
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Log appends one event. Data is normalized before it reaches any sink.
func (l *Logger) Log(ctx context.Context, eventType domain.EventType, data map[string]any) error {
	if !eventType.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	event := &domain.AuditEvent{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		EventType: eventType,
		Data:      NormalizeMap(data),
	}

	if err := l.sink.Write(ctx, event); err != nil {
		return err
	}
	for _, m := range l.mirrors {
		if err := m.Write(ctx, event); err != nil {
			l.log.Warn("audit mirror write failed",
				"event_type", eventType,
				"error", err,
			)
		}
	}
	return nil
}

// LogDecision records the full outcome of one analysis.
func (l *Logger) LogDecision(ctx context.Context, d *domain.Decision) error {
	data := map[string]any{
		"decision_id":     d.ID,
		"features":        d.Features,
		"explanation":     d.Explanation,
		"nlp_explanation": d.Narrative,
		"feedback":        nil,
	}
	if d.Explanation != nil {
		data["risk_score"] = d.Explanation.RiskScore
		data["alert_flag"] = d.Explanation.AlertFlag
	}
	if d.Feedback != "" {
		data["feedback"] = d.Feedback
	}
	if len(d.Escalations) > 0 {
		data["escalations"] = d.Escalations
	}
	if d.TraceID != "" {
		data["trace_id"] = d.TraceID
	}
	return l.Log(ctx, domain.EventDecisionLogged, data)
}

// LogFeedback records an analyst verdict.
func (l *Logger) LogFeedback(ctx context.Context, fb *domain.Feedback) error {
	data := map[string]any{
		"features":   fb.Features,
		"risk_score": fb.RiskScore,
		"alert_flag": fb.AlertFlag,
		"feedback":   string(fb.Feedback),
	}
	if fb.PatternID != "" {
		data["pattern_id"] = fb.PatternID
	}
	if fb.Comment != "" {
		data["comment"] = fb.Comment
	}
	return l.Log(ctx, domain.EventFeedbackProvided, data)
}

// Close closes every sink.
func (l *Logger) Close() error {
	errs := []error{l.sink.Close()}
	for _, m := range l.mirrors {
		errs = append(errs, m.Close())
	}
	return errors.Join(errs...)
}
