package audit

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
	err    error
}

func (s *recordingSink) Write(_ context.Context, e *domain.AuditEvent) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, *e)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func openTestLog(t *testing.T) (*FileSink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs", "aml_events.log")
	sink, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink, path
}

func TestLogger_Log(t *testing.T) {
	sink, path := openTestLog(t)
	fixed := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	logger := New(sink, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	err := logger.Log(ctx, domain.EventTransactionScored, map[string]any{
		"risk_score": float32(0.5),
		"features":   domain.FeatureSet{"country_risk": 0.8},
		"top":        []domain.Contribution{{Feature: "country_risk", Contribution: 1.25}},
	})
	if err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	events, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.Timestamp != "2026-03-01T11:30:00Z" {
		t.Errorf("expected UTC timestamp, got %s", e.Timestamp)
	}
	if e.EventType != domain.EventTransactionScored {
		t.Errorf("expected transaction_scored, got %s", e.EventType)
	}
	if e.Data["risk_score"] != 0.5 {
		t.Errorf("expected risk_score 0.5, got %v", e.Data["risk_score"])
	}
	top, ok := e.Data["top"].([]any)
	if !ok || len(top) != 1 {
		t.Fatalf("expected top list, got %#v", e.Data["top"])
	}
	if top[0].(map[string]any)["feature"] != "country_risk" {
		t.Errorf("unexpected contribution entry: %#v", top[0])
	}
}

func TestLogger_UnknownEventType(t *testing.T) {
	sink := &recordingSink{}
	logger := New(sink)

	err := logger.Log(context.Background(), "model_deleted", nil)
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("expected ErrUnknownEventType, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Error("unknown event must not be written")
	}
}

func TestLogger_Mirrors(t *testing.T) {
	primary := &recordingSink{}
	mirror := &recordingSink{}
	broken := &recordingSink{err: errors.New("db down")}
	logger := New(primary, WithMirror(broken), WithMirror(mirror))

	if err := logger.Log(context.Background(), domain.EventModelTrained, map[string]any{"k": 1}); err != nil {
		t.Fatalf("mirror failure must not surface: %v", err)
	}
	if len(primary.events) != 1 || len(mirror.events) != 1 {
		t.Errorf("expected one event per sink, got %d and %d", len(primary.events), len(mirror.events))
	}
	if mirror.events[0].Data["k"] != int64(1) {
		t.Errorf("expected normalized int64, got %T", mirror.events[0].Data["k"])
	}

	failing := New(&recordingSink{err: errors.New("disk full")})
	if err := failing.Log(context.Background(), domain.EventModelTrained, nil); err == nil {
		t.Error("expected primary sink failure to surface")
	}
}

func TestLogger_ConcurrentAppends(t *testing.T) {
	sink, path := openTestLog(t)
	logger := New(sink)
	ctx := context.Background()

	const writers, perWriter = 8, 50
	payload := strings.Repeat("x", 4096)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				err := logger.Log(ctx, domain.EventTransactionScored, map[string]any{
					"writer":  w,
					"seq":     i,
					"padding": payload,
				})
				if err != nil {
					t.Errorf("Log failed: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	events, err := ReadFile(path)
	if err != nil {
		t.Fatalf("log is not line-parseable: %v", err)
	}
	if len(events) != writers*perWriter {
		t.Errorf("expected %d events, got %d", writers*perWriter, len(events))
	}
}

func TestLogger_LogDecisionAndFeedback(t *testing.T) {
	sink := &recordingSink{}
	logger := New(sink)
	ctx := context.Background()

	d := &domain.Decision{
		ID:       "d-1",
		Features: domain.FeatureSet{"customer_age": 35},
		Explanation: &domain.Explanation{
			RiskScore: 0.8,
			AlertFlag: true,
			RiskBand:  domain.BandHigh,
		},
		Narrative: &domain.Narrative{PatternID: "ALERT"},
	}
	if err := logger.LogDecision(ctx, d); err != nil {
		t.Fatalf("LogDecision failed: %v", err)
	}

	fb := &domain.Feedback{
		Features:  d.Features,
		RiskScore: 0.8,
		AlertFlag: true,
		Feedback:  domain.FeedbackValid,
		PatternID: "ALERT",
	}
	if err := logger.LogFeedback(ctx, fb); err != nil {
		t.Fatalf("LogFeedback failed: %v", err)
	}

	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}

	decision := sink.events[0]
	if decision.EventType != domain.EventDecisionLogged {
		t.Errorf("expected decision_logged, got %s", decision.EventType)
	}
	if decision.Data["feedback"] != nil {
		t.Errorf("expected nil feedback, got %v", decision.Data["feedback"])
	}
	if decision.Data["risk_score"] != 0.8 || decision.Data["alert_flag"] != true {
		t.Errorf("unexpected score fields: %v", decision.Data)
	}
	nlp, ok := decision.Data["nlp_explanation"].(map[string]any)
	if !ok || nlp["pattern_id"] != "ALERT" {
		t.Errorf("unexpected narrative payload: %#v", decision.Data["nlp_explanation"])
	}

	feedback := sink.events[1]
	if feedback.EventType != domain.EventFeedbackProvided {
		t.Errorf("expected feedback_provided, got %s", feedback.EventType)
	}
	if feedback.Data["feedback"] != "Valid" {
		t.Errorf("expected Valid, got %v", feedback.Data["feedback"])
	}
}

type score float64

func TestNormalize(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"Nil", nil, nil},
		{"Int", 3, int64(3)},
		{"Uint8", uint8(7), int64(7)},
		{"Float32", float32(0.25), 0.25},
		{"NamedFloat", score(0.75), 0.75},
		{"NaN", math.NaN(), nil},
		{"Inf", math.Inf(1), nil},
		{"Band", domain.BandHigh, "High"},
		{"Time", ts, "2026-01-02T03:04:05Z"},
		{"Error", errors.New("boom"), "boom"},
		{"Strings", []string{"a", "b"}, []any{"a", "b"}},
		{"NilSlice", []string(nil), nil},
		{"IntMap", map[string]int{"x": 1}, map[string]any{"x": 1.0}},
		{"Floats", []float64{0.5, math.Inf(-1)}, []any{0.5, nil}},
		{"Labels", map[string]string{"band": "High"}, map[string]any{"band": "High"}},
		{"FeatureSet", domain.FeatureSet{"a": math.NaN()}, map[string]any{"a": nil}},
		{"Struct", domain.FeatureRange{Min: 1, Max: 2}, map[string]any{"min": 1.0, "max": 2.0}},
		{"Pointer", &domain.FeatureRange{Min: 1, Max: 2}, map[string]any{"min": 1.0, "max": 2.0}},
		{"NilPointer", (*domain.Explanation)(nil), nil},
		{"NonStringKeys", map[int]string{1: "a"}, map[string]any{"1": "a"}},
		{"Unencodable", domain.FeatureRange{Min: math.NaN(), Max: 2}, "{NaN 2}"},
		{"Nested", map[string]any{"l": []any{float32(1)}}, map[string]any{"l": []any{1.0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestReadLog(t *testing.T) {
	input := `{"timestamp":"t1","event_type":"model_trained","data":{"a":1}}

{"timestamp":"t2","event_type":"feedback_provided","data":{}}
`
	events, err := ReadLog(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadLog failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].EventType != domain.EventFeedbackProvided {
		t.Errorf("unexpected event type %s", events[1].EventType)
	}

	if _, err := ReadLog(strings.NewReader("not json\n")); err == nil {
		t.Error("expected parse error")
	}
}

func TestFileSink_Closed(t *testing.T) {
	sink, path := openTestLog(t)
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sink.Write(context.Background(), &domain.AuditEvent{EventType: domain.EventModelTrained}); err == nil {
		t.Error("expected write to closed sink to fail")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("log file should exist: %v", err)
	}
	if sink.Path() != path {
		t.Errorf("expected path %s, got %s", path, sink.Path())
	}
}
