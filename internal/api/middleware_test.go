package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

// accessLog returns the last access log record written to buf.
func accessLog(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var found map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			continue
		}
		if rec["msg"] == "http request" {
			found = rec
		}
	}
	if found == nil {
		t.Fatalf("no access log record in %q", buf.String())
	}
	return found
}

func TestLoggingMiddleware_DecisionFields(t *testing.T) {
	server := createTestServer(t, testDeps{})

	t.Run("Explain", func(t *testing.T) {
		logs := captureLogs(t)

		rr := do(t, server, http.MethodPost, "/explain", map[string]any{"features": validFeatures()})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ExplainResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		rec := accessLog(t, logs)
		if rec["decision_id"] != resp.ID {
			t.Errorf("expected decision_id %q, got %v", resp.ID, rec["decision_id"])
		}
		if rec["risk_band"] != string(resp.Explanation.RiskBand) {
			t.Errorf("expected risk_band %s, got %v", resp.Explanation.RiskBand, rec["risk_band"])
		}
		if rec["alert_flag"] != resp.Explanation.AlertFlag {
			t.Errorf("expected alert_flag %v, got %v", resp.Explanation.AlertFlag, rec["alert_flag"])
		}
		if rec["cached"] != false {
			t.Errorf("expected cached false, got %v", rec["cached"])
		}
		if rec["pattern_id"] != resp.Narrative.PatternID {
			t.Errorf("expected pattern_id %q, got %v", resp.Narrative.PatternID, rec["pattern_id"])
		}
	})

	t.Run("Feedback", func(t *testing.T) {
		logs := captureLogs(t)

		rr := do(t, server, http.MethodPost, "/feedback", map[string]any{
			"features":   validFeatures(),
			"risk_score": 0.8,
			"alert_flag": true,
			"feedback":   "Invalid",
			"pattern_id": "ALERT_POS_AMOUNT_DEVIATION",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		rec := accessLog(t, logs)
		if rec["feedback"] != "Invalid" {
			t.Errorf("expected feedback Invalid, got %v", rec["feedback"])
		}
		if rec["pattern_id"] != "ALERT_POS_AMOUNT_DEVIATION" {
			t.Errorf("unexpected pattern_id %v", rec["pattern_id"])
		}
	})

	t.Run("HealthHasNoDecision", func(t *testing.T) {
		logs := captureLogs(t)

		do(t, server, http.MethodGet, "/health", nil)

		if _, ok := accessLog(t, logs)["decision_id"]; ok {
			t.Error("health checks must not carry a decision id")
		}
	})
}

func TestTracingMiddleware_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tp.Shutdown(context.Background())
	})

	server := createTestServer(t, testDeps{})

	spanFor := func(t *testing.T, traceID string) sdktrace.ReadOnlySpan {
		t.Helper()
		for _, s := range recorder.Ended() {
			if s.SpanContext().TraceID().String() == traceID {
				return s
			}
		}
		t.Fatalf("no ended span with trace id %s", traceID)
		return nil
	}

	t.Run("ExplainAttributes", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/explain", map[string]any{"features": validFeatures()})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		var resp ExplainResponse
		json.Unmarshal(rr.Body.Bytes(), &resp)

		traceID := rr.Header().Get(TraceIDHeader)
		if traceID == rr.Header().Get(RequestIDHeader) {
			t.Fatal("expected a real trace id once a provider is installed")
		}

		span := spanFor(t, traceID)
		if span.Name() != "POST /explain" {
			t.Errorf("unexpected span name %q", span.Name())
		}
		attrs := map[attribute.Key]attribute.Value{}
		for _, kv := range span.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		if got := attrs["decision_id"].AsString(); got != resp.ID {
			t.Errorf("expected decision_id %q on span, got %q", resp.ID, got)
		}
		if got := attrs["http.route"].AsString(); got != "/explain" {
			t.Errorf("expected http.route /explain, got %q", got)
		}
	})

	t.Run("NamedByRoutePattern", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/events/evt-123", nil)

		span := spanFor(t, rr.Header().Get(TraceIDHeader))
		if span.Name() != "GET /events/{id}" {
			t.Errorf("expected span named by route pattern, got %q", span.Name())
		}
	})
}
