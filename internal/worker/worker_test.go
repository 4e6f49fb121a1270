package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
)

type fakeAnalyzer struct {
	mu       sync.Mutex
	requests []pipeline.Request
	err      error
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req *pipeline.Request) (*domain.Decision, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	f.requests = append(f.requests, *req)
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return &domain.Decision{
		ID:          req.ID,
		TraceID:     req.TraceID,
		Features:    req.Features,
		Explanation: &domain.Explanation{RiskScore: 0.9, RiskBand: domain.BandHigh, AlertFlag: true},
	}, nil
}

func (f *fakeAnalyzer) seen() []pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Request(nil), f.requests...)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for condition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func publish(t *testing.T, b domain.EventBus, req pipeline.Request) {
	t.Helper()
	payload, _ := json.Marshal(req)
	if err := b.Publish(context.Background(), domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &fakeAnalyzer{})

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicTransactionIngested {
			t.Errorf("expected default topic, got %s", stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		if w.GetStats().SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", w.GetStats().SubscriptionCount)
		}
	})

	t.Run("ProcessTransaction", func(t *testing.T) {
		analyzer := &fakeAnalyzer{}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{})
		defer w.Stop()

		publish(t, eventBus, pipeline.Request{
			ID:       "tx-001",
			TraceID:  "trace-001",
			Features: domain.FeatureSet{domain.FeatureCountryRisk: 0.9},
		})

		waitUntil(t, func() bool { return len(analyzer.seen()) == 1 })

		got := analyzer.seen()[0]
		if got.ID != "tx-001" || got.TraceID != "trace-001" {
			t.Errorf("unexpected identifiers %s %s", got.ID, got.TraceID)
		}
		if got.Features[domain.FeatureCountryRisk] != 0.9 {
			t.Errorf("features not decoded: %v", got.Features)
		}
	})

	t.Run("DefaultsIdentifiersToMessageID", func(t *testing.T) {
		analyzer := &fakeAnalyzer{}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{})
		defer w.Stop()

		publish(t, eventBus, pipeline.Request{Features: domain.FeatureSet{}})
		waitUntil(t, func() bool { return len(analyzer.seen()) == 1 })

		got := analyzer.seen()[0]
		if got.ID == "" || got.ID != got.TraceID {
			t.Errorf("expected id and trace id from the message, got %q %q", got.ID, got.TraceID)
		}
	})

	t.Run("MalformedPayload", func(t *testing.T) {
		analyzer := &fakeAnalyzer{}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{})

		eventBus.Publish(context.Background(), domain.TopicTransactionIngested, []byte("{not json"))
		time.Sleep(50 * time.Millisecond)
		w.Stop()

		if len(analyzer.seen()) != 0 {
			t.Error("malformed payload must not reach the analyzer")
		}
	})

	t.Run("AnalyzerErrorDoesNotStopWorker", func(t *testing.T) {
		analyzer := &fakeAnalyzer{err: errors.New("missing required features")}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{})
		defer w.Stop()

		publish(t, eventBus, pipeline.Request{ID: "a"})
		publish(t, eventBus, pipeline.Request{ID: "b"})

		waitUntil(t, func() bool { return len(analyzer.seen()) == 2 })
	})
}

func TestWorkerConcurrency(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	analyzer := &fakeAnalyzer{delay: 20 * time.Millisecond}
	w := NewWorker(eventBus, analyzer)
	if err := w.Start(Config{Topic: "custom.ingest", Concurrency: 2}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 6; i++ {
		payload, _ := json.Marshal(pipeline.Request{Features: domain.FeatureSet{}})
		eventBus.Publish(context.Background(), "custom.ingest", payload)
	}

	waitUntil(t, func() bool { return len(analyzer.seen()) == 6 })
	w.Stop()

	if peak := analyzer.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent analyses, got %d", peak)
	}
}

func TestWorkerStopWaitsForInFlight(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	analyzer := &fakeAnalyzer{delay: 50 * time.Millisecond}
	w := NewWorker(eventBus, analyzer)
	w.Start(Config{})

	publish(t, eventBus, pipeline.Request{ID: "slow"})
	waitUntil(t, func() bool { return analyzer.inFlight.Load() == 1 })

	w.Stop()

	if len(analyzer.seen()) != 1 {
		t.Error("Stop must wait for the in-flight analysis")
	}
}
