// Package worker scores transactions published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/pipeline"
)

// Analyzer runs one transaction through the analysis pipeline. The pipeline
// publishes the resulting decision itself.
type Analyzer interface {
	Analyze(ctx context.Context, req *pipeline.Request) (*domain.Decision, error)
}

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	analyzer Analyzer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	sem           chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Topic to consume; defaults to domain.TopicTransactionIngested.
	Topic string

	// Concurrency bounds in-flight analyses; defaults to 1.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, analyzer Analyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		analyzer: analyzer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start(cfg Config) error {
	if cfg.Topic == "" {
		cfg.Topic = domain.TopicTransactionIngested
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.sem = make(chan struct{}, cfg.Concurrency)

	sub, err := w.bus.Subscribe(w.ctx, cfg.Topic, w.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", cfg.Topic, err)
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("worker started",
		"topic", cfg.Topic,
		"concurrency", cfg.Concurrency,
	)
	return nil
}

// handleMessage hands the message to a bounded pool so a slow analysis
// does not stall the subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		_ = w.process(w.ctx, msg)
	}()
	return nil
}

// process decodes and analyses one transaction message.
func (w *Worker) process(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req pipeline.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if req.ID == "" {
		req.ID = msg.ID
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	decision, err := w.analyzer.Analyze(ctx, &req)
	if err != nil {
		slog.Error("transaction analysis failed",
			"tx_id", req.ID,
			"trace_id", req.TraceID,
			"error", err,
		)
		return err
	}

	slog.Info("transaction processed",
		"tx_id", decision.ID,
		"risk_score", decision.Explanation.RiskScore,
		"risk_band", decision.Explanation.RiskBand,
		"alert_flag", decision.Explanation.AlertFlag,
		"cached", decision.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes and waits for in-flight analyses.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()
	w.cancel()

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
