// Package policy routes explained transactions to review queues using
// CEL escalation policies.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/heron/internal/domain"
)

// Engine evaluates compiled escalation policies.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[string]*CompiledPolicy
	maxWorkers int
	logger     *slog.Logger
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Config  domain.PolicyConfig
	Program cel.Program
}

// Input is what a policy expression can see about one transaction.
type Input struct {
	Explanation *domain.Explanation
	Features    domain.FeatureSet
	PatternID   string
}

// NewEngine creates a policy engine evaluating at most maxWorkers
// policies concurrently.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("risk_score", cel.DoubleType),
		cel.Variable("risk_band", cel.StringType),
		cel.Variable("alert_flag", cel.BoolType),
		cel.Variable("ood_flag", cel.BoolType),
		cel.Variable("ood_features", cel.ListType(cel.StringType)),
		cel.Variable("top_feature", cel.StringType),
		cel.Variable("top_features", cel.ListType(cel.StringType)),
		cel.Variable("features", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("pattern_id", cel.StringType),
		cel.Variable("threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		compiled:   make(map[string]*CompiledPolicy),
		maxWorkers: maxWorkers,
		logger:     slog.Default(),
	}, nil
}

// Validate compiles a policy without loading it.
func (e *Engine) Validate(cfg domain.PolicyConfig) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compile(cfg)
	return err
}

// Load replaces the loaded policies with the enabled entries of configs.
// On error the previous set stays active.
func (e *Engine) Load(configs []domain.PolicyConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string]*CompiledPolicy, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if _, dup := next[cfg.ID]; dup {
			return fmt.Errorf("duplicate policy id %s", cfg.ID)
		}

		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.compiled = next
	return nil
}

// Count returns the number of loaded policies.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Policies returns the loaded policy configurations ordered by ID.
func (e *Engine) Policies() []domain.PolicyConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]domain.PolicyConfig, 0, len(e.compiled))
	for _, p := range e.compiled {
		out = append(out, p.Config)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Evaluate runs every loaded policy in parallel and returns the triggered
// ones ordered by policy ID. A policy that fails to evaluate is skipped.
func (e *Engine) Evaluate(ctx context.Context, in *Input) []domain.Escalation {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiled))
	for _, p := range e.compiled {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	if len(policies) == 0 || in == nil || in.Explanation == nil {
		return []domain.Escalation{}
	}

	activation := activationFor(in)

	results := make([]*domain.Escalation, len(policies))
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.maxWorkers)

	for i, p := range policies {
		wg.Add(1)
		go func(idx int, p *CompiledPolicy) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluate(ctx, p, activation)
		}(i, p)
	}

	wg.Wait()

	escalations := make([]domain.Escalation, 0, len(results))
	for _, r := range results {
		if r != nil {
			escalations = append(escalations, *r)
		}
	}
	sort.Slice(escalations, func(i, j int) bool { return escalations[i].PolicyID < escalations[j].PolicyID })
	return escalations
}

func (e *Engine) evaluate(ctx context.Context, p *CompiledPolicy, activation map[string]any) *domain.Escalation {
	start := time.Now()

	out, _, err := p.Program.ContextEval(ctx, activation)
	if err != nil {
		e.logger.Warn("policy evaluation failed",
			"policy_id", p.Config.ID,
			"error", err,
		)
		return nil
	}

	score := toScore(out)
	if score <= 0 {
		return nil
	}

	reason := p.Config.Description
	if reason == "" {
		reason = p.Config.Name
	}

	return &domain.Escalation{
		PolicyID:  p.Config.ID,
		Queue:     p.Config.Queue,
		Severity:  p.Config.Severity,
		Score:     score,
		Reason:    reason,
		ProcessMs: time.Since(start).Milliseconds(),
	}
}

func activationFor(in *Input) map[string]any {
	exp := in.Explanation

	features := make(map[string]float64, len(in.Features))
	for k, v := range in.Features {
		features[k] = v
	}

	top := make([]string, 0, len(exp.TopFeatures))
	for _, c := range exp.TopFeatures {
		top = append(top, c.Feature)
	}
	topFeature := ""
	if len(top) > 0 {
		topFeature = top[0]
	}

	ood := exp.OODFeatures
	if ood == nil {
		ood = []string{}
	}

	return map[string]any{
		"risk_score":   exp.RiskScore,
		"risk_band":    string(exp.RiskBand),
		"alert_flag":   exp.AlertFlag,
		"ood_flag":     exp.OODFlag,
		"ood_features": ood,
		"top_feature":  topFeature,
		"top_features": top,
		"features":     features,
		"pattern_id":   in.PatternID,
		"threshold":    exp.Threshold,
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

func (e *Engine) compile(cfg domain.PolicyConfig) (*CompiledPolicy, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("policy id is required")
	}
	if cfg.Queue == "" {
		return nil, fmt.Errorf("policy %s: queue is required", cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("policy %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &CompiledPolicy{
		Config:  cfg,
		Program: program,
	}, nil
}
