// Package app wires the configured backends into an analysis pipeline.
// The server and the CLI share it so both write the same audit trail.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/heron/internal/audit"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/cache"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/explain"
	"github.com/opensource-finance/heron/internal/narrative"
	"github.com/opensource-finance/heron/internal/pipeline"
	"github.com/opensource-finance/heron/internal/policy"
	"github.com/opensource-finance/heron/internal/repository"
)

// PolicyWorkers bounds concurrent policy evaluation per decision.
const PolicyWorkers = 8

// App owns every long-lived component. Repo, Cache and Bus are nil when the
// corresponding backend is disabled.
type App struct {
	Config   *domain.Config
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Audit    *audit.Logger
	Policies *policy.Engine
	Scorer   *explain.Scorer
	Analyzer *pipeline.Analyzer

	logger  *slog.Logger
	closers []func() error
}

// Option configures Open.
type Option func(*options)

type options struct {
	services bool
	logger   *slog.Logger
}

// WithServices also connects the result cache and the event bus.
func WithServices() Option {
	return func(o *options) {
		o.services = true
	}
}

// WithLogger sets the operational logger handed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Open builds the pipeline for cfg. On error every component opened so far
// is closed again.
func Open(cfg *domain.Config, opts ...Option) (_ *App, err error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, logger: o.logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	sink, err := audit.OpenFile(cfg.LogPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}

	auditOpts := []audit.Option{audit.WithLogger(o.logger)}
	if cfg.Audit.MirrorToRepository {
		repo, err := repository.New(cfg.Repository)
		if err != nil {
			sink.Close()
			return nil, fmt.Errorf("opening audit mirror: %w", err)
		}
		a.Repo = repo
		a.closers = append(a.closers, repo.Close)
		auditOpts = append(auditOpts, audit.WithMirror(audit.NewRepositorySink(repo)))
		o.logger.Debug("audit mirror enabled", "driver", cfg.Repository.Driver)
	}

	// The logger owns the file sink and closes before the repository.
	a.Audit = audit.New(sink, auditOpts...)
	a.closers = append(a.closers, a.Audit.Close)

	a.Policies, err = policy.NewEngine(PolicyWorkers)
	if err != nil {
		return nil, err
	}
	if err := a.Policies.Load(cfg.Policies); err != nil {
		return nil, fmt.Errorf("loading policies: %w", err)
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithPolicies(a.Policies),
		pipeline.WithLogger(o.logger),
	}

	if o.services {
		a.Cache, err = cache.New(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("initializing cache: %w", err)
		}
		if a.Cache != nil {
			a.closers = append(a.closers, a.Cache.Close)
			pipelineOpts = append(pipelineOpts, pipeline.WithCache(a.Cache, pipeline.DefaultCacheTTL))
		}

		a.Bus, err = bus.New(cfg.EventBus)
		if err != nil {
			return nil, fmt.Errorf("initializing event bus: %w", err)
		}
		a.closers = append(a.closers, a.Bus.Close)
		pipelineOpts = append(pipelineOpts, pipeline.WithBus(a.Bus))
	}

	a.Scorer = explain.NewScorer(cfg, a.Audit, explain.WithLogger(o.logger))
	a.Analyzer = pipeline.New(a.Scorer, narrative.New(cfg.NearZeroEpsilon), a.Audit, pipelineOpts...)

	return a, nil
}

// Close releases components in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
