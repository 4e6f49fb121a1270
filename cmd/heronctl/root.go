package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/app"
	"github.com/opensource-finance/heron/internal/config"
	"github.com/opensource-finance/heron/internal/domain"
)

type rootOptions struct {
	root   string
	env    string
	output string
	debug  bool

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "heronctl",
		Short:         "Train, query and explain the Heron risk model",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOutput(opts.output)
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.root, "root", "", "Project root (defaults to HERON_ROOT or the working directory)")
	f.StringVar(&opts.env, "env", "", "Settings file under config/ (defaults to ENV or dev)")
	f.StringVarP(&opts.output, "output", "o", outputText, "Output format: text, json or yaml")
	f.BoolVar(&opts.debug, "debug", false, "Print debug logs to stderr")

	cmd.AddCommand(
		newTrainCmd(opts),
		newExplainCmd(opts),
		newFeedbackCmd(opts),
		newEventsCmd(opts),
	)
	return cmd
}

// load resolves configuration and sets up the stderr logger.
func (o *rootOptions) load() (*domain.Config, error) {
	cfg, err := config.LoadRoot(o.root, o.env)
	if err != nil {
		return nil, err
	}

	level, _ := config.ParseLevel(cfg.LoggingLevel)
	if o.debug {
		level = slog.LevelDebug
	}
	o.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, nil
}

// open wires the pipeline without cache or bus; the CLI runs one operation
// per process.
func (o *rootOptions) open(cfg *domain.Config) (*app.App, error) {
	return app.Open(cfg, app.WithLogger(o.logger))
}
