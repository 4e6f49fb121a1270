// Heron - Explainable transaction risk scoring for AML teams.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/opensource-finance/heron/internal/domain"
)

// Version information (set via ldflags)
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

// describe adds a next step to the errors an operator can fix.
func describe(err error) string {
	switch {
	case errors.Is(err, domain.ErrMissingArtifact):
		return err.Error() + " (check data_path and model_path, or run `heronctl train`)"
	case errors.Is(err, domain.ErrInvalidBundle):
		return err.Error() + " (retrain with `heronctl train`)"
	case errors.Is(err, domain.ErrMissingFeatures):
		return err.Error() + " (pass them with --feature name=value or --features-file)"
	default:
		return err.Error()
	}
}
