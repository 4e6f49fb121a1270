package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/heron/internal/app"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/validation"
)

// featureFlags collects transaction features from a JSON file and from
// repeated name=value flags. Flags override the file.
type featureFlags struct {
	file  string
	pairs []string
}

func (f *featureFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.file, "features-file", "f", "", "JSON object of features, or {\"features\": {...}}; - reads stdin")
	cmd.Flags().StringArrayVar(&f.pairs, "feature", nil, "Feature as name=value (repeatable)")
}

// load reads the features; non-numeric values in the file are rejected for
// the required names and dropped for the rest.
func (f *featureFlags) load(stdin io.Reader, required []string) (domain.FeatureSet, error) {
	raw := map[string]any{}

	if f.file != "" {
		var r io.Reader = stdin
		if f.file != "-" {
			file, err := os.Open(f.file)
			if err != nil {
				return nil, fmt.Errorf("opening features file: %w", err)
			}
			defer file.Close()
			r = file
		}
		if err := decodeFeatures(r, raw); err != nil {
			return nil, err
		}
	}

	features, err := validation.Numeric(raw, required)
	if err != nil {
		return nil, err
	}

	for _, pair := range f.pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("feature %q must be name=value", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, &domain.InvalidFeatureError{Feature: name, Reason: fmt.Sprintf("%q is not a number", value)}
		}
		features[name] = v
	}
	return features, nil
}

func decodeFeatures(r io.Reader, into map[string]any) error {
	var doc map[string]any
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("decoding features: %w", err)
	}
	if nested, ok := doc["features"].(map[string]any); ok {
		doc = nested
	}
	for name, v := range doc {
		into[name] = v
	}
	return nil
}

// requiredFeatures lists the bundle's features, or nothing when the bundle
// cannot be read; scoring then reports the bundle problem.
func requiredFeatures(heron *app.App) []string {
	b, err := heron.Scorer.Bundle()
	if err != nil {
		return nil
	}
	return b.Features
}
