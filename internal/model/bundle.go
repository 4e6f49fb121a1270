package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/validation"
)

// BundleFormatVersion is written into every saved bundle.
const BundleFormatVersion = 1

// Bundle is the trained classifier plus the metadata needed to score with it.
// It is never mutated after training.
type Bundle struct {
	FormatVersion int                            `json:"format_version"`
	Model         *Ensemble                      `json:"model"`
	Features      []string                       `json:"features"`
	Threshold     float64                        `json:"threshold"`
	FeatureRanges map[string]domain.FeatureRange `json:"feature_ranges,omitempty"`

	// Provenance
	TrainingDataVersion string              `json:"training_data_version,omitempty"`
	TrainedAt           string              `json:"trained_at,omitempty"`
	Params              *domain.ModelParams `json:"model_params,omitempty"`
	Metrics             map[string]float64  `json:"metrics,omitempty"`

	checksum string
}

// Checksum identifies the serialized bytes the bundle was loaded from.
func (b *Bundle) Checksum() string {
	return b.checksum
}

// Row orders a feature mapping into the model's input layout.
// Callers validate presence first.
func (b *Bundle) Row(features domain.FeatureSet) []float64 {
	row := make([]float64, len(b.Features))
	for i, name := range b.Features {
		row[i] = features[name]
	}
	return row
}

// Validate checks that the components agree with each other.
func (b *Bundle) Validate() error {
	if err := b.Model.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidBundle, err)
	}
	if len(b.Features) != b.Model.NumFeatures {
		return fmt.Errorf("%w: %d feature names for a %d-feature model",
			domain.ErrInvalidBundle, len(b.Features), b.Model.NumFeatures)
	}
	if b.Threshold < 0 || b.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v outside [0,1]", domain.ErrInvalidBundle, b.Threshold)
	}
	return nil
}

// Decode parses a serialized bundle, reporting absent components by name.
func Decode(data []byte) (*Bundle, error) {
	var components map[string]json.RawMessage
	if err := json.Unmarshal(data, &components); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidBundle, err)
	}
	if err := validation.Bundle(components); err != nil {
		return nil, err
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidBundle, err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	b.checksum = strconv.FormatUint(xxhash.Sum64(data), 16)
	return &b, nil
}

// Load reads a bundle from disk.
func Load(path string) (*Bundle, error) {
	if err := validation.FileExists(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle %s: %w", path, err)
	}
	return Decode(data)
}

// Save writes the bundle atomically, replacing any previous artifact.
func Save(path string, b *Bundle) error {
	if b.FormatVersion == 0 {
		b.FormatVersion = BundleFormatVersion
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encoding bundle: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating bundle directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bundle-*")
	if err != nil {
		return fmt.Errorf("creating temp bundle: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing bundle: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing bundle: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing bundle: %w", err)
	}

	b.checksum = strconv.FormatUint(xxhash.Sum64(data), 16)
	return nil
}
