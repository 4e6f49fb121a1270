// Package validation holds the precondition checks shared by scoring and training.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"

	"github.com/opensource-finance/heron/internal/domain"
)

// BundleComponents are the keys every model bundle must carry.
var BundleComponents = []string{"model", "features", "threshold"}

// FileExists fails with a MissingArtifactError when path does not exist.
func FileExists(path string) error {
	if path == "" {
		return &domain.MissingArtifactError{Path: path}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &domain.MissingArtifactError{Path: path}
		}
		return fmt.Errorf("checking %s: %w", path, err)
	}
	return nil
}

// Features checks that every required name is present and finite.
// Missing names are reported in required order. Extra keys are ignored.
func Features(features domain.FeatureSet, required []string) error {
	var missing []string
	for _, name := range required {
		if _, ok := features[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &domain.MissingFeaturesError{Missing: missing}
	}

	for _, name := range required {
		v := features[name]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &domain.InvalidFeatureError{Feature: name, Reason: "value must be finite"}
		}
	}
	return nil
}

// Numeric converts a decoded JSON object to a FeatureSet. Non-numeric
// values are rejected for required names and dropped otherwise, so callers
// may send auxiliary fields such as customer identifiers.
func Numeric(raw map[string]any, required []string) (domain.FeatureSet, error) {
	for _, name := range required {
		v, ok := raw[name]
		if !ok {
			continue
		}
		if _, isNum := v.(float64); !isNum {
			return nil, &domain.InvalidFeatureError{
				Feature: name,
				Reason:  fmt.Sprintf("expected a number, got %s", jsonKind(v)),
			}
		}
	}

	features := make(domain.FeatureSet, len(raw))
	for name, v := range raw {
		if f, ok := v.(float64); ok {
			features[name] = f
		}
	}
	return features, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	default:
		return "object"
	}
}

// Bundle checks that the decoded top-level bundle object carries every
// required component. A component explicitly set to null counts as missing.
func Bundle(components map[string]json.RawMessage) error {
	var missing []string
	for _, key := range BundleComponents {
		raw, ok := components[key]
		if !ok || string(raw) == "null" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return &domain.InvalidBundleError{Missing: missing}
	}
	return nil
}
