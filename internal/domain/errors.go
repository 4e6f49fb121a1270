package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks.
var (
	ErrMissingArtifact = errors.New("missing artifact")
	ErrInvalidBundle   = errors.New("invalid model bundle")
	ErrMissingFeatures = errors.New("missing required features")
	ErrInvalidFeature  = errors.New("invalid feature value")
	ErrInvalidConfig   = errors.New("invalid configuration")
)

// MissingArtifactError reports a bundle or dataset file that does not exist.
type MissingArtifactError struct {
	Path string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("file not found: %s", e.Path)
}

func (e *MissingArtifactError) Is(target error) bool {
	return target == ErrMissingArtifact
}

// InvalidBundleError reports required bundle components that are absent.
type InvalidBundleError struct {
	Missing []string
}

func (e *InvalidBundleError) Error() string {
	return fmt.Sprintf("invalid model bundle: missing keys [%s]", strings.Join(e.Missing, ", "))
}

func (e *InvalidBundleError) Is(target error) bool {
	return target == ErrInvalidBundle
}

// MissingFeaturesError names the required features absent from an input,
// in the order the model expects them.
type MissingFeaturesError struct {
	Missing []string
}

func (e *MissingFeaturesError) Error() string {
	return fmt.Sprintf("missing required features: [%s]", strings.Join(e.Missing, ", "))
}

func (e *MissingFeaturesError) Is(target error) bool {
	return target == ErrMissingFeatures
}

// InvalidFeatureError reports a feature whose value cannot be scored.
type InvalidFeatureError struct {
	Feature string
	Reason  string
}

func (e *InvalidFeatureError) Error() string {
	return fmt.Sprintf("invalid value for feature %s: %s", e.Feature, e.Reason)
}

func (e *InvalidFeatureError) Is(target error) bool {
	return target == ErrInvalidFeature
}
