package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/heron/internal/domain"
)

func writeSettings(t *testing.T, root, env, body string) {
	t.Helper()
	dir := filepath.Join(root, "config")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, env+".yaml"), []byte(body), 0o644))
}

func TestLoadFile_MissingFileUsesDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := LoadFile(filepath.Join(root, "config", "dev.yaml"), root, "dev")
	require.NoError(t, err)

	assert.Equal(t, 0.35, cfg.Threshold)
	assert.Equal(t, 100, cfg.BackgroundSamples)
	assert.Equal(t, "INFO", cfg.LoggingLevel)
	assert.Equal(t, 1e-6, cfg.NearZeroEpsilon)
	assert.Equal(t, domain.OODExclusive, cfg.OODBoundary)
	assert.Equal(t, 100, cfg.ModelParams.NEstimators)
	assert.Equal(t, 6, cfg.ModelParams.MaxDepth)
	assert.Equal(t, 0.1, cfg.ModelParams.LearningRate)
	assert.Equal(t, int64(42), cfg.ModelParams.RandomState)
	assert.Equal(t, filepath.Join(root, "data", "transactions.csv"), cfg.DataPath)
	assert.Equal(t, filepath.Join(root, "model", "risk_model_bundle.json"), cfg.ModelPath)
	assert.Equal(t, filepath.Join(root, "logs", "aml_events.log"), cfg.LogPath)
}

func TestLoad_SelectsFileByEnv(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "staging", `
threshold: 0.5
shap_background_samples: 25
logging_level: DEBUG
model_path: /srv/heron/bundle.json
model_params:
  n_estimators: 20
  max_depth: 3
  learning_rate: 0.2
  random_state: 7
near_zero_epsilon: 0.001
ood_boundary: inclusive
`)
	t.Setenv("HERON_ROOT", root)
	t.Setenv("ENV", "staging")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, 0.5, cfg.Threshold)
	assert.Equal(t, 25, cfg.BackgroundSamples)
	assert.Equal(t, "DEBUG", cfg.LoggingLevel)
	assert.Equal(t, "/srv/heron/bundle.json", cfg.ModelPath)
	assert.Equal(t, 20, cfg.ModelParams.NEstimators)
	assert.Equal(t, int64(7), cfg.ModelParams.RandomState)
	assert.Equal(t, 0.001, cfg.NearZeroEpsilon)
	assert.Equal(t, domain.OODInclusive, cfg.OODBoundary)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 1.0, cfg.ModelParams.Lambda)
	assert.Equal(t, filepath.Join(root, "data", "transactions.csv"), cfg.DataPath)
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	t.Setenv("HERON_ROOT", root)
	t.Setenv("ENV", "")
	t.Setenv("HERON_THRESHOLD", "0.6")
	t.Setenv("HERON_PORT", "9191")
	t.Setenv("HERON_TRACING", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultEnv, cfg.Env)
	assert.Equal(t, 0.6, cfg.Threshold)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestLoadRoot_ArgumentsWin(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "qa", "threshold: 0.45")
	t.Setenv("HERON_ROOT", t.TempDir())
	t.Setenv("ENV", "prod")

	cfg, err := LoadRoot(root, "qa")
	require.NoError(t, err)

	assert.Equal(t, "qa", cfg.Env)
	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, 0.45, cfg.Threshold)
}

func TestLoad_ProTier(t *testing.T) {
	root := t.TempDir()
	t.Setenv("HERON_TIER", "pro")

	cfg, err := LoadFile(filepath.Join(root, "missing.yaml"), root, "prod")
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "nats", cfg.EventBus.Type)
}

func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"threshold above one", "threshold: 1.5", "threshold"},
		{"zero background", "shap_background_samples: 0", "shap_background_samples"},
		{"zero epsilon", "near_zero_epsilon: 0", "near_zero_epsilon"},
		{"negative epsilon", "near_zero_epsilon: -0.1", "near_zero_epsilon"},
		{"unknown boundary", "ood_boundary: fuzzy", "ood_boundary"},
		{"unknown level", "logging_level: LOUD", "logging_level"},
		{"malformed yaml", "threshold: [", "parsing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeSettings(t, root, "dev", tt.body)

			_, err := LoadFile(filepath.Join(root, "config", "dev.yaml"), root, "dev")
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
