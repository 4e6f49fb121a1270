// Package config resolves the Heron configuration from an environment-selected
// settings file, falling back to built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/heron/internal/domain"
)

// DefaultEnv is used when ENV is unset.
const DefaultEnv = "dev"

// Load resolves configuration for the current process.
// It loads .env if present, selects config/<ENV>.yaml under the project root
// and applies HERON_* environment overrides.
func Load() (*domain.Config, error) {
	return LoadRoot("", "")
}

// LoadRoot is Load with an explicit project root and environment name.
// Empty arguments fall back to HERON_ROOT (or the working directory) and ENV.
func LoadRoot(root, env string) (*domain.Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	if root == "" {
		root = getEnv("HERON_ROOT", "")
	}
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		root = wd
	}

	if env == "" {
		env = getEnv("ENV", DefaultEnv)
	}
	return LoadFile(filepath.Join(root, "config", env+".yaml"), root, env)
}

// LoadFile reads a settings file on top of the defaults.
// A missing file is not an error; the defaults are used unchanged.
func LoadFile(path, root, env string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv("HERON_TIER"), string(domain.TierPro)) {
		cfg = domain.ProConfig()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		slog.Debug("settings file not found, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", domain.ErrInvalidConfig, path, err)
		}
	}

	cfg.Env = env
	cfg.Root = root
	applyEnv(cfg)

	cfg.DataPath = resolve(root, cfg.DataPath)
	cfg.ModelPath = resolve(root, cfg.ModelPath)
	cfg.LogPath = resolve(root, cfg.LogPath)
	if cfg.Repository.Driver == "sqlite" {
		cfg.Repository.SQLitePath = resolve(root, cfg.Repository.SQLitePath)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges that would otherwise fail deep inside scoring.
func Validate(cfg *domain.Config) error {
	var problems []string

	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		problems = append(problems, fmt.Sprintf("threshold %v outside [0,1]", cfg.Threshold))
	}
	if cfg.BackgroundSamples <= 0 {
		problems = append(problems, "shap_background_samples must be positive")
	}
	if cfg.NearZeroEpsilon <= 0 {
		problems = append(problems, "near_zero_epsilon must be positive")
	}
	switch cfg.OODBoundary {
	case domain.OODExclusive, domain.OODInclusive:
	default:
		problems = append(problems, fmt.Sprintf("unknown ood_boundary %q", cfg.OODBoundary))
	}
	if _, err := ParseLevel(cfg.LoggingLevel); err != nil {
		problems = append(problems, err.Error())
	}

	p := cfg.ModelParams
	if p.NEstimators <= 0 || p.MaxDepth <= 0 {
		problems = append(problems, "model_params n_estimators and max_depth must be positive")
	}
	if p.LearningRate <= 0 {
		problems = append(problems, "model_params learning_rate must be positive")
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		problems = append(problems, "model_params subsample must be in (0,1]")
	}
	if p.TestSize < 0 || p.TestSize >= 1 {
		problems = append(problems, "model_params test_size must be in [0,1)")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ParseLevel maps a configured logging level onto slog.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown logging_level %q", level)
	}
}

func applyEnv(cfg *domain.Config) {
	if v := os.Getenv("HERON_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Threshold = f
		} else {
			slog.Warn("ignoring invalid HERON_THRESHOLD", "value", v)
		}
	}
	cfg.LoggingLevel = getEnv("HERON_LOG_LEVEL", cfg.LoggingLevel)
	cfg.DataPath = getEnv("HERON_DATA_PATH", cfg.DataPath)
	cfg.ModelPath = getEnv("HERON_MODEL_PATH", cfg.ModelPath)
	cfg.LogPath = getEnv("HERON_LOG_PATH", cfg.LogPath)
	cfg.Server.Port = getEnvInt("HERON_PORT", cfg.Server.Port)
	cfg.Repository.PostgresPassword = getEnv("HERON_POSTGRES_PASSWORD", cfg.Repository.PostgresPassword)
	cfg.Cache.RedisPassword = getEnv("HERON_REDIS_PASSWORD", cfg.Cache.RedisPassword)
	cfg.EventBus.NATSToken = getEnv("HERON_NATS_TOKEN", cfg.EventBus.NATSToken)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	if v := os.Getenv("HERON_TRACING"); v != "" {
		cfg.Tracing.Enabled = v == "true"
	}
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
