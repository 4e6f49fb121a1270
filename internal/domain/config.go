package domain

// Config holds the complete Heron configuration.
type Config struct {
	// Env selects the settings file (config/<env>.yaml).
	Env string `yaml:"env" json:"env"`

	// Root is the project root that relative paths are resolved against.
	Root string `yaml:"root" json:"root"`

	// Artifact locations
	DataPath  string `yaml:"data_path" json:"dataPath"`
	ModelPath string `yaml:"model_path" json:"modelPath"`
	LogPath   string `yaml:"log_path" json:"logPath"`

	// Model training hyperparameters
	ModelParams ModelParams `yaml:"model_params" json:"modelParams"`

	// Threshold is the decision cutoff written into newly trained bundles.
	// Scoring always uses the threshold stored in the bundle.
	Threshold float64 `yaml:"threshold" json:"threshold"`

	// BackgroundSamples is the attribution baseline sample size.
	BackgroundSamples int   `yaml:"shap_background_samples" json:"shapBackgroundSamples"`
	BackgroundSeed    int64 `yaml:"background_seed" json:"backgroundSeed"`

	// LoggingLevel is one of DEBUG, INFO, WARN, ERROR.
	LoggingLevel string `yaml:"logging_level" json:"loggingLevel"`

	// NearZeroEpsilon is the magnitude below which every top contribution
	// is treated as immaterial by the narrative generator.
	NearZeroEpsilon float64 `yaml:"near_zero_epsilon" json:"nearZeroEpsilon"`

	// OODBoundary selects whether range bounds themselves are in-distribution.
	OODBoundary OODBoundary `yaml:"ood_boundary" json:"oodBoundary"`

	// Tier determines which infrastructure backends are wired.
	Tier Tier `yaml:"tier" json:"tier"`

	// Component configurations
	Server     ServerConfig     `yaml:"server" json:"server"`
	Repository RepositoryConfig `yaml:"repository" json:"repository"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	EventBus   EventBusConfig   `yaml:"event_bus" json:"eventBus"`
	Audit      AuditConfig      `yaml:"audit" json:"audit"`
	Policies   []PolicyConfig   `yaml:"policies" json:"policies"`

	// Observability
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ModelParams are the gradient boosting hyperparameters.
type ModelParams struct {
	NEstimators    int     `yaml:"n_estimators" json:"n_estimators"`
	MaxDepth       int     `yaml:"max_depth" json:"max_depth"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	RandomState    int64   `yaml:"random_state" json:"random_state"`
	Lambda         float64 `yaml:"lambda" json:"lambda"`
	MinChildWeight float64 `yaml:"min_child_weight" json:"min_child_weight"`
	MaxBins        int     `yaml:"max_bins" json:"max_bins"`
	Subsample      float64 `yaml:"subsample" json:"subsample"`
	TestSize       float64 `yaml:"test_size" json:"test_size"`
}

// OODBoundary controls how a value equal to a range bound is treated.
type OODBoundary string

const (
	// OODExclusive flags only values strictly outside [min, max].
	OODExclusive OODBoundary = "exclusive"

	// OODInclusive also flags values sitting exactly on a bound.
	OODInclusive OODBoundary = "inclusive"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port"`
	ReadTimeout  int    `yaml:"read_timeout" json:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout" json:"writeTimeout"` // seconds
}

// AuditConfig controls where audit entries are written besides the log file.
type AuditConfig struct {
	// MirrorToRepository also stores every entry in the SQL repository.
	MirrorToRepository bool `yaml:"mirror_to_repository" json:"mirrorToRepository"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"service_name" json:"serviceName"`

	// Endpoint is the OTLP/gRPC collector address. Empty keeps spans local.
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// Tier represents the deployment profile.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU cache and channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultConfig returns the configuration used when no settings file exists.
func DefaultConfig() *Config {
	return &Config{
		Env:       "dev",
		DataPath:  "data/transactions.csv",
		ModelPath: "model/risk_model_bundle.json",
		LogPath:   "logs/aml_events.log",
		ModelParams: ModelParams{
			NEstimators:    100,
			MaxDepth:       6,
			LearningRate:   0.1,
			RandomState:    42,
			Lambda:         1.0,
			MinChildWeight: 1.0,
			MaxBins:        256,
			Subsample:      1.0,
			TestSize:       0.2,
		},
		Threshold:         0.35,
		BackgroundSamples: 100,
		BackgroundSeed:    42,
		LoggingLevel:      "INFO",
		NearZeroEpsilon:   1e-6,
		OODBoundary:       OODExclusive,
		Tier:              TierCommunity,
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "data/heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Audit: AuditConfig{
			MirrorToRepository: true,
		},
		Policies: DefaultPolicies(),
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       60,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
