package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Policy   PolicyConfig   `yaml:"policy" mapstructure:"policy"`
	Fallback FallbackConfig `yaml:"fallback" mapstructure:"fallback"`
	Model    ModelConfig    `yaml:"model" mapstructure:"model"`
	Process  ProcessConfig  `yaml:"process" mapstructure:"process"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// PolicyConfig holds the effort limit business rules.
type PolicyConfig struct {
	EffortLimit      float64 `yaml:"effort_limit" mapstructure:"effort_limit"`
	MissingThreshold float64 `yaml:"missing_threshold" mapstructure:"missing_threshold"`
}

// FallbackConfig tunes the rule cascade.
type FallbackConfig struct {
	MinMonthSamples int `yaml:"min_month_samples" mapstructure:"min_month_samples"`
}

// ModelConfig configures training and the regression backend.
type ModelConfig struct {
	Backend             string  `yaml:"backend" mapstructure:"backend"`
	TestFraction        float64 `yaml:"test_fraction" mapstructure:"test_fraction"`
	TuneHyperparameters bool    `yaml:"tune_hyperparameters" mapstructure:"tune_hyperparameters"`
	Split               string  `yaml:"split" mapstructure:"split"`
	Seed                int64   `yaml:"seed" mapstructure:"seed"`
	CVFolds             int     `yaml:"cv_folds" mapstructure:"cv_folds"`
	RemoveOutliers      bool    `yaml:"remove_outliers" mapstructure:"remove_outliers"`
	TuningGridPath      string  `yaml:"tuning_grid_path" mapstructure:"tuning_grid_path"`

	// Boosting parameters.
	Iterations          int     `yaml:"iterations" mapstructure:"iterations"`
	Depth               int     `yaml:"depth" mapstructure:"depth"`
	LearningRate        float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
	L2LeafReg           float64 `yaml:"l2_leaf_reg" mapstructure:"l2_leaf_reg"`
	Subsample           float64 `yaml:"subsample" mapstructure:"subsample"`
	MaxLeaves           int     `yaml:"max_leaves" mapstructure:"max_leaves"`
	MinSamplesLeaf      int     `yaml:"min_samples_leaf" mapstructure:"min_samples_leaf"`
	EarlyStoppingRounds int     `yaml:"early_stopping_rounds" mapstructure:"early_stopping_rounds"`
}

// ProcessConfig configures the per-record fan-out.
type ProcessConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// StoreConfig configures the model registry backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// NotifyConfig holds webhook targets for issue notifications.
type NotifyConfig struct {
	N8NWebhookURL   string  `yaml:"n8n_webhook_url" mapstructure:"n8n_webhook_url"`
	TeamsWebhookURL string  `yaml:"teams_webhook_url" mapstructure:"teams_webhook_url"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Backends accepted by model.backend.
var Backends = []string{"symmetric", "depthwise", "lossguide", "linear"}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("EFFORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("policy.effort_limit", 30.0)
	v.SetDefault("policy.missing_threshold", 0.1)
	v.SetDefault("fallback.min_month_samples", 3)
	v.SetDefault("model.backend", "symmetric")
	v.SetDefault("model.test_fraction", 0.2)
	v.SetDefault("model.tune_hyperparameters", false)
	v.SetDefault("model.split", "random")
	v.SetDefault("model.seed", 42)
	v.SetDefault("model.cv_folds", 5)
	v.SetDefault("model.remove_outliers", true)
	v.SetDefault("model.tuning_grid_path", "")
	v.SetDefault("model.iterations", 200)
	v.SetDefault("model.depth", 6)
	v.SetDefault("model.learning_rate", 0.1)
	v.SetDefault("model.l2_leaf_reg", 1.0)
	v.SetDefault("model.subsample", 0.8)
	v.SetDefault("model.max_leaves", 31)
	v.SetDefault("model.min_samples_leaf", 1)
	v.SetDefault("model.early_stopping_rounds", 20)
	v.SetDefault("process.workers", 4)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "effort.db")
	v.SetDefault("notify.rate_per_sec", 5.0)
	v.SetDefault("notify.timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Default returns the configuration produced by the defaults alone.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	var errs []string

	if c.Policy.EffortLimit <= 0 {
		errs = append(errs, "policy.effort_limit must be > 0")
	}
	if c.Policy.MissingThreshold < 0 || c.Policy.MissingThreshold > 1 {
		errs = append(errs, "policy.missing_threshold must be within [0, 1]")
	}
	if c.Model.TestFraction <= 0 || c.Model.TestFraction >= 1 {
		errs = append(errs, "model.test_fraction must be within (0, 1)")
	}
	if !validBackend(c.Model.Backend) {
		errs = append(errs, fmt.Sprintf("model.backend %q must be one of %s", c.Model.Backend, strings.Join(Backends, ", ")))
	}
	if c.Model.Split != "random" && c.Model.Split != "temporal" {
		errs = append(errs, fmt.Sprintf("model.split %q must be random or temporal", c.Model.Split))
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
