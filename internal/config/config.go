package config

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stancelab/hansard-cli/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Pipeline  PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Paths     PathsConfig      `yaml:"paths" mapstructure:"paths"`
	Pricing   cost.Rates       `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitor   MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log       LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the read-only speech store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	Path        string `yaml:"path" mapstructure:"path"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key            string  `yaml:"key" mapstructure:"key"`
	FilterModel    string  `yaml:"filter_model" mapstructure:"filter_model"`
	ScoreModel     string  `yaml:"score_model" mapstructure:"score_model"`
	MaxTokens      int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxBatchSize   int     `yaml:"max_batch_size" mapstructure:"max_batch_size"`
	PolltimeoutMin int     `yaml:"poll_timeout_min" mapstructure:"poll_timeout_min"`
}

// PipelineConfig configures the two-phase pipeline.
type PipelineConfig struct {
	ReasoningRate    float64 `yaml:"reasoning_rate" mapstructure:"reasoning_rate"`
	MaxRetryAttempts int     `yaml:"max_retry_attempts" mapstructure:"max_retry_attempts"`
	PollIntervalSecs int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	StatusPollRPS    float64 `yaml:"status_poll_rps" mapstructure:"status_poll_rps"`
}

// PathsConfig locates the on-disk data layout.
type PathsConfig struct {
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

// CacheDir holds the work-item status file, batch ledger and resolution cache.
func (p PathsConfig) CacheDir() string { return filepath.Join(p.DataDir, "cache") }

// LogsDir holds the cost and failed-request ledgers.
func (p PathsConfig) LogsDir() string { return filepath.Join(p.DataDir, "logs") }

// IntermediateDir holds per-pair filtered speech CSVs.
func (p PathsConfig) IntermediateDir() string { return filepath.Join(p.DataDir, "intermediate") }

// ClientDir holds final per-pair CSVs and aggregate JSON documents.
func (p PathsConfig) ClientDir() string { return filepath.Join(p.DataDir, "client") }

// InputDir holds members.txt and topics.txt.
func (p PathsConfig) InputDir() string { return filepath.Join(p.DataDir, "input") }

// PromptsDir holds the filter prompt, topic descriptions and scoring prompts.
func (p PathsConfig) PromptsDir() string { return filepath.Join(p.DataDir, "prompts") }

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker exposed by the
// status server. A blank webhook URL disables alert delivery.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	DeadLetterThreshold  int     `yaml:"dead_letter_threshold" mapstructure:"dead_letter_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HANSARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "hansard.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("paths.data_dir", "data")
	v.SetDefault("anthropic.filter_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.score_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0.3)
	v.SetDefault("anthropic.max_batch_size", 10000)
	v.SetDefault("anthropic.poll_timeout_min", 1440)
	v.SetDefault("pipeline.reasoning_rate", 0.1)
	v.SetDefault("pipeline.max_retry_attempts", 3)
	v.SetDefault("pipeline.poll_interval_secs", 30)
	v.SetDefault("pipeline.status_poll_rps", 2)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.dead_letter_threshold", 25)

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

	if cfg.Pricing.Anthropic == nil {
		cfg.Pricing = cost.DefaultRates()
	}

	return &cfg, nil
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
