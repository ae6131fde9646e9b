// Package config loads the single explicit configuration value passed to
// the orchestration components. Constructed once per run, read-only after.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/colloquylab/colloquy/internal/runstore"
	"github.com/colloquylab/colloquy/internal/tracing"
)

// TemporalConfig locates the Temporal server and task queue.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// Budgets bounds resource use of one pipeline.
type Budgets struct {
	// MaxSubtasks caps the plan size.
	MaxSubtasks int `mapstructure:"max_subtasks"`
	// MaxPlanAttempts bounds plan regeneration on invalid output.
	MaxPlanAttempts int `mapstructure:"max_plan_attempts"`
	// MaxIterations bounds the tool loop of a single invocation.
	MaxIterations int `mapstructure:"max_iterations"`
	// SubtaskRetries is how many times a failed invocation is retried
	// before the subtask is marked degraded.
	SubtaskRetries int `mapstructure:"subtask_retries"`
	// MaxReviewCycles bounds the critique/synthesis loop.
	MaxReviewCycles int `mapstructure:"max_review_cycles"`
	// PipelineTimeout is the per-pipeline wall-clock budget. On expiry the
	// pipeline halts gracefully with a partial result.
	PipelineTimeout time.Duration `mapstructure:"pipeline_timeout"`
}

// ConsensusConfig configures the multi-backend consensus mode.
type ConsensusConfig struct {
	Backends []string      `mapstructure:"backends"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// RedisConfig locates the journal Redis instance. Empty Addr disables the
// durable journal.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Config is the whole worker configuration.
type Config struct {
	Temporal        TemporalConfig  `mapstructure:"temporal"`
	ModelServiceURL string          `mapstructure:"model_service_url"`
	DefaultBackend  string          `mapstructure:"default_backend"`
	RosterPath      string          `mapstructure:"roster_path"`
	RateLimitsPath  string          `mapstructure:"rate_limits_path"`
	Budgets         Budgets         `mapstructure:"budgets"`
	Consensus       ConsensusConfig `mapstructure:"consensus"`
	Metrics         MetricsConfig   `mapstructure:"metrics"`
	Tracing         tracing.Config  `mapstructure:"tracing"`
	Redis           RedisConfig     `mapstructure:"redis"`
	Database        runstore.Config `mapstructure:"database"`
}

// Load reads the config file (optional) with COLLOQUY_* env overrides and
// applies defaults. Path may be empty; env and defaults then apply alone.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("COLLOQUY")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "colloquy-pipeline")
	v.SetDefault("model_service_url", "http://model-service:8000")
	v.SetDefault("default_backend", "openai")
	v.SetDefault("roster_path", "config/roster.yaml")
	v.SetDefault("budgets.max_subtasks", 8)
	v.SetDefault("budgets.max_plan_attempts", 2)
	v.SetDefault("budgets.max_iterations", 5)
	v.SetDefault("budgets.subtask_retries", 1)
	v.SetDefault("budgets.max_review_cycles", 2)
	v.SetDefault("budgets.pipeline_timeout", 30*time.Minute)
	v.SetDefault("consensus.timeout", 45*time.Minute)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("database.port", 5432)
}

// Validate rejects configurations the worker cannot run with.
func (c *Config) Validate() error {
	if c.ModelServiceURL == "" {
		return fmt.Errorf("model_service_url is required")
	}
	if c.Budgets.MaxSubtasks <= 0 {
		return fmt.Errorf("budgets.max_subtasks must be positive")
	}
	if c.Budgets.MaxPlanAttempts <= 0 {
		return fmt.Errorf("budgets.max_plan_attempts must be positive")
	}
	if c.Budgets.MaxReviewCycles < 0 {
		return fmt.Errorf("budgets.max_review_cycles must not be negative")
	}
	for _, b := range c.Consensus.Backends {
		if b == "" {
			return fmt.Errorf("consensus.backends must not contain empty ids")
		}
	}
	return nil
}
