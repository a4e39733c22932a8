// Package config loads convoy settings from config files and the
// environment via viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration for a convoy run.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Flow      FlowConfig      `mapstructure:"flow"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Run       RunConfig       `mapstructure:"run"`
}

// SchedulerConfig controls wave formation.
type SchedulerConfig struct {
	// MaxConcurrency caps the number of tasks per wave (default: 3)
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// DispatchConfig controls worker dispatch behavior.
type DispatchConfig struct {
	// MaxRetries is the number of re-dispatches after the first failed
	// attempt (default: 2, so a task is attempted at most 3 times)
	MaxRetries int `mapstructure:"max_retries"`
	// TimeoutMinutes bounds a single worker invocation (default: 30)
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// FlowConfig controls flow-control step execution.
type FlowConfig struct {
	// StepTimeoutMinutes bounds a single pre-analysis step (default: 5)
	StepTimeoutMinutes int `mapstructure:"step_timeout_minutes"`
}

// WorkerConfig controls how workers are invoked.
type WorkerConfig struct {
	// Command is the executable used to run workers (default: "claude")
	Command string `mapstructure:"command"`
}

// LoggingConfig controls debug logging.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
}

// RunConfig controls session-level execution policy.
type RunConfig struct {
	// Autonomous skips interactive failure prompts and applies default
	// recovery strategies (default: false)
	Autonomous bool `mapstructure:"autonomous"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrency: 3,
		},
		Dispatch: DispatchConfig{
			MaxRetries:     2,
			TimeoutMinutes: 30,
		},
		Flow: FlowConfig{
			StepTimeoutMinutes: 5,
		},
		Worker: WorkerConfig{
			Command: "claude",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Run: RunConfig{
			Autonomous: false,
		},
	}
}

// SetDefaults registers the default values with viper.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("scheduler.max_concurrency", defaults.Scheduler.MaxConcurrency)
	viper.SetDefault("dispatch.max_retries", defaults.Dispatch.MaxRetries)
	viper.SetDefault("dispatch.timeout_minutes", defaults.Dispatch.TimeoutMinutes)
	viper.SetDefault("flow.step_timeout_minutes", defaults.Flow.StepTimeoutMinutes)
	viper.SetDefault("worker.command", defaults.Worker.Command)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("run.autonomous", defaults.Run.Autonomous)
}

// Init wires viper to the config file search paths and the CONVOY_*
// environment. Missing config files are not an error.
func Init() error {
	SetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".convoy")
	viper.AddConfigPath(ConfigDir())

	viper.SetEnvPrefix("CONVOY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// Load reads the configuration from viper into a Config struct and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when
// loading fails.
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks the configuration for values the orchestrator cannot
// run with.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrency < 1 {
		return fmt.Errorf("scheduler.max_concurrency must be at least 1, got %d", c.Scheduler.MaxConcurrency)
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries must not be negative, got %d", c.Dispatch.MaxRetries)
	}
	if c.Dispatch.TimeoutMinutes < 1 {
		return fmt.Errorf("dispatch.timeout_minutes must be at least 1, got %d", c.Dispatch.TimeoutMinutes)
	}
	if c.Flow.StepTimeoutMinutes < 1 {
		return fmt.Errorf("flow.step_timeout_minutes must be at least 1, got %d", c.Flow.StepTimeoutMinutes)
	}
	if c.Worker.Command == "" {
		return fmt.Errorf("worker.command must not be empty")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	return nil
}

// ConfigDir returns the user-level config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "convoy")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".convoy"
	}
	return filepath.Join(home, ".config", "convoy")
}
