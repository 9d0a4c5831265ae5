// internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for agentd.
type Config struct {
	// Server configuration.
	Port        int    `mapstructure:"port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	ModelDir    string `mapstructure:"model_dir"`
	Redis       string `mapstructure:"redis"`

	// RunForBudgetMs is the wall-clock budget, in milliseconds, given to
	// each scheduler tick's RunFor call.
	RunForBudgetMs int `mapstructure:"run_for_budget_ms"`

	// OpenTelemetry configuration.
	OTELEnabled  bool   `mapstructure:"otel_enabled"`
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	// Feature flags.
	UseFakeGraph bool `mapstructure:"use_fake_graph"`
}

// RunForBudget returns RunForBudgetMs as a time.Duration.
func (c *Config) RunForBudget() time.Duration {
	return time.Duration(c.RunForBudgetMs) * time.Millisecond
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("model_dir", "./models")
	v.SetDefault("redis", "localhost:6379")
	v.SetDefault("run_for_budget_ms", 20)
	v.SetDefault("otel_enabled", false)
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("use_fake_graph", false)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("AGENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("port", "AGENTD_PORT")
	v.BindEnv("metrics_port", "AGENTD_METRICS_PORT")
	v.BindEnv("model_dir", "AGENTD_MODEL_DIR")
	v.BindEnv("redis", "AGENTD_REDIS")
	v.BindEnv("run_for_budget_ms", "AGENTD_RUN_FOR_BUDGET_MS")
	v.BindEnv("otel_enabled", "AGENTD_OTEL_ENABLED")
	v.BindEnv("otel_endpoint", "AGENTD_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
	v.BindEnv("use_fake_graph", "AGENTD_USE_FAKE_GRAPH")

	if endpoint := viper.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		v.Set("otel_endpoint", endpoint)
		v.Set("otel_enabled", true)
	}
}

// Load loads configuration from environment variables and an optional
// config file. Priority (highest to lowest): env vars > config file >
// defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentd/")
	v.AddConfigPath("$HOME/.agentd")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LoadWithConfigFile loads configuration from a specific config file.
func LoadWithConfigFile(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}
	if c.Port == c.MetricsPort {
		return fmt.Errorf("port and metrics_port must be different")
	}
	if c.ModelDir == "" && !c.UseFakeGraph {
		return fmt.Errorf("model_dir is required when not using a fake graph")
	}
	if c.RunForBudgetMs <= 0 {
		return fmt.Errorf("run_for_budget_ms must be positive, got %d", c.RunForBudgetMs)
	}
	return nil
}
