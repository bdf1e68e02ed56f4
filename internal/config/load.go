package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load configuration from environment variables and optionally a config file.
// Environment variables (prefix VIDGATEWAY_, nested keys joined with "_")
// take precedence over values from the config file, which takes precedence
// over defaults. Returns a populated Config or an error if loading or
// validation fails.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/vidgateway")

	v.SetEnvPrefix("VIDGATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars and defaults suffice.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5100)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("provider.base_url", "http://127.0.0.1:8000")
	v.SetDefault("provider.request_timeout", 2*time.Minute)

	v.SetDefault("pool.default_capacity", 2)
	v.SetDefault("pool.unhealthy_after", 3)
	v.SetDefault("pool.probe_interval", 5*time.Minute)

	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("worker.claim_backoff", 5*time.Second)
	v.SetDefault("worker.submit_retries", 3)
	v.SetDefault("worker.poll_interval", 10*time.Second)
	v.SetDefault("worker.max_poll_duration", 4*time.Hour)
	v.SetDefault("worker.stale_task_age", 10*time.Minute)
	v.SetDefault("worker.completion_window", 50)

	v.SetDefault("auth.enabled", false)
}
