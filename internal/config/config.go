package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Provider ProviderConfig `mapstructure:"provider" validate:"required"`
	Pool     PoolConfig     `mapstructure:"pool"     validate:"required"`
	Worker   WorkerConfig   `mapstructure:"worker"   validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// ServerConfig contains all HTTP server related settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
// An empty URL selects the in-memory store, which is only suitable for
// development since it loses all state on restart.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// ProviderConfig describes the upstream video generation service.
type ProviderConfig struct {
	BaseURL        string        `mapstructure:"base_url"        validate:"required,url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"required"`
}

// PoolConfig controls the session pool.
type PoolConfig struct {
	// DefaultCapacity is the per-session concurrent reservation limit
	// applied when an added session does not specify one.
	DefaultCapacity int `mapstructure:"default_capacity" validate:"required,gt=0"`

	// UnhealthyAfter is the number of consecutive failed health probes
	// after which a session's healthy flag is cleared.
	UnhealthyAfter int `mapstructure:"unhealthy_after" validate:"required,gt=0"`

	// ProbeInterval is how often every enabled session is pinged against
	// the provider in the background.
	ProbeInterval time.Duration `mapstructure:"probe_interval" validate:"required"`
}

// WorkerConfig controls the dispatch loop.
type WorkerConfig struct {
	// Concurrency is the number of parallel workers driving tasks.
	Concurrency int `mapstructure:"concurrency" validate:"required,gt=0"`

	// ClaimBackoff is how long an idle worker waits before looking for
	// work again (empty queue or no free session).
	ClaimBackoff time.Duration `mapstructure:"claim_backoff" validate:"required"`

	// SubmitRetries bounds retries of transient submit failures.
	SubmitRetries int `mapstructure:"submit_retries" validate:"gte=0"`

	// PollInterval is the base delay between status polls.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"required"`

	// MaxPollDuration bounds the total time spent polling one task before
	// it fails with a timeout.
	MaxPollDuration time.Duration `mapstructure:"max_poll_duration" validate:"required"`

	// StaleTaskAge is how old an active task's last update must be before
	// crash recovery returns it to the queue.
	StaleTaskAge time.Duration `mapstructure:"stale_task_age" validate:"required"`

	// CompletionWindow is how many recent completed tasks per model feed
	// the queue ETA estimate.
	CompletionWindow int `mapstructure:"completion_window" validate:"required,gt=0"`
}

// AuthConfig configures the optional API key layer guarding task creation.
// Keys are stored as bcrypt hashes; the matching key's name becomes the
// owner reference attached to created tasks.
type AuthConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	APIKeys []APIKeyRef `mapstructure:"api_keys" validate:"dive"`
}

// APIKeyRef is one configured API key.
type APIKeyRef struct {
	Name string `mapstructure:"name" validate:"required"`
	Hash string `mapstructure:"hash" validate:"required"`
}
