package models

// Config holds the application configuration
type Config struct {
	API                 APIConfig      `json:"api"`
	Push                PushConfig     `json:"push"`
	Database            DatabaseConfig `json:"database"`
	Sync                SyncConfig     `json:"sync"`
	Queue               QueueConfig    `json:"queue"`
	Network             NetworkConfig  `json:"network"`
	Server              ServerConfig   `json:"server"`
	Tracing             TracingConfig  `json:"tracing"`
	CurrentUserEntityID string         `json:"current_user_entity_id"`
	LogLevel            string         `json:"log_level"`
	RetentionDays       int            `json:"retention_days"`
}

// APIConfig holds backend HTTP API configuration
type APIConfig struct {
	BaseURL    string `json:"base_url"`
	AuthToken  string `json:"auth_token"`
	TimeoutSec int    `json:"timeout_sec"`
}

// PushConfig holds push channel (WebSocket) configuration
type PushConfig struct {
	URL     string `json:"url"`
	Enabled bool   `json:"enabled"`
}

// DatabaseConfig holds local store configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SyncConfig holds sync coordinator configuration
type SyncConfig struct {
	IntervalSec int `json:"interval_sec"`
}

// QueueConfig holds outbound queue configuration
type QueueConfig struct {
	DrainIntervalSec int `json:"drain_interval_sec"`
	MaxAttempts      int `json:"max_attempts"`
	DedupWindowSec   int `json:"dedup_window_sec"`
}

// NetworkConfig holds connectivity probe configuration
type NetworkConfig struct {
	ProbeURL         string `json:"probe_url"`
	ProbeIntervalSec int    `json:"probe_interval_sec"`
}

// ServerConfig holds the local HTTP surface configuration
type ServerConfig struct {
	Port int `json:"port"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled      bool    `json:"enabled"`
	OTLPEndpoint string  `json:"otlp_endpoint"`
	SampleRate   float64 `json:"sample_rate"`
	UseStdout    bool    `json:"use_stdout"`
	Environment  string  `json:"environment"`
}

// ConfigError represents a configuration validation failure
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
