package config

import (
	"encoding/json"
	"os"
	"strconv"

	"chatsync/internal/constants"
	"chatsync/internal/models"
)

var (
	ErrMissingAPIBaseURL = models.ConfigError{Message: "missing backend API base URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingEntityID   = models.ConfigError{Message: "missing current user entity ID"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path) // #nosec G304 - Operator-supplied config path
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

func validate(c *models.Config) error {
	if c.API.BaseURL == "" {
		return ErrMissingAPIBaseURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.CurrentUserEntityID == "" {
		return ErrMissingEntityID
	}
	if c.Push.Enabled && c.Push.URL == "" {
		return models.ConfigError{Message: "push enabled but push URL is empty"}
	}
	if c.RetentionDays < 0 {
		return models.ConfigError{Message: "retention days must be non-negative"}
	}
	return nil
}

func applyDefaults(c *models.Config) {
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Sync.IntervalSec <= 0 {
		c.Sync.IntervalSec = constants.DefaultSyncIntervalSec
	}
	if c.Queue.DrainIntervalSec <= 0 {
		c.Queue.DrainIntervalSec = constants.DefaultQueueDrainIntervalSec
	}
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = constants.DefaultQueueMaxAttempts
	}
	if c.Queue.DedupWindowSec <= 0 {
		c.Queue.DedupWindowSec = constants.DefaultDedupWindowSec
	}
	if c.Network.ProbeIntervalSec <= 0 {
		c.Network.ProbeIntervalSec = constants.DefaultProbeIntervalSec
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("CHATSYNC_API_URL"); url != "" {
		c.API.BaseURL = url
	}

	// Auth tokens should come from the environment, not the config file.
	if token := os.Getenv("CHATSYNC_API_TOKEN"); token != "" {
		c.API.AuthToken = token
	}

	if url := os.Getenv("CHATSYNC_PUSH_URL"); url != "" {
		c.Push.URL = url
	}

	if path := os.Getenv("CHATSYNC_DB_PATH"); path != "" {
		c.Database.Path = path
	}

	if entityID := os.Getenv("CHATSYNC_ENTITY_ID"); entityID != "" {
		c.CurrentUserEntityID = entityID
	}

	if level := os.Getenv("CHATSYNC_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if port := os.Getenv("CHATSYNC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}
