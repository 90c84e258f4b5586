package config

import (
	"os"
	"path/filepath"
	"testing"

	"chatsync/internal/constants"
	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const validConfig = `{
	"api": {"base_url": "https://api.example.com"},
	"database": {"path": "/tmp/chatsync.db"},
	"current_user_entity_id": "entity-1"
}`

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, validConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, constants.DefaultHTTPTimeoutSec, cfg.API.TimeoutSec)
	assert.Equal(t, constants.DefaultSyncIntervalSec, cfg.Sync.IntervalSec)
	assert.Equal(t, constants.DefaultQueueDrainIntervalSec, cfg.Queue.DrainIntervalSec)
	assert.Equal(t, constants.DefaultQueueMaxAttempts, cfg.Queue.MaxAttempts)
	assert.Equal(t, constants.DefaultDedupWindowSec, cfg.Queue.DedupWindowSec)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultRetentionDays, cfg.RetentionDays)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{
			name:    "missing api url",
			content: `{"database": {"path": "/tmp/x.db"}, "current_user_entity_id": "e1"}`,
			wantErr: ErrMissingAPIBaseURL,
		},
		{
			name:    "missing db path",
			content: `{"api": {"base_url": "https://x"}, "current_user_entity_id": "e1"}`,
			wantErr: ErrMissingDBPath,
		},
		{
			name:    "missing entity id",
			content: `{"api": {"base_url": "https://x"}, "database": {"path": "/tmp/x.db"}}`,
			wantErr: ErrMissingEntityID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			_, err := LoadConfig(path)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfigPushRequiresURL(t *testing.T) {
	path := writeConfig(t, `{
		"api": {"base_url": "https://x"},
		"database": {"path": "/tmp/x.db"},
		"current_user_entity_id": "e1",
		"push": {"enabled": true}
	}`)

	_, err := LoadConfig(path)
	require.Error(t, err)
	var cfgErr models.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{not json`)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("CHATSYNC_API_URL", "https://override.example.com")
	t.Setenv("CHATSYNC_API_TOKEN", "secret-token")
	t.Setenv("CHATSYNC_DB_PATH", "/var/lib/chatsync.db")
	t.Setenv("CHATSYNC_ENTITY_ID", "entity-override")
	t.Setenv("CHATSYNC_PORT", "9090")

	path := writeConfig(t, validConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://override.example.com", cfg.API.BaseURL)
	assert.Equal(t, "secret-token", cfg.API.AuthToken)
	assert.Equal(t, "/var/lib/chatsync.db", cfg.Database.Path)
	assert.Equal(t, "entity-override", cfg.CurrentUserEntityID)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestEnvironmentOverrideSatisfiesValidation(t *testing.T) {
	t.Setenv("CHATSYNC_ENTITY_ID", "entity-1")

	path := writeConfig(t, `{
		"api": {"base_url": "https://x"},
		"database": {"path": "/tmp/x.db"}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "entity-1", cfg.CurrentUserEntityID)
}

func TestInvalidPortOverrideIgnored(t *testing.T) {
	t.Setenv("CHATSYNC_PORT", "not-a-number")

	path := writeConfig(t, validConfig)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
}
