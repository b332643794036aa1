package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "friends-go", cfg.AppName)
	assert.Equal(t, "ACCOUNT_CHANGES", cfg.Kafka.NotificationsTopic)
	assert.Equal(t, "all", cfg.Kafka.Acks)
	assert.Equal(t, 4, cfg.Notifications.Workers)
	assert.Equal(t, 1024, cfg.Notifications.QueueSize)
	assert.False(t, cfg.Notifications.NotifyOnRequest)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, 5*time.Minute, cfg.Accounts.CacheTTL)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
LOG_LEVEL: debug
DATABASE:
  TYPE: sqlite
  SQLITE_PATH: /tmp/friends-test.db
NOTIFICATIONS:
  NOTIFY_ON_REQUEST: true
  PUBLISH_TIMEOUT: 2s
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	t.Setenv("NOTIFICATIONS_WORKERS", "9")
	t.Setenv("API_SERVER_PORT", "9999")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "/tmp/friends-test.db", cfg.Database.SQLitePath)
	assert.True(t, cfg.Notifications.NotifyOnRequest)
	assert.Equal(t, 2*time.Second, cfg.Notifications.PublishTimeout)
	assert.Equal(t, 9, cfg.Notifications.Workers)
	assert.Equal(t, "9999", cfg.APIServer.Port)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
