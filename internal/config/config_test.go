package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaultsAndEnv(t *testing.T) {
	path := writeConfig(t, `
app:
  env: dev
postgres:
  dsn: postgres://binledger@localhost:5432/binledger
telegram:
  admin_chat_id: 42
  alert_chats: [7, 8]
rbac:
  timeout: 5s
`)
	t.Setenv("APP_HTTP_ADDR", ":9090")
	t.Setenv("APP_AUTH_JWT_SECRET", "s3cret")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "dev", c.App.Env)
	assert.Equal(t, ":9090", c.HTTP.Addr)
	assert.Equal(t, "30-M", c.HTTP.ImportRate)
	assert.True(t, c.Metrics.Enabled)
	assert.Equal(t, int64(42), c.Telegram.AdminChatID)
	assert.Equal(t, []int64{7, 8}, c.Telegram.AlertChats)
	assert.Equal(t, 5*time.Second, c.RBAC.Timeout)
	assert.Equal(t, time.Minute, c.Redis.TTL)
	assert.Equal(t, "s3cret", c.Auth.JWTSecret)
	assert.Equal(t, "TEMP-BIN-01", c.Warehouse.StagingBin)
	assert.Equal(t, 5000, c.Import.MaxRows)
}

func TestLoadRequiresDSN(t *testing.T) {
	_, err := Load(writeConfig(t, "app:\n  env: prod\n"))
	assert.ErrorContains(t, err, "postgres.dsn")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
