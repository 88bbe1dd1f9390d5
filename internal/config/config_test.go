package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadConfigDefaultsAndEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("SCHEDULING_IGNORE_TERMINAL_STATUSES", "true")
	t.Setenv("JWT_TTL", "15m")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 15*time.Minute, cfg.JWT.TTL)
	assert.True(t, cfg.Scheduling.IgnoreTerminalStatuses)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Outbox.ProcessingTimeout)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yml := `
server:
  port: 9090
jwt:
  secret: "` + testSecret + `"
  ttl: 1h
database:
  driver: memory
google:
  enabled: true
  client_id: web-client.apps.googleusercontent.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(yml), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.JWT.TTL)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "web-client.apps.googleusercontent.com", cfg.Google.ClientID)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "short")
		_, err := LoadConfig(t.TempDir())
		assert.ErrorContains(t, err, "jwt.secret")
	})

	t.Run("google without client id", func(t *testing.T) {
		t.Setenv("JWT_SECRET", testSecret)
		t.Setenv("GOOGLE_ENABLED", "true")
		_, err := LoadConfig(t.TempDir())
		assert.ErrorContains(t, err, "google.client_id")
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("JWT_SECRET", testSecret)
		t.Setenv("DATABASE_DRIVER", "mysql")
		_, err := LoadConfig(t.TempDir())
		assert.ErrorContains(t, err, "database.driver")
	})

	t.Run("non-positive processing timeout", func(t *testing.T) {
		t.Setenv("JWT_SECRET", testSecret)
		t.Setenv("OUTBOX_PROCESSING_TIMEOUT", "0s")
		_, err := LoadConfig(t.TempDir())
		assert.ErrorContains(t, err, "processing_timeout")
	})
}

func TestLoadAdminSeed(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		s, err := LoadAdminSeed()
		require.NoError(t, err)
		assert.False(t, s.Enabled)
		assert.Equal(t, "Administrator", s.FullName)
	})

	t.Run("enabled", func(t *testing.T) {
		t.Setenv("DEV_ENABLE_DEFAULT_ADMIN", "true")
		t.Setenv("DEFAULT_ADMIN_EMAIL", "admin@clinic.test")
		t.Setenv("DEFAULT_ADMIN_PASSWORD", "super-secret")
		t.Setenv("DEFAULT_ADMIN_RESET", "true")

		s, err := LoadAdminSeed()
		require.NoError(t, err)
		assert.True(t, s.Enabled)
		assert.True(t, s.Reset)
		assert.Equal(t, "admin@clinic.test", s.Email)
	})

	t.Run("enabled without credentials", func(t *testing.T) {
		t.Setenv("DEV_ENABLE_DEFAULT_ADMIN", "true")
		_, err := LoadAdminSeed()
		assert.Error(t, err)
	})
}
