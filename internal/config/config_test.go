package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{
		"SERVER_HOST", "SERVER_PORT", "TLS_ENABLED", "TLS_MIN_VERSION", "DB_PATH",
		"SESSION_SECRET", "SESSION_TTL", "REDIS_URL", "CORS_ALLOWED_ORIGINS", "WS_MAX_MESSAGE_BYTES",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, false, cfg.TLS.Enabled)
	assert.Equal(t, "1.2", cfg.TLS.MinVersion)
	assert.Equal(t, "./data/slides.db", cfg.Database.Path)
	assert.Equal(t, 32, len(cfg.Session.Secret))
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "", cfg.Redis.URL)
	assert.Equal(t, []string{"*"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, int64(0), cfg.WebSocket.MaxMessageBytes)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9443")
	t.Setenv("TLS_ENABLED", "true")
	t.Setenv("TLS_MIN_VERSION", "1.3")
	t.Setenv("SESSION_SECRET", "shh")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("WS_MAX_MESSAGE_BYTES", "1048576")

	cfg := LoadConfig()
	assert.Equal(t, "9443", cfg.Server.Port)
	assert.Equal(t, true, cfg.TLS.Enabled)
	assert.Equal(t, "1.3", cfg.TLS.MinVersion)
	assert.Equal(t, []byte("shh"), cfg.Session.Secret)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
	assert.Equal(t, int64(1048576), cfg.WebSocket.MaxMessageBytes)
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	t.Setenv("TLS_ENABLED", "maybe")
	t.Setenv("SESSION_TTL", "soon")
	t.Setenv("WS_MAX_MESSAGE_BYTES", "-5")

	cfg := LoadConfig()
	assert.Equal(t, false, cfg.TLS.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
	assert.Equal(t, int64(0), cfg.WebSocket.MaxMessageBytes)
}
