package config

import (
	"crypto/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

// Config holds all server configuration
type Config struct {
	Server    ServerConfig
	TLS       TLSConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Redis     RedisConfig
	CORS      CORSConfig
	WebSocket WebSocketConfig
}

// ServerConfig is the listen address
type ServerConfig struct {
	Host string
	Port string
}

// TLSConfig enables HTTPS
type TLSConfig struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	MinVersion string
}

type DatabaseConfig struct {
	Path string
}

// SessionConfig signs nickname identity tokens
type SessionConfig struct {
	Secret []byte
	TTL    time.Duration
}

// RedisConfig points at the room backplane. An empty URL disables it.
type RedisConfig struct {
	URL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// WebSocketConfig limits incoming frames. Zero means unlimited.
type WebSocketConfig struct {
	MaxMessageBytes int64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		TLS: TLSConfig{
			Enabled:    getEnvBool("TLS_ENABLED", false),
			CertFile:   getEnv("TLS_CERT_FILE", ""),
			KeyFile:    getEnv("TLS_KEY_FILE", ""),
			MinVersion: getEnv("TLS_MIN_VERSION", "1.2"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/slides.db"),
		},
		Session: SessionConfig{
			Secret: []byte(os.Getenv("SESSION_SECRET")),
			TTL:    getEnvDuration("SESSION_TTL", 2*time.Hour),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		WebSocket: WebSocketConfig{
			MaxMessageBytes: getEnvInt64("WS_MAX_MESSAGE_BYTES", 0),
		},
	}

	if len(cfg.Session.Secret) == 0 {
		// tokens do not survive a restart without a configured secret
		glog.Infof("SESSION_SECRET not set, using a random per-process secret")
		cfg.Session.Secret = randomSecret()
	}

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		glog.Infof("Invalid %s=%q, using %t", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt64(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		glog.Infof("Invalid %s=%q, using %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		glog.Infof("Invalid %s=%q, using %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}

func randomSecret() []byte {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		glog.Fatalf("Failed to generate session secret: %v", err)
	}
	return secret
}
