package config

import (
	"bytes"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"API_ADDR", "ADMIN_ADDR", "STORAGE_BACKEND", "CAMPUSCHAT_DB", "MONGO_URI",
	"MONGO_DATABASE", "AUTH_SECRET", "TOKEN_EXPIRY", "VERIFY_TIMEOUT", "SEND_BUFFER",
	"ALLOWED_ORIGINS", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv unsets every key for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_SECRET", "0123456789abcdef")

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.APIAddr)
	assert.Equal(t, "localhost:8081", cfg.AdminAddr)
	assert.Equal(t, "bbolt", cfg.StorageBackend)
	assert.Equal(t, "campuschat.db", cfg.DBFile)
	assert.Equal(t, "campuschat", cfg.MongoDatabase)
	assert.Equal(t, 12*time.Hour, cfg.TokenExpiry)
	assert.Equal(t, 5*time.Second, cfg.VerifyTimeout)
	assert.Equal(t, 256, cfg.SendBuffer)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_SECRET", "0123456789abcdef")
	t.Setenv("STORAGE_BACKEND", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("TOKEN_EXPIRY", "30m")
	t.Setenv("VERIFY_TIMEOUT", "750ms")
	t.Setenv("SEND_BUFFER", "16")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(false)
	require.NoError(t, err)

	assert.Equal(t, "mongo", cfg.StorageBackend)
	assert.Equal(t, 30*time.Minute, cfg.TokenExpiry)
	assert.Equal(t, 750*time.Millisecond, cfg.VerifyTimeout)
	assert.Equal(t, 16, cfg.SendBuffer)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadParseErrors(t *testing.T) {
	for _, key := range []string{"TOKEN_EXPIRY", "VERIFY_TIMEOUT", "SEND_BUFFER"} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("AUTH_SECRET", "0123456789abcdef")
			t.Setenv(key, "bogus")

			_, err := Load(false)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			AdminAddr:      "localhost:8081",
			StorageBackend: "memory",
			AuthSecret:     "0123456789abcdef",
			TokenExpiry:    time.Hour,
			VerifyTimeout:  time.Second,
			SendBuffer:     8,
			LogLevel:       "info",
			LogFormat:      "text",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		cliMode bool
		wantErr string
	}{
		{"Valid", func(*Config) {}, false, ""},
		{"MissingSecret", func(c *Config) { c.AuthSecret = "" }, false, "AUTH_SECRET"},
		{"ShortSecret", func(c *Config) { c.AuthSecret = "short" }, false, "AUTH_SECRET"},
		{"CLIModeNoSecret", func(c *Config) { c.AuthSecret = "" }, true, ""},
		{"ZeroExpiry", func(c *Config) { c.TokenExpiry = 0 }, false, "TOKEN_EXPIRY"},
		{"ZeroVerifyTimeout", func(c *Config) { c.VerifyTimeout = 0 }, false, "VERIFY_TIMEOUT"},
		{"ZeroSendBuffer", func(c *Config) { c.SendBuffer = 0 }, false, "SEND_BUFFER"},
		{"UnknownBackend", func(c *Config) { c.StorageBackend = "redis" }, false, "STORAGE_BACKEND"},
		{"MongoWithoutURI", func(c *Config) { c.StorageBackend = "mongo" }, false, "MONGO_URI"},
		{"BboltWithoutPath", func(c *Config) { c.StorageBackend = "bbolt" }, false, "CAMPUSCHAT_DB"},
		{"BadLevel", func(c *Config) { c.LogLevel = "loud" }, false, "LOG_LEVEL"},
		{"BadFormat", func(c *Config) { c.LogFormat = "xml" }, false, "LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate(tt.cliMode)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.Logger(&buf)

	logger.Info("dropped")
	logger.Warn("kept", "user_id", "alice")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"msg":"kept"`)
	assert.Contains(t, out, `"user_id":"alice"`)
}
