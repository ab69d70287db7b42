package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	APIAddr        string
	AdminAddr      string
	StorageBackend string
	DBFile         string
	MongoURI       string
	MongoDatabase  string
	AuthSecret     string
	TokenExpiry    time.Duration
	VerifyTimeout  time.Duration
	SendBuffer     int
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over it.
// cliMode relaxes the checks for commands that only talk to the admin API.
func Load(cliMode bool) (*Config, error) {
	_ = godotenv.Load()

	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "12h"))
	if err != nil {
		return nil, fmt.Errorf("TOKEN_EXPIRY: %w", err)
	}
	verifyTimeout, err := time.ParseDuration(getEnv("VERIFY_TIMEOUT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("VERIFY_TIMEOUT: %w", err)
	}
	sendBuffer, err := strconv.Atoi(getEnv("SEND_BUFFER", "256"))
	if err != nil {
		return nil, fmt.Errorf("SEND_BUFFER: %w", err)
	}

	cfg := &Config{
		APIAddr:        getEnv("API_ADDR", ":8080"),
		AdminAddr:      getEnv("ADMIN_ADDR", "localhost:8081"),
		StorageBackend: getEnv("STORAGE_BACKEND", "bbolt"),
		DBFile:         getEnv("CAMPUSCHAT_DB", "campuschat.db"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  getEnv("MONGO_DATABASE", "campuschat"),
		AuthSecret:     os.Getenv("AUTH_SECRET"),
		TokenExpiry:    tokenExpiry,
		VerifyTimeout:  verifyTimeout,
		SendBuffer:     sendBuffer,
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.AdminAddr == "" {
		return fmt.Errorf("ADMIN_ADDR is required")
	}
	if cliMode {
		return nil
	}

	if len(c.AuthSecret) < 16 {
		return fmt.Errorf("AUTH_SECRET is required and must be at least 16 characters")
	}

	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("VERIFY_TIMEOUT must be greater than 0")
	}

	if c.SendBuffer <= 0 {
		return fmt.Errorf("SEND_BUFFER must be greater than 0")
	}

	switch c.StorageBackend {
	case "bbolt":
		if c.DBFile == "" {
			return fmt.Errorf("CAMPUSCHAT_DB is required for the bbolt backend")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required for the mongo backend")
		}
	case "memory":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be one of bbolt, mongo, memory, got %q", c.StorageBackend)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}

	return nil
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
