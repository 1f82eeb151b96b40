// Package config provides centralized configuration for the gitpodcast server.
// Values come from environment variables (optionally seeded from .env.local)
// with sensible defaults.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/yangwenmai/gitpodcast/internal/model"
)

// EnvFile is read before parsing the environment. Missing is fine.
const EnvFile = ".env.local"

// Config holds all server configuration values.
type Config struct {
	// Port is the HTTP server listen port.
	Port string `env:"PORT" envDefault:"8080"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// DBDriver selects the cache store: "sqlite" or "postgres".
	DBDriver string `env:"DB_DRIVER" envDefault:"sqlite"`

	// DBPath is the path to the SQLite database file.
	DBPath string `env:"DB_PATH" envDefault:"gitpodcast.db"`

	// DatabaseURL is the Postgres DSN, used when DBDriver is "postgres".
	DatabaseURL string `env:"DATABASE_URL"`

	// BackendURL is the base URL of the generation backend.
	BackendURL string `env:"API_DEV_URL" envDefault:"https://api.GitPodcast.com"`

	// HTTPTimeout bounds each backend call. Generation is slow.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"5m"`

	// AudioCacheTrust is the probability of serving a cached audio hit.
	AudioCacheTrust float64 `env:"AUDIO_CACHE_TRUST" envDefault:"0.9"`

	// DefaultAudioLength applies when a request names no audio length.
	DefaultAudioLength string `env:"DEFAULT_AUDIO_LENGTH" envDefault:"short"`

	// CORSOrigin is the allowed CORS origin. Defaults to "*".
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"*"`

	// RateLimitPerMinute caps requests per client IP. Zero disables the limiter.
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	// StubBackend swaps the HTTP backend for the offline stub generator.
	StubBackend bool `env:"STUB_BACKEND" envDefault:"false"`
}

// Load reads .env.local and then the environment, applying defaults.
func Load() (Config, error) {
	loadEnvFile(EnvFile)
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required for sqlite")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for postgres")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.AudioCacheTrust < 0 || c.AudioCacheTrust > 1 {
		return fmt.Errorf("AUDIO_CACHE_TRUST must be within [0, 1], got %v", c.AudioCacheTrust)
	}
	if _, err := model.ParseAudioLength(c.DefaultAudioLength); err != nil {
		return fmt.Errorf("DEFAULT_AUDIO_LENGTH: %w", err)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}
	return nil
}

// DBSource returns the store location for DBDriver: the Postgres DSN or the
// SQLite file path.
func (c Config) DBSource() string {
	if c.DBDriver == "postgres" {
		return c.DatabaseURL
	}
	return c.DBPath
}

// AudioLength returns the validated default audio length.
func (c Config) AudioLength() model.AudioLength {
	l, err := model.ParseAudioLength(c.DefaultAudioLength)
	if err != nil {
		return model.AudioShort
	}
	return l
}

// SlogLevel maps LogLevel onto slog; unknown values fall back to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvFile sets KEY=VALUE pairs from path. Variables already present in
// the environment win. Quotes around values are stripped.
func loadEnvFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		os.Setenv(key, value)
	}
}
