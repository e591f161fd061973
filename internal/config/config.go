package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Refresh modes accepted by TOPTOP_REFRESH_MODE.
const (
	RefreshSingleFlight = "single-flight"
	RefreshLegacy       = "legacy"
)

// Session store backends accepted by TOPTOP_SESSION_BACKEND.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config captures the runtime configuration for the TopTop client.
type Config struct {
	APIBaseURL        string        `env:"TOPTOP_API_URL" envDefault:"https://toptop-be.onrender.com/api/v1"`
	LogLevel          string        `env:"TOPTOP_LOG_LEVEL" envDefault:"info"`
	RequestTimeout    time.Duration `env:"TOPTOP_REQUEST_TIMEOUT" envDefault:"30s"`
	RefreshMode       string        `env:"TOPTOP_REFRESH_MODE" envDefault:"single-flight"`
	ViewThreshold     float64       `env:"TOPTOP_VIEW_THRESHOLD" envDefault:"0.8"`
	FeedCacheTTL      time.Duration `env:"TOPTOP_FEED_CACHE_TTL" envDefault:"1m"`
	OAuthCallbackPort int           `env:"TOPTOP_OAUTH_CALLBACK_PORT" envDefault:"8765"`
	YTDLPPath         string        `env:"TOPTOP_YTDLP_PATH" envDefault:"yt-dlp"`
	YTDLPTimeout      time.Duration `env:"TOPTOP_YTDLP_TIMEOUT" envDefault:"5m"`

	RateLimit   RateLimitConfig   `envPrefix:"TOPTOP_RATE_"`
	Events      EventsConfig      `envPrefix:"TOPTOP_EVENTS_"`
	Session     SessionConfig     `envPrefix:"TOPTOP_SESSION_"`
	ObjectStore ObjectStoreConfig `envPrefix:"TOPTOP_S3_"`
}

// RateLimitConfig controls the client-side request throttle.
type RateLimitConfig struct {
	Requests int           `env:"REQUESTS" envDefault:"20"`
	Window   time.Duration `env:"WINDOW" envDefault:"1s"`
	Burst    int           `env:"BURST" envDefault:"10"`
}

// EventsConfig sizes the fire-and-forget engagement dispatcher.
type EventsConfig struct {
	QueueSize  int           `env:"QUEUE_SIZE" envDefault:"64"`
	Workers    int           `env:"WORKERS" envDefault:"2"`
	JobTimeout time.Duration `env:"JOB_TIMEOUT" envDefault:"10s"`
}

// SessionConfig selects where the session survives between runs.
type SessionConfig struct {
	Backend       string `env:"BACKEND" envDefault:"file"`
	Namespace     string `env:"NAMESPACE" envDefault:"default"`
	Path          string `env:"PATH"`
	Key           string `env:"KEY"`
	DatabaseURL   string `env:"DATABASE_URL"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
}

// ObjectStoreConfig describes the S3-compatible store used as an upload source.
type ObjectStoreConfig struct {
	Region   string `env:"REGION" envDefault:"us-east-1"`
	Endpoint string `env:"ENDPOINT"`
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("TOPTOP_API_URL must not be empty")
	}

	switch cfg.RefreshMode {
	case RefreshSingleFlight, RefreshLegacy:
	default:
		return Config{}, fmt.Errorf("unknown refresh mode %q", cfg.RefreshMode)
	}

	if cfg.ViewThreshold <= 0 || cfg.ViewThreshold > 1 {
		return Config{}, fmt.Errorf("view threshold must be in (0, 1], got %v", cfg.ViewThreshold)
	}

	switch cfg.Session.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	case BackendPostgres:
		if cfg.Session.DatabaseURL == "" {
			return Config{}, fmt.Errorf("TOPTOP_SESSION_DATABASE_URL is required for the postgres backend")
		}
	default:
		return Config{}, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	if cfg.Session.Backend == BackendFile && cfg.Session.Path == "" {
		cfg.Session.Path = defaultSessionPath()
	}

	return cfg, nil
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "toptop", "session.json")
}
