// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	DatabaseURL  string        `env:"DATABASE_URL"`
	DBMaxConns   int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`

	JWTSecret  string `env:"JWT_SECRET,required"`
	AuthCookie string `env:"AUTH_COOKIE" envDefault:"crew_token"`

	RedisURL            string        `env:"REDIS_URL"`
	RateLimitFailOpen   bool          `env:"RATE_LIMIT_FAIL_OPEN" envDefault:"true"`
	RateLimitTimeout    time.Duration `env:"RATE_LIMIT_TIMEOUT" envDefault:"250ms"`
	InvalidationChannel string        `env:"INVALIDATION_CHANNEL" envDefault:"climbcrew:invalidate"`

	SweepToken string `env:"SWEEP_TOKEN"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	OTelEndpoint    string `env:"OTEL_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"climbcrew"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set win over the file.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
