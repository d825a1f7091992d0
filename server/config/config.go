package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"

	"github.com/PLUTOX-DEV/Tree-miniapp/server/balance"
)

// Config is read from TAPGROW_* environment variables.
type Config struct {
	Addr    string `env:"TAPGROW_ADDR" envDefault:":8080"`
	DataDir string `env:"TAPGROW_DATA_DIR" envDefault:"server/data"`

	// file | sqlite | postgres
	StoreDriver string `env:"TAPGROW_STORE" envDefault:"file"`
	SQLitePath  string `env:"TAPGROW_SQLITE_PATH"`
	PostgresDSN string `env:"TAPGROW_POSTGRES_DSN"`

	JWTSecret string        `env:"TAPGROW_JWT_SECRET"`
	TokenTTL  time.Duration `env:"TAPGROW_TOKEN_TTL" envDefault:"24h"`

	LevelsFile string `env:"TAPGROW_LEVELS_FILE"`

	SaveDebounce time.Duration `env:"TAPGROW_SAVE_DEBOUNCE" envDefault:"600ms"`
	AutoTick     time.Duration `env:"TAPGROW_AUTO_TICK" envDefault:"1s"`

	LeaderboardCacheTTL time.Duration `env:"TAPGROW_LEADERBOARD_CACHE_TTL" envDefault:"5s"`

	ActionRate  float64 `env:"TAPGROW_ACTION_RATE" envDefault:"30"`
	ActionBurst int     `env:"TAPGROW_ACTION_BURST" envDefault:"60"`

	AllowedOrigins []string `env:"TAPGROW_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	LogLevel  string `env:"TAPGROW_LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"TAPGROW_LOG_PRETTY" envDefault:"false"`

	// OTLP/HTTP collector base URL; empty disables traces and metrics.
	OTelEndpoint string `env:"TAPGROW_OTEL_ENDPOINT"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		errs = append(errs, fmt.Errorf("TAPGROW_ADDR: %w", err))
	}
	switch strings.ToLower(c.StoreDriver) {
	case "file":
		if strings.TrimSpace(c.DataDir) == "" {
			errs = append(errs, errors.New("TAPGROW_DATA_DIR is required for the file store"))
		}
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("TAPGROW_POSTGRES_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("TAPGROW_STORE: unknown driver %q", c.StoreDriver))
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("TAPGROW_JWT_SECRET must be at least 32 bytes"))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("TAPGROW_TOKEN_TTL must be positive"))
	}
	if c.SaveDebounce <= 0 {
		errs = append(errs, errors.New("TAPGROW_SAVE_DEBOUNCE must be positive"))
	}
	if c.AutoTick <= 0 {
		errs = append(errs, errors.New("TAPGROW_AUTO_TICK must be positive"))
	}
	if c.LeaderboardCacheTTL < 0 {
		errs = append(errs, errors.New("TAPGROW_LEADERBOARD_CACHE_TTL must not be negative"))
	}
	if c.ActionRate <= 0 || c.ActionBurst <= 0 {
		errs = append(errs, errors.New("TAPGROW_ACTION_RATE and TAPGROW_ACTION_BURST must be positive"))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("TAPGROW_LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

// SQLiteFile is the database path, defaulting to profiles.db in DataDir.
func (c Config) SQLiteFile() string {
	if p := strings.TrimSpace(c.SQLitePath); p != "" {
		return p
	}
	return strings.TrimRight(c.DataDir, "/") + "/profiles.db"
}

// ProfilesDir is where the file store keeps one JSON per player.
func (c Config) ProfilesDir() string {
	return strings.TrimRight(c.DataDir, "/") + "/profiles"
}

// IsDefaultTiming reports whether the game clock matches the built-in balance.
func (c Config) IsDefaultTiming() bool {
	return c.SaveDebounce == balance.SaveDebounce && c.AutoTick == balance.AutoTickInterval
}
