package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/atopos31/keyrelay/consts"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

// Config is the process configuration read from the environment.
type Config struct {
	ListenAddr string
	Token      string
	LogLevel   string
	LogFormat  string

	DBDriver    string
	DBPath      string
	DatabaseURL string

	UpstreamBaseURL string
	UpstreamTimeout time.Duration
	ModelOverride   string
	UpstreamKeys    []string

	SettingsTTL time.Duration
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: getenvDefault("LISTEN_ADDR", ":7070"),
		Token:      strings.TrimSpace(os.Getenv("TOKEN")),
		LogLevel:   getenvDefault("LOG_LEVEL", "info"),
		LogFormat:  getenvDefault("LOG_FORMAT", "text"),

		DBDriver:    getenvDefault("DB_DRIVER", consts.DriverSQLite),
		DBPath:      getenvDefault("DB_PATH", "./db/keyrelay.db"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		UpstreamBaseURL: strings.TrimRight(getenvDefault("UPSTREAM_BASE_URL", consts.DefaultUpstreamBaseURL), "/"),
		ModelOverride:   strings.TrimSpace(os.Getenv("MODEL_OVERRIDE")),
		UpstreamKeys:    splitList(os.Getenv("UPSTREAM_KEYS")),
	}

	var err error
	if cfg.UpstreamTimeout, err = durationEnv("UPSTREAM_TIMEOUT", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SettingsTTL, err = durationEnv("SETTINGS_TTL", time.Minute); err != nil {
		return Config{}, err
	}

	switch cfg.DBDriver {
	case consts.DriverSQLite:
		if cfg.DBPath == "" {
			return Config{}, errors.New("DB_PATH is required for sqlite")
		}
	case consts.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required for postgres")
		}
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q", cfg.DBDriver)
	}

	u, err := url.Parse(cfg.UpstreamBaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, fmt.Errorf("invalid UPSTREAM_BASE_URL %q", cfg.UpstreamBaseURL)
	}
	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		return Config{}, err
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return Config{}, fmt.Errorf("invalid LOG_FORMAT %q", cfg.LogFormat)
	}
	return cfg, nil
}

// DSN is what the selected driver opens.
func (c Config) DSN() string {
	if c.DBDriver == consts.DriverPostgres {
		return c.DatabaseURL
	}
	return c.DBPath
}

// LoadDotEnvIfPresent loads path into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnvIfPresent(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ParseLogLevel parses debug, info, warn or error.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return d, nil
}

func splitList(raw string) []string {
	return lo.Uniq(lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})))
}

func getenvDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
