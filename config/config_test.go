package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/atopos31/keyrelay/consts"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"LISTEN_ADDR", "TOKEN", "LOG_LEVEL", "LOG_FORMAT", "DB_DRIVER", "DB_PATH", "DATABASE_URL",
		"UPSTREAM_BASE_URL", "UPSTREAM_TIMEOUT", "MODEL_OVERRIDE", "UPSTREAM_KEYS", "SETTINGS_TTL",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" || cfg.DBDriver != consts.DriverSQLite || cfg.DSN() != "./db/keyrelay.db" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.UpstreamBaseURL != consts.DefaultUpstreamBaseURL || cfg.UpstreamTimeout != 5*time.Minute || cfg.SettingsTTL != time.Minute {
		t.Fatalf("unexpected upstream defaults %+v", cfg)
	}
	if len(cfg.UpstreamKeys) != 0 {
		t.Fatalf("expected no keys, got %v", cfg.UpstreamKeys)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/relay")
	t.Setenv("UPSTREAM_BASE_URL", "https://api.example.com/v1/")
	t.Setenv("UPSTREAM_TIMEOUT", "30s")
	t.Setenv("UPSTREAM_KEYS", " sk-a, ,sk-b,sk-a ")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DSN() != "postgres://u:p@localhost/relay" {
		t.Fatalf("DSN = %q", cfg.DSN())
	}
	if cfg.UpstreamBaseURL != "https://api.example.com/v1" || cfg.UpstreamTimeout != 30*time.Second {
		t.Fatalf("unexpected upstream %+v", cfg)
	}
	if len(cfg.UpstreamKeys) != 2 || cfg.UpstreamKeys[0] != "sk-a" || cfg.UpstreamKeys[1] != "sk-b" {
		t.Fatalf("UpstreamKeys = %v", cfg.UpstreamKeys)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"DB_DRIVER":         "mysql",
		"UPSTREAM_TIMEOUT":  "soon",
		"SETTINGS_TTL":      "-1s",
		"UPSTREAM_BASE_URL": "not a url",
		"LOG_LEVEL":         "loud",
		"LOG_FORMAT":        "xml",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%q to be rejected", key, value)
			}
		})
	}

	t.Run("memory driver", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DB_DRIVER", "memory")
		if _, err := Load(); err == nil {
			t.Fatalf("the in-memory store is not a database driver")
		}
	})

	t.Run("postgres without url", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("DB_DRIVER", "postgres")
		if _, err := Load(); err == nil {
			t.Fatalf("expected missing DATABASE_URL to be rejected")
		}
	})
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLogLevel("debug")
	if err != nil || level != slog.LevelDebug {
		t.Fatalf("ParseLogLevel(debug) = %v, %v", level, err)
	}
}

func TestLoadDotEnvIfPresent(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	if err := LoadDotEnvIfPresent(filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}

	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LISTEN_ADDR=:9999\nTOKEN=\"from-file\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TOKEN", "from-env")
	if err := LoadDotEnvIfPresent(path); err != nil {
		t.Fatalf("LoadDotEnvIfPresent: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9999" || cfg.Token != "from-env" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
