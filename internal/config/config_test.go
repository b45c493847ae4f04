package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := Load()
	cfg.JWTSecret = testSecret
	cfg.SQLiteDBPath = filepath.Join(t.TempDir(), "ledger.db")
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("default port = %s, want 8080", cfg.Port)
	}
	if cfg.AMQPExchange != "buildledger" {
		t.Errorf("default exchange = %s", cfg.AMQPExchange)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("default sweep interval = %v, want 30s", cfg.SweepInterval)
	}
	if cfg.ExportBatchSize != 25 {
		t.Errorf("default batch size = %d, want 25", cfg.ExportBatchSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SWEEP_INTERVAL", "2m")
	t.Setenv("EXPORT_BATCH_SIZE", "50")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "10")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("port = %s, want 9090", cfg.Port)
	}
	if cfg.SweepInterval != 2*time.Minute {
		t.Errorf("sweep interval = %v, want 2m", cfg.SweepInterval)
	}
	if cfg.ExportBatchSize != 50 {
		t.Errorf("batch size = %d, want 50", cfg.ExportBatchSize)
	}
	if cfg.RateLimitPerMinute != 10 {
		t.Errorf("rate limit = %d, want 10", cfg.RateLimitPerMinute)
	}
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("EXPORT_BATCH_SIZE", "not-a-number")
	t.Setenv("SWEEP_INTERVAL", "eventually")

	cfg := Load()

	if cfg.ExportBatchSize != 25 {
		t.Errorf("batch size = %d, want default 25", cfg.ExportBatchSize)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Errorf("sweep interval = %v, want default 30s", cfg.SweepInterval)
	}
}

func TestValidateOK(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.Port = "web" }, "invalid port"},
		{"port out of range", func(c *Config) { c.Port = "70000" }, "must be between"},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET must be set"},
		{"short secret", func(c *Config) { c.JWTSecret = "tiny" }, "at least 32 bytes"},
		{"empty db path", func(c *Config) { c.SQLiteDBPath = "" }, "cannot be empty"},
		{"bad amqp scheme", func(c *Config) { c.AMQPURL = "http://localhost" }, "must be 'amqp' or 'amqps'"},
		{"empty queue", func(c *Config) { c.AMQPQueue = "" }, "queue name cannot be empty"},
		{"zero batch", func(c *Config) { c.ExportBatchSize = 0 }, "at least 1"},
		{"huge batch", func(c *Config) { c.ExportBatchSize = 5000 }, "at most 1000"},
		{"tiny sweep", func(c *Config) { c.SweepInterval = 100 * time.Millisecond }, "at least 1 second"},
		{"sheets without credentials", func(c *Config) { c.GoogleSpreadsheetID = "abc"; c.GoogleSheetName = "Ledger" }, "GOOGLE_CREDENTIALS"},
		{"sheets without name", func(c *Config) {
			c.GoogleSpreadsheetID = "abc"
			c.GoogleCredentialsJSON = "{}"
		}, "sheet name is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig(t)
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Port = "zero"
	cfg.JWTSecret = ""
	cfg.ExportBatchSize = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"invalid port", "JWT_SECRET", "batch size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("aggregated error missing %q: %v", want, err)
		}
	}
}
