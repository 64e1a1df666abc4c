package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	def := Default()
	if def.Scheduler.Interval != 30*time.Second {
		t.Fatalf("default interval should be 30s, got %s", def.Scheduler.Interval)
	}
	if !def.Scheduler.RunOnStart {
		t.Fatal("evaluation should run at startup by default")
	}
	if def.Storage.Backend != "file" || def.Gateway.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults %+v", def)
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := []byte("scheduler:\n  interval: 1m\nstorage:\n  backend: sqlite\n  path: /tmp/mw.db\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARKETWATCH_GATEWAY_BASE_URL", "http://example.test/api")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Scheduler.Interval != time.Minute {
		t.Fatalf("interval from file not applied: %s", cfg.Scheduler.Interval)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.Path != "/tmp/mw.db" {
		t.Fatalf("storage from file not applied: %+v", cfg.Storage)
	}
	if cfg.Gateway.BaseURL != "http://example.test/api" {
		t.Fatalf("env override not applied: %s", cfg.Gateway.BaseURL)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"interval":  func(c *Config) { c.Scheduler.Interval = 0 },
		"timeout":   func(c *Config) { c.Gateway.RequestTimeout = 0 },
		"backend":   func(c *Config) { c.Storage.Backend = "redis" },
		"dsn":       func(c *Config) { c.Storage.Backend = "postgres"; c.Storage.DSN = "" },
		"telegram":  func(c *Config) { c.Notify.Telegram.Enabled = true },
		"maxpoints": func(c *Config) { c.Export.MaxDataPoints = 1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation failure", name)
		}
	}
}
