package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autolender.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  account: alice@example.com
daemon:
  intervals:
    investing: 15s
  operations: investing,selling
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Account != "alice@example.com" {
		t.Fatalf("unexpected account %q", cfg.App.Account)
	}
	if cfg.Daemon.Intervals.Investing != 15*time.Second {
		t.Fatalf("unexpected investing interval %v", cfg.Daemon.Intervals.Investing)
	}
	if cfg.Daemon.Intervals.Selling != 10*time.Minute {
		t.Fatalf("unexpected selling interval %v", cfg.Daemon.Intervals.Selling)
	}
	if got := strings.Join(cfg.Daemon.Operations, "|"); got != "investing|selling" {
		t.Fatalf("unexpected operations %q", got)
	}
	if cfg.Cache.LoanTTL != 24*time.Hour || cfg.Cache.RestrictionsTTL != time.Hour {
		t.Fatalf("unexpected cache ttl %v / %v", cfg.Cache.LoanTTL, cfg.Cache.RestrictionsTTL)
	}
	if cfg.Remote.MaxAttempts != 3 {
		t.Fatalf("unexpected max attempts %d", cfg.Remote.MaxAttempts)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected storage driver %q", cfg.Storage.Driver)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	path := writeConfig(t, "app:\n  name: robot\n")
	t.Setenv("AUTOLENDER_APP_ACCOUNT", "bob")
	t.Setenv("AUTOLENDER_REMOTE_TOKEN", "secret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.Account != "bob" || cfg.Remote.Token != "secret" {
		t.Fatalf("environment not applied: %+v", cfg.App)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"missing account":  "app:\n  name: robot\n",
		"postgres no dsn":  "app:\n  account: a\nstorage:\n  driver: postgres\n",
		"unknown driver":   "app:\n  account: a\nstorage:\n  driver: mongo\n",
		"telegram no chat": "app:\n  account: a\nalerting:\n  telegram:\n    enabled: true\n    bot_token: x\n",
		"zero attempts":    "app:\n  account: a\nremote:\n  max_attempts: 0\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestResolveMaxRows(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxRows: 50}}
	if got := cfg.ResolveMaxRows(0); got != 50 {
		t.Fatalf("expected config default, got %d", got)
	}
	if got := cfg.ResolveMaxRows(7); got != 7 {
		t.Fatalf("expected override, got %d", got)
	}
}
