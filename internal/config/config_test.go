package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wstunnel/server/internal/config"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tunserver.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func Test_load_config_applies_defaults_for_missing_fields(t *testing.T) {
	path := writeConfig(t, `
listen:
  addr: ":9090"
`)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Listen.Addr != ":9090" {
		t.Errorf("expected overridden listen addr, got %q", cfg.Listen.Addr)
	}
	if cfg.Tunnel.Path != "/tun" {
		t.Errorf("expected default tunnel path, got %q", cfg.Tunnel.Path)
	}
	if cfg.Tunnel.Cap != 100 {
		t.Errorf("expected default cap 100, got %d", cfg.Tunnel.Cap)
	}
	if cfg.Tunnel.KeepaliveInterval != 10*time.Second {
		t.Errorf("expected default keepalive interval 10s, got %v", cfg.Tunnel.KeepaliveInterval)
	}
}

func Test_load_config_full_override(t *testing.T) {
	path := writeConfig(t, `
listen:
  addr: ":1234"
tunnel:
  path: "/custom"
  cap: 5
  keepalive_interval: 2s
  max_missed_pings: 1
egress:
  dial_timeout: 3s
  dial_rate_per_sec: 10
  dial_burst: 20
limits:
  max_connections: 50
metrics:
  enabled: false
  path: "/m"
auth:
  secret: "shared-secret"
`)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Tunnel.Cap != 5 || cfg.Tunnel.Path != "/custom" {
		t.Errorf("tunnel overrides not applied: %+v", cfg.Tunnel)
	}
	if cfg.Egress.DialBurst != 20 {
		t.Errorf("egress override not applied: %+v", cfg.Egress)
	}
	if cfg.Limits.MaxConnections != 50 {
		t.Errorf("limits override not applied: %+v", cfg.Limits)
	}
	if cfg.Metrics.Enabled {
		t.Error("expected metrics disabled")
	}
	if cfg.Auth.Secret != "shared-secret" {
		t.Errorf("auth override not applied: %+v", cfg.Auth)
	}
}

func Test_load_config_auth_disabled_by_default(t *testing.T) {
	path := writeConfig(t, `
listen:
  addr: ":9090"
`)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}
	if cfg.Auth.Secret != "" {
		t.Errorf("expected auth disabled by default, got secret %q", cfg.Auth.Secret)
	}
}

func Test_load_config_rejects_invalid_cap(t *testing.T) {
	path := writeConfig(t, `
tunnel:
  cap: 0
`)
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected error for zero cap")
	}
}

func Test_load_config_missing_file(t *testing.T) {
	if _, err := config.LoadConfig("/nonexistent/path.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
