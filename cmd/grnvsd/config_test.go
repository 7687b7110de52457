package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
listen_addr = "[::1]:2337"
metrics_addr = "localhost:9100"
io_timeout = "750ms"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := loadServerConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != "[::1]:2337" {
		t.Fatalf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.MetricsAddr != "localhost:9100" {
		t.Fatalf("metrics addr = %q", cfg.MetricsAddr)
	}
	if cfg.IOTimeout != 750*time.Millisecond {
		t.Fatalf("io timeout = %v, want 750ms", cfg.IOTimeout)
	}
	if cfg.ConnectTimeout != 5*time.Second {
		t.Fatalf("connect timeout = %v, want the 5s default", cfg.ConnectTimeout)
	}
}

func TestLoadServerConfigEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := loadServerConfig("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddr != "[::1]:1337" {
		t.Fatalf("listen addr = %q, want [::1]:1337", cfg.ListenAddr)
	}
	if cfg.MetricsAddr != "" {
		t.Fatalf("metrics addr = %q, want metrics off", cfg.MetricsAddr)
	}
}

func TestLoadServerConfigMissingFileFails(t *testing.T) {
	if _, err := loadServerConfig(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadServerConfigRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`io_timeout = "soonish"`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := loadServerConfig(path)
	if err == nil || !strings.Contains(err.Error(), "io_timeout") {
		t.Fatalf("err = %v, want an io_timeout parse failure", err)
	}
}
