package main

import (
	"testing"
	"time"

	"github.com/openhab/cloud-tunnelgw/internal/cmdutil"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddress != ":8080" {
		t.Fatalf("expected default listen address, got %q", cfg.ListenAddress)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected default store driver memory, got %q", cfg.Store.Driver)
	}
	if cfg.connectionLockTTL() != 45*time.Second {
		t.Fatalf("expected 45s default lock TTL, got %v", cfg.connectionLockTTL())
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TUNNELGW_LISTEN_ADDRESS", ":9999")
	t.Setenv("TUNNELGW_STORE_DRIVER", "redis")
	t.Setenv("TUNNELGW_CONNECTION_LOCK_TTL_SECONDS", "90")

	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddress != ":9999" {
		t.Fatalf("expected env-overridden listen address, got %q", cfg.ListenAddress)
	}
	if cfg.Store.Driver != "redis" {
		t.Fatalf("expected env-overridden store driver, got %q", cfg.Store.Driver)
	}
	if cfg.connectionLockTTL() != 90*time.Second {
		t.Fatalf("expected 90s lock TTL, got %v", cfg.connectionLockTTL())
	}
}

func TestLoadConfig_MissingConfigFileIsUsageError(t *testing.T) {
	_, err := loadConfig("/nonexistent/path/to/tunnelgw.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !cmdutil.IsUsage(err) {
		t.Fatalf("expected a usage error, got %T: %v", err, err)
	}
}
