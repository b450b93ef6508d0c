package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.RemoteBaseURL != defaultRemoteBaseURL {
		t.Fatalf("unexpected remote base url %q", cfg.RemoteBaseURL)
	}
	if cfg.RemoteTimeout != 60*time.Second {
		t.Fatalf("unexpected remote timeout %s", cfg.RemoteTimeout)
	}
	if cfg.ProbeInterval != 10*time.Second {
		t.Fatalf("unexpected probe interval %s", cfg.ProbeInterval)
	}
	if cfg.RequireToken {
		t.Fatalf("expected tokens to be optional by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PRESTAPP_REMOTE_BASE_URL", "https://api.example.com/")
	t.Setenv("PRESTAPP_REMOTE_TIMEOUT_SECONDS", "5")
	t.Setenv("PRESTAPP_AUTH_REQUIRE_TOKEN", "true")

	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.RemoteBaseURL != "https://api.example.com/" {
		t.Fatalf("expected env base url, got %q", cfg.RemoteBaseURL)
	}
	if cfg.RemoteTimeout != 5*time.Second {
		t.Fatalf("expected env timeout, got %s", cfg.RemoteTimeout)
	}
	if !cfg.RequireToken {
		t.Fatalf("expected env to enable token enforcement")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prestapp.yaml")
	contents := "database:\n  path: /tmp/cobros.db\nconnectivity:\n  probe_interval_seconds: 3\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	configViper := NewViper()
	configViper.SetConfigFile(path)
	if err := configViper.ReadInConfig(); err != nil {
		t.Fatalf("failed to read config: %v", err)
	}

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabasePath != "/tmp/cobros.db" {
		t.Fatalf("expected file database path, got %q", cfg.DatabasePath)
	}
	if cfg.ProbeInterval != 3*time.Second {
		t.Fatalf("expected file probe interval, got %s", cfg.ProbeInterval)
	}
}

func TestLoadRejectsInvalidRemoteURL(t *testing.T) {
	configViper := NewViper()
	configViper.Set("remote.base_url", "localhost:8080")
	if _, err := Load(configViper); err == nil {
		t.Fatalf("expected error for relative remote url")
	}
}

func TestValidateServerRequiresSigningSecret(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := cfg.ValidateServer(); err == nil {
		t.Fatalf("expected missing signing secret to fail")
	}
	cfg.SigningSecret = "secret"
	if err := cfg.ValidateServer(); err != nil {
		t.Fatalf("unexpected server validation error: %v", err)
	}
}
