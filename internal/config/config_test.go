package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 3001 {
		t.Errorf("Server.Port = %d, want 3001", cfg.Server.Port)
	}
	if cfg.Discovery.ScanInterval != 5*time.Second {
		t.Errorf("Discovery.ScanInterval = %s, want 5s", cfg.Discovery.ScanInterval)
	}
	if cfg.Tailer.PollInterval != 2*time.Second {
		t.Errorf("Tailer.PollInterval = %s, want 2s", cfg.Tailer.PollInterval)
	}
	if cfg.StateMachine.ToolUsePermissionAfter != 30*time.Second {
		t.Errorf("StateMachine.ToolUsePermissionAfter = %s, want 30s", cfg.StateMachine.ToolUsePermissionAfter)
	}
}

func TestLoadOrDefaultMissingFileReturnsDefault(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 3001 {
		t.Errorf("expected default config, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := "server:\n  port: 9090\ndiscovery:\n  log_root: /tmp/logs\n"
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Discovery.LogRoot != "/tmp/logs" {
		t.Errorf("Discovery.LogRoot = %q, want /tmp/logs", cfg.Discovery.LogRoot)
	}
	// Fields absent from the override file keep their defaults.
	if cfg.Tailer.PollInterval != 2*time.Second {
		t.Errorf("Tailer.PollInterval = %s, want default 2s", cfg.Tailer.PollInterval)
	}
}

func TestDiffDetectsChanges(t *testing.T) {
	old := Default()
	updated := Default()
	updated.Server.MaxConnections = 50
	updated.Discovery.StaleAfter = time.Hour

	changes := Diff(old, updated)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %v", len(changes), changes)
	}
}

func TestDiffNoChanges(t *testing.T) {
	old := Default()
	same := Default()
	if changes := Diff(old, same); len(changes) != 0 {
		t.Fatalf("expected no changes, got %v", changes)
	}
}
