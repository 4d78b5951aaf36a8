package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.SandboxRoot != "." {
		t.Errorf("expected sandbox root '.', got %q", cfg.SandboxRoot)
	}
	if cfg.Mode != "run" {
		t.Errorf("expected mode 'run', got %q", cfg.Mode)
	}
	if cfg.AskUserTimeoutSeconds != 60 {
		t.Errorf("expected 60s confirmation timeout, got %d", cfg.AskUserTimeoutSeconds)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %q", cfg.LogLevel)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mode != "run" {
		t.Errorf("expected defaults for missing file, got mode %q", cfg.Mode)
	}
}

func TestLoadOverridesAndBackfills(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		"sandbox_root": "/work/project",
		"mode": "simulate",
		"allow_commands": ["git", "npm"],
		"deny_commands": ["sudo"],
		"deny_paths": ["secrets"],
		"ask_user_timeout_seconds": 0
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SandboxRoot != "/work/project" {
		t.Errorf("expected overridden sandbox root, got %q", cfg.SandboxRoot)
	}
	if cfg.Mode != "simulate" {
		t.Errorf("expected mode 'simulate', got %q", cfg.Mode)
	}
	if !cfg.IsCommandAllowed("git") || !cfg.IsCommandAllowed("npm") {
		t.Error("expected git and npm on allow list")
	}
	if cfg.IsCommandAllowed("curl") {
		t.Error("curl should not be on allow list")
	}
	if !cfg.IsCommandDenied("sudo") {
		t.Error("expected sudo on deny list")
	}
	// Zero timeout must be backfilled, not kept
	if cfg.AskUserTimeoutSeconds != 60 {
		t.Errorf("expected backfilled timeout 60, got %d", cfg.AskUserTimeoutSeconds)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Mode = "diff"
	cfg.AllowCommands = []string{"git"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.Mode != "diff" {
		t.Errorf("expected mode 'diff' after round trip, got %q", loaded.Mode)
	}
	if !loaded.IsCommandAllowed("git") {
		t.Error("expected git on allow list after round trip")
	}
}
