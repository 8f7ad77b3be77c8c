package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != 7777 {
		t.Errorf("default port = %d, want 7777", cfg.Port)
	}
	if cfg.AgentBinary != "claude" {
		t.Errorf("default agent binary = %q", cfg.AgentBinary)
	}
	if cfg.PermissionMode != "autonomous" {
		t.Errorf("default permission mode = %q", cfg.PermissionMode)
	}
	if cfg.MaxActiveProcesses != 3 {
		t.Errorf("default max active processes = %d", cfg.MaxActiveProcesses)
	}
	if cfg.MaxTotalSessions != 50 {
		t.Errorf("default max total sessions = %d", cfg.MaxTotalSessions)
	}
	if cfg.MaxQueuedMessages != 10 {
		t.Errorf("queue bound = %d, want 10", cfg.MaxQueuedMessages)
	}
	if cfg.IdleTimeout != 72*time.Hour {
		t.Errorf("default idle timeout = %v", cfg.IdleTimeout)
	}
	if !cfg.ReaperEnabled {
		t.Error("reaper should default to enabled")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_MAX_ACTIVE_PROCESSES", "1")
	t.Setenv("CONDUCTOR_IDLE_TIMEOUT", "30m")
	t.Setenv("CONDUCTOR_REAPER", "0")
	t.Setenv("CONDUCTOR_AGENT_BIN", "/usr/local/bin/agent")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxActiveProcesses != 1 {
		t.Errorf("env override ignored: %d", cfg.MaxActiveProcesses)
	}
	if cfg.IdleTimeout != 30*time.Minute {
		t.Errorf("duration override ignored: %v", cfg.IdleTimeout)
	}
	if cfg.ReaperEnabled {
		t.Error("reaper toggle ignored")
	}
	if cfg.AgentBinary != "/usr/local/bin/agent" {
		t.Errorf("binary override ignored: %q", cfg.AgentBinary)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad permission mode", func(c *Config) { c.PermissionMode = "yolo" }, true},
		{"zero active processes", func(c *Config) { c.MaxActiveProcesses = 0 }, true},
		{"zero total sessions", func(c *Config) { c.MaxTotalSessions = 0 }, true},
		{"missing binary", func(c *Config) { c.AgentBinary = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	t.Setenv("CONDUCTOR_DATA_DIR", "/data")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionsDir() != "/data/conductor/sessions" {
		t.Errorf("SessionsDir = %q", cfg.SessionsDir())
	}
	if cfg.AttachmentsDir() != "/data/conductor/attachments" {
		t.Errorf("AttachmentsDir = %q", cfg.AttachmentsDir())
	}
	if cfg.RegistryPath() != "/data/conductor/repos.json" {
		t.Errorf("RegistryPath = %q", cfg.RegistryPath())
	}
	if cfg.DatabasePath != "/data/conductor/usage.sqlite" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
}
