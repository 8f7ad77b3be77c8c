package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all application configuration. It is built once at startup
// by Load and passed explicitly to every component constructor; there is
// no package-level instance.
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Data directory; session records, the usage database and the repo
	// registry all live underneath it
	DataDir string

	// Database
	DatabasePath string

	// Agent process
	AgentBinary     string // executable spawned for each turn
	AgentModel      string // optional model override
	PermissionMode  string // "autonomous", "read-only" or "interactive"
	AgentExtraEnv   map[string]string
	MaxPromptChars  int
	ContextMessages int // prior-turn messages included when not resuming

	// Limits
	MaxActiveProcesses int
	MaxTotalSessions   int
	MaxQueuedMessages  int

	// Idle reaper
	IdleTimeout   time.Duration
	ReapInterval  time.Duration
	ReaperEnabled bool

	// Debug settings
	LogLevel string
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	dataDir := getEnv("CONDUCTOR_DATA_DIR", "./data")
	appDir := filepath.Join(dataDir, "conductor")

	cfg := &Config{
		Port: getEnvInt("PORT", 7777),
		Host: getEnv("HOST", "0.0.0.0"),
		Env:  getEnv("ENV", "development"),

		DataDir:      dataDir,
		DatabasePath: filepath.Join(appDir, "usage.sqlite"),

		AgentBinary:     getEnv("CONDUCTOR_AGENT_BIN", "claude"),
		AgentModel:      getEnv("CONDUCTOR_AGENT_MODEL", ""),
		PermissionMode:  getEnv("CONDUCTOR_PERMISSION_MODE", "autonomous"),
		MaxPromptChars:  getEnvInt("CONDUCTOR_MAX_PROMPT_CHARS", 50000),
		ContextMessages: getEnvInt("CONDUCTOR_CONTEXT_MESSAGES", 6),

		MaxActiveProcesses: getEnvInt("CONDUCTOR_MAX_ACTIVE_PROCESSES", 3),
		MaxTotalSessions:   getEnvInt("CONDUCTOR_MAX_TOTAL_SESSIONS", 50),
		MaxQueuedMessages:  10,

		IdleTimeout:   getEnvDuration("CONDUCTOR_IDLE_TIMEOUT", 72*time.Hour),
		ReapInterval:  getEnvDuration("CONDUCTOR_REAP_INTERVAL", time.Hour),
		ReaperEnabled: getEnv("CONDUCTOR_REAPER", "1") != "0",

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.PermissionMode {
	case "autonomous", "read-only", "interactive":
	default:
		return fmt.Errorf("invalid permission mode %q", c.PermissionMode)
	}
	if c.MaxActiveProcesses < 1 {
		return fmt.Errorf("max active processes must be >= 1, got %d", c.MaxActiveProcesses)
	}
	if c.MaxTotalSessions < 1 {
		return fmt.Errorf("max total sessions must be >= 1, got %d", c.MaxTotalSessions)
	}
	if c.AgentBinary == "" {
		return fmt.Errorf("agent binary must be set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// SessionsDir is where per-session JSON records are persisted.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "conductor", "sessions")
}

// AttachmentsDir holds files attached to chat messages.
func (c *Config) AttachmentsDir() string {
	return filepath.Join(c.DataDir, "conductor", "attachments")
}

// RegistryPath is the JSON file mapping repository ids to paths.
func (c *Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "conductor", "repos.json")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
