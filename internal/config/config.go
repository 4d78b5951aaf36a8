package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Config represents session configuration. It is parsed once at startup and
// treated as read-only by the core afterwards.
type Config struct {
	SandboxRoot string `json:"sandbox_root"`
	// Mode is one of "run", "simulate" or "diff".
	Mode string `json:"mode"`
	// AllowCommands lists command names allowed without confirmation. An empty
	// list means every action needs confirmation in run mode.
	AllowCommands []string `json:"allow_commands,omitempty"`
	// DenyCommands lists command names that are always refused.
	DenyCommands []string `json:"deny_commands,omitempty"`
	// DenyPaths lists path prefixes (relative to the sandbox root) that no
	// command may write to or delete.
	DenyPaths []string `json:"deny_paths,omitempty"`
	// RegistryPath points to an optional YAML command catalog merged over the
	// built-in one.
	RegistryPath string `json:"registry_path,omitempty"`
	// AskUserTimeoutSeconds bounds the wait for an interactive confirmation.
	// On timeout the action is denied.
	AskUserTimeoutSeconds int `json:"ask_user_timeout_seconds"`

	LogLevel string `json:"log_level"` // debug, info, warn, error, none
	LogPath  string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "agent-sandbox")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "agent-sandbox")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "agent-sandbox")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "linux":
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "agent-sandbox")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "agent-sandbox")
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "agent-sandbox")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "agent-sandbox")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "agent-sandbox")
	}
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	stateDir := defaultStateDir()

	return &Config{
		SandboxRoot:           ".",
		Mode:                  "run",
		AskUserTimeoutSeconds: 60,
		LogLevel:              "info",
		LogPath:               filepath.Join(stateDir, "agent-sandbox.log"),
	}
}

// Load loads configuration from file, layering it over the defaults. A
// missing file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, config); err != nil {
		return nil, err
	}

	if config.SandboxRoot == "" {
		config.SandboxRoot = "."
	}
	if config.Mode == "" {
		config.Mode = "run"
	}
	if config.AskUserTimeoutSeconds <= 0 {
		config.AskUserTimeoutSeconds = 60
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogPath == "" {
		config.LogPath = filepath.Join(defaultStateDir(), "agent-sandbox.log")
	}

	return config, nil
}

// IsCommandAllowed reports whether a command name is on the allow list.
func (c *Config) IsCommandAllowed(name string) bool {
	for _, allowed := range c.AllowCommands {
		if allowed == name {
			return true
		}
	}
	return false
}

// IsCommandDenied reports whether a command name is on the deny list.
func (c *Config) IsCommandDenied(name string) bool {
	for _, denied := range c.DenyCommands {
		if denied == name {
			return true
		}
	}
	return false
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}

// GetStateDir returns the directory for session state (history, pending
// approvals, logs).
func GetStateDir() string {
	return defaultStateDir()
}
