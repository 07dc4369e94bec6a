// Package config loads agentd configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is looked up in the working directory when no path is given.
const DefaultConfigFile = "agentd.yaml"

// Manager loads and saves the configuration file.
type Manager struct {
	configPath string
	lookupEnv  bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithoutEnv disables environment overrides. Used by tests.
func WithoutEnv() ManagerOption {
	return func(m *Manager) {
		m.lookupEnv = false
	}
}

// NewManager creates a configuration manager for the file at configPath.
// An empty path means DefaultConfigFile.
func NewManager(configPath string, opts ...ManagerOption) *Manager {
	if configPath == "" {
		configPath = DefaultConfigFile
	}
	m := &Manager{
		configPath: configPath,
		lookupEnv:  true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads the configuration. A missing file is not an error: defaults and
// environment overrides still apply. The result is validated and the
// workspace root made absolute.
func (m *Manager) Load() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(m.configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", m.configPath, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", m.configPath, err)
	}

	if m.lookupEnv {
		if err := applyEnv(cfg); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	cfg.Workspace.Root = root

	return cfg, nil
}

// Save writes cfg to the manager's path.
func (m *Manager) Save(cfg *Config) error {
	if dir := filepath.Dir(m.configPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetConfigPath returns the configuration file path.
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// envOverrides lists the environment variables that override the file.
// Zero values mean "not set".
type envOverrides struct {
	WorkspaceRoot    string `env:"WORKPLACE_ROOT"`
	PluginPath       string `env:"PLUGIN_PATH"`
	MaxSizeMB        int64  `env:"MAX_WORKSPACE_SIZE_MB"`
	ExpiryHours      int    `env:"SESSION_EXPIRY_HOURS"`
	CleanupHours     int    `env:"CLEANUP_INTERVAL_HOURS"`
	AgentCommand     string `env:"AGENTD_AGENT_COMMAND"`
	LogLevel         string `env:"AGENTD_LOG_LEVEL"`
	WorkspaceGitInit bool   `env:"AGENTD_GIT_INIT"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil {
		if errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
			return nil
		}
		return fmt.Errorf("failed to decode environment: %w", err)
	}

	if env.WorkspaceRoot != "" {
		cfg.Workspace.Root = env.WorkspaceRoot
	}
	if env.PluginPath != "" {
		cfg.Workspace.PluginPath = env.PluginPath
	}
	if env.MaxSizeMB != 0 {
		cfg.Workspace.MaxSizeMB = env.MaxSizeMB
	}
	if env.ExpiryHours != 0 {
		cfg.Session.Expiry = hours(env.ExpiryHours)
	}
	if env.CleanupHours != 0 {
		cfg.Session.SweepInterval = hours(env.CleanupHours)
	}
	if env.AgentCommand != "" {
		cfg.Agent.Command = env.AgentCommand
	}
	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	if env.WorkspaceGitInit {
		cfg.Workspace.GitInit = true
	}
	return nil
}

// applyDefaults fills fields a partial config file left empty.
func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = defaults.Workspace.Root
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = defaults.Agent.Command
	}
	if cfg.Agent.PermissionMode == "" {
		cfg.Agent.PermissionMode = defaults.Agent.PermissionMode
	}
	if len(cfg.Agent.AllowedTools) == 0 {
		cfg.Agent.AllowedTools = defaults.Agent.AllowedTools
	}
	if cfg.Session.StarvationTicks == 0 {
		cfg.Session.StarvationTicks = defaults.Session.StarvationTicks
	}
	if cfg.Session.SweepParallelism == 0 {
		cfg.Session.SweepParallelism = defaults.Session.SweepParallelism
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}
