package config

import "time"

// Config is the agentd configuration, read once at process start.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Session   SessionConfig   `yaml:"session"`
	Agent     AgentConfig     `yaml:"agent"`
	Log       LogConfig       `yaml:"log"`
}

// WorkspaceConfig controls where session workspaces live and how big they may grow.
type WorkspaceConfig struct {
	// Root is the directory holding one subdirectory per session
	Root string `yaml:"root"`
	// PluginPath is copied into each new workspace's reserved subtree
	PluginPath string `yaml:"plugin_path,omitempty"`
	// MaxSizeMB is the per-workspace quota
	MaxSizeMB int64 `yaml:"max_size_mb"`
	// GitInit initializes new workspaces as git repositories
	GitInit bool `yaml:"git_init,omitempty"`
	// PruneOnStart removes leftover workspace directories when the server starts
	PruneOnStart bool `yaml:"prune_on_start,omitempty"`
}

// SessionConfig controls idle expiry.
type SessionConfig struct {
	Expiry        time.Duration `yaml:"expiry"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// StarvationTicks is how many consecutive busy skips of an expired
	// session are tolerated before the sweeper warns about it
	StarvationTicks int `yaml:"starvation_ticks,omitempty"`
	// SweepParallelism bounds concurrent evictions within one sweep
	SweepParallelism int `yaml:"sweep_parallelism,omitempty"`
}

// AgentConfig describes how the agent connection is opened.
type AgentConfig struct {
	Command      string   `yaml:"command"`
	AllowedTools []string `yaml:"allowed_tools"`
	// PermissionMode is fixed to dontAsk; it is kept in the file so the
	// effective profile is visible in `config show`
	PermissionMode string   `yaml:"permission_mode"`
	SettingSources []string `yaml:"setting_sources,omitempty"`
	Model          string   `yaml:"model,omitempty"`
	// ExtraArgs are appended to every agent command line
	ExtraArgs []string `yaml:"extra_args,omitempty"`
	// Env is added to the agent process environment
	Env map[string]string `yaml:"env,omitempty"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// QuotaBytes returns the workspace quota in bytes.
func (w WorkspaceConfig) QuotaBytes() int64 {
	return w.MaxSizeMB * 1024 * 1024
}

// DefaultAllowedTools is the tool set granted to every session's agent.
var DefaultAllowedTools = []string{
	"Read", "Write", "Edit",
	"Bash",
	"Glob", "Grep",
	"WebSearch", "WebFetch",
	"Task",
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root:      "workplace",
			MaxSizeMB: 50,
		},
		Session: SessionConfig{
			Expiry:           24 * time.Hour,
			SweepInterval:    time.Hour,
			StarvationTicks:  3,
			SweepParallelism: 4,
		},
		Agent: AgentConfig{
			Command:        "claude",
			AllowedTools:   append([]string(nil), DefaultAllowedTools...),
			PermissionMode: "dontAsk",
			SettingSources: []string{"project"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
