package workspace

import "time"

const (
	// ConfigDir is the reserved configuration subtree inside every workspace
	ConfigDir = ".claude"
	// MemoryFile is the reserved agent memory file at the workspace top level
	MemoryFile = "CLAUDE.md"
	// ManifestFile is the session manifest path relative to the workspace
	ManifestFile = ConfigDir + "/session.yaml"

	gitDir = ".git"
)

// seededDirs are created under ConfigDir and receive plugin assets.
var seededDirs = []string{"skills", "commands"}

// Usage is the measured footprint of a workspace.
type Usage struct {
	Bytes int64 `json:"bytes"`
	Files int   `json:"files"`
}

// Manifest records who a workspace belongs to and its accounting totals.
// It lives in the reserved subtree so cleanup never removes it.
type Manifest struct {
	SessionID         string    `yaml:"session_id"`
	OwnerKey          string    `yaml:"owner_key"`
	CreatedAt         time.Time `yaml:"created_at"`
	LastActiveAt      time.Time `yaml:"last_active_at"`
	CumulativeCostUSD float64   `yaml:"cumulative_cost_usd"`
	TaskCount         int       `yaml:"task_count"`
}

// Entry describes one workspace directory found on disk.
type Entry struct {
	ID       string
	Path     string
	Usage    Usage
	ModTime  time.Time
	Manifest *Manifest // nil when missing or unreadable
}

// LastActive returns the best known activity time for the entry.
func (e Entry) LastActive() time.Time {
	if e.Manifest != nil && !e.Manifest.LastActiveAt.IsZero() {
		return e.Manifest.LastActiveAt
	}
	return e.ModTime
}

// SeedOptions controls what a new workspace is populated with.
type SeedOptions struct {
	// PluginPath is a directory whose skills/ and commands/ are copied into ConfigDir
	PluginPath string
	// QuotaBytes and Expiry are quoted in the memory file
	QuotaBytes int64
	Expiry     time.Duration
	// GitInit initializes the workspace as a git repository
	GitInit bool
}
