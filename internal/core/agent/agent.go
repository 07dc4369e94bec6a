// Package agent defines the contract between the session core and an agent
// execution engine.
//
// A Dialer opens a Connection for one session. Each prompt submitted on the
// connection yields a Stream of events that ends with a Terminal event. The
// connection keeps conversation state between submissions.
package agent

import (
	"context"
	"fmt"
)

// PermissionDontAsk is the non-interactive permission mode. Tools outside the
// allowed set are denied instead of prompting.
const PermissionDontAsk = "dontAsk"

// Options describes how a connection is opened.
type Options struct {
	// WorkDir is the working directory of the agent
	WorkDir string
	// AddDirs bounds the directories the agent may touch
	AddDirs []string
	// PermissionMode is the agent's permission profile
	PermissionMode string
	// AllowedTools is the tool allow-list
	AllowedTools []string
	// PluginDirs are extra directories the agent loads skills and commands from
	PluginDirs []string
	// SettingSources selects which settings files the agent reads
	SettingSources []string
	// Model overrides the agent's default model when set
	Model string
	// SessionID identifies the owning session in logs
	SessionID string
}

// Dialer opens agent connections.
type Dialer interface {
	Open(ctx context.Context, opts Options) (Connection, error)
}

// Connection is a live, stateful agent conversation owned by one session.
// Submit is never called concurrently on the same connection.
type Connection interface {
	// Submit sends a prompt and returns the stream of events it produces.
	Submit(ctx context.Context, prompt string) (Stream, error)
	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Stream yields the events of one submission in order.
type Stream interface {
	// Recv returns the next event, or io.EOF once the stream is exhausted.
	// It returns ctx.Err() when the submission context is cancelled.
	Recv() (Event, error)
	// Close stops the submission and releases its resources.
	Close() error
}

// ErrAgentStream reports a malformed or truncated event stream.
type ErrAgentStream struct {
	Message string
}

func (e ErrAgentStream) Error() string {
	return fmt.Sprintf("agent stream error: %s", e.Message)
}
