// Package claude connects sessions to the claude CLI.
//
// Each submission runs one CLI process in print mode with stream-json output.
// The process runs inside the session workspace, and submissions after the
// first pass --continue so the CLI resumes the workspace's conversation.
package claude

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/aki/agentd/internal/core/agent"
	"github.com/aki/agentd/internal/core/logger"
)

// DefaultCommand is the CLI executable looked up on PATH.
const DefaultCommand = "claude"

const defaultGracePeriod = 5 * time.Second

// Dialer opens connections backed by the claude CLI.
type Dialer struct {
	command   string
	extraArgs []string
	env       []string
	grace     time.Duration
	logger    logger.Logger
}

var _ agent.Dialer = (*Dialer)(nil)

// Option configures a Dialer.
type Option func(*Dialer)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dialer) {
		d.logger = l
	}
}

// WithExtraArgs appends arguments to every CLI invocation.
func WithExtraArgs(args ...string) Option {
	return func(d *Dialer) {
		d.extraArgs = append(d.extraArgs, args...)
	}
}

// WithEnv adds KEY=VALUE pairs to the CLI environment.
func WithEnv(env ...string) Option {
	return func(d *Dialer) {
		d.env = append(d.env, env...)
	}
}

// WithGracePeriod sets how long a cancelled process gets between SIGTERM and SIGKILL.
func WithGracePeriod(grace time.Duration) Option {
	return func(d *Dialer) {
		d.grace = grace
	}
}

// NewDialer creates a Dialer running command. An empty command uses DefaultCommand.
func NewDialer(command string, opts ...Option) *Dialer {
	if command == "" {
		command = DefaultCommand
	}
	d := &Dialer{
		command: command,
		grace:   defaultGracePeriod,
		logger:  logger.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open implements agent.Dialer. No process is started until the first Submit.
func (d *Dialer) Open(ctx context.Context, opts agent.Options) (agent.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := exec.LookPath(d.command)
	if err != nil {
		return nil, fmt.Errorf("agent command %q not found: %w", d.command, err)
	}
	if opts.WorkDir == "" {
		return nil, errors.New("agent working directory is required")
	}

	return &Conn{
		dialer: d,
		path:   path,
		opts:   opts,
		logger: d.logger.With("session_id", opts.SessionID),
	}, nil
}

// Conn is one session's conversation with the CLI.
type Conn struct {
	dialer *Dialer
	path   string
	opts   agent.Options
	logger logger.Logger

	mu      sync.Mutex
	turns   int
	current *stream
	closed  bool
}

// Submit implements agent.Connection.
func (c *Conn) Submit(ctx context.Context, prompt string) (agent.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.New("connection closed")
	}

	cmd := exec.Command(c.path, c.args(c.turns > 0)...)
	cmd.Dir = c.opts.WorkDir
	cmd.Env = append(os.Environ(), c.dialer.env...)
	cmd.Stdin = strings.NewReader(prompt)
	configureProcessGroup(cmd)

	s, err := startStream(ctx, cmd, c.dialer.grace, c.logger)
	if err != nil {
		return nil, err
	}
	c.turns++
	c.current = s

	c.logger.Debug("agent process started", "pid", cmd.Process.Pid, "turn", c.turns)
	return s, nil
}

// Close implements agent.Connection. A running submission is terminated.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed = true
	s := c.current
	c.current = nil
	c.mu.Unlock()

	if s != nil {
		return s.Close()
	}
	return nil
}

func (c *Conn) args(resume bool) []string {
	args := []string{"--print", "--output-format", "stream-json", "--verbose"}

	if c.opts.PermissionMode != "" {
		args = append(args, "--permission-mode", c.opts.PermissionMode)
	}
	if len(c.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.opts.AllowedTools, ","))
	}
	for _, dir := range c.opts.AddDirs {
		args = append(args, "--add-dir", dir)
	}
	for _, dir := range c.opts.PluginDirs {
		args = append(args, "--plugin-dir", dir)
	}
	if len(c.opts.SettingSources) > 0 {
		args = append(args, "--setting-sources", strings.Join(c.opts.SettingSources, ","))
	}
	if c.opts.Model != "" {
		args = append(args, "--model", c.opts.Model)
	}
	if resume {
		args = append(args, "--continue")
	}
	return append(args, c.dialer.extraArgs...)
}
