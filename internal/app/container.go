// Package app wires the agentd components together.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aki/agentd/internal/core/agent"
	"github.com/aki/agentd/internal/core/config"
	"github.com/aki/agentd/internal/core/execution"
	"github.com/aki/agentd/internal/core/logger"
	"github.com/aki/agentd/internal/core/session"
	"github.com/aki/agentd/internal/core/workspace"
	"github.com/aki/agentd/internal/runtime/claude"
)

// Container holds the components of a running agentd instance.
type Container struct {
	Config *config.Config
	Logger logger.Logger

	Store       *workspace.Store
	Registry    *session.Registry
	Dialer      agent.Dialer
	Coordinator *execution.Coordinator
	Sweeper     *session.Sweeper

	mu          sync.Mutex
	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// Option configures a Container.
type Option func(*Container)

// WithDialer replaces the claude CLI dialer, e.g. with a scripted one in tests.
func WithDialer(d agent.Dialer) Option {
	return func(c *Container) {
		c.Dialer = d
	}
}

// NewContainer builds every component from cfg in dependency order.
func NewContainer(cfg *config.Config, log logger.Logger, opts ...Option) (*Container, error) {
	if log == nil {
		log = logger.Nop()
	}
	c := &Container{Config: cfg, Logger: log}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	c.Store, err = workspace.NewStore(cfg.Workspace.Root,
		workspace.WithLogger(log.With("component", "workspace")),
		workspace.WithSeed(workspace.SeedOptions{
			PluginPath: cfg.Workspace.PluginPath,
			QuotaBytes: cfg.Workspace.QuotaBytes(),
			Expiry:     cfg.Session.Expiry,
			GitInit:    cfg.Workspace.GitInit,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace store: %w", err)
	}

	c.Registry = session.NewRegistry(c.Store,
		session.WithLogger(log.With("component", "registry")),
		session.WithExpiry(cfg.Session.Expiry),
	)

	if c.Dialer == nil {
		c.Dialer = claude.NewDialer(cfg.Agent.Command,
			claude.WithLogger(log.With("component", "agent")),
			claude.WithExtraArgs(cfg.Agent.ExtraArgs...),
			claude.WithEnv(envPairs(cfg.Agent.Env)...),
		)
	}

	agentOpts := agent.Options{
		PermissionMode: cfg.Agent.PermissionMode,
		AllowedTools:   cfg.Agent.AllowedTools,
		SettingSources: cfg.Agent.SettingSources,
		Model:          cfg.Agent.Model,
	}
	if cfg.Workspace.PluginPath != "" {
		agentOpts.PluginDirs = []string{cfg.Workspace.PluginPath}
	}
	c.Coordinator = execution.NewCoordinator(c.Registry, c.Dialer,
		execution.WithLogger(log.With("component", "execution")),
		execution.WithAgentOptions(agentOpts),
	)

	c.Sweeper = session.NewSweeper(c.Registry, cfg.Session.Expiry, cfg.Session.SweepInterval,
		session.WithSweeperLogger(log.With("component", "sweeper")),
		session.WithStarvationTicks(cfg.Session.StarvationTicks),
		session.WithParallelism(cfg.Session.SweepParallelism),
	)

	return c, nil
}

// Start prunes leftover workspaces if configured and launches the sweeper.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopSweeper != nil {
		return errors.New("container already started")
	}

	if c.Config.Workspace.PruneOnStart {
		removed, err := c.Store.Prune(ctx, c.isLive, 0)
		if err != nil {
			c.Logger.Warn("failed to prune some workspaces", "error", err)
		}
		if len(removed) > 0 {
			c.Logger.Info("pruned leftover workspaces", "count", len(removed))
		}
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.stopSweeper = cancel
	c.sweeperDone = make(chan struct{})
	go func() {
		defer close(c.sweeperDone)
		c.Sweeper.Run(sweepCtx)
	}()
	return nil
}

// Shutdown stops the sweeper and drains the registry. Running executions get
// until ctx ends to finish.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	stop, done := c.stopSweeper, c.sweeperDone
	c.stopSweeper = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	return c.Registry.Close(ctx)
}

// envPairs renders env as sorted KEY=VALUE entries.
func envPairs(env map[string]string) []string {
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// isLive reports whether id belongs to a live session.
func (c *Container) isLive(id string) bool {
	_, err := c.Registry.LookupID(id)
	return err == nil
}
