package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/aki/agentd/internal/core/agent"
	"github.com/aki/agentd/internal/core/logger"
)

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Workspace.Root == "" {
		errs = append(errs, errors.New("workspace.root must be set"))
	}
	if c.Workspace.MaxSizeMB <= 0 {
		errs = append(errs, fmt.Errorf("workspace.max_size_mb must be positive, got %d", c.Workspace.MaxSizeMB))
	}
	if c.Session.Expiry <= 0 {
		errs = append(errs, fmt.Errorf("session.expiry must be positive, got %s", c.Session.Expiry))
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("session.sweep_interval must be positive, got %s", c.Session.SweepInterval))
	}
	if c.Session.StarvationTicks < 0 {
		errs = append(errs, fmt.Errorf("session.starvation_ticks must not be negative, got %d", c.Session.StarvationTicks))
	}
	if c.Session.SweepParallelism < 0 {
		errs = append(errs, fmt.Errorf("session.sweep_parallelism must not be negative, got %d", c.Session.SweepParallelism))
	}
	if c.Agent.Command == "" {
		errs = append(errs, errors.New("agent.command must be set"))
	}
	// Agents run unattended; any mode that can prompt or widen permissions is refused.
	if c.Agent.PermissionMode != agent.PermissionDontAsk {
		errs = append(errs, fmt.Errorf("agent.permission_mode must be %q, got %q", agent.PermissionDontAsk, c.Agent.PermissionMode))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Errorf("log.format: %w", err))
	}

	return errors.Join(errs...)
}

func hours(n int) time.Duration {
	return time.Duration(n) * time.Hour
}
