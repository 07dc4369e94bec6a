package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aki/agentd/internal/core/execution"
	"github.com/aki/agentd/internal/core/logger"
)

const progressMethod = "notifications/progress"

type notifyFunc func(ctx context.Context, method string, params map[string]any) error

// progressSink relays execution updates as MCP progress notifications.
type progressSink struct {
	ctx    context.Context
	token  mcp.ProgressToken
	notify notifyFunc
	logger logger.Logger
	count  int
	failed bool
}

func newProgressSink(ctx context.Context, token mcp.ProgressToken, notify notifyFunc, log logger.Logger) *progressSink {
	return &progressSink{ctx: ctx, token: token, notify: notify, logger: log}
}

// Send implements execution.Sink.
func (p *progressSink) Send(u execution.Update) {
	if p.failed {
		return
	}

	message := progressMessage(u)
	if message == "" {
		return
	}
	p.count++

	err := p.notify(p.ctx, progressMethod, map[string]any{
		"progressToken": p.token,
		"progress":      p.count,
		"message":       message,
	})
	if err != nil {
		// A client that went away stays away; stop trying for this execution.
		p.failed = true
		p.logger.Debug("failed to send progress notification", "error", err)
	}
}

func progressMessage(u execution.Update) string {
	switch u.Kind {
	case execution.UpdateLifecycle:
		if u.Text == "init" {
			return ""
		}
		return "system: " + u.Text
	case execution.UpdateText:
		return u.Text
	case execution.UpdateTool:
		return "tool: " + u.Text
	case execution.UpdateToolResult:
		if u.IsError {
			return "tool error: " + u.Text
		}
		return "result: " + u.Text
	case execution.UpdateTerminal:
		if u.Result == nil {
			return ""
		}
		if u.Result.Err != nil {
			return fmt.Sprintf("finished: %s: %v", u.Result.Outcome, u.Result.Err)
		}
		return fmt.Sprintf("finished: %s ($%.4f)", u.Result.Outcome, u.Result.Cost)
	}
	return ""
}
