package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aki/agentd/internal/core/execution"
	"github.com/aki/agentd/internal/core/session"
)

// RunResult is the structured result of the run tool.
type RunResult struct {
	SessionID     string         `json:"session_id"`
	Outcome       string         `json:"outcome"`
	Output        string         `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	CostUSD       float64        `json:"cost_usd"`
	Turns         int            `json:"turns"`
	DurationMS    int64          `json:"duration_ms"`
	DurationAPIMS int64          `json:"duration_api_ms"`
	Tools         map[string]int `json:"tools,omitempty"`
}

// StatusResult is the structured result of the status tool.
type StatusResult struct {
	session.Status
	Size         string  `json:"size"`
	UsagePercent float64 `json:"usage_percent"`
	Level        string  `json:"level"`
	Expires      string  `json:"expires"`
}

func requireString(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("invalid or missing %s argument", name)
	}
	return v, nil
}

func (s *Server) handleRun(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	owner, err := requireString(args, "owner")
	if err != nil {
		return nil, err
	}
	prompt, err := requireString(args, "prompt")
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, request, owner, prompt)
}

func (s *Server) handleCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	owner, err := requireString(args, "owner")
	if err != nil {
		return nil, err
	}
	task, err := requireString(args, "prompt")
	if err != nil {
		return nil, err
	}

	maxIterations := execution.DefaultMaxIterations
	if v, ok := args["max_iterations"]; ok {
		n, ok := v.(float64)
		if !ok || n != float64(int(n)) {
			return nil, fmt.Errorf("invalid max_iterations argument: %v", v)
		}
		maxIterations = int(n)
	}

	prompt, err := execution.CappedPrompt(task, maxIterations)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, request, owner, prompt)
}

// execute runs prompt for owner and reports the result, streaming progress
// when the request carries a progress token.
func (s *Server) execute(ctx context.Context, request mcp.CallToolRequest, owner, prompt string) (*mcp.CallToolResult, error) {
	var sink execution.Sink = execution.Discard
	if request.Params.Meta != nil && request.Params.Meta.ProgressToken != nil {
		if srv := server.ServerFromContext(ctx); srv != nil {
			sink = newProgressSink(ctx, request.Params.Meta.ProgressToken, srv.SendNotificationToClient, s.logger)
		}
	}

	res := s.coordinator.ExecuteOwner(ctx, owner, prompt, sink)

	out := RunResult{
		SessionID:     res.SessionID,
		Outcome:       string(res.Outcome),
		Output:        res.Text,
		CostUSD:       res.Cost,
		Turns:         res.Turns,
		DurationMS:    res.Duration.Milliseconds(),
		DurationAPIMS: res.APIDuration.Milliseconds(),
		Tools:         res.Tools,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}

	result, err := createResult(out)
	if err != nil {
		return nil, err
	}
	result.IsError = !res.OK()
	return result, nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := requireString(request.GetArguments(), "owner")
	if err != nil {
		return nil, err
	}

	st, err := s.registry.Status(owner)
	if err != nil {
		var notFound session.ErrNotFound
		if errors.As(err, &notFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no active session for %s: use the run tool to start one", owner)), nil
		}
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	return createResult(StatusResult{
		Status:       st,
		Size:         humanize.IBytes(uint64(st.WorkspaceSize)),
		UsagePercent: st.UsagePercent(),
		Level:        string(st.Level()),
		Expires:      st.ExpiresIn.Round(time.Second).String(),
	})
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := requireString(request.GetArguments(), "owner")
	if err != nil {
		return nil, err
	}

	sess, err := s.registry.Reset(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to reset session: %w", err)
	}
	return createResult(sess.Info())
}

func (s *Server) handleCleanup(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	owner, err := requireString(args, "owner")
	if err != nil {
		return nil, err
	}

	if deleteAll, _ := args["delete_all"].(bool); deleteAll {
		sess, err := s.registry.Reset(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("failed to reset session: %w", err)
		}
		return createResult(map[string]any{
			"reset":      true,
			"session_id": sess.ID(),
		})
	}

	freed, err := s.registry.Cleanup(ctx, owner)
	if err != nil {
		var notFound session.ErrNotFound
		if errors.As(err, &notFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no active session for %s", owner)), nil
		}
		return nil, fmt.Errorf("failed to clean up workspace: %w", err)
	}
	return createResult(map[string]any{
		"freed_bytes": freed,
		"freed":       humanize.IBytes(uint64(freed)),
	})
}

func (s *Server) handleCancel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := requireString(request.GetArguments(), "owner")
	if err != nil {
		return nil, err
	}

	sess, err := s.registry.Lookup(owner)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("no active session for %s", owner)), nil
	}
	return createResult(map[string]any{
		"session_id": sess.ID(),
		"cancelled":  s.coordinator.Cancel(sess.ID()),
	})
}

func (s *Server) handleSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snapshot := s.registry.Snapshot()
	infos := make([]session.Info, 0, len(snapshot))
	for _, sess := range snapshot {
		infos = append(infos, sess.Info())
	}
	return createResult(map[string]any{
		"count":    len(infos),
		"sessions": infos,
	})
}
