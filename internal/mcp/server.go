// Package mcp exposes agent sessions over the Model Context Protocol.
//
// Each tool call names the owner it acts for. The run tool streams agent
// progress to the client as progress notifications when the client supplies
// a progress token.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aki/agentd/internal/core/execution"
	"github.com/aki/agentd/internal/core/logger"
	"github.com/aki/agentd/internal/core/session"
)

const (
	// TransportStdio serves over stdin/stdout
	TransportStdio = "stdio"
	// TransportSSE serves over HTTP with server-sent events
	TransportSSE = "sse"
)

// Server is the MCP front end of a session registry.
type Server struct {
	mcpServer   *server.MCPServer
	registry    *session.Registry
	coordinator *execution.Coordinator
	logger      logger.Logger
	version     string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// NewServer creates a Server and registers its tools.
func NewServer(registry *session.Registry, coordinator *execution.Coordinator, opts ...Option) *Server {
	s := &Server{
		registry:    registry,
		coordinator: coordinator,
		logger:      logger.Nop(),
		version:     "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcpServer = server.NewMCPServer(
		"agentd",
		s.version,
		server.WithLogging(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Serve runs the server on the given transport until ctx ends or the
// transport closes.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	switch transport {
	case TransportStdio, "":
		s.logger.Info("serving MCP over stdio")
		return s.ServeStdio(ctx, os.Stdin, os.Stdout)
	case TransportSSE:
		sse := server.NewSSEServer(s.mcpServer)
		errCh := make(chan error, 1)
		go func() {
			errCh <- sse.Start(addr)
		}()
		s.logger.Info("serving MCP over SSE", "addr", addr)

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
			if err := sse.Shutdown(context.WithoutCancel(ctx)); err != nil {
				return fmt.Errorf("failed to shut down SSE server: %w", err)
			}
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}
	default:
		return fmt.Errorf("unsupported transport: %s", transport)
	}
}

// ServeStdio serves line-delimited JSON-RPC from in to out until in reaches
// EOF or ctx ends. Tool calls run concurrently.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	err := newStdioTransport(s.mcpServer, out, s.logger).listen(ctx, in)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("run",
		mcp.WithDescription("Run a prompt in the owner's agent session. The session and its workspace are created on first use. Progress is streamed as notifications when a progress token is supplied."),
		mcp.WithString("owner",
			mcp.Description("Stable identity of the user the session belongs to"),
			mcp.Required(),
		),
		mcp.WithString("prompt",
			mcp.Description("Task for the agent"),
			mcp.Required(),
		),
	), s.handleRun)

	s.mcpServer.AddTool(mcp.NewTool("code",
		mcp.WithDescription("Generate a code project in the owner's workspace. The agent works in build, check and fix iterations and stops at the iteration cap."),
		mcp.WithString("owner",
			mcp.Description("Stable identity of the user the session belongs to"),
			mcp.Required(),
		),
		mcp.WithString("prompt",
			mcp.Description("Project description, e.g. create a Flask API project"),
			mcp.Required(),
		),
		mcp.WithNumber("max_iterations",
			mcp.Description("Iteration cap for the agent (optional, default 50)"),
			mcp.DefaultNumber(execution.DefaultMaxIterations),
			mcp.Min(1),
		),
	), s.handleCode)

	s.mcpServer.AddTool(mcp.NewTool("status",
		mcp.WithDescription("Show the owner's session: workspace usage against the quota, accounting and expiry"),
		mcp.WithString("owner",
			mcp.Description("Stable identity of the user the session belongs to"),
			mcp.Required(),
		),
	), s.handleStatus)

	s.mcpServer.AddTool(mcp.NewTool("reset",
		mcp.WithDescription("Discard the owner's session and workspace and start a fresh one"),
		mcp.WithString("owner",
			mcp.Description("Stable identity of the user the session belongs to"),
			mcp.Required(),
		),
	), s.handleReset)

	s.mcpServer.AddTool(mcp.NewTool("cleanup",
		mcp.WithDescription("Delete workspace files except the session configuration. With delete_all the whole session is reset."),
		mcp.WithString("owner",
			mcp.Description("Stable identity of the user the session belongs to"),
			mcp.Required(),
		),
		mcp.WithBoolean("delete_all",
			mcp.Description("Reset the session instead of deleting files (optional)"),
		),
	), s.handleCleanup)

	s.mcpServer.AddTool(mcp.NewTool("cancel",
		mcp.WithDescription("Cancel the running and queued executions of the owner's session"),
		mcp.WithString("owner",
			mcp.Description("Stable identity of the user the session belongs to"),
			mcp.Required(),
		),
	), s.handleCancel)

	s.mcpServer.AddTool(mcp.NewTool("sessions",
		mcp.WithDescription("List live sessions"),
	), s.handleSessions)
}
