package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aki/agentd/internal/app"
	"github.com/aki/agentd/internal/mcp"
)

const shutdownTimeout = 30 * time.Second

var (
	serveTransport string
	serveAddr      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server. Each tool call names an owner;
the owner's session and workspace are created on first use and expire when idle.`,
	Example: `  # Serve over stdio for a local MCP client
  agentd serve

  # Serve over HTTP with server-sent events
  agentd serve --transport sse --addr :8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveTransport, "transport", "t", mcp.TransportStdio, "Transport type (stdio, sse)")
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address for the sse transport")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := CreateLogger(cfg)
	if err != nil {
		return err
	}

	container, err := app.NewContainer(cfg, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := container.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	server := mcp.NewServer(container.Registry, container.Coordinator,
		mcp.WithLogger(log.With("component", "mcp")),
		mcp.WithVersion(Version),
	)
	log.Info("agentd started",
		"transport", serveTransport,
		"workspace_root", container.Store.Root(),
		"expiry", cfg.Session.Expiry,
		"quota_mb", cfg.Workspace.MaxSizeMB)

	serveErr := server.Serve(ctx, serveTransport, serveAddr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := container.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown did not complete cleanly", "error", err)
	}
	log.Info("agentd stopped")

	if serveErr != nil {
		return fmt.Errorf("server error: %w", serveErr)
	}
	return nil
}
