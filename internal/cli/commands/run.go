package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aki/agentd/internal/app"
	"github.com/aki/agentd/internal/cli/ui"
	"github.com/aki/agentd/internal/core/execution"
)

var (
	runOwner         string
	runMaxIterations int
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <prompt>",
	Short: "Run a single prompt in a fresh session",
	Long: `Run a single prompt for an owner and print the agent's progress.
The session lives only as long as the command; its workspace is left on disk
and can be removed with 'agentd workspaces prune'.`,
	Example: `  agentd run --owner alice "write a hello world script in python"
  agentd run --max-iterations 10 "create a Flask API project"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runOwner, "owner", "o", "cli", "Owner key the session belongs to")
	runCmd.Flags().IntVar(&runMaxIterations, "max-iterations", 0, "Cap agent iterations for the prompt (0 for no cap)")
}

func runRun(cmd *cobra.Command, args []string) error {
	prompt, err := buildPrompt(strings.Join(args, " "), runMaxIterations)
	if err != nil {
		return err
	}

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
	return executePrompt(cmd.Context(), container, runOwner, prompt)
}

// buildPrompt applies the iteration cap when one is set.
func buildPrompt(task string, maxIterations int) (string, error) {
	if maxIterations == 0 {
		return task, nil
	}
	return execution.CappedPrompt(task, maxIterations)
}

func executePrompt(parent context.Context, container *app.Container, owner, prompt string) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := container.Coordinator.ExecuteOwner(ctx, owner, prompt, ui.NewProgressPrinter(ui.Out))
	if err := container.Shutdown(context.WithoutCancel(ctx)); err != nil {
		ui.Warning("failed to close session: %v", err)
	}

	ui.PrintResult(res)
	if res.SessionID != "" {
		if path, err := container.Store.Path(res.SessionID); err == nil {
			ui.OutputLine("   %s %s", ui.DimStyle.Render("Workspace:"), path)
		}
	}

	if res.OK() {
		return nil
	}
	if res.Err != nil {
		return fmt.Errorf("execution %s: %w", res.Outcome, res.Err)
	}
	return errors.New("execution " + string(res.Outcome))
}
