package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aki/agentd/internal/cli/ui"
	"github.com/aki/agentd/internal/core/workspace"
)

var workspacesCmd = &cobra.Command{
	Use:     "workspaces",
	Aliases: []string{"ws"},
	Short:   "Inspect and prune workspace directories",
	Long: `Inspect and prune the per-session workspace directories under the workspace root.
Workspaces outlive the server process; these commands operate on the directories
directly and should not be used on workspaces of a running server.`,
}

var (
	listFormat     string
	pruneOlderThan time.Duration
	pruneDryRun    bool
)

var workspacesListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List workspace directories",
	RunE:    runWorkspacesList,
}

var workspacesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove workspace directories",
	Example: `  # Remove every workspace idle for more than a day
  agentd workspaces prune --older-than 24h

  # Show what would be removed
  agentd workspaces prune --dry-run`,
	RunE: runWorkspacesPrune,
}

func init() {
	workspacesCmd.AddCommand(workspacesListCmd)
	workspacesCmd.AddCommand(workspacesPruneCmd)

	workspacesListCmd.Flags().StringVar(&listFormat, "format", "pretty", "Output format (pretty, json)")
	workspacesPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "Only remove workspaces idle for at least this long")
	workspacesPruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "List what would be removed without removing it")
}

func openStore() (*workspace.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := CreateLogger(cfg)
	if err != nil {
		return nil, err
	}
	store, err := workspace.NewStore(cfg.Workspace.Root, workspace.WithLogger(log.With("component", "workspace")))
	if err != nil {
		return nil, fmt.Errorf("failed to open workspace root: %w", err)
	}
	return store, nil
}

func runWorkspacesList(cmd *cobra.Command, args []string) error {
	format, err := ui.ParseFormat(listFormat)
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}

	entries, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list workspaces: %w", err)
	}

	if format == ui.FormatJSON {
		if entries == nil {
			entries = []workspace.Entry{}
		}
		return ui.OutputJSON(entries)
	}
	ui.PrintWorkspaceList(entries, nil)
	return nil
}

func runWorkspacesPrune(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}

	if pruneDryRun {
		entries, err := store.List(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list workspaces: %w", err)
		}
		now := time.Now()
		var candidates []workspace.Entry
		for _, e := range entries {
			if pruneOlderThan > 0 && now.Sub(e.LastActive()) < pruneOlderThan {
				continue
			}
			candidates = append(candidates, e)
		}
		ui.PrintWorkspaceList(candidates, nil)
		return nil
	}

	removed, err := store.Prune(cmd.Context(), nil, pruneOlderThan)
	var freed int64
	for _, e := range removed {
		freed += e.Usage.Bytes
	}
	if len(removed) > 0 {
		ui.Success("Removed %d workspace(s), freed %s", len(removed), ui.FormatSize(freed))
	} else if err == nil {
		ui.Info("No workspaces to remove")
	}
	if err != nil {
		return fmt.Errorf("failed to prune workspaces: %w", err)
	}
	return nil
}
