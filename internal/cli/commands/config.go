package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aki/agentd/internal/cli/ui"
	"github.com/aki/agentd/internal/core/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var showFormat string

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long:  "Display the configuration after defaults and environment overrides are applied",
	Example: `  # Show configuration in YAML format (default)
  agentd config show

  # Show configuration in JSON format
  agentd config show --format json`,
	RunE: runConfigShow,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configShowCmd.Flags().StringVar(&showFormat, "format", "yaml", "Output format (yaml, json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	switch showFormat {
	case "json":
		return ui.OutputJSON(cfg)
	case "yaml":
		data, err := config.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprint(ui.Out, string(data))
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", showFormat)
	}
}
