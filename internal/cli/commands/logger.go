package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aki/agentd/internal/core/config"
	"github.com/aki/agentd/internal/core/logger"
)

// Global flags for logging configuration
var (
	flagLogLevel  string
	flagLogFormat string
)

// RegisterLoggerFlags registers global logging flags
func RegisterLoggerFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "Log format (text, json)")
}

// CreateLogger creates a logger from the configuration, with CLI flags taking precedence.
// Logs always go to stderr so stdout stays free for the stdio transport.
func CreateLogger(cfg *config.Config) (logger.Logger, error) {
	levelName, formatName := cfg.Log.Level, cfg.Log.Format
	if flagLogLevel != "" {
		levelName = flagLogLevel
	}
	if flagLogFormat != "" {
		formatName = flagLogFormat
	}

	level, err := logger.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	format, err := logger.ParseFormat(formatName)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	return logger.New(
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithOutput(os.Stderr),
	), nil
}

// loadConfig reads the configuration named by --config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewManager(flagConfigPath).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
