// Package cli defines the command-line interface for ragctl.
package cli

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragstack-dev/ragctl/internal/logging"
)

const (
	// defaultConfigPath is the default path to the stack configuration file.
	defaultConfigPath = "stack.yaml"
)

// Options stores global CLI options shared between commands.
type Options struct {
	ConfigPath string
	Target     string
	EnvFile    string
	LogLevel   slog.Level
}

// Execute builds the root command, runs it with the provided args and logger, and returns any error.
func Execute(args []string, logger *slog.Logger) error {
	if logger == nil {
		logger = logging.NewLogger(os.Stderr, slog.LevelInfo)
	}

	rootOpts := &Options{
		ConfigPath: defaultConfigPath,
		LogLevel:   slog.LevelInfo,
	}

	rootCmd := newRootCommand(rootOpts, logger)
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

// newRootCommand constructs the root cobra.Command with global flags and subcommands.
func newRootCommand(opts *Options, logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragctl",
		Short: "ragctl deploys a LightRAG stack from a declarative description",
		Long:  "ragctl provisions and tears down a LightRAG application with its PostgreSQL (AGE + pgvector) database and Ollama embedding server, locally or on a Kubernetes cluster, from a stack.yaml definition.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			opts.LogLevel = level
			logger = logging.NewLogger(os.Stderr, level)
			cmd.SetContext(context.WithValue(cmd.Context(), loggerKey{}, logger))
			logger.Debug("logger initialized", "level", level)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "Path to stack.yaml configuration file")
	cmd.PersistentFlags().StringVarP(&opts.Target, "target", "t", "", "Deployment target (local, kind, existing); overrides stack.yaml")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "Additional .env file loaded after those in stack.yaml")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newDeployCommand(opts),
		newTeardownCommand(opts),
		newStatusCommand(opts),
		newRenderCommand(opts),
		newDoctorCommand(opts),
	)

	return cmd
}

// loggerKey is a private context key used to store a logger in command contexts.
type loggerKey struct{}

// LoggerFromContext extracts a logger from the context or falls back to a default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return logging.NewLogger(os.Stderr, slog.LevelInfo)
	}
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return logging.NewLogger(os.Stderr, slog.LevelInfo)
}
