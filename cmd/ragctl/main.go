package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/ragstack-dev/ragctl/internal/cli"
	"github.com/ragstack-dev/ragctl/internal/deploy"
	"github.com/ragstack-dev/ragctl/internal/logging"
)

// Exit codes per failure class, so scripts can branch without parsing logs.
const (
	exitFailure          = 1
	exitPreflight        = 2
	exitProvision        = 3
	exitReadinessTimeout = 4
	exitRenderValidation = 5
)

// main is the entry point for the ragctl CLI binary.
func main() {
	logger := logging.NewLogger(os.Stderr, slog.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var (
		preflightErr *deploy.PreflightError
		provisionErr *deploy.ProvisionError
		renderErr    *deploy.RenderError
		readyErr     *deploy.ReadinessError
	)
	switch {
	case errors.As(err, &preflightErr):
		return exitPreflight
	case errors.As(err, &readyErr):
		return exitReadinessTimeout
	case errors.As(err, &renderErr):
		return exitRenderValidation
	case errors.As(err, &provisionErr):
		return exitProvision
	default:
		return exitFailure
	}
}
