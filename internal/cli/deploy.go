package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragstack-dev/ragctl/internal/deploy"
)

// deployTimeout bounds a full deploy including image pulls and model download.
const deployTimeout = 30 * time.Minute

// newDeployCommand creates the "deploy" subcommand that brings the stack up.
func newDeployCommand(opts *Options) *cobra.Command {
	var (
		dryRun        bool
		skipPreflight bool
	)

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the stack described by stack.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			sess, err := loadSession(opts, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), deployTimeout)
			defer cancel()

			seq := sess.sequencer(logger)
			rec, err := seq.Deploy(ctx, deploy.Options{DryRun: dryRun, SkipPreflight: skipPreflight})
			if err != nil {
				return err
			}

			if dryRun {
				out := rec.Compose
				if out == nil {
					out = renderedManifests(rec)
				}
				cmd.OutOrStdout().Write(out)
				return nil
			}

			logger.Info("deploy complete", "target", sess.target, "state", rec.State)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate and render without provisioning or applying")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip capability checks (model server runs CPU-only)")

	return cmd
}
