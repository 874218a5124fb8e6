package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

// teardownTimeout bounds a full teardown including cluster deletion.
const teardownTimeout = 15 * time.Minute

// newTeardownCommand creates the "teardown" subcommand that removes managed resources.
func newTeardownCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Remove every resource ragctl created for the stack",
		Long:  "teardown removes the stack's managed containers, namespace and cluster in reverse deployment order. Resources ragctl did not create are preserved and reported, never deleted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			sess, err := loadSession(opts, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), teardownTimeout)
			defer cancel()

			preserved, err := sess.sequencer(logger).Teardown(ctx)
			for _, h := range preserved {
				logger.Info("preserved", "name", h.Name, "kind", h.Kind)
			}
			if err != nil {
				return err
			}

			logger.Info("teardown complete", "target", sess.target, "preserved", len(preserved))
			return nil
		},
	}

	return cmd
}
