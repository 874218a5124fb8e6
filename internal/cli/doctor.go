package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newDoctorCommand creates the "doctor" subcommand that runs the capability
// checks for the selected target and prints the full report.
func newDoctorCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that the environment can run a deployment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			sess, err := loadSession(opts, logger)
			if err != nil {
				return err
			}

			plan, err := sess.renderInput()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			checker := sess.backends(logger).Checker
			report, err := checker.Run(ctx, plan.Requirements)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CAPABILITY\tSTATUS\tDETAIL")
			for _, res := range report.Results {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", res.Capability, res.Status.Kind, res.Status.Reason)
			}
			tw.Flush()

			if fatal, ok := report.FirstFatal(); ok {
				return fmt.Errorf("capability %q is missing: %s", fatal.Capability, fatal.Status.Reason)
			}
			if !report.GPUAvailable() {
				logger.Warn("no GPU visible; the model server would run in CPU mode")
			}
			return nil
		},
	}

	return cmd
}
