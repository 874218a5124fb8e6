package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragstack-dev/ragctl/internal/config"
)

// newStatusCommand creates the "status" subcommand that shows stack status.
func newStatusCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of the stack's containers and deployments",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := LoggerFromContext(cmd.Context())

			sess, err := loadSession(opts, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			defer tw.Flush()

			if sess.docker != nil {
				containers, err := sess.docker.ListManaged(ctx, sess.stack.Project)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "CONTAINER\tIMAGE\tSTATE")
				for _, c := range containers {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", strings.TrimPrefix(c.Name, "/"), c.Image, c.State)
				}
			}

			if sess.target != config.TargetLocal {
				workloads, err := sess.kube.DeploymentStatuses(ctx, sess.stack.Namespace)
				if err != nil {
					return err
				}
				fmt.Fprintln(tw, "DEPLOYMENT\tREADY\tAVAILABLE")
				for _, w := range workloads {
					fmt.Fprintf(tw, "%s\t%s\t%t\n", w.Name, w.Ready, w.Available)
				}
			}

			return nil
		},
	}

	return cmd
}
