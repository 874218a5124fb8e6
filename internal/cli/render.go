package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragstack-dev/ragctl/internal/config"
	"github.com/ragstack-dev/ragctl/internal/deploy"
	"github.com/ragstack-dev/ragctl/internal/render"
)

// newRenderCommand creates the "render" subcommand that emits manifests
// without touching any platform.
func newRenderCommand(opts *Options) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Validate the stack and print its rendered manifests",
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

			out, err := renderPlan(plan, sess.target)
			if err != nil {
				return err
			}

			if output != "" {
				if err := os.WriteFile(output, out, 0o644); err != nil {
					return fmt.Errorf("write rendered output %q: %w", output, err)
				}
				logger.Info("manifests written", "path", output)
				return nil
			}

			cmd.OutOrStdout().Write(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write rendered output to a file instead of stdout")

	return cmd
}

func renderPlan(plan *deploy.Plan, target config.Target) ([]byte, error) {
	if target == config.TargetLocal {
		return render.Compose(plan.Render)
	}
	manifests, err := render.Kubernetes(plan.Render)
	if err != nil {
		return nil, err
	}
	return render.MultiDocument(manifests), nil
}

func renderedManifests(rec *deploy.Record) []byte {
	return render.MultiDocument(rec.Manifests)
}
