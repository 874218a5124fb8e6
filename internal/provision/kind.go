package provision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/ragstack-dev/ragctl/internal/logging"
)

// KindCLI drives the kind binary for cluster lifecycle operations.
type KindCLI struct {
	logger *slog.Logger
}

// NewKindCLI constructs a KindCLI.
func NewKindCLI(logger *slog.Logger) *KindCLI {
	return &KindCLI{logger: logger}
}

// Clusters lists existing kind cluster names.
func (k *KindCLI) Clusters(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, "kind", "get", "clusters")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = logging.NewWriter(k.logger, "kind")

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("kind get clusters failed: %w", err)
	}

	var names []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && line != "No kind clusters found." {
			names = append(names, line)
		}
	}
	return names, nil
}

// CreateCluster creates a kind cluster and blocks until kind reports success.
func (k *KindCLI) CreateCluster(ctx context.Context, name string) error {
	return k.run(ctx, "create", "cluster", "--name", name, "--wait", "60s")
}

// DeleteCluster deletes a kind cluster by name.
func (k *KindCLI) DeleteCluster(ctx context.Context, name string) error {
	return k.run(ctx, "delete", "cluster", "--name", name)
}

func (k *KindCLI) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "kind", args...)
	out := logging.NewWriter(k.logger, "kind")
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("kind %v failed: %w", args, err)
	}
	return nil
}
