// Package kube provides integration with Kubernetes via kubectl for
// declarative applies and via client-go for state queries.
package kube

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"k8s.io/client-go/kubernetes"

	"github.com/ragstack-dev/ragctl/internal/logging"
)

// Client wraps kubectl execution and a lazily built client-go clientset with
// optional kubeconfig and context selection.
type Client struct {
	Kubeconfig string
	Context    string

	logger *slog.Logger
	cs     kubernetes.Interface
}

// NewClient constructs a new Kubernetes client wrapper.
func NewClient(kubeconfig, kubeContext string, logger *slog.Logger) *Client {
	return &Client{
		Kubeconfig: kubeconfig,
		Context:    kubeContext,
		logger:     logger,
	}
}

// Apply applies the given multi-document YAML to the cluster using kubectl apply -f -.
func (c *Client) Apply(ctx context.Context, yaml []byte) error {
	return c.runKubectl(ctx, yaml, "apply", "-f", "-")
}

// Delete deletes resources described by the given YAML using kubectl delete -f -.
// NotFound errors are ignored so deletes stay idempotent.
func (c *Client) Delete(ctx context.Context, yaml []byte) error {
	return c.runKubectl(ctx, yaml, "delete", "-f", "-", "--ignore-not-found")
}

// WaitForDeployments blocks until all deployments in the namespace are Available.
func (c *Client) WaitForDeployments(ctx context.Context, namespace, timeout string) error {
	if timeout == "" {
		timeout = "300s"
	}
	args := []string{"wait", "--for=condition=Available", "deployment", "--all", fmt.Sprintf("--timeout=%s", timeout)}
	if namespace != "" {
		args = append(args, "-n", namespace)
	}
	return c.runKubectl(ctx, nil, args...)
}

func (c *Client) runKubectl(ctx context.Context, stdin []byte, args ...string) error {
	cmdArgs := make([]string, 0, len(args)+2)
	if c.Context != "" {
		cmdArgs = append(cmdArgs, "--context", c.Context)
	}
	cmdArgs = append(cmdArgs, args...)

	cmd := exec.CommandContext(ctx, "kubectl", cmdArgs...)
	out := logging.NewWriter(c.logger, "kubectl")
	cmd.Stdout = out
	cmd.Stderr = out

	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if c.Kubeconfig != "" {
		env := os.Environ()
		env = append(env, "KUBECONFIG="+c.Kubeconfig)
		cmd.Env = env
	}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("kubectl %v failed: %w", args, err)
	}
	return nil
}
