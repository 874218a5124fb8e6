package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ragstack-dev/ragctl/internal/config"
	"github.com/ragstack-dev/ragctl/internal/deploy"
	"github.com/ragstack-dev/ragctl/internal/dockerrt"
	"github.com/ragstack-dev/ragctl/internal/kube"
	"github.com/ragstack-dev/ragctl/internal/preflight"
	"github.com/ragstack-dev/ragctl/internal/provision"
)

// session bundles the loaded configuration with the platform clients a
// command needs. Clients a target does not use stay nil.
type session struct {
	stack    *config.Stack
	settings config.Settings
	target   config.Target
	docker   *dockerrt.Client
	kube     *kube.Client
}

// loadSession reads stack.yaml and the environment and connects the clients
// the resolved target requires.
func loadSession(opts *Options, logger *slog.Logger) (*session, error) {
	stack, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	name := opts.Target
	if name == "" {
		name = stack.Target
	}
	if name == "" {
		name = string(config.TargetLocal)
	}
	target, err := config.ParseTarget(name)
	if err != nil {
		return nil, err
	}

	envFiles := append([]string{}, stack.EnvFiles...)
	if opts.EnvFile != "" {
		envFiles = append(envFiles, opts.EnvFile)
	}
	settings, err := config.LoadSettings(envFiles)
	if err != nil {
		return nil, err
	}

	s := &session{stack: stack, settings: settings, target: target}

	if s.needsDocker() {
		s.docker, err = dockerrt.NewClient(logger)
		if err != nil {
			return nil, err
		}
	}

	switch target {
	case config.TargetKind:
		s.kube = kube.NewClient(stack.Kind.Kubeconfig, "kind-"+stack.Kind.Cluster, logger)
	case config.TargetExisting:
		s.kube = kube.NewClient(stack.Existing.Kubeconfig, stack.Existing.Context, logger)
	}

	return s, nil
}

// needsDocker reports whether the target touches the local Docker daemon.
// The existing-cluster target only does when ragctl manages the model server.
func (s *session) needsDocker() bool {
	if s.target == config.TargetExisting {
		return s.settings.OllamaHost == ""
	}
	return true
}

// planFn returns the plan builder for the loaded stack and target.
func (s *session) planFn() func(gpuAvailable bool) (*deploy.Plan, error) {
	return func(gpuAvailable bool) (*deploy.Plan, error) {
		return deploy.Build(s.stack, s.settings, s.target, gpuAvailable)
	}
}

// backends assembles the sequencer backends from the session's clients.
func (s *session) backends(logger *slog.Logger) deploy.Backends {
	var pingDaemon func(ctx context.Context) error
	var containers provision.ContainerRuntime
	var volumes provision.VolumeClient
	var execFn func(ctx context.Context, container string, cmd []string) error
	if s.docker != nil {
		pingDaemon = s.docker.Ping
		containers = s.docker
		volumes = s.docker
		execFn = s.docker.Exec
	}

	var clusters provision.ClusterCLI
	if s.target == config.TargetKind {
		clusters = provision.NewKindCLI(logger)
	}

	var namespaces provision.NamespaceClient
	var applier deploy.Applier
	var deploymentCheck func(namespace, name string) func(ctx context.Context) error
	if s.kube != nil {
		namespaces = s.kube
		applier = s.kube
		deploymentCheck = func(namespace, name string) func(ctx context.Context) error {
			return func(ctx context.Context) error {
				return s.kube.DeploymentAvailable(ctx, namespace, name)
			}
		}
	}

	return deploy.Backends{
		Checker:         preflight.NewChecker(logger, pingDaemon),
		Provisioner:     provision.New(s.stack.Project, logger, containers, volumes, clusters, namespaces),
		Applier:         applier,
		Exec:            execFn,
		DeploymentCheck: deploymentCheck,
	}
}

// sequencer builds a ready-to-run sequencer for the session.
func (s *session) sequencer(logger *slog.Logger) *deploy.Sequencer {
	return deploy.NewSequencer(logger, s.planFn(), s.backends(logger))
}

// renderInput builds the renderer input without touching any platform client.
func (s *session) renderInput() (*deploy.Plan, error) {
	plan, err := deploy.Build(s.stack, s.settings, s.target, false)
	if err != nil {
		return nil, fmt.Errorf("build deployment plan: %w", err)
	}
	return plan, nil
}
