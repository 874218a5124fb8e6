// Package dockerrt wraps the Docker Engine API for container provisioning.
package dockerrt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"strconv"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"
	"github.com/moby/moby/client"

	"github.com/ragstack-dev/ragctl/internal/config"
)

// ManagedLabel marks containers and volumes created by ragctl. Teardown only
// ever deletes resources carrying this label.
const ManagedLabel = "dev.ragstack.managed"

// ProjectLabel records which project a managed container belongs to.
const ProjectLabel = "dev.ragstack.project"

// Client is a wrapper around the official Docker client.
type Client struct {
	cli    *client.Client
	logger *slog.Logger
}

// NewClient creates a new Docker client from the environment.
func NewClient(logger *slog.Logger) (*Client, error) {
	cli, err := client.New(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("could not create docker client: %w", err)
	}
	return &Client{cli: cli, logger: logger}, nil
}

// Ping checks that the Docker daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.cli.Ping(ctx, client.PingOptions{}); err != nil {
		return fmt.Errorf("ping docker daemon: %w", err)
	}
	return nil
}

// State describes the observed state of a named container.
type State struct {
	// ID is the container ID; empty when the container does not exist.
	ID string
	// Exists reports whether a container with the name is present.
	Exists bool
	// Running reports whether the container is currently running.
	Running bool
	// Image is the image reference the container was created from.
	Image string
	// Managed reports whether the container carries the ragctl managed label.
	Managed bool
}

// Inspect queries the current state of a named container. A missing container
// is not an error; it is reported through State.Exists.
func (c *Client) Inspect(ctx context.Context, name string) (State, error) {
	res, err := c.cli.ContainerInspect(ctx, name, client.ContainerInspectOptions{})
	if err != nil {
		if cerrdefs.IsNotFound(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("inspect container %q: %w", name, err)
	}

	st := State{
		ID:     res.Container.ID,
		Exists: true,
	}
	if res.Container.State != nil {
		st.Running = res.Container.State.Running
	}
	if res.Container.Config != nil {
		st.Image = res.Container.Config.Image
		_, st.Managed = res.Container.Config.Labels[ManagedLabel]
	}
	return st, nil
}

// RunSpec describes a container to create and start.
type RunSpec struct {
	// Name is the container name, used as the idempotency key.
	Name string
	// Image is the image to pull and run.
	Image string
	// Env maps environment variable names to values.
	Env map[string]string
	// Ports lists host-to-container port publications.
	Ports []config.PortMapping
	// Mounts lists named-volume and bind mounts.
	Mounts []config.VolumeMount
	// Files maps bind-mount host paths to file payloads the caller stages
	// before Create. The daemon only ever sees the mount.
	Files map[string]string
	// GPU requests all visible GPUs for the container.
	GPU bool
	// Labels are applied on top of the managed label.
	Labels map[string]string
}

// Create pulls the image, then creates and starts the container. The daemon
// accepting the start is the success condition; readiness is probed separately.
func (c *Client) Create(ctx context.Context, spec RunSpec) (string, error) {
	reader, err := c.cli.ImagePull(ctx, spec.Image, client.ImagePullOptions{})
	if err != nil {
		return "", fmt.Errorf("could not pull image %q: %w", spec.Image, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	labels := map[string]string{ManagedLabel: "true"}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	containerConfig := &container.Config{
		Image:  spec.Image,
		Env:    flattenEnv(spec.Env),
		Labels: labels,
	}
	hostConfig := &container.HostConfig{
		Mounts: buildMounts(spec.Mounts),
	}
	if spec.GPU {
		hostConfig.DeviceRequests = []container.DeviceRequest{{
			Driver:       "nvidia",
			Count:        -1,
			Capabilities: [][]string{{"gpu"}},
		}}
	}

	if len(spec.Ports) > 0 {
		exposed, bindings, err := buildPortBindings(spec.Ports)
		if err != nil {
			return "", err
		}
		containerConfig.ExposedPorts = exposed
		hostConfig.PortBindings = bindings
	}

	resp, err := c.cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerConfig,
		HostConfig: hostConfig,
		Name:       spec.Name,
	})
	if err != nil {
		return "", fmt.Errorf("could not create container %q: %w", spec.Name, err)
	}

	if _, err := c.cli.ContainerStart(ctx, resp.ID, client.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("could not start container %q: %w", spec.Name, err)
	}
	return resp.ID, nil
}

// Start starts an existing stopped container in place.
func (c *Client) Start(ctx context.Context, name string) error {
	if _, err := c.cli.ContainerStart(ctx, name, client.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("could not start container %q: %w", name, err)
	}
	return nil
}

// Remove stops and removes a container by name. Missing containers are a no-op.
func (c *Client) Remove(ctx context.Context, name string) error {
	_, err := c.cli.ContainerRemove(ctx, name, client.ContainerRemoveOptions{Force: true, RemoveVolumes: false})
	if err != nil && !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("could not remove container %q: %w", name, err)
	}
	return nil
}

// Exec runs a command inside a running container and waits for it to finish,
// forwarding output to the client logger. Used to pull the embedding model
// inside the model-server container after creation.
func (c *Client) Exec(ctx context.Context, name string, cmd []string) error {
	created, err := c.cli.ExecCreate(ctx, name, client.ExecCreateOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("could not create exec in %q: %w", name, err)
	}

	stream, err := c.cli.ExecAttach(ctx, created.ID, client.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("could not attach exec in %q: %w", name, err)
	}
	defer stream.Close()

	if _, err := io.Copy(io.Discard, stream.Reader); err != nil {
		return fmt.Errorf("read exec output from %q: %w", name, err)
	}

	ins, err := c.cli.ExecInspect(ctx, created.ID, client.ExecInspectOptions{})
	if err != nil {
		return fmt.Errorf("could not inspect exec in %q: %w", name, err)
	}
	if ins.ExitCode != 0 {
		return fmt.Errorf("command %v in container %q exited with code %d", cmd, name, ins.ExitCode)
	}
	return nil
}

// Summary describes one managed container for status output.
type Summary struct {
	// Name is the container name.
	Name string
	// Image is the container image reference.
	Image string
	// State is the runtime state string (running, exited, ...).
	State string
}

// ListManaged returns all containers carrying the managed label for the project.
func (c *Client) ListManaged(ctx context.Context, project string) ([]Summary, error) {
	f := client.Filters{}.
		Add("label", ManagedLabel+"=true").
		Add("label", ProjectLabel+"="+project)
	res, err := c.cli.ContainerList(ctx, client.ContainerListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("list managed containers: %w", err)
	}
	return summarize(res.Items), nil
}

func summarize(items []container.Summary) []Summary {
	out := make([]Summary, 0, len(items))
	for _, item := range items {
		name := ""
		if len(item.Names) > 0 {
			name = item.Names[0]
		}
		out = append(out, Summary{Name: name, Image: item.Image, State: string(item.State)})
	}
	return out
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func buildMounts(volumes []config.VolumeMount) []mount.Mount {
	if len(volumes) == 0 {
		return nil
	}
	mounts := make([]mount.Mount, 0, len(volumes))
	for _, v := range volumes {
		m := mount.Mount{Target: v.MountPath, ReadOnly: v.ReadOnly}
		if v.HostPath != "" {
			m.Type = mount.TypeBind
			m.Source = v.HostPath
		} else {
			m.Type = mount.TypeVolume
			m.Source = v.Name
		}
		mounts = append(mounts, m)
	}
	return mounts
}

func buildPortBindings(ports []config.PortMapping) (network.PortSet, network.PortMap, error) {
	exposed := make(network.PortSet)
	bindings := make(network.PortMap)

	for _, p := range ports {
		containerPort, err := network.ParsePort(fmt.Sprintf("%d/tcp", p.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid container port %d: %w", p.ContainerPort, err)
		}
		exposed[containerPort] = struct{}{}
		bindings[containerPort] = []network.PortBinding{
			{
				HostIP:   netip.Addr{},
				HostPort: strconv.Itoa(p.HostPort),
			},
		}
	}
	return exposed, bindings, nil
}
