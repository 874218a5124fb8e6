// Package provision creates or reuses named external resources idempotently.
// The resource name is the idempotency key: ensuring the same name twice
// performs at most one creation, and concurrent ensures for one name
// serialize on a per-name lock.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ragstack-dev/ragctl/internal/dockerrt"
)

// ErrPreserved marks a resource Destroy refused to touch because ragctl does
// not own it. Teardown reports these as preserved rather than failed.
var ErrPreserved = errors.New("refusing to delete")

// Kind enumerates the resource kinds the provisioner manages.
type Kind string

const (
	// KindContainer is a container on the local Docker daemon.
	KindContainer Kind = "container"
	// KindVolume is a named volume on the local Docker daemon.
	KindVolume Kind = "volume"
	// KindCluster is a Kind cluster.
	KindCluster Kind = "cluster"
	// KindNamespace is a Kubernetes namespace.
	KindNamespace Kind = "namespace"
)

// Resource declares one external dependency to ensure.
type Resource struct {
	// Name is the resource name, used as the idempotency key.
	Name string
	// Kind selects the provisioning backend.
	Kind Kind
	// Container holds the run parameters for container resources.
	Container *dockerrt.RunSpec
	// External marks the resource as operator-owned: it is reused when
	// present and never deleted during teardown, even if ragctl created it.
	External bool
}

// Handle refers to an ensured resource and records how it was obtained, so
// teardown knows what it is permitted to delete and logs show which path
// Ensure took.
type Handle struct {
	// Name is the resource name.
	Name string
	// Kind is the resource kind.
	Kind Kind
	// ID is the platform identifier (container ID); may equal Name.
	ID string
	// Reused reports that a healthy resource already existed and nothing
	// was mutated.
	Reused bool
	// Restarted reports that a stopped resource was started in place.
	Restarted bool
	// Recreated reports that a stale resource was removed and recreated.
	Recreated bool
	// External mirrors Resource.External or marks a pre-existing unmanaged
	// resource; teardown must skip these.
	External bool
}

// ContainerRuntime is the container backend consumed by the provisioner.
type ContainerRuntime interface {
	Inspect(ctx context.Context, name string) (dockerrt.State, error)
	Create(ctx context.Context, spec dockerrt.RunSpec) (string, error)
	Start(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
}

// VolumeClient is the named-volume backend consumed by the provisioner.
type VolumeClient interface {
	InspectVolume(ctx context.Context, name string) (dockerrt.VolumeState, error)
	CreateVolume(ctx context.Context, name string, labels map[string]string) error
	RemoveVolume(ctx context.Context, name string) error
}

// ClusterCLI is the Kind cluster backend consumed by the provisioner.
type ClusterCLI interface {
	Clusters(ctx context.Context) ([]string, error)
	CreateCluster(ctx context.Context, name string) error
	DeleteCluster(ctx context.Context, name string) error
}

// NamespaceClient is the namespace backend consumed by the provisioner.
type NamespaceClient interface {
	EnsureNamespace(ctx context.Context, name, project string) (reused bool, err error)
	DeleteManagedNamespace(ctx context.Context, name string) error
}

// Provisioner resolves resources against their backends.
type Provisioner struct {
	project    string
	logger     *slog.Logger
	containers ContainerRuntime
	volumes    VolumeClient
	clusters   ClusterCLI
	namespaces NamespaceClient

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Provisioner. Backends a target does not use may be nil.
func New(project string, logger *slog.Logger, containers ContainerRuntime, volumes VolumeClient, clusters ClusterCLI, namespaces NamespaceClient) *Provisioner {
	return &Provisioner{
		project:    project,
		logger:     logger,
		containers: containers,
		volumes:    volumes,
		clusters:   clusters,
		namespaces: namespaces,
		locks:      make(map[string]*sync.Mutex),
	}
}

// Ensure resolves one resource: reuse when present and healthy, create when
// absent, restart or recreate when present but unhealthy. It blocks until the
// platform accepts the resource; full readiness is probed separately.
func (p *Provisioner) Ensure(ctx context.Context, res Resource) (Handle, error) {
	lock := p.nameLock(res.Name)
	lock.Lock()
	defer lock.Unlock()

	switch res.Kind {
	case KindContainer:
		return p.ensureContainer(ctx, res)
	case KindVolume:
		return p.ensureVolume(ctx, res)
	case KindCluster:
		return p.ensureCluster(ctx, res)
	case KindNamespace:
		return p.ensureNamespace(ctx, res)
	default:
		return Handle{}, fmt.Errorf("unknown resource kind %q for %q", res.Kind, res.Name)
	}
}

// Destroy removes one previously ensured resource. Resources marked external
// and resources ragctl never created are refused, not silently skipped, so
// the caller can report them as preserved.
func (p *Provisioner) Destroy(ctx context.Context, h Handle) error {
	if h.External {
		return fmt.Errorf("resource %q is externally owned: %w", h.Name, ErrPreserved)
	}

	lock := p.nameLock(h.Name)
	lock.Lock()
	defer lock.Unlock()

	switch h.Kind {
	case KindContainer:
		state, err := p.containers.Inspect(ctx, h.Name)
		if err != nil {
			return err
		}
		if !state.Exists {
			return nil
		}
		if !state.Managed {
			return fmt.Errorf("container %q was not created by ragctl: %w", h.Name, ErrPreserved)
		}
		return p.containers.Remove(ctx, h.Name)
	case KindVolume:
		state, err := p.volumes.InspectVolume(ctx, h.Name)
		if err != nil {
			return err
		}
		if !state.Exists {
			return nil
		}
		if !state.Managed {
			return fmt.Errorf("volume %q was not created by ragctl: %w", h.Name, ErrPreserved)
		}
		return p.volumes.RemoveVolume(ctx, h.Name)
	case KindCluster:
		return p.clusters.DeleteCluster(ctx, h.Name)
	case KindNamespace:
		return p.namespaces.DeleteManagedNamespace(ctx, h.Name)
	default:
		return fmt.Errorf("unknown resource kind %q for %q", h.Kind, h.Name)
	}
}

func (p *Provisioner) ensureContainer(ctx context.Context, res Resource) (Handle, error) {
	if p.containers == nil {
		return Handle{}, fmt.Errorf("no container runtime configured for %q", res.Name)
	}
	if res.Container == nil {
		return Handle{}, fmt.Errorf("container resource %q has no run spec", res.Name)
	}

	handle := Handle{Name: res.Name, Kind: KindContainer, External: res.External}

	state, err := p.containers.Inspect(ctx, res.Name)
	if err != nil {
		return handle, err
	}

	switch {
	case !state.Exists:
		id, err := p.containers.Create(ctx, *res.Container)
		if err != nil {
			return handle, err
		}
		handle.ID = id
		p.log().Info("container created", "name", res.Name, "image", res.Container.Image)

	case state.Running && !state.Managed:
		// Operator-owned container: reuse as-is, never touch it.
		handle.ID = state.ID
		handle.Reused = true
		handle.External = true
		p.log().Info("reusing externally owned container", "name", res.Name)

	case state.Running && state.Image != res.Container.Image:
		if err := p.containers.Remove(ctx, res.Name); err != nil {
			return handle, err
		}
		id, err := p.containers.Create(ctx, *res.Container)
		if err != nil {
			return handle, err
		}
		handle.ID = id
		handle.Recreated = true
		p.log().Info("container recreated for image change", "name", res.Name, "old", state.Image, "new", res.Container.Image)

	case state.Running:
		handle.ID = state.ID
		handle.Reused = true
		p.log().Info("container already running", "name", res.Name)

	case !state.Managed:
		// Stopped but not ours: start in place, never recreate.
		if err := p.containers.Start(ctx, res.Name); err != nil {
			return handle, err
		}
		handle.ID = state.ID
		handle.Restarted = true
		handle.External = true
		p.log().Info("started externally owned container in place", "name", res.Name)

	case state.Image != res.Container.Image:
		if err := p.containers.Remove(ctx, res.Name); err != nil {
			return handle, err
		}
		id, err := p.containers.Create(ctx, *res.Container)
		if err != nil {
			return handle, err
		}
		handle.ID = id
		handle.Recreated = true
		p.log().Info("stale container recreated", "name", res.Name)

	default:
		if err := p.containers.Start(ctx, res.Name); err != nil {
			return handle, err
		}
		handle.ID = state.ID
		handle.Restarted = true
		p.log().Info("container restarted in place", "name", res.Name)
	}

	return handle, nil
}

func (p *Provisioner) ensureVolume(ctx context.Context, res Resource) (Handle, error) {
	if p.volumes == nil {
		return Handle{}, fmt.Errorf("no volume backend configured for %q", res.Name)
	}

	handle := Handle{Name: res.Name, Kind: KindVolume, ID: res.Name, External: res.External}

	state, err := p.volumes.InspectVolume(ctx, res.Name)
	if err != nil {
		return handle, err
	}
	if state.Exists {
		handle.Reused = true
		if !state.Managed {
			handle.External = true
		}
		p.log().Info("volume already exists", "name", res.Name)
		return handle, nil
	}

	if err := p.volumes.CreateVolume(ctx, res.Name, map[string]string{dockerrt.ProjectLabel: p.project}); err != nil {
		return handle, err
	}
	p.log().Info("volume created", "name", res.Name)
	return handle, nil
}

func (p *Provisioner) ensureCluster(ctx context.Context, res Resource) (Handle, error) {
	if p.clusters == nil {
		return Handle{}, fmt.Errorf("no cluster backend configured for %q", res.Name)
	}

	handle := Handle{Name: res.Name, Kind: KindCluster, ID: res.Name, External: res.External}

	existing, err := p.clusters.Clusters(ctx)
	if err != nil {
		return handle, err
	}
	for _, name := range existing {
		if name == res.Name {
			handle.Reused = true
			p.log().Info("cluster already exists", "name", res.Name)
			return handle, nil
		}
	}

	if err := p.clusters.CreateCluster(ctx, res.Name); err != nil {
		return handle, err
	}
	p.log().Info("cluster created", "name", res.Name)
	return handle, nil
}

func (p *Provisioner) ensureNamespace(ctx context.Context, res Resource) (Handle, error) {
	if p.namespaces == nil {
		return Handle{}, fmt.Errorf("no namespace backend configured for %q", res.Name)
	}

	handle := Handle{Name: res.Name, Kind: KindNamespace, ID: res.Name, External: res.External}

	reused, err := p.namespaces.EnsureNamespace(ctx, res.Name, p.project)
	if err != nil {
		return handle, err
	}
	handle.Reused = reused
	if reused {
		p.log().Info("namespace already exists", "name", res.Name)
	} else {
		p.log().Info("namespace created", "name", res.Name)
	}
	return handle, nil
}

func (p *Provisioner) nameLock(name string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[name] = lock
	}
	return lock
}

func (p *Provisioner) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}
