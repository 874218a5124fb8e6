package config

// ServiceSpec is the declarative description of one deployable unit. It is
// produced when the deployment plan is built and consumed by the renderer;
// the renderer never reads stack.yaml or the environment directly.
type ServiceSpec struct {
	// Name is the unique service name, used as the idempotency key.
	Name string
	// Image is the container image reference.
	Image string
	// Env maps plain (non-secret) environment variable names to values.
	Env map[string]string
	// Secrets maps secret environment variable names to values. Secrets are
	// rendered through a separate injection point from plain config.
	Secrets map[string]string
	// RequiredEnv names keys (from Env or Secrets) that must be non-empty
	// before the service may be rendered.
	RequiredEnv []string
	// Ports lists published ports.
	Ports []PortMapping
	// Volumes lists volumes mounted into the container.
	Volumes []VolumeMount
	// Files lists small configuration files projected into the container
	// (bind-mounted locally, ConfigMap-backed on clusters). Contents are
	// loaded when the plan is built so rendering stays free of I/O.
	Files []FileMount
	// Resources sets compute requests and limits.
	Resources ResourceRequirements
	// Probe describes the HTTP readiness probe, if the service has one.
	Probe *HTTPProbeSpec
	// GPU requests GPU access for the container when true.
	GPU bool
	// Replicas is the replica count on cluster targets; 0 means 1.
	Replicas int
}

// PortMapping publishes a container port on the host or service.
type PortMapping struct {
	// HostPort is the host (or Service) port.
	HostPort int
	// ContainerPort is the port inside the container.
	ContainerPort int
}

// VolumeMount attaches either a named volume or a host path to a container.
type VolumeMount struct {
	// Name is the named volume; empty when HostPath is set.
	Name string
	// HostPath is a bind-mount source on the host; empty when Name is set.
	HostPath string
	// MountPath is the mount destination inside the container.
	MountPath string
	// ReadOnly mounts the volume read-only.
	ReadOnly bool
	// Size is the requested PVC size for cluster targets (e.g. "10Gi").
	Size string
}

// FileMount projects one file into a container.
type FileMount struct {
	// Name is a short identifier used for the backing ConfigMap or temp file.
	Name string
	// MountPath is the file's destination inside the container.
	MountPath string
	// Content is the file payload.
	Content string
}

// ResourceRequirements holds compute requests and limits as quantity strings.
type ResourceRequirements struct {
	// CPURequest is the requested CPU (e.g. "500m").
	CPURequest string
	// CPULimit is the CPU limit.
	CPULimit string
	// MemoryRequest is the requested memory (e.g. "512Mi").
	MemoryRequest string
	// MemoryLimit is the memory limit.
	MemoryLimit string
}

// HTTPProbeSpec describes an HTTP readiness endpoint on a service.
type HTTPProbeSpec struct {
	// Path is the probe URL path (e.g. "/health").
	Path string
	// Port is the container port the probe targets.
	Port int
}
