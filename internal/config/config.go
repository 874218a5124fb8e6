// Package config contains the loader and strongly typed model for stack.yaml
// and the process-environment settings that carry credentials.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Target selects the deployment target platform. Immutable once selected for a run.
type Target string

const (
	// TargetLocal deploys every service as a container on the local Docker daemon.
	TargetLocal Target = "local"
	// TargetKind creates (or reuses) a Kind cluster and deploys into it.
	TargetKind Target = "kind"
	// TargetExisting deploys into an operator-provided cluster and reuses
	// an externally owned model-server container.
	TargetExisting Target = "existing"
)

// ParseTarget converts a textual target name into a Target value.
func ParseTarget(value string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "local", "compose":
		return TargetLocal, nil
	case "kind":
		return TargetKind, nil
	case "existing", "hybrid":
		return TargetExisting, nil
	default:
		return "", fmt.Errorf("unknown target %q (expected local, kind or existing)", value)
	}
}

// Stack represents the declarative description of the RAG stack.
// It mirrors the structure of stack.yaml.
type Stack struct {
	// Project is the short project name used in resource names and labels.
	Project string `yaml:"project"`
	// Target is the default deployment target; the --target flag overrides it.
	Target string `yaml:"target,omitempty"`
	// Namespace is the Kubernetes namespace used by cluster targets.
	Namespace string `yaml:"namespace,omitempty"`
	// EnvFiles lists .env files loaded before settings are read.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Kind configures the Kind cluster target.
	Kind KindConfig `yaml:"kind,omitempty"`
	// Existing configures the existing-cluster target.
	Existing ExistingConfig `yaml:"existing,omitempty"`
	// Database configures the PostgreSQL service (AGE + pgvector image).
	Database DatabaseConfig `yaml:"database"`
	// ModelServer configures the Ollama embedding server.
	ModelServer ModelServerConfig `yaml:"modelServer"`
	// App configures the LightRAG application container.
	App AppConfig `yaml:"app"`
	// Probes sets shared readiness-probe timing defaults.
	Probes ProbeDefaults `yaml:"probes,omitempty"`
}

// KindConfig describes the Kind cluster used by the kind target.
type KindConfig struct {
	// Cluster is the Kind cluster name.
	Cluster string `yaml:"cluster,omitempty"`
	// Kubeconfig is an optional explicit kubeconfig path for the cluster.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
}

// ExistingConfig describes how to reach an operator-owned cluster.
type ExistingConfig struct {
	// Kubeconfig is the path to the kubeconfig file to use.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	// Context selects the kubeconfig context name.
	Context string `yaml:"context,omitempty"`
}

// DatabaseConfig describes the PostgreSQL service.
type DatabaseConfig struct {
	// Image is the database container image (must provide AGE and pgvector).
	Image string `yaml:"image,omitempty"`
	// Port is the host port the database is published on.
	Port int `yaml:"port,omitempty"`
	// Volume is the named volume holding the data directory.
	Volume string `yaml:"volume,omitempty"`
	// VolumeSize is the PVC size used by cluster targets (e.g. "10Gi").
	VolumeSize string `yaml:"volumeSize,omitempty"`
	// InitSQL is an optional path to an extension bootstrap SQL file
	// mounted read-only into the container's init directory.
	InitSQL string `yaml:"initSQL,omitempty"`
}

// ModelServerConfig describes the Ollama embedding server.
type ModelServerConfig struct {
	// Image is the model-server container image.
	Image string `yaml:"image,omitempty"`
	// Port is the host port the model server is published on.
	Port int `yaml:"port,omitempty"`
	// Model is the embedding model pulled after the server is up.
	Model string `yaml:"model,omitempty"`
	// Volume is the named volume caching pulled models.
	Volume string `yaml:"volume,omitempty"`
	// External marks the model server as operator-owned: the orchestrator
	// reuses it when present and never deletes it during teardown.
	External bool `yaml:"external,omitempty"`
}

// AppConfig describes the LightRAG application container.
type AppConfig struct {
	// Image is the application container image.
	Image string `yaml:"image,omitempty"`
	// Port is the host port the application is published on.
	Port int `yaml:"port,omitempty"`
	// Volume is the named volume for working-directory state.
	Volume string `yaml:"volume,omitempty"`
	// VolumeSize is the PVC size used by cluster targets.
	VolumeSize string `yaml:"volumeSize,omitempty"`
	// Replicas is the deployment replica count on cluster targets.
	Replicas int `yaml:"replicas,omitempty"`
}

// ProbeDefaults holds string-form durations for readiness probing.
// Empty values fall back to built-in defaults.
type ProbeDefaults struct {
	// Interval is the delay between probe attempts (e.g. "2s").
	Interval string `yaml:"interval,omitempty"`
	// Timeout bounds total polling wall-time per dependency (e.g. "120s").
	Timeout string `yaml:"timeout,omitempty"`
	// MaxAttempts caps the number of probe attempts per dependency.
	MaxAttempts int `yaml:"maxAttempts,omitempty"`
}

// IntervalOr returns the parsed probe interval or the given fallback.
func (p ProbeDefaults) IntervalOr(fallback time.Duration) time.Duration {
	return durationOr(p.Interval, fallback)
}

// TimeoutOr returns the parsed probe timeout or the given fallback.
func (p ProbeDefaults) TimeoutOr(fallback time.Duration) time.Duration {
	return durationOr(p.Timeout, fallback)
}

// AttemptsOr returns the configured attempt cap or the given fallback.
func (p ProbeDefaults) AttemptsOr(fallback int) int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return fallback
}

func durationOr(value string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(value)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Load reads and validates a stack.yaml file.
func Load(path string) (*Stack, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stack config %q: %w", path, err)
	}

	var stack Stack
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&stack); err != nil {
		return nil, fmt.Errorf("decode stack config %q: %w", path, err)
	}

	stack.applyDefaults()
	if err := stack.validate(); err != nil {
		return nil, fmt.Errorf("invalid stack config %q: %w", path, err)
	}
	return &stack, nil
}

func (s *Stack) applyDefaults() {
	if s.Project == "" {
		s.Project = "ragstack"
	}
	if s.Namespace == "" {
		s.Namespace = s.Project
	}
	if s.Kind.Cluster == "" {
		s.Kind.Cluster = s.Project
	}
	if s.Database.Image == "" {
		s.Database.Image = "apache/age:PG16_latest"
	}
	if s.Database.Port == 0 {
		s.Database.Port = 5432
	}
	if s.Database.Volume == "" {
		s.Database.Volume = s.Project + "-pgdata"
	}
	if s.Database.VolumeSize == "" {
		s.Database.VolumeSize = "10Gi"
	}
	if s.ModelServer.Image == "" {
		s.ModelServer.Image = "ollama/ollama:latest"
	}
	if s.ModelServer.Port == 0 {
		s.ModelServer.Port = 11434
	}
	if s.ModelServer.Model == "" {
		s.ModelServer.Model = "bge-m3:latest"
	}
	if s.ModelServer.Volume == "" {
		s.ModelServer.Volume = s.Project + "-ollama"
	}
	if s.App.Image == "" {
		s.App.Image = "ghcr.io/hkuds/lightrag:latest"
	}
	if s.App.Port == 0 {
		s.App.Port = 9621
	}
	if s.App.Volume == "" {
		s.App.Volume = s.Project + "-rag-storage"
	}
	if s.App.VolumeSize == "" {
		s.App.VolumeSize = "5Gi"
	}
	if s.App.Replicas == 0 {
		s.App.Replicas = 1
	}
}

func (s *Stack) validate() error {
	if s.Target != "" {
		if _, err := ParseTarget(s.Target); err != nil {
			return err
		}
	}
	for name, port := range map[string]int{
		"database.port":    s.Database.Port,
		"modelServer.port": s.ModelServer.Port,
		"app.port":         s.App.Port,
	} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%s: port %d out of range 1..65535", name, port)
		}
	}
	if s.Database.InitSQL != "" {
		if _, err := os.Stat(s.Database.InitSQL); err != nil {
			return fmt.Errorf("database.initSQL: %w", err)
		}
	}
	return nil
}
