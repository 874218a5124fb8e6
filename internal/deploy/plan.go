package deploy

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ragstack-dev/ragctl/internal/config"
	"github.com/ragstack-dev/ragctl/internal/dockerrt"
	"github.com/ragstack-dev/ragctl/internal/preflight"
	"github.com/ragstack-dev/ragctl/internal/provision"
	"github.com/ragstack-dev/ragctl/internal/render"
)

// ProbeKind selects how a readiness target is checked.
type ProbeKind string

const (
	// ProbeHTTP polls an HTTP endpoint for a 2xx response.
	ProbeHTTP ProbeKind = "http"
	// ProbeTCP polls for a successful TCP connect.
	ProbeTCP ProbeKind = "tcp"
	// ProbeDeployment polls a Deployment for full availability.
	ProbeDeployment ProbeKind = "deployment"
)

// ProbeTarget is a declarative readiness target. The sequencer binds it to a
// concrete check function at deploy time.
type ProbeTarget struct {
	// Name identifies the dependency in logs and errors.
	Name string
	// Kind selects the check implementation.
	Kind ProbeKind
	// URL is the endpoint for HTTP probes.
	URL string
	// Addr is the host:port for TCP probes.
	Addr string
	// Deployment is the Deployment name for cluster probes.
	Deployment string
}

// ModelPull describes the embedding model pulled into the model server once
// its API answers.
type ModelPull struct {
	// Container is the model-server container name.
	Container string
	// Model is the model reference to pull.
	Model string
	// AfterProbe names the probe that gates the pull.
	AfterProbe string
}

// Plan is the fully resolved picture of one deployment: which capabilities to
// check, which resources to ensure, what to render, and what to wait for.
// Building it performs all file I/O up front; executing it does not read the
// stack file or the environment again.
type Plan struct {
	// Target is the deployment target.
	Target config.Target
	// Project is the project name used in resource names and labels.
	Project string
	// Namespace is the Kubernetes namespace for cluster targets.
	Namespace string
	// Requirements lists the capabilities preflight must verify.
	Requirements preflight.Requirements
	// Infra lists resources ensured before rendering, in order.
	Infra []provision.Resource
	// Apps lists container resources ensured after rendering (local target).
	Apps []provision.Resource
	// Render is the renderer input.
	Render render.Input
	// Probes lists readiness targets, in wait order.
	Probes []ProbeTarget
	// ProbeDefaults carries the configured probe timing.
	ProbeDefaults config.ProbeDefaults
	// ModelPull is set when ragctl manages the model server.
	ModelPull *ModelPull
	// Kubeconfig and KubeContext select the cluster connection.
	Kubeconfig  string
	KubeContext string
}

// Build assembles the plan for one target. gpuAvailable reflects the
// preflight GPU check; when false the model server runs in CPU mode rather
// than failing the deployment.
func Build(stack *config.Stack, settings config.Settings, target config.Target, gpuAvailable bool) (*Plan, error) {
	plan := &Plan{
		Target:        target,
		Project:       stack.Project,
		Namespace:     stack.Namespace,
		ProbeDefaults: stack.Probes,
	}

	dbName := stack.Project + "-postgres"
	modelName := stack.Project + "-ollama"
	appName := stack.Project + "-lightrag"
	externalModel := stack.ModelServer.External || settings.OllamaHost != ""

	database, err := databaseSpec(dbName, stack, settings, target)
	if err != nil {
		return nil, err
	}
	modelServer := modelServerSpec(modelName, stack, gpuAvailable)
	app := appSpec(appName, dbName, stack, settings, target)

	switch target {
	case config.TargetLocal:
		plan.Infra = []provision.Resource{
			{Name: stack.Database.Volume, Kind: provision.KindVolume},
			{Name: stack.App.Volume, Kind: provision.KindVolume},
		}
		if settings.OllamaHost == "" {
			plan.Infra = append(plan.Infra,
				provision.Resource{Name: stack.ModelServer.Volume, Kind: provision.KindVolume, External: stack.ModelServer.External})
		}
		plan.Infra = append(plan.Infra, containerResource(database, stack.Project, false))
		if settings.OllamaHost == "" {
			plan.Infra = append(plan.Infra, containerResource(modelServer, stack.Project, stack.ModelServer.External))
		}
		plan.Apps = []provision.Resource{containerResource(app, stack.Project, false)}
		plan.Render = render.Input{Project: stack.Project, Services: []config.ServiceSpec{database, modelServer, app}}
		plan.Probes = []ProbeTarget{
			{Name: dbName, Kind: ProbeTCP, Addr: hostAddr(stack.Database.Port)},
			{Name: modelName, Kind: ProbeHTTP, URL: modelServerURL(stack, settings) + "/api/version"},
			{Name: appName, Kind: ProbeHTTP, URL: fmt.Sprintf("http://localhost:%d/health", stack.App.Port)},
		}
		plan.Requirements = preflight.Requirements{
			Binaries:   []string{"docker"},
			Daemon:     true,
			Credential: credentialCheck(settings),
			GPU:        !externalModel,
		}

	case config.TargetKind:
		plan.Infra = []provision.Resource{
			{Name: stack.Kind.Cluster, Kind: provision.KindCluster},
			{Name: stack.Namespace, Kind: provision.KindNamespace},
		}
		if settings.OllamaHost == "" {
			plan.Infra = append(plan.Infra,
				provision.Resource{Name: stack.ModelServer.Volume, Kind: provision.KindVolume, External: stack.ModelServer.External},
				containerResource(modelServer, stack.Project, stack.ModelServer.External))
		}
		plan.Render = render.Input{Project: stack.Project, Namespace: stack.Namespace, Services: []config.ServiceSpec{database, app}}
		plan.Probes = clusterProbes(dbName, modelName, appName, stack, settings)
		plan.Requirements = preflight.Requirements{
			Binaries:   []string{"docker", "kind", "kubectl"},
			Daemon:     true,
			Credential: credentialCheck(settings),
			GPU:        !externalModel,
		}
		plan.Kubeconfig = stack.Kind.Kubeconfig
		plan.KubeContext = "kind-" + stack.Kind.Cluster

	case config.TargetExisting:
		plan.Infra = []provision.Resource{
			{Name: stack.Namespace, Kind: provision.KindNamespace},
		}
		if settings.OllamaHost == "" {
			// The model server is always operator-adjacent on this target:
			// reuse a local container when present, never delete it.
			plan.Infra = append(plan.Infra,
				provision.Resource{Name: stack.ModelServer.Volume, Kind: provision.KindVolume, External: true},
				containerResource(modelServer, stack.Project, true))
		}
		plan.Render = render.Input{Project: stack.Project, Namespace: stack.Namespace, Services: []config.ServiceSpec{database, app}}
		plan.Probes = clusterProbes(dbName, modelName, appName, stack, settings)
		req := preflight.Requirements{
			Binaries:   []string{"kubectl"},
			Credential: credentialCheck(settings),
		}
		if settings.OllamaHost == "" {
			req.Binaries = append([]string{"docker"}, req.Binaries...)
			req.Daemon = true
			req.GPU = true
		}
		plan.Requirements = req
		plan.Kubeconfig = stack.Existing.Kubeconfig
		plan.KubeContext = stack.Existing.Context

	default:
		return nil, fmt.Errorf("unknown deployment target %q", target)
	}

	if !externalModel {
		plan.ModelPull = &ModelPull{
			Container:  modelName,
			Model:      stack.ModelServer.Model,
			AfterProbe: modelName,
		}
	}

	return plan, nil
}

func databaseSpec(name string, stack *config.Stack, settings config.Settings, target config.Target) (config.ServiceSpec, error) {
	spec := config.ServiceSpec{
		Name:  name,
		Image: stack.Database.Image,
		Env: map[string]string{
			"POSTGRES_USER": settings.PostgresUser,
			"POSTGRES_DB":   settings.PostgresDatabase,
		},
		Secrets: map[string]string{
			"POSTGRES_PASSWORD": settings.PostgresPassword,
		},
		RequiredEnv: []string{"POSTGRES_PASSWORD"},
		Ports:       []config.PortMapping{{HostPort: stack.Database.Port, ContainerPort: 5432}},
		Volumes: []config.VolumeMount{{
			Name:      stack.Database.Volume,
			MountPath: "/var/lib/postgresql/data",
			Size:      stack.Database.VolumeSize,
		}},
	}
	if target != config.TargetLocal {
		spec.Resources = config.ResourceRequirements{
			CPURequest:    "500m",
			MemoryRequest: "512Mi",
			MemoryLimit:   "2Gi",
		}
	}
	if stack.Database.InitSQL != "" {
		content, err := os.ReadFile(stack.Database.InitSQL)
		if err != nil {
			return spec, fmt.Errorf("read init SQL %q: %w", stack.Database.InitSQL, err)
		}
		spec.Files = []config.FileMount{{
			Name:      "init-sql",
			MountPath: "/docker-entrypoint-initdb.d/00-init.sql",
			Content:   string(content),
		}}
	}
	return spec, nil
}

func modelServerSpec(name string, stack *config.Stack, gpuAvailable bool) config.ServiceSpec {
	return config.ServiceSpec{
		Name:  name,
		Image: stack.ModelServer.Image,
		Ports: []config.PortMapping{{HostPort: stack.ModelServer.Port, ContainerPort: 11434}},
		Volumes: []config.VolumeMount{{
			Name:      stack.ModelServer.Volume,
			MountPath: "/root/.ollama",
		}},
		Probe: &config.HTTPProbeSpec{Path: "/api/version", Port: 11434},
		GPU:   gpuAvailable,
	}
}

func appSpec(name, dbName string, stack *config.Stack, settings config.Settings, target config.Target) config.ServiceSpec {
	dbHost := dbName
	dbPort := 5432
	if target == config.TargetLocal {
		dbHost = settings.DockerHostGateway
		dbPort = stack.Database.Port
	}

	return config.ServiceSpec{
		Name:  name,
		Image: stack.App.Image,
		Env: map[string]string{
			"LLM_BINDING":                 "openai",
			"LLM_MODEL":                   settings.DeepSeekModel,
			"LLM_BINDING_HOST":            settings.DeepSeekBaseURL,
			"EMBEDDING_BINDING":           "ollama",
			"EMBEDDING_MODEL":             stack.ModelServer.Model,
			"EMBEDDING_BINDING_HOST":      embeddingHost(stack, settings),
			"POSTGRES_HOST":               dbHost,
			"POSTGRES_PORT":               strconv.Itoa(dbPort),
			"POSTGRES_USER":               settings.PostgresUser,
			"POSTGRES_DATABASE":           settings.PostgresDatabase,
			"LIGHTRAG_KV_STORAGE":         "PGKVStorage",
			"LIGHTRAG_VECTOR_STORAGE":     "PGVectorStorage",
			"LIGHTRAG_GRAPH_STORAGE":      "PGGraphStorage",
			"LIGHTRAG_DOC_STATUS_STORAGE": "PGDocStatusStorage",
		},
		Secrets: map[string]string{
			"LLM_BINDING_API_KEY": settings.DeepSeekAPIKey,
			"POSTGRES_PASSWORD":   settings.PostgresPassword,
		},
		RequiredEnv: []string{"LLM_BINDING_API_KEY", "POSTGRES_PASSWORD"},
		Ports:       []config.PortMapping{{HostPort: stack.App.Port, ContainerPort: 9621}},
		Volumes: []config.VolumeMount{{
			Name:      stack.App.Volume,
			MountPath: "/app/data/rag_storage",
			Size:      stack.App.VolumeSize,
		}},
		Probe:    &config.HTTPProbeSpec{Path: "/health", Port: 9621},
		Replicas: stack.App.Replicas,
	}
}

// modelServerURL is the model-server base URL as seen from the host.
func modelServerURL(stack *config.Stack, settings config.Settings) string {
	if settings.OllamaHost != "" {
		return settings.OllamaHost
	}
	return fmt.Sprintf("http://localhost:%d", stack.ModelServer.Port)
}

// embeddingHost is the model-server base URL as seen from the app container.
// The model server always runs host-side, so containers and pods alike reach
// it through the host gateway.
func embeddingHost(stack *config.Stack, settings config.Settings) string {
	if settings.OllamaHost != "" {
		return settings.OllamaHost
	}
	return fmt.Sprintf("http://%s:%d", settings.DockerHostGateway, stack.ModelServer.Port)
}

func clusterProbes(dbName, modelName, appName string, stack *config.Stack, settings config.Settings) []ProbeTarget {
	return []ProbeTarget{
		{Name: dbName, Kind: ProbeDeployment, Deployment: dbName},
		{Name: modelName, Kind: ProbeHTTP, URL: modelServerURL(stack, settings) + "/api/version"},
		{Name: appName, Kind: ProbeDeployment, Deployment: appName},
	}
}

func credentialCheck(settings config.Settings) *preflight.CredentialCheck {
	return &preflight.CredentialCheck{
		BaseURL: settings.DeepSeekBaseURL,
		APIKey:  settings.DeepSeekAPIKey,
	}
}

func containerResource(spec config.ServiceSpec, project string, external bool) provision.Resource {
	return provision.Resource{
		Name: spec.Name,
		Kind: provision.KindContainer,
		Container: &dockerrt.RunSpec{
			Name:   spec.Name,
			Image:  spec.Image,
			Env:    flattenedEnv(spec),
			Ports:  spec.Ports,
			Mounts: containerMounts(spec),
			Files:  stagedFiles(spec),
			GPU:    spec.GPU,
			Labels: map[string]string{dockerrt.ProjectLabel: project},
		},
		External: external,
	}
}

// flattenedEnv merges plain and secret env for container runs. Secrets reach
// the daemon API directly instead of being written into a rendered file.
func flattenedEnv(spec config.ServiceSpec) map[string]string {
	env := make(map[string]string, len(spec.Env)+len(spec.Secrets))
	for k, v := range spec.Env {
		env[k] = v
	}
	for k, v := range spec.Secrets {
		env[k] = v
	}
	return env
}

func containerMounts(spec config.ServiceSpec) []config.VolumeMount {
	mounts := make([]config.VolumeMount, 0, len(spec.Volumes)+len(spec.Files))
	mounts = append(mounts, spec.Volumes...)
	for _, f := range spec.Files {
		mounts = append(mounts, config.VolumeMount{
			HostPath:  renderedFilePath(spec.Name, f),
			MountPath: f.MountPath,
			ReadOnly:  true,
		})
	}
	return mounts
}

// renderedFilePath is where file mounts are staged on the host before a local
// container run. The sequencer writes the contents there during provisioning.
func renderedFilePath(service string, f config.FileMount) string {
	return fmt.Sprintf("%s/ragctl-%s-%s", os.TempDir(), service, f.Name)
}

func stagedFiles(spec config.ServiceSpec) map[string]string {
	if len(spec.Files) == 0 {
		return nil
	}
	files := make(map[string]string, len(spec.Files))
	for _, f := range spec.Files {
		files[renderedFilePath(spec.Name, f)] = f.Content
	}
	return files
}

func hostAddr(port int) string {
	return fmt.Sprintf("localhost:%d", port)
}
