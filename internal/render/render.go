// Package render turns service specs into deployable manifests. Rendering is
// pure: the same input always yields the same bytes, so re-runs are diffable
// and applies stay idempotent. Validation happens before any emission; a
// malformed spec never produces a manifest.
package render

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/ragstack-dev/ragctl/internal/config"
)

// Input is the renderer's complete view of the world. It is assembled by the
// deployment plan; the renderer itself reads no files and no environment.
type Input struct {
	// Project is the project name, used for labels and the compose project.
	Project string
	// Namespace is the target namespace for cluster manifests.
	Namespace string
	// Services lists the units to render, in apply order.
	Services []config.ServiceSpec
}

// Manifest is one named rendered document.
type Manifest struct {
	// Name identifies the document (e.g. "lightrag-deployment").
	Name string
	// Data is the YAML payload.
	Data []byte
}

// ValidationError names the exact field that failed validation so the
// operator can fix the input without reading a stack trace.
type ValidationError struct {
	// Service is the offending service name; empty for input-level problems.
	Service string
	// Field is the offending field.
	Field string
	// Reason describes what is wrong with the value.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid service %q: %s: %s", e.Service, e.Field, e.Reason)
}

func validate(in Input) error {
	if strings.TrimSpace(in.Project) == "" {
		return &ValidationError{Field: "project", Reason: "must not be empty"}
	}
	seen := make(map[string]struct{}, len(in.Services))
	for _, svc := range in.Services {
		if strings.TrimSpace(svc.Name) == "" {
			return &ValidationError{Field: "name", Reason: "service name must not be empty"}
		}
		if _, dup := seen[svc.Name]; dup {
			return &ValidationError{Service: svc.Name, Field: "name", Reason: "duplicate service name"}
		}
		seen[svc.Name] = struct{}{}

		if err := validateService(svc); err != nil {
			return err
		}
	}
	return nil
}

func validateService(svc config.ServiceSpec) error {
	if strings.TrimSpace(svc.Image) == "" {
		return &ValidationError{Service: svc.Name, Field: "image", Reason: "must not be empty"}
	}

	for key := range svc.Env {
		if strings.TrimSpace(key) == "" {
			return &ValidationError{Service: svc.Name, Field: "env", Reason: "empty environment key"}
		}
		if _, both := svc.Secrets[key]; both {
			return &ValidationError{Service: svc.Name, Field: "env." + key, Reason: "declared as both plain config and secret"}
		}
	}

	for _, key := range svc.RequiredEnv {
		if strings.TrimSpace(svc.Env[key]) == "" && strings.TrimSpace(svc.Secrets[key]) == "" {
			return &ValidationError{Service: svc.Name, Field: "env." + key, Reason: "required value is empty"}
		}
	}

	for _, p := range svc.Ports {
		if p.HostPort < 1 || p.HostPort > 65535 {
			return &ValidationError{Service: svc.Name, Field: "ports", Reason: fmt.Sprintf("host port %d out of range 1..65535", p.HostPort)}
		}
		if p.ContainerPort < 1 || p.ContainerPort > 65535 {
			return &ValidationError{Service: svc.Name, Field: "ports", Reason: fmt.Sprintf("container port %d out of range 1..65535", p.ContainerPort)}
		}
	}

	for _, v := range svc.Volumes {
		if v.Name == "" && v.HostPath == "" {
			return &ValidationError{Service: svc.Name, Field: "volumes", Reason: "volume needs a name or a host path"}
		}
		if v.MountPath == "" {
			return &ValidationError{Service: svc.Name, Field: "volumes", Reason: "mount path must not be empty"}
		}
	}

	if err := validateQuantities(svc.Name, "cpu", svc.Resources.CPURequest, svc.Resources.CPULimit); err != nil {
		return err
	}
	return validateQuantities(svc.Name, "memory", svc.Resources.MemoryRequest, svc.Resources.MemoryLimit)
}

func validateQuantities(service, kind, request, limit string) error {
	if request == "" && limit == "" {
		return nil
	}
	var req, lim resource.Quantity
	var err error
	if request != "" {
		req, err = resource.ParseQuantity(request)
		if err != nil {
			return &ValidationError{Service: service, Field: "resources." + kind + "Request", Reason: err.Error()}
		}
	}
	if limit != "" {
		lim, err = resource.ParseQuantity(limit)
		if err != nil {
			return &ValidationError{Service: service, Field: "resources." + kind + "Limit", Reason: err.Error()}
		}
	}
	if request != "" && limit != "" && req.Cmp(lim) > 0 {
		return &ValidationError{
			Service: service,
			Field:   "resources." + kind + "Request",
			Reason:  fmt.Sprintf("request %s exceeds limit %s", request, limit),
		}
	}
	return nil
}

// sortedKeys returns map keys in stable order so output never depends on map
// iteration.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
