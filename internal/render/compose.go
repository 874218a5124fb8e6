package render

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ragstack-dev/ragctl/internal/config"
)

// Compose renders the input as a single compose document. Secrets are emitted
// under a dedicated environment block per service so a later secret-store
// integration only has to replace mergeSecretEnv.
func Compose(in Input) ([]byte, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	services := make(map[string]any, len(in.Services))
	namedVolumes := make(map[string]any)

	for _, svc := range in.Services {
		doc := map[string]any{
			"image":          svc.Image,
			"container_name": svc.Name,
			"restart":        "unless-stopped",
			"labels": map[string]any{
				"dev.ragstack.managed": "true",
				"dev.ragstack.project": in.Project,
			},
		}

		env := composeEnvironment(svc)
		if len(env) > 0 {
			doc["environment"] = env
		}

		if len(svc.Ports) > 0 {
			ports := make([]string, 0, len(svc.Ports))
			for _, p := range svc.Ports {
				ports = append(ports, fmt.Sprintf("%d:%d", p.HostPort, p.ContainerPort))
			}
			doc["ports"] = ports
		}

		if len(svc.Volumes) > 0 {
			volumes := make([]string, 0, len(svc.Volumes))
			for _, v := range svc.Volumes {
				source := v.Name
				if v.HostPath != "" {
					source = v.HostPath
				} else {
					namedVolumes[v.Name] = map[string]any{}
				}
				entry := source + ":" + v.MountPath
				if v.ReadOnly {
					entry += ":ro"
				}
				volumes = append(volumes, entry)
			}
			doc["volumes"] = volumes
		}

		if svc.GPU {
			doc["deploy"] = map[string]any{
				"resources": map[string]any{
					"reservations": map[string]any{
						"devices": []any{
							map[string]any{
								"driver":       "nvidia",
								"count":        "all",
								"capabilities": []string{"gpu"},
							},
						},
					},
				},
			}
		}

		if svc.Probe != nil {
			doc["healthcheck"] = map[string]any{
				"test":     []string{"CMD-SHELL", fmt.Sprintf("curl -fsS http://localhost:%d%s || exit 1", svc.Probe.Port, svc.Probe.Path)},
				"interval": "5s",
				"retries":  12,
			}
		}

		services[svc.Name] = doc
	}

	root := map[string]any{
		"name":     in.Project,
		"services": services,
	}
	if len(namedVolumes) > 0 {
		root["volumes"] = namedVolumes
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("encode compose document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize compose document: %w", err)
	}
	return buf.Bytes(), nil
}

// composeEnvironment flattens plain env and secrets into sorted KEY=value
// entries. Plain keys come first, then secret-injected keys.
func composeEnvironment(svc config.ServiceSpec) []string {
	out := make([]string, 0, len(svc.Env)+len(svc.Secrets))
	for _, key := range sortedKeys(svc.Env) {
		out = append(out, key+"="+svc.Env[key])
	}
	out = append(out, mergeSecretEnv(svc)...)
	return out
}

// mergeSecretEnv is the secret injection seam for the compose path.
func mergeSecretEnv(svc config.ServiceSpec) []string {
	out := make([]string, 0, len(svc.Secrets))
	for _, key := range sortedKeys(svc.Secrets) {
		out = append(out, key+"="+svc.Secrets[key])
	}
	return out
}
