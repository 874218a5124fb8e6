package render

import (
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	sigsyaml "sigs.k8s.io/yaml"

	"github.com/ragstack-dev/ragctl/internal/config"
)

// Kubernetes renders the input as typed cluster manifests: one Secret,
// ConfigMap, PersistentVolumeClaim set, Deployment and Service per unit as
// needed. Objects are emitted in dependency order so a single apply succeeds.
func Kubernetes(in Input) ([]Manifest, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	var manifests []Manifest
	emit := func(name string, obj any) error {
		data, err := sigsyaml.Marshal(obj)
		if err != nil {
			return fmt.Errorf("marshal manifest %q: %w", name, err)
		}
		manifests = append(manifests, Manifest{Name: name, Data: data})
		return nil
	}

	for _, svc := range in.Services {
		labels := map[string]string{
			"app":                  svc.Name,
			"dev.ragstack.managed": "true",
			"dev.ragstack.project": in.Project,
		}
		meta := func(name string) metav1.ObjectMeta {
			return metav1.ObjectMeta{Name: name, Namespace: in.Namespace, Labels: labels}
		}

		if len(svc.Secrets) > 0 {
			if err := emit(svc.Name+"-secret", buildSecret(svc, meta(svc.Name+"-secrets"))); err != nil {
				return nil, err
			}
		}
		if len(svc.Files) > 0 {
			if err := emit(svc.Name+"-files", buildConfigMap(svc, meta(svc.Name+"-files"))); err != nil {
				return nil, err
			}
		}
		for _, vol := range svc.Volumes {
			if vol.Name == "" {
				continue
			}
			if err := emit(vol.Name+"-pvc", buildPVC(vol, meta(vol.Name))); err != nil {
				return nil, err
			}
		}
		if err := emit(svc.Name+"-deployment", buildDeployment(svc, meta(svc.Name), labels)); err != nil {
			return nil, err
		}
		if len(svc.Ports) > 0 {
			if err := emit(svc.Name+"-service", buildService(svc, meta(svc.Name), labels)); err != nil {
				return nil, err
			}
		}
	}
	return manifests, nil
}

func buildSecret(svc config.ServiceSpec, meta metav1.ObjectMeta) *corev1.Secret {
	data := make(map[string]string, len(svc.Secrets))
	for _, key := range sortedKeys(svc.Secrets) {
		data[key] = svc.Secrets[key]
	}
	return &corev1.Secret{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Secret"},
		ObjectMeta: meta,
		Type:       corev1.SecretTypeOpaque,
		StringData: data,
	}
}

func buildConfigMap(svc config.ServiceSpec, meta metav1.ObjectMeta) *corev1.ConfigMap {
	data := make(map[string]string, len(svc.Files))
	for _, f := range svc.Files {
		data[f.Name] = f.Content
	}
	return &corev1.ConfigMap{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "ConfigMap"},
		ObjectMeta: meta,
		Data:       data,
	}
}

func buildPVC(vol config.VolumeMount, meta metav1.ObjectMeta) *corev1.PersistentVolumeClaim {
	size := vol.Size
	if size == "" {
		size = "1Gi"
	}
	return &corev1.PersistentVolumeClaim{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "PersistentVolumeClaim"},
		ObjectMeta: meta,
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: resource.MustParse(size),
				},
			},
		},
	}
}

func buildDeployment(svc config.ServiceSpec, meta metav1.ObjectMeta, labels map[string]string) *appsv1.Deployment {
	replicas := int32(1)
	if svc.Replicas > 0 {
		replicas = int32(svc.Replicas)
	}

	container := corev1.Container{
		Name:      svc.Name,
		Image:     svc.Image,
		Env:       buildEnv(svc),
		Resources: buildResources(svc.Resources),
	}
	if len(svc.Secrets) > 0 {
		container.EnvFrom = []corev1.EnvFromSource{{
			SecretRef: &corev1.SecretEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: svc.Name + "-secrets"},
			},
		}}
	}
	for _, p := range svc.Ports {
		container.Ports = append(container.Ports, corev1.ContainerPort{ContainerPort: int32(p.ContainerPort)})
	}
	if svc.Probe != nil {
		container.ReadinessProbe = &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: svc.Probe.Path,
					Port: intstr.FromInt32(int32(svc.Probe.Port)),
				},
			},
			PeriodSeconds:    5,
			FailureThreshold: 12,
		}
	}

	var volumes []corev1.Volume
	for _, vol := range svc.Volumes {
		if vol.Name == "" {
			continue
		}
		container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
			Name:      vol.Name,
			MountPath: vol.MountPath,
			ReadOnly:  vol.ReadOnly,
		})
		volumes = append(volumes, corev1.Volume{
			Name: vol.Name,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: vol.Name},
			},
		})
	}
	if len(svc.Files) > 0 {
		for _, f := range svc.Files {
			container.VolumeMounts = append(container.VolumeMounts, corev1.VolumeMount{
				Name:      svc.Name + "-files",
				MountPath: f.MountPath,
				SubPath:   f.Name,
				ReadOnly:  true,
			})
		}
		volumes = append(volumes, corev1.Volume{
			Name: svc.Name + "-files",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: svc.Name + "-files"},
				},
			},
		})
	}

	return &appsv1.Deployment{
		TypeMeta:   metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: meta,
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": svc.Name}},
			// Single-node volumes cannot be shared across old and new pods.
			Strategy: appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
					Volumes:    volumes,
				},
			},
		},
	}
}

// buildResources maps quantity strings onto typed requirements. Values were
// already validated with resource.ParseQuantity, so MustParse cannot panic.
func buildResources(r config.ResourceRequirements) corev1.ResourceRequirements {
	out := corev1.ResourceRequirements{}
	set := func(list *corev1.ResourceList, name corev1.ResourceName, value string) {
		if value == "" {
			return
		}
		if *list == nil {
			*list = corev1.ResourceList{}
		}
		(*list)[name] = resource.MustParse(value)
	}
	set(&out.Requests, corev1.ResourceCPU, r.CPURequest)
	set(&out.Requests, corev1.ResourceMemory, r.MemoryRequest)
	set(&out.Limits, corev1.ResourceCPU, r.CPULimit)
	set(&out.Limits, corev1.ResourceMemory, r.MemoryLimit)
	return out
}

func buildService(svc config.ServiceSpec, meta metav1.ObjectMeta, labels map[string]string) *corev1.Service {
	ports := make([]corev1.ServicePort, 0, len(svc.Ports))
	for _, p := range svc.Ports {
		ports = append(ports, corev1.ServicePort{
			Name:       fmt.Sprintf("port-%d", p.ContainerPort),
			Port:       int32(p.HostPort),
			TargetPort: intstr.FromInt32(int32(p.ContainerPort)),
		})
	}
	return &corev1.Service{
		TypeMeta:   metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: meta,
		Spec: corev1.ServiceSpec{
			Selector: map[string]string{"app": svc.Name},
			Ports:    ports,
		},
	}
}

func buildEnv(svc config.ServiceSpec) []corev1.EnvVar {
	env := make([]corev1.EnvVar, 0, len(svc.Env))
	for _, key := range sortedKeys(svc.Env) {
		env = append(env, corev1.EnvVar{Name: key, Value: svc.Env[key]})
	}
	return env
}

// MultiDocument joins rendered manifests into one apply-able YAML stream.
func MultiDocument(manifests []Manifest) []byte {
	var out []byte
	for i, m := range manifests {
		if i > 0 {
			out = append(out, []byte("---\n")...)
		}
		out = append(out, m.Data...)
	}
	return out
}
