package kube

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"
)

// ManagedLabel marks namespaces created by ragctl; only labeled namespaces
// may be deleted during teardown.
const ManagedLabel = "dev.ragstack.managed"

// ProjectLabel records which project a managed resource belongs to.
const ProjectLabel = "dev.ragstack.project"

// clientset returns the client-go clientset, building it on first use.
func (c *Client) clientset() (kubernetes.Interface, error) {
	if c.cs != nil {
		return c.cs, nil
	}

	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	if c.Kubeconfig != "" {
		rules.ExplicitPath = c.Kubeconfig
	}
	overrides := &clientcmd.ConfigOverrides{}
	if c.Context != "" {
		overrides.CurrentContext = c.Context
	}

	restCfg, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load kubeconfig: %w", err)
	}
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("build kubernetes client: %w", err)
	}
	c.cs = cs
	return cs, nil
}

// SetClientset overrides the client-go clientset, used by tests.
func (c *Client) SetClientset(cs kubernetes.Interface) { c.cs = cs }

// EnsureNamespace creates the namespace if absent and returns whether an
// existing one was reused. The namespace name is the idempotency key; a
// pre-existing namespace is never mutated.
func (c *Client) EnsureNamespace(ctx context.Context, name, project string) (reused bool, err error) {
	cs, err := c.clientset()
	if err != nil {
		return false, err
	}

	_, err = cs.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err == nil {
		return true, nil
	}
	if !apierrors.IsNotFound(err) {
		return false, fmt.Errorf("query namespace %q: %w", name, err)
	}

	ns := &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				ManagedLabel: "true",
				ProjectLabel: project,
			},
		},
	}
	if _, err := cs.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{}); err != nil {
		// A concurrent creator winning the race is a reuse, not a failure.
		if apierrors.IsAlreadyExists(err) {
			return true, nil
		}
		return false, fmt.Errorf("create namespace %q: %w", name, err)
	}
	return false, nil
}

// DeleteManagedNamespace deletes the namespace only when it carries the
// managed label. Unlabeled namespaces are operator-owned and left alone.
func (c *Client) DeleteManagedNamespace(ctx context.Context, name string) error {
	cs, err := c.clientset()
	if err != nil {
		return err
	}

	ns, err := cs.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("query namespace %q: %w", name, err)
	}
	if ns.Labels[ManagedLabel] != "true" {
		return fmt.Errorf("namespace %q is not managed by ragctl; refusing to delete", name)
	}

	if err := cs.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete namespace %q: %w", name, err)
	}
	return nil
}

// DeploymentAvailable reports nil once the named deployment has all desired
// replicas available. It is shaped to serve as a readiness probe check.
func (c *Client) DeploymentAvailable(ctx context.Context, namespace, name string) error {
	cs, err := c.clientset()
	if err != nil {
		return err
	}

	dep, err := cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return fmt.Errorf("query deployment %s/%s: %w", namespace, name, err)
	}

	desired := int32(1)
	if dep.Spec.Replicas != nil {
		desired = *dep.Spec.Replicas
	}
	if dep.Status.AvailableReplicas < desired {
		return fmt.Errorf("deployment %s/%s: %d/%d replicas available", namespace, name, dep.Status.AvailableReplicas, desired)
	}
	return nil
}

// WorkloadStatus summarizes one deployment for status output.
type WorkloadStatus struct {
	// Name is the deployment name.
	Name string
	// Ready is the "available/desired" replica summary.
	Ready string
	// Available reports whether the deployment is fully available.
	Available bool
}

// DeploymentStatuses lists deployment availability in a namespace.
func (c *Client) DeploymentStatuses(ctx context.Context, namespace string) ([]WorkloadStatus, error) {
	cs, err := c.clientset()
	if err != nil {
		return nil, err
	}

	list, err := cs.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list deployments in %q: %w", namespace, err)
	}

	out := make([]WorkloadStatus, 0, len(list.Items))
	for _, dep := range list.Items {
		desired := int32(1)
		if dep.Spec.Replicas != nil {
			desired = *dep.Spec.Replicas
		}
		out = append(out, WorkloadStatus{
			Name:      dep.Name,
			Ready:     fmt.Sprintf("%d/%d", dep.Status.AvailableReplicas, desired),
			Available: dep.Status.AvailableReplicas >= desired,
		})
	}
	return out, nil
}
