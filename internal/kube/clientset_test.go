package kube

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func int32Ptr(v int32) *int32 { return &v }

func TestEnsureNamespaceCreatesWhenAbsent(t *testing.T) {
	ctx := context.Background()
	c := NewClient("", "", nil)
	cs := fake.NewSimpleClientset()
	c.SetClientset(cs)

	reused, err := c.EnsureNamespace(ctx, "ragstack", "ragstack")
	require.NoError(t, err)
	assert.False(t, reused)

	ns, err := cs.CoreV1().Namespaces().Get(ctx, "ragstack", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "true", ns.Labels[ManagedLabel])
	assert.Equal(t, "ragstack", ns.Labels[ProjectLabel])
}

func TestEnsureNamespaceReusesExisting(t *testing.T) {
	ctx := context.Background()
	existing := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "ragstack"}}
	c := NewClient("", "", nil)
	cs := fake.NewSimpleClientset(existing)
	c.SetClientset(cs)

	reused, err := c.EnsureNamespace(ctx, "ragstack", "ragstack")
	require.NoError(t, err)
	assert.True(t, reused)

	// The existing namespace must not be mutated.
	ns, err := cs.CoreV1().Namespaces().Get(ctx, "ragstack", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Empty(t, ns.Labels[ManagedLabel])
}

func TestDeleteManagedNamespaceRefusesUnlabeled(t *testing.T) {
	ctx := context.Background()
	existing := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "operator-owned"}}
	c := NewClient("", "", nil)
	c.SetClientset(fake.NewSimpleClientset(existing))

	err := c.DeleteManagedNamespace(ctx, "operator-owned")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to delete")
}

func TestDeleteManagedNamespaceDeletesLabeled(t *testing.T) {
	ctx := context.Background()
	existing := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
		Name:   "ragstack",
		Labels: map[string]string{ManagedLabel: "true"},
	}}
	c := NewClient("", "", nil)
	cs := fake.NewSimpleClientset(existing)
	c.SetClientset(cs)

	require.NoError(t, c.DeleteManagedNamespace(ctx, "ragstack"))

	_, err := cs.CoreV1().Namespaces().Get(ctx, "ragstack", metav1.GetOptions{})
	assert.Error(t, err)
}

func TestDeleteManagedNamespaceMissingIsNoop(t *testing.T) {
	c := NewClient("", "", nil)
	c.SetClientset(fake.NewSimpleClientset())
	assert.NoError(t, c.DeleteManagedNamespace(context.Background(), "gone"))
}

func TestDeploymentAvailable(t *testing.T) {
	ctx := context.Background()
	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "lightrag", Namespace: "ragstack"},
		Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(2)},
		Status:     appsv1.DeploymentStatus{AvailableReplicas: 1},
	}
	c := NewClient("", "", nil)
	cs := fake.NewSimpleClientset(dep)
	c.SetClientset(cs)

	err := c.DeploymentAvailable(ctx, "ragstack", "lightrag")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1/2 replicas available")

	dep.Status.AvailableReplicas = 2
	_, err = cs.AppsV1().Deployments("ragstack").UpdateStatus(ctx, dep, metav1.UpdateOptions{})
	require.NoError(t, err)

	assert.NoError(t, c.DeploymentAvailable(ctx, "ragstack", "lightrag"))
}

func TestDeploymentStatuses(t *testing.T) {
	ctx := context.Background()
	ready := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "lightrag", Namespace: "ragstack"},
		Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(1)},
		Status:     appsv1.DeploymentStatus{AvailableReplicas: 1},
	}
	pending := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{Name: "postgres", Namespace: "ragstack"},
		Spec:       appsv1.DeploymentSpec{Replicas: int32Ptr(1)},
	}
	c := NewClient("", "", nil)
	c.SetClientset(fake.NewSimpleClientset(ready, pending))

	statuses, err := c.DeploymentStatuses(ctx, "ragstack")
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byName := map[string]WorkloadStatus{}
	for _, s := range statuses {
		byName[s.Name] = s
	}
	assert.True(t, byName["lightrag"].Available)
	assert.Equal(t, "1/1", byName["lightrag"].Ready)
	assert.False(t, byName["postgres"].Available)
	assert.Equal(t, "0/1", byName["postgres"].Ready)
}
