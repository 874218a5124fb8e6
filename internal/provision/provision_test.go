package provision

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack-dev/ragctl/internal/dockerrt"
)

// fakeRuntime is an in-memory ContainerRuntime recording every mutation.
type fakeRuntime struct {
	mu      sync.Mutex
	states  map[string]dockerrt.State
	creates int
	starts  int
	removes int
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{states: make(map[string]dockerrt.State)}
}

func (f *fakeRuntime) Inspect(_ context.Context, name string) (dockerrt.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[name], nil
}

func (f *fakeRuntime) Create(_ context.Context, spec dockerrt.RunSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.states[spec.Name].Exists {
		return "", fmt.Errorf("container name %q already in use", spec.Name)
	}
	f.creates++
	id := fmt.Sprintf("id-%s-%d", spec.Name, f.creates)
	f.states[spec.Name] = dockerrt.State{ID: id, Exists: true, Running: true, Image: spec.Image, Managed: true}
	return id, nil
}

func (f *fakeRuntime) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.states[name]
	st.Running = true
	f.states[name] = st
	f.starts++
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.states, name)
	f.removes++
	return nil
}

func containerResource(name, image string) Resource {
	return Resource{
		Name: name,
		Kind: KindContainer,
		Container: &dockerrt.RunSpec{
			Name:  name,
			Image: image,
		},
	}
}

func TestEnsureContainerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := New("ragstack", nil, rt, nil, nil, nil)

	res := containerResource("ragstack-postgres", "apache/age:PG16_latest")

	first, err := p.Ensure(ctx, res)
	require.NoError(t, err)
	assert.False(t, first.Reused)

	second, err := p.Ensure(ctx, res)
	require.NoError(t, err)
	assert.True(t, second.Reused)

	assert.Equal(t, 1, rt.creates, "second ensure must not create again")
	assert.Equal(t, first.ID, second.ID, "both handles must refer to the same resource")
}

func TestEnsureRestartsStoppedManagedContainer(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	rt.states["ragstack-postgres"] = dockerrt.State{
		ID: "id-old", Exists: true, Running: false,
		Image: "apache/age:PG16_latest", Managed: true,
	}
	p := New("ragstack", nil, rt, nil, nil, nil)

	h, err := p.Ensure(ctx, containerResource("ragstack-postgres", "apache/age:PG16_latest"))
	require.NoError(t, err)

	assert.True(t, h.Restarted)
	assert.False(t, h.Recreated)
	assert.Equal(t, 1, rt.starts)
	assert.Equal(t, 0, rt.creates)
}

func TestEnsureRecreatesOnImageDrift(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	rt.states["ragstack-postgres"] = dockerrt.State{
		ID: "id-old", Exists: true, Running: true,
		Image: "postgres:15", Managed: true,
	}
	p := New("ragstack", nil, rt, nil, nil, nil)

	h, err := p.Ensure(ctx, containerResource("ragstack-postgres", "apache/age:PG16_latest"))
	require.NoError(t, err)

	assert.True(t, h.Recreated)
	assert.Equal(t, 1, rt.removes)
	assert.Equal(t, 1, rt.creates)
}

func TestEnsureNeverRecreatesUnmanagedContainer(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	rt.states["ollama"] = dockerrt.State{
		ID: "id-operator", Exists: true, Running: true,
		Image: "ollama/ollama:0.1", Managed: false,
	}
	p := New("ragstack", nil, rt, nil, nil, nil)

	h, err := p.Ensure(ctx, containerResource("ollama", "ollama/ollama:latest"))
	require.NoError(t, err)

	assert.True(t, h.Reused)
	assert.True(t, h.External, "pre-existing unmanaged container is operator-owned")
	assert.Equal(t, 0, rt.removes)
	assert.Equal(t, 0, rt.creates)
}

func TestConcurrentEnsureSameNameCreatesOnce(t *testing.T) {
	ctx := context.Background()
	rt := newFakeRuntime()
	p := New("ragstack", nil, rt, nil, nil, nil)
	res := containerResource("ragstack-postgres", "apache/age:PG16_latest")

	var wg sync.WaitGroup
	handles := make([]Handle, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i], errs[i] = p.Ensure(ctx, res)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, rt.creates, "per-name lock must serialize creation")
	for i := 0; i < 8; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, handles[0].ID, handles[i].ID)
	}
}

func TestDestroyRefusesExternalHandle(t *testing.T) {
	rt := newFakeRuntime()
	p := New("ragstack", nil, rt, nil, nil, nil)

	err := p.Destroy(context.Background(), Handle{Name: "ollama", Kind: KindContainer, External: true})
	require.ErrorIs(t, err, ErrPreserved)
	assert.Contains(t, err.Error(), "externally owned")
	assert.Equal(t, 0, rt.removes)
}

func TestDestroyRefusesUnmanagedContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.states["ollama"] = dockerrt.State{ID: "x", Exists: true, Running: true, Managed: false}
	p := New("ragstack", nil, rt, nil, nil, nil)

	err := p.Destroy(context.Background(), Handle{Name: "ollama", Kind: KindContainer})
	require.ErrorIs(t, err, ErrPreserved)
	assert.Contains(t, err.Error(), "not created by ragctl")
	assert.Equal(t, 0, rt.removes)
}

func TestDestroyRemovesManagedContainer(t *testing.T) {
	rt := newFakeRuntime()
	rt.states["ragstack-postgres"] = dockerrt.State{ID: "x", Exists: true, Running: true, Managed: true}
	p := New("ragstack", nil, rt, nil, nil, nil)

	require.NoError(t, p.Destroy(context.Background(), Handle{Name: "ragstack-postgres", Kind: KindContainer}))
	assert.Equal(t, 1, rt.removes)
}

func TestDestroyMissingContainerIsNoop(t *testing.T) {
	rt := newFakeRuntime()
	p := New("ragstack", nil, rt, nil, nil, nil)

	require.NoError(t, p.Destroy(context.Background(), Handle{Name: "gone", Kind: KindContainer}))
	assert.Equal(t, 0, rt.removes)
}

// fakeClusters is an in-memory ClusterCLI.
type fakeClusters struct {
	names   []string
	creates int
	deletes int
}

func (f *fakeClusters) Clusters(_ context.Context) ([]string, error) { return f.names, nil }

func (f *fakeClusters) CreateCluster(_ context.Context, name string) error {
	f.creates++
	f.names = append(f.names, name)
	return nil
}

func (f *fakeClusters) DeleteCluster(_ context.Context, name string) error {
	f.deletes++
	return nil
}

func TestEnsureClusterReusesExisting(t *testing.T) {
	ctx := context.Background()
	clusters := &fakeClusters{names: []string{"ragstack"}}
	p := New("ragstack", nil, nil, nil, clusters, nil)

	h, err := p.Ensure(ctx, Resource{Name: "ragstack", Kind: KindCluster})
	require.NoError(t, err)
	assert.True(t, h.Reused)
	assert.Equal(t, 0, clusters.creates)
}

func TestEnsureClusterCreatesWhenAbsent(t *testing.T) {
	ctx := context.Background()
	clusters := &fakeClusters{}
	p := New("ragstack", nil, nil, nil, clusters, nil)

	h, err := p.Ensure(ctx, Resource{Name: "ragstack", Kind: KindCluster})
	require.NoError(t, err)
	assert.False(t, h.Reused)
	assert.Equal(t, 1, clusters.creates)
}

type fakeVolumes struct {
	states  map[string]dockerrt.VolumeState
	creates int
	removes int
}

func newFakeVolumes() *fakeVolumes {
	return &fakeVolumes{states: make(map[string]dockerrt.VolumeState)}
}

func (f *fakeVolumes) InspectVolume(_ context.Context, name string) (dockerrt.VolumeState, error) {
	return f.states[name], nil
}

func (f *fakeVolumes) CreateVolume(_ context.Context, name string, labels map[string]string) error {
	f.creates++
	f.states[name] = dockerrt.VolumeState{Exists: true, Managed: true}
	return nil
}

func (f *fakeVolumes) RemoveVolume(_ context.Context, name string) error {
	f.removes++
	delete(f.states, name)
	return nil
}

func TestEnsureVolumeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	vols := newFakeVolumes()
	p := New("ragstack", nil, nil, vols, nil, nil)

	res := Resource{Name: "ragstack-pgdata", Kind: KindVolume}

	h1, err := p.Ensure(ctx, res)
	require.NoError(t, err)
	assert.False(t, h1.Reused)

	h2, err := p.Ensure(ctx, res)
	require.NoError(t, err)
	assert.True(t, h2.Reused)
	assert.Equal(t, 1, vols.creates, "second ensure must not create again")
}

func TestEnsureVolumeMarksUnmanagedExternal(t *testing.T) {
	ctx := context.Background()
	vols := newFakeVolumes()
	vols.states["ragstack-pgdata"] = dockerrt.VolumeState{Exists: true}
	p := New("ragstack", nil, nil, vols, nil, nil)

	h, err := p.Ensure(ctx, Resource{Name: "ragstack-pgdata", Kind: KindVolume})
	require.NoError(t, err)
	assert.True(t, h.Reused)
	assert.True(t, h.External)
}

func TestDestroyRefusesUnmanagedVolume(t *testing.T) {
	ctx := context.Background()
	vols := newFakeVolumes()
	vols.states["ragstack-pgdata"] = dockerrt.VolumeState{Exists: true}
	p := New("ragstack", nil, nil, vols, nil, nil)

	err := p.Destroy(ctx, Handle{Name: "ragstack-pgdata", Kind: KindVolume})
	require.ErrorIs(t, err, ErrPreserved)
	assert.Equal(t, 0, vols.removes)
}

func TestDestroyRemovesManagedVolume(t *testing.T) {
	ctx := context.Background()
	vols := newFakeVolumes()
	vols.states["ragstack-pgdata"] = dockerrt.VolumeState{Exists: true, Managed: true}
	p := New("ragstack", nil, nil, vols, nil, nil)

	require.NoError(t, p.Destroy(ctx, Handle{Name: "ragstack-pgdata", Kind: KindVolume}))
	assert.Equal(t, 1, vols.removes)
}
