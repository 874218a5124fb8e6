package dockerrt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/api/types/network"

	"github.com/ragstack-dev/ragctl/internal/config"
)

func TestFlattenEnv(t *testing.T) {
	out := flattenEnv(map[string]string{"POSTGRES_USER": "lightrag", "POSTGRES_DB": "lightrag"})
	assert.Len(t, out, 2)
	assert.Contains(t, out, "POSTGRES_USER=lightrag")
	assert.Contains(t, out, "POSTGRES_DB=lightrag")

	assert.Nil(t, flattenEnv(nil))
}

func TestBuildMounts(t *testing.T) {
	mounts := buildMounts([]config.VolumeMount{
		{Name: "pgdata", MountPath: "/var/lib/postgresql/data"},
		{HostPath: "/opt/init.sql", MountPath: "/docker-entrypoint-initdb.d/init.sql", ReadOnly: true},
	})

	require.Len(t, mounts, 2)
	assert.Equal(t, mount.TypeVolume, mounts[0].Type)
	assert.Equal(t, "pgdata", mounts[0].Source)
	assert.Equal(t, mount.TypeBind, mounts[1].Type)
	assert.Equal(t, "/opt/init.sql", mounts[1].Source)
	assert.True(t, mounts[1].ReadOnly)
}

func TestSummarize(t *testing.T) {
	out := summarize([]container.Summary{
		{Names: []string{"/ragstack-postgres"}, Image: "apache/age:PG16_latest", State: "running"},
		{Image: "ollama/ollama:latest", State: "exited"},
	})

	require.Len(t, out, 2)
	assert.Equal(t, Summary{Name: "/ragstack-postgres", Image: "apache/age:PG16_latest", State: "running"}, out[0])
	assert.Equal(t, "", out[1].Name, "a container without names must not panic")

	assert.Empty(t, summarize(nil))
}

func TestBuildPortBindings(t *testing.T) {
	exposed, bindings, err := buildPortBindings([]config.PortMapping{
		{HostPort: 5432, ContainerPort: 5432},
		{HostPort: 11435, ContainerPort: 11434},
	})
	require.NoError(t, err)
	assert.Len(t, exposed, 2)

	port, err := network.ParsePort("11434/tcp")
	require.NoError(t, err)
	require.Len(t, bindings[port], 1)
	assert.Equal(t, "11435", bindings[port][0].HostPort)
}

func TestBuildPortBindingsRejectsInvalidPort(t *testing.T) {
	_, _, err := buildPortBindings([]config.PortMapping{{HostPort: 1, ContainerPort: -1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("%d", -1))
}
