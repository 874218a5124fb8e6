package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	stack, err := Load(writeStack(t, "project: demo\n"))
	require.NoError(t, err)

	assert.Equal(t, "demo", stack.Project)
	assert.Equal(t, "demo", stack.Namespace)
	assert.Equal(t, "demo", stack.Kind.Cluster)
	assert.Equal(t, "apache/age:PG16_latest", stack.Database.Image)
	assert.Equal(t, 5432, stack.Database.Port)
	assert.Equal(t, "demo-pgdata", stack.Database.Volume)
	assert.Equal(t, "ollama/ollama:latest", stack.ModelServer.Image)
	assert.Equal(t, "bge-m3:latest", stack.ModelServer.Model)
	assert.Equal(t, "ghcr.io/hkuds/lightrag:latest", stack.App.Image)
	assert.Equal(t, 1, stack.App.Replicas)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	_, err := Load(writeStack(t, "project: demo\nserivces: {}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serivces")
}

func TestLoadRejectsBadTarget(t *testing.T) {
	_, err := Load(writeStack(t, "project: demo\ntarget: cloud\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}

func TestLoadRejectsPortOutOfRange(t *testing.T) {
	_, err := Load(writeStack(t, "project: demo\ndatabase:\n  port: 70000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestLoadRejectsMissingInitSQL(t *testing.T) {
	_, err := Load(writeStack(t, "project: demo\ndatabase:\n  initSQL: /nonexistent/init.sql\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initSQL")
}

func TestParseTargetAliases(t *testing.T) {
	for value, want := range map[string]Target{
		"local":    TargetLocal,
		"compose":  TargetLocal,
		"Kind":     TargetKind,
		"existing": TargetExisting,
		"hybrid":   TargetExisting,
	} {
		got, err := ParseTarget(value)
		require.NoError(t, err, value)
		assert.Equal(t, want, got)
	}

	_, err := ParseTarget("fargate")
	assert.Error(t, err)
}

func TestProbeDefaultsFallbacks(t *testing.T) {
	var p ProbeDefaults
	assert.Equal(t, 2*time.Second, p.IntervalOr(2*time.Second))
	assert.Equal(t, 60, p.AttemptsOr(60))

	p = ProbeDefaults{Interval: "500ms", Timeout: "junk", MaxAttempts: 5}
	assert.Equal(t, 500*time.Millisecond, p.IntervalOr(2*time.Second))
	assert.Equal(t, 2*time.Minute, p.TimeoutOr(2*time.Minute))
	assert.Equal(t, 5, p.AttemptsOr(60))
}

func TestLoadSettingsRequiresSecrets(t *testing.T) {
	t.Setenv("RAGCTL_DEEPSEEK_API_KEY", "")
	t.Setenv("RAGCTL_POSTGRES_PASSWORD", "")

	_, err := LoadSettings(nil)
	require.Error(t, err)

	var missing *MissingSettingsError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Keys, "RAGCTL_DEEPSEEK_API_KEY")
	assert.Contains(t, missing.Keys, "RAGCTL_POSTGRES_PASSWORD")
}

func TestLoadSettingsReadsEnvironment(t *testing.T) {
	t.Setenv("RAGCTL_DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("RAGCTL_POSTGRES_PASSWORD", "secret")

	settings, err := LoadSettings(nil)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", settings.DeepSeekAPIKey)
	assert.Equal(t, "https://api.deepseek.com", settings.DeepSeekBaseURL)
	assert.Equal(t, "lightrag", settings.PostgresUser)
	assert.Equal(t, "host.docker.internal", settings.DockerHostGateway)
}

func TestLoadSettingsProcessEnvWinsOverEnvFile(t *testing.T) {
	t.Setenv("RAGCTL_DEEPSEEK_API_KEY", "sk-from-env")
	t.Setenv("RAGCTL_POSTGRES_PASSWORD", "secret")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("RAGCTL_DEEPSEEK_API_KEY=sk-from-file\n"), 0o600))

	settings, err := LoadSettings([]string{path})
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", settings.DeepSeekAPIKey)
}
