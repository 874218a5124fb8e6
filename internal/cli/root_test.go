package cli

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragstack-dev/ragctl/internal/logging"
)

func setTestSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("RAGCTL_DEEPSEEK_API_KEY", "sk-test")
	t.Setenv("RAGCTL_POSTGRES_PASSWORD", "secret")
}

func writeStackFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stack.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts := &Options{ConfigPath: defaultConfigPath, LogLevel: slog.LevelInfo}
	cmd := newRootCommand(opts, logging.NewLogger(os.Stderr, slog.LevelError))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRenderCommandEmitsComposeForLocalTarget(t *testing.T) {
	setTestSecrets(t)
	path := writeStackFile(t, "project: demo\ntarget: local\n")

	out, err := runCommand(t, "render", "-c", path)
	require.NoError(t, err)

	assert.Contains(t, out, "name: demo")
	assert.Contains(t, out, "demo-postgres")
	assert.Contains(t, out, "apache/age:PG16_latest")
}

func TestRenderCommandEmitsManifestsForClusterTarget(t *testing.T) {
	setTestSecrets(t)
	path := writeStackFile(t, "project: demo\n")

	out, err := runCommand(t, "render", "-c", path, "--target", "kind")
	require.NoError(t, err)

	assert.Contains(t, out, "kind: Deployment")
	assert.Contains(t, out, "namespace: demo")
	assert.NotContains(t, out, "demo-ollama", "the model server stays host-side on cluster targets")
}

func TestRenderCommandWritesOutputFile(t *testing.T) {
	setTestSecrets(t)
	path := writeStackFile(t, "project: demo\n")
	outPath := filepath.Join(t.TempDir(), "out.yaml")

	_, err := runCommand(t, "render", "-c", path, "-o", outPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "demo-postgres")
}

func TestTargetFlagRejectsUnknownValue(t *testing.T) {
	setTestSecrets(t)
	path := writeStackFile(t, "project: demo\n")

	_, err := runCommand(t, "render", "-c", path, "--target", "fargate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}

func TestMissingSecretsFailBeforeAnyWork(t *testing.T) {
	t.Setenv("RAGCTL_DEEPSEEK_API_KEY", "")
	t.Setenv("RAGCTL_POSTGRES_PASSWORD", "")
	path := writeStackFile(t, "project: demo\n")

	_, err := runCommand(t, "render", "-c", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RAGCTL_DEEPSEEK_API_KEY")
}
