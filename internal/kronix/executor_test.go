package kronix

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeEnviron(t *testing.T) {
	t.Setenv("KRONIX_KEEP", "original")
	t.Setenv("KRONIX_SWAP", "before")

	env := mergeEnviron(map[string]string{
		"KRONIX_SWAP": "after",
		"KRONIX_NEW":  "fresh",
	})

	require.Contains(t, env, "KRONIX_KEEP=original")
	require.Contains(t, env, "KRONIX_SWAP=after")
	require.Contains(t, env, "KRONIX_NEW=fresh")
	require.NotContains(t, env, "KRONIX_SWAP=before")
}

func TestExecutorLogsCommandOutput(t *testing.T) {
	logDir := t.TempDir()
	ex := &Executor{LogDir: logDir, Quiet: true}

	err := ex.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "echo to-stdout; echo to-stderr >&2"},
		LogName: "demo-build",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(logDir, "demo-build.log"))
	require.NoError(t, err)
	log := string(data)
	require.Contains(t, log, "+ sh -c")
	require.Contains(t, log, "to-stdout")
	require.Contains(t, log, "to-stderr")
}

func TestExecutorReportsFailure(t *testing.T) {
	ex := &Executor{LogDir: t.TempDir(), Quiet: true}
	err := ex.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", "exit 3"},
		LogName: "demo-fail",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "sh")
}

func TestExecutorAppliesDirAndEnv(t *testing.T) {
	workDir := t.TempDir()
	ex := &Executor{LogDir: t.TempDir(), Quiet: true}

	err := ex.Run(context.Background(), Command{
		Name:    "sh",
		Args:    []string{"-c", `printf '%s' "$KRONIX_PROBE" > probe.txt`},
		Dir:     workDir,
		Env:     map[string]string{"KRONIX_PROBE": "bar"},
		LogName: "demo-env",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(workDir, "probe.txt"))
	require.NoError(t, err)
	require.Equal(t, "bar", string(data))
}
