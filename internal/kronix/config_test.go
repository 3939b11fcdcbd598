package kronix

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kronix.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
# toolchain settings
JOBS=8
GNU_MIRROR="https://mirror.example.org/gnu/"
TUNE='generic'
broken line without equals
NICE_BUILD=1
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, "8", cfg.Get("JOBS", ""))
	require.Equal(t, "generic", cfg.Get("TUNE", ""))
	require.True(t, cfg.Bool("NICE_BUILD"))
	require.False(t, cfg.Bool("JOBS"))
	// quotes stripped, trailing slash trimmed
	require.Equal(t, "https://mirror.example.org/gnu", cfg.GNUMirror())
	require.Equal(t, "fallback", cfg.Get("MISSING", "fallback"))
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.conf"))
	require.NoError(t, err)
	require.Equal(t, runtime.NumCPU()+1, cfg.Jobs())
}

func TestConfigEnvOverrides(t *testing.T) {
	t.Setenv("KRONIX_JOBS", "3")
	cfg, err := LoadConfig(writeConfig(t, "JOBS=8\n"))
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Jobs())
}

func TestConfigJobsIgnoresGarbage(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "JOBS=potato\n"))
	require.NoError(t, err)
	require.Equal(t, runtime.NumCPU()+1, cfg.Jobs())
}
