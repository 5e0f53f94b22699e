package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.WriteToStderr = false

	logger, cleanup, err := Setup(cfg)
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hello", "k", "v")

	data, err := os.ReadFile(cfg.FilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
}

func TestDataDirHonorsEnvOverride(t *testing.T) {
	t.Setenv(DataDirEnv, "/tmp/cidx-override")
	require.Equal(t, "/tmp/cidx-override", DataDir("/some/project"))

	t.Setenv(DataDirEnv, "")
	require.Equal(t, filepath.Join("/some/project", ".cidx"), DataDir("/some/project"))
}
