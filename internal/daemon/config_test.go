package daemon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_RootsUnderProjectDotCidx(t *testing.T) {
	cfg := DefaultConfig("/srv/project")
	assert.Equal(t, filepath.Join("/srv/project", ".cidx", "daemon.sock"), cfg.SocketPath)
	assert.Equal(t, filepath.Join("/srv/project", ".cidx", "daemon.pid"), cfg.PIDPath)
	require.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRejectsEmptySocketPath(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.SocketPath = ""
	assert.Error(t, cfg.Validate())
}

func TestConfig_ValidateRejectsNonPositiveWorkerPool(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.WorkerPoolSize = 0
	assert.Error(t, cfg.Validate())
}

func TestConfig_EnsureDirCreatesSocketAndPIDDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig(root)
	require.NoError(t, cfg.EnsureDir())

	info, err := os.Stat(filepath.Dir(cfg.SocketPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
