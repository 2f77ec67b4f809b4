package workspace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hivemind-dev/coordinator/internal/config"
	"github.com/hivemind-dev/coordinator/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFind_LocatesRootFromNestedSubdirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hivemind"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, config.ManifestPath), []byte("version = 1\n"), 0644))

	nested := filepath.Join(root, "a", "b", "c")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := workspace.Find(nested)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestFind_ReturnsEmptyWhenNoMarkerExists(t *testing.T) {
	dir := t.TempDir()
	found, err := workspace.Find(dir)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestFindOrError_ReturnsErrNotFoundWhenNoMarkerExists(t *testing.T) {
	dir := t.TempDir()
	_, err := workspace.FindOrError(dir)
	assert.ErrorIs(t, err, workspace.ErrNotFound)
}

func TestFindOrError_ReturnsRootWhenMarkerExists(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".hivemind"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, config.ManifestPath), []byte("version = 1\n"), 0644))

	found, err := workspace.FindOrError(root)
	require.NoError(t, err)
	assert.Equal(t, root, found)
}

func TestInit_CreatesManifestAndTriggersDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, workspace.Init(dir))

	manifestPath := filepath.Join(dir, config.ManifestPath)
	assert.FileExists(t, manifestPath)

	info, err := os.Stat(filepath.Join(dir, "triggers"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestInit_FailsIfManifestAlreadyExists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, workspace.Init(dir))

	err := workspace.Init(dir)
	assert.Error(t, err)
}
