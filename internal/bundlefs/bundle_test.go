package bundlefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestNewWorkspaceBundleCreatesDirUnderBundlesSubtree(t *testing.T) {
	workspace := t.TempDir()
	bundle, err := NewWorkspaceBundle(workspace, "my-container", zerolog.Nop())
	require.NoError(t, err)
	defer bundle.Close()

	require.DirExists(t, bundle.Path())
	require.Equal(t, filepath.Join(workspace, "dobby", "bundles"), filepath.Dir(bundle.Path()))
	require.False(t, bundle.Persistent())
	require.GreaterOrEqual(t, bundle.DirFd(), 0)
}

func TestBundleCloseRemovesNonPersistentContents(t *testing.T) {
	workspace := t.TempDir()
	bundle, err := NewWorkspaceBundle(workspace, "c1", zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(bundle.Path(), "config.json"), []byte("{}"), 0644))
	path := bundle.Path()

	require.NoError(t, bundle.Close())
	require.NoDirExists(t, path)
}

func TestPersistentBundleSurvivesClose(t *testing.T) {
	workspace := t.TempDir()
	path := filepath.Join(workspace, "kept-bundle")
	require.NoError(t, os.Mkdir(path, 0755))

	bundle, err := NewPersistentBundle(path, zerolog.Nop())
	require.NoError(t, err)
	require.True(t, bundle.Persistent())

	require.NoError(t, os.WriteFile(filepath.Join(path, "config.json"), []byte("{}"), 0644))
	require.NoError(t, bundle.Close())
	require.DirExists(t, path)
	require.FileExists(t, filepath.Join(path, "config.json"))
}

func TestSetPersistenceOverridesCloseBehavior(t *testing.T) {
	workspace := t.TempDir()
	bundle, err := NewWorkspaceBundle(workspace, "c2", zerolog.Nop())
	require.NoError(t, err)

	bundle.SetPersistence(true)
	path := bundle.Path()
	require.NoError(t, bundle.Close())
	require.DirExists(t, path)

	require.NoError(t, os.RemoveAll(path))
}

func TestNewDebugBundleFailsIfPathExists(t *testing.T) {
	workspace := t.TempDir()
	path := filepath.Join(workspace, "exists")
	require.NoError(t, os.Mkdir(path, 0755))

	_, err := NewDebugBundle(path, zerolog.Nop())
	require.Error(t, err)
}
