package pluginmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// writeFakeLauncher writes a shell script standing in for the external
// plugin-launcher binary. It records every invocation's argv into a file
// under dir so tests can assert on call points, and exits non-zero when
// failPoint matches the first argument.
func writeFakeLauncher(t *testing.T, dir, failPoint string) string {
	t.Helper()
	logPath := filepath.Join(dir, "invocations.log")
	script := "#!/bin/sh\n" +
		"echo \"$1 $2\" >> " + logPath + "\n"
	if failPoint != "" {
		script += "if [ \"$1\" = \"" + failPoint + "\" ]; then echo boom 1>&2; exit 1; fi\n"
	}
	path := filepath.Join(dir, "plugin-launcher")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestRunPostInstallationSkipsWhenMarkerPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, installSuccessMarker), nil, 0644))
	launcher := writeFakeLauncher(t, dir, "")

	r := &ModernRunner{BundlePath: dir, PluginLauncher: launcher, Log: zerolog.Nop()}
	require.NoError(t, r.RunPostInstallation(context.Background()))

	_, err := os.ReadFile(filepath.Join(dir, "invocations.log"))
	require.True(t, os.IsNotExist(err), "launcher must not run when marker already exists")
}

func TestRunPostInstallationWritesMarkerOnSuccess(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"a":1}`), 0644))
	launcher := writeFakeLauncher(t, dir, "")

	r := &ModernRunner{BundlePath: dir, PluginLauncher: launcher, Log: zerolog.Nop()}
	require.NoError(t, r.RunPostInstallation(context.Background()))

	require.FileExists(t, filepath.Join(dir, installSuccessMarker))
	require.FileExists(t, filepath.Join(dir, configBackupName))

	log, err := os.ReadFile(filepath.Join(dir, "invocations.log"))
	require.NoError(t, err)
	require.Contains(t, string(log), "postInstallation "+dir)
}

func TestRunPostInstallationRestoresConfigOnFailure(t *testing.T) {
	dir := t.TempDir()
	original := `{"original":true}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(original), 0644))
	launcher := writeFakeLauncher(t, dir, "postInstallation")

	r := &ModernRunner{BundlePath: dir, PluginLauncher: launcher, Log: zerolog.Nop()}
	err := r.RunPostInstallation(context.Background())
	require.Error(t, err)

	restored, readErr := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, readErr)
	require.Equal(t, original, string(restored))
	require.NoFileExists(t, filepath.Join(dir, installSuccessMarker))
}

func TestRunPreCreationInvokesLauncher(t *testing.T) {
	dir := t.TempDir()
	launcher := writeFakeLauncher(t, dir, "")

	r := &ModernRunner{BundlePath: dir, PluginLauncher: launcher, Log: zerolog.Nop()}
	require.NoError(t, r.RunPreCreation(context.Background()))

	log, err := os.ReadFile(filepath.Join(dir, "invocations.log"))
	require.NoError(t, err)
	require.Contains(t, string(log), "preCreation "+dir)
}

func TestRunPreCreationPropagatesFailure(t *testing.T) {
	dir := t.TempDir()
	launcher := writeFakeLauncher(t, dir, "preCreation")

	r := &ModernRunner{BundlePath: dir, PluginLauncher: launcher, Log: zerolog.Nop()}
	require.Error(t, r.RunPreCreation(context.Background()))
}

func TestRunPostHaltRespectsTimeout(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\nsleep 5\n"
	path := filepath.Join(dir, "plugin-launcher")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))

	r := &ModernRunner{BundlePath: dir, PluginLauncher: path, PostHaltTimeout: 50 * time.Millisecond, Log: zerolog.Nop()}
	err := r.RunPostHalt(context.Background())
	require.Error(t, err)
}

func TestInvokeNoopWhenLauncherUnset(t *testing.T) {
	dir := t.TempDir()
	r := &ModernRunner{BundlePath: dir, Log: zerolog.Nop()}
	require.NoError(t, r.RunPreCreation(context.Background()))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0644))
	require.NoError(t, r.RunPostInstallation(context.Background()))
	require.FileExists(t, filepath.Join(dir, installSuccessMarker))
}
