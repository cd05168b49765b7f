package dobby

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func testLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}

func findOCITool(t *testing.T) string {
	for _, name := range []string{"crun", "runc"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no OCI runtime tool (crun/runc) found on PATH")
	return ""
}

func newTestRuntime(t *testing.T) *Runtime {
	tool := findOCITool(t)
	root := t.TempDir()
	rt := NewRuntime(tool, root, t.TempDir(), testLogger())
	require.NoError(t, rt.Init())
	return rt
}

func newTestBundle(t *testing.T, args ...string) *ContainerConfig {
	bundle := t.TempDir()
	rootfs := filepath.Join(bundle, "rootfs")
	require.NoError(t, os.MkdirAll(rootfs, 0755))

	spec := &specs.Spec{
		Version: specs.Version,
		Root:    &specs.Root{Path: rootfs},
		Process: &specs.Process{
			Args: args,
			Cwd:  "/",
			User: specs.User{},
		},
		Linux: &specs.Linux{
			Namespaces: []specs.LinuxNamespace{
				{Type: specs.PIDNamespace},
				{Type: specs.MountNamespace},
				{Type: specs.IPCNamespace},
				{Type: specs.UTSNamespace},
			},
			CgroupsPath: filepath.Base(bundle) + ".slice",
		},
	}

	return &ContainerConfig{
		ContainerID: filepath.Base(bundle),
		BundlePath:  bundle,
		Spec:        spec,
	}
}

func TestCreateRejectsMissingArgs(t *testing.T) {
	rt := newTestRuntime(t)
	cfg := newTestBundle(t)
	cfg.Spec.Process.Args = nil

	pid, err := rt.Create(context.Background(), cfg, nil)
	require.Error(t, err)
	require.Equal(t, -1, pid)

	var derr *Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, KindConfigInvalid, derr.Kind)
}

func TestCreateRejectsInvalidContainerID(t *testing.T) {
	rt := newTestRuntime(t)
	cfg := newTestBundle(t, "/bin/true")
	cfg.ContainerID = "../escape"

	_, err := rt.Create(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("container lifecycle test requires root")
	}

	rt := newTestRuntime(t)
	cfg := newTestBundle(t, "/bin/sleep", "30")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pid, err := rt.Create(ctx, cfg, nil)
	require.NoError(t, err)
	require.Greater(t, pid, 0)

	state, err := rt.State(ctx, cfg.ContainerID)
	require.NoError(t, err)
	require.Equal(t, "created", state.Status)

	require.NoError(t, rt.Start(ctx, cfg.ContainerID))

	state, err = rt.State(ctx, cfg.ContainerID)
	require.NoError(t, err)
	require.Equal(t, "running", state.Status)

	require.NoError(t, rt.Pause(ctx, cfg.ContainerID))
	require.NoError(t, rt.Resume(ctx, cfg.ContainerID))

	require.NoError(t, rt.Kill(ctx, cfg.ContainerID, unix.SIGKILL, true))
	require.NoError(t, rt.Delete(ctx, cfg.ContainerID, true))
}
