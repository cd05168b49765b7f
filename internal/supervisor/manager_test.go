package supervisor

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

	"github.com/rdkcentral/dobby"
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

func newTestManager(t *testing.T) *Manager {
	tool := findOCITool(t)
	root := t.TempDir()
	rt := dobby.NewRuntime(tool, root, t.TempDir(), testLogger())
	require.NoError(t, rt.Init())
	return NewManager(rt, testLogger())
}

func newTestConfig(t *testing.T, args ...string) *dobby.ContainerConfig {
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

	return &dobby.ContainerConfig{
		ContainerID: filepath.Base(bundle),
		BundlePath:  bundle,
		Spec:        spec,
	}
}

func TestLookupUnknownDescriptorErrors(t *testing.T) {
	m := NewManager(nil, testLogger())
	_, err := m.Lookup(42)
	require.Error(t, err)
}

func TestContainerIDsEmptyInitially(t *testing.T) {
	m := NewManager(nil, testLogger())
	require.Empty(t, m.ContainerIDs())
}

func TestStartFailureLeavesNoTrace(t *testing.T) {
	m := newTestManager(t)
	cfg := newTestConfig(t)
	cfg.Spec.Process.Args = nil // rejected by Runtime.Create

	_, err := m.Start(context.Background(), cfg)
	require.Error(t, err)

	require.Empty(t, m.ContainerIDs())
	_, lookupErr := m.byIDLookup(cfg.ContainerID)
	require.False(t, lookupErr)
}

// byIDLookup is a tiny same-package helper so the failure-path test above
// can assert directly against the manager's table without exposing it.
func (m *Manager) byIDLookup(id string) (*dobby.Container, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	return c, ok
}

func TestStartDuplicateContainerIDRejected(t *testing.T) {
	m := newTestManager(t)
	cfg := newTestConfig(t, "/bin/true")

	m.mu.Lock()
	m.byID[cfg.ContainerID] = &dobby.Container{ContainerConfig: cfg}
	m.mu.Unlock()

	_, err := m.Start(context.Background(), cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestFullLifecycle(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("container lifecycle test requires root")
	}
	m := newTestManager(t)
	cfg := newTestConfig(t, "/bin/sleep", "30")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc, err := m.Start(ctx, cfg)
	require.NoError(t, err)
	require.Contains(t, m.ContainerIDs(), cfg.ContainerID)

	c, err := m.Lookup(desc)
	require.NoError(t, err)
	require.Equal(t, dobby.StateRunning, c.State)

	require.NoError(t, m.Pause(ctx, desc))
	c, _ = m.Lookup(desc)
	require.Equal(t, dobby.StatePaused, c.State)

	require.NoError(t, m.Resume(ctx, desc))

	require.NoError(t, m.Stop(ctx, desc, true))
	c, err = m.Lookup(desc)
	require.NoError(t, err, "Stop only signals; the descriptor stays live until the reaper confirms exit")
	require.Equal(t, dobby.StateStopping, c.State)
	require.False(t, c.Restart.Enabled)
}

func TestStopOnPausedWithoutForceReturnsStateMismatch(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("container lifecycle test requires root")
	}
	m := newTestManager(t)
	cfg := newTestConfig(t, "/bin/sleep", "30")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	desc, err := m.Start(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, m.Pause(ctx, desc))

	err = m.Stop(ctx, desc, false)
	require.Error(t, err)
	var derr *dobby.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dobby.KindStateMismatch, derr.Kind)

	c, err := m.Lookup(desc)
	require.NoError(t, err)
	require.Equal(t, dobby.StatePaused, c.State, "a refused stop must leave the container paused")

	require.NoError(t, m.Stop(ctx, desc, true))
}

func TestStopOnStartingSetsCurseOfDeath(t *testing.T) {
	m := newTestManager(t)
	cfg := newTestConfig(t, "/bin/true")

	m.mu.Lock()
	desc := 7
	c := &dobby.Container{Descriptor: desc, ContainerConfig: cfg, State: dobby.StateStarting}
	m.byID[cfg.ContainerID] = c
	m.byDesc[desc] = c
	m.mu.Unlock()

	require.NoError(t, m.Stop(context.Background(), desc, false))
	require.True(t, c.CurseOfDeath)
	require.Equal(t, dobby.StateStarting, c.State, "Stop on Starting does not itself transition state")
}

func TestPauseRejectsNonRunningContainer(t *testing.T) {
	m := newTestManager(t)
	cfg := newTestConfig(t, "/bin/true")

	m.mu.Lock()
	desc := 3
	c := &dobby.Container{Descriptor: desc, ContainerConfig: cfg, State: dobby.StateStopping}
	m.byID[cfg.ContainerID] = c
	m.byDesc[desc] = c
	m.mu.Unlock()

	err := m.Pause(context.Background(), desc)
	require.Error(t, err)
	var derr *dobby.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dobby.KindStateMismatch, derr.Kind)
}

func TestResumeRejectsNonPausedContainer(t *testing.T) {
	m := newTestManager(t)
	cfg := newTestConfig(t, "/bin/true")

	m.mu.Lock()
	desc := 4
	c := &dobby.Container{Descriptor: desc, ContainerConfig: cfg, State: dobby.StateRunning}
	m.byID[cfg.ContainerID] = c
	m.byDesc[desc] = c
	m.mu.Unlock()

	err := m.Resume(context.Background(), desc)
	require.Error(t, err)
	var derr *dobby.Error
	require.ErrorAs(t, err, &derr)
	require.Equal(t, dobby.KindStateMismatch, derr.Kind)
}
