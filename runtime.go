package dobby

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	runc "github.com/containerd/go-runc"
	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// BundleConfigFile is the name of the OCI container bundle config file.
const BundleConfigFile = "config.json"

// Timeouts bounds the runtime driver's blocking operations.
type Timeouts struct {
	// Create is the wall-clock timeout for a single Create call.
	Create time.Duration
	// KillRetry is the delay between TERM-compensation polls.
	KillRetry time.Duration
	// KillRetries is the number of TERM-compensation polls before escalating to KILL.
	KillRetries int
	// PostHalt bounds the modern PostHalt plugin hook.
	PostHalt time.Duration
}

// DefaultTimeouts sets a 5.5s create timeout and a TERM-compensation
// loop of 10 retries at ~50ms apiece (0.5s total) before escalating to
// KILL. See DESIGN.md for why 50ms was chosen over a much smaller value.
var DefaultTimeouts = Timeouts{
	Create:      5500 * time.Millisecond,
	KillRetry:   50 * time.Millisecond,
	KillRetries: 10,
	PostHalt:    4 * time.Second,
}

// Runtime drives an external OCI runtime tool (crun or equivalent) through
// the create/start/kill/delete lifecycle. It never implements the OCI
// runtime protocol itself; it is a thin fork/exec wrapper.
type Runtime struct {
	Log zerolog.Logger `json:"-"`

	// Root is the directory the OCI tool uses to track its own state
	// (passed as --root). Default /var/run/rdk/crun.
	Root string
	// LibexecDir holds the runtime-adjacent executables (hook shim, init).
	LibexecDir string
	// ConsoleSocketPath is the default console socket used when a
	// ContainerConfig does not specify its own.
	ConsoleSocketPath string

	Timeouts Timeouts

	rc *runc.Runc
}

// NewRuntime constructs a Runtime bound to the given OCI tool binary path.
func NewRuntime(toolPath, root, libexecDir string, log zerolog.Logger) *Runtime {
	return &Runtime{
		Log:        log,
		Root:       root,
		LibexecDir: libexecDir,
		Timeouts:   DefaultTimeouts,
		rc: &runc.Runc{
			Command:      toolPath,
			Root:         root,
			Log:          filepath.Join(root, "log.json"),
			LogFormat:    runc.JSON,
			PdeathSignal: syscall.SIGKILL,
			Setpgid:      true,
		},
	}
}

// Init creates the runtime-root directory and checks the tool is executable.
// Must be called once before any other Runtime method.
func (rt *Runtime) Init() error {
	if err := os.MkdirAll(rt.Root, 0755); err != nil {
		return newErr(KindSystemFailure, fmt.Errorf("failed to create runtime root %s: %w", rt.Root, err))
	}
	if rt.rc.Command != "" {
		if _, err := exec.LookPath(rt.rc.Command); err != nil {
			if _, err2 := os.Stat(rt.rc.Command); err2 != nil {
				return newErr(KindSystemFailure, fmt.Errorf("OCI runtime tool %q not executable: %w", rt.rc.Command, err))
			}
		}
	}
	return nil
}

func (rt *Runtime) libexec(name string) string {
	return filepath.Join(rt.LibexecDir, name)
}

// consoleSocket adapts a plain path to go-runc's ConsoleSocket interface.
type consoleSocket struct{ path string }

func (c consoleSocket) Path() string { return c.path }

func (rt *Runtime) resolveConsoleSocket(cfg *ContainerConfig) runc.ConsoleSocket {
	p := cfg.ConsoleSocket
	if p == "" {
		p = rt.ConsoleSocketPath
	}
	if p == "" {
		return nil
	}
	return consoleSocket{path: p}
}

// Run forks/execs "<tool> run --bundle <dir> <id>" and returns the tool's pid.
func (rt *Runtime) Run(ctx context.Context, cfg *ContainerConfig, extraFiles []*os.File) (int, error) {
	started := make(chan int, 1)
	opts := &runc.CreateOpts{
		ConsoleSocket: rt.resolveConsoleSocket(cfg),
		ExtraFiles:    extraFiles,
		Started:       started,
	}
	toolPid, err := rt.rc.Run(ctx, cfg.ContainerID, cfg.BundlePath, opts)
	if err != nil {
		return -1, newErr(KindRuntimeFailure, fmt.Errorf("failed to run OCI tool: %w", err))
	}
	return toolPid, nil
}

// Start notifies the container's init process that it may exec the real
// container process (the container must have already been Create'd).
func (rt *Runtime) Start(ctx context.Context, id string) error {
	rt.Log.Info().Str("id", id).Msg("starting container process")
	if err := rt.rc.Start(ctx, id); err != nil {
		return newErr(KindRuntimeFailure, fmt.Errorf("failed to start container %q: %w", id, err))
	}
	return nil
}

var killSignals = map[unix.Signal]string{
	unix.SIGTERM: "TERM",
	unix.SIGKILL: "KILL",
	unix.SIGUSR1: "USR1",
	unix.SIGUSR2: "USR2",
	unix.SIGHUP:  "HUP",
}

// Kill sends signum to the container's init process. TERM gets a
// compensation loop: if the container hasn't transitioned out of a
// running state after Timeouts.KillRetries polls, the driver escalates to
// KILL.
func (rt *Runtime) Kill(ctx context.Context, id string, signum unix.Signal, all bool) error {
	if _, ok := killSignals[signum]; !ok {
		return newErr(KindConfigInvalid, fmt.Errorf("unsupported signal %d", signum))
	}

	opts := &runc.KillOpts{All: all}
	if err := rt.rc.Kill(ctx, id, int(signum), opts); err != nil {
		return newErr(KindRuntimeFailure, fmt.Errorf("failed to signal container %q: %w", id, err))
	}

	if signum != unix.SIGTERM {
		return nil
	}

	for i := 0; i < rt.Timeouts.KillRetries; i++ {
		state, err := rt.State(ctx, id)
		if err != nil || state.Status == "stopped" || state.Status == "unknown" {
			return nil
		}
		time.Sleep(rt.Timeouts.KillRetry)
	}

	rt.Log.Warn().Str("id", id).Msg("TERM did not stop container in time, escalating to KILL")
	if err := rt.rc.Kill(ctx, id, int(unix.SIGKILL), opts); err != nil {
		return newErr(KindRuntimeFailure, fmt.Errorf("failed to escalate kill for container %q: %w", id, err))
	}
	return nil
}

// Pause freezes all processes in the container.
func (rt *Runtime) Pause(ctx context.Context, id string) error {
	if err := rt.rc.Pause(ctx, id); err != nil {
		return newErr(KindRuntimeFailure, fmt.Errorf("failed to pause container %q: %w", id, err))
	}
	return nil
}

// Resume thaws a paused container.
func (rt *Runtime) Resume(ctx context.Context, id string) error {
	if err := rt.rc.Resume(ctx, id); err != nil {
		return newErr(KindRuntimeFailure, fmt.Errorf("failed to resume container %q: %w", id, err))
	}
	return nil
}

// Exec runs a process inside an existing container and returns the pid
// reported on go-runc's Started channel (-1 if none was reported). The
// argv is passed unchanged; no in-container init wrapper is prepended.
func (rt *Runtime) Exec(ctx context.Context, id string, proc *specs.Process, detach bool) (int, error) {
	started := make(chan int, 1)
	opts := &runc.ExecOpts{Started: started, Detach: detach}
	err := rt.rc.Exec(ctx, id, *proc, opts)
	if err != nil {
		return -1, newErr(KindRuntimeFailure, fmt.Errorf("failed to exec in container %q: %w", id, err))
	}
	select {
	case pid := <-started:
		return pid, nil
	default:
		return -1, nil
	}
}

// Delete removes the container. If force is false the container must
// already be stopped; if force is true the tool is asked to forcibly
// tear it down (kill + delete).
func (rt *Runtime) Delete(ctx context.Context, id string, force bool) error {
	if err := rt.rc.Delete(ctx, id, &runc.DeleteOpts{Force: force}); err != nil {
		return newErr(KindRuntimeFailure, fmt.Errorf("failed to delete container %q: %w", id, err))
	}
	return nil
}

// State returns the runtime's view of the container's state.
func (rt *Runtime) State(ctx context.Context, id string) (*RuntimeState, error) {
	st, err := rt.rc.State(ctx, id)
	if err != nil {
		return nil, newErr(KindRuntimeFailure, fmt.Errorf("failed to get state for container %q: %w", id, err))
	}
	return &RuntimeState{
		Status: st.Status,
		SpecState: specs.State{
			Version: specs.Version,
			ID:      st.ID,
			Pid:     st.Pid,
			Bundle:  st.Bundle,
			Status:  specs.ContainerState(st.Status),
		},
	}, nil
}

// List returns every container the OCI tool currently knows about.
func (rt *Runtime) List(ctx context.Context) ([]RuntimeState, error) {
	containers, err := rt.rc.List(ctx)
	if err != nil {
		return nil, newErr(KindRuntimeFailure, fmt.Errorf("failed to list containers: %w", err))
	}
	out := make([]RuntimeState, 0, len(containers))
	for _, c := range containers {
		out = append(out, RuntimeState{
			Status: c.Status,
			SpecState: specs.State{
				Version: specs.Version,
				ID:      c.ID,
				Pid:     c.Pid,
				Bundle:  c.Bundle,
				Status:  specs.ContainerState(c.Status),
			},
		})
	}
	return out, nil
}

// ReadSpecJSON reads an OCI spec from a config.json path.
func ReadSpecJSON(p string) (*specs.Spec, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, newErr(KindSystemFailure, err)
	}
	defer f.Close()
	spec := new(specs.Spec)
	if err := decodeJSON(f, spec); err != nil {
		return nil, newErr(KindConfigInvalid, err)
	}
	return spec, nil
}
