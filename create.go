package dobby

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	runc "github.com/containerd/go-runc"
	"golang.org/x/sys/unix"
)

// Create creates a single container instance from the given ContainerConfig,
// driving the external OCI tool's "create" verb with a bounded wall-clock
// timeout.
//
// On timeout, the caller must not assume the tool's worker process has
// exited yet. This implementation never waits on it directly; go-runc's
// exec.CommandContext plumbing reaps it exactly once regardless of
// whether the timeout or a clean exit comes first, avoiding a double-wait.
func (rt *Runtime) Create(parent context.Context, cfg *ContainerConfig, extraFiles []*os.File) (pid int, err error) {
	if err := validateContainerID(cfg.ContainerID); err != nil {
		return -1, err
	}
	if cfg.Spec == nil || cfg.Spec.Process == nil || len(cfg.Spec.Process.Args) == 0 {
		return -1, configInvalid("process.args", "spec process args are empty")
	}

	ctx, cancel := context.WithTimeout(parent, rt.Timeouts.Create)
	defer cancel()

	pidFilePath := filepath.Join(cfg.BundlePath, "container.pid")
	opts := &runc.CreateOpts{
		ConsoleSocket: rt.resolveConsoleSocket(cfg),
		ExtraFiles:    extraFiles,
		PidFile:       pidFilePath,
	}
	if cfg.ConfigPath != "" {
		opts.ExtraArgs = []string{"--config", cfg.ConfigPath}
	}

	createErr := rt.rc.Create(ctx, cfg.ContainerID, cfg.BundlePath, opts)

	if ctx.Err() == context.DeadlineExceeded {
		rt.Log.Warn().Str("id", cfg.ContainerID).Msg("create timed out, cleaning up")
		rt.cleanupTimedOutCreate(parent, cfg.ContainerID)
		return -1, newErr(KindRuntimeFailure, fmt.Errorf("create timed out after %s", rt.Timeouts.Create))
	}

	if createErr != nil {
		return -1, newErr(KindRuntimeFailure, fmt.Errorf("failed to create container %q: %w", cfg.ContainerID, createErr))
	}

	containerPid, err := runc.ReadPidFile(pidFilePath)
	if err != nil {
		return -1, newErr(KindRuntimeFailure, fmt.Errorf("create succeeded but pidfile was unreadable for %q: %w", cfg.ContainerID, err))
	}
	return containerPid, nil
}

// cleanupTimedOutCreate kills the (possibly half-started) container and
// force-destroys it. Failures here are logged, not propagated -- the
// caller already has a RuntimeFailure to return.
func (rt *Runtime) cleanupTimedOutCreate(ctx context.Context, id string) {
	killCtx, cancel := context.WithTimeout(ctx, rt.Timeouts.Create)
	defer cancel()

	if err := rt.Kill(killCtx, id, unix.SIGKILL, true); err != nil {
		rt.Log.Warn().Err(err).Str("id", id).Msg("failed to kill non-running container after create timeout")
	}
	if err := rt.Delete(killCtx, id, true); err != nil {
		rt.Log.Error().Err(err).Str("id", id).Msg("failed to destroy container after create timeout")
	}
}
