package supervisor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/rdkcentral/dobby"
	"github.com/rdkcentral/dobby/internal/pluginmgr"
)

// restartWindow and maxRestartAttempts implement the restart-on-crash
// policy: at most maxRestartAttempts respawns within restartWindow of
// each other before giving up.
const (
	restartWindow      = 5 * time.Minute
	maxRestartAttempts = 10
)

// signalfdSiginfoSize is sizeof(struct signalfd_siginfo); the reaper
// never inspects its fields, it only drains the fd after EPOLLIN.
const signalfdSiginfoSize = 128

// epollTimeoutMillis bounds how long Run blocks in epoll_wait between
// checks of ctx.Done().
const epollTimeoutMillis = 1000

// Reaper runs the SIGCHLD/SIGUSR1 wait loop that reaps crashed or exited
// containers and decides whether to respawn them. It must run on a
// locked OS thread because it blocks those signals process-wide for the
// thread that owns the signalfd.
type Reaper struct {
	mgr *Manager
	rt  *dobby.Runtime
	log zerolog.Logger

	// Legacy dispatches postStop/preStart hooks around a reap-discovered
	// exit, set after construction the same way ContainerStopped/
	// ContainerStarted are.
	Legacy *pluginmgr.LegacyManager

	// ContainerStopped/ContainerStarted are invoked after a reap decision
	// is made, letting callers (e.g. an IPC layer) react to lifecycle
	// transitions the reaper discovers asynchronously.
	ContainerStopped func(c *dobby.Container)
	ContainerStarted func(c *dobby.Container)
}

// NewReaper constructs a Reaper bound to mgr.
func NewReaper(mgr *Manager, rt *dobby.Runtime, log zerolog.Logger) *Reaper {
	return &Reaper{mgr: mgr, rt: rt, log: log}
}

// Run installs the process as a child subreaper, blocks SIGCHLD and
// SIGUSR1 on the calling thread, and watches a signalfd for them via
// epoll until ctx is cancelled. Must be called from its own goroutine,
// which this method locks to its OS thread for the duration: signal
// masks are per-thread, and an unlocked goroutine could be rescheduled
// onto a thread where the signals are unblocked.
func (r *Reaper) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("failed to become child subreaper: %w", err)
	}

	var mask unix.Sigset_t
	sigaddset(&mask, unix.SIGCHLD)
	sigaddset(&mask, unix.SIGUSR1)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &mask, nil); err != nil {
		return fmt.Errorf("failed to block SIGCHLD/SIGUSR1: %w", err)
	}

	sfd, err := unix.Signalfd(-1, &mask, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("failed to create signalfd: %w", err)
	}
	defer unix.Close(sfd)

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("failed to create epoll instance: %w", err)
	}
	defer unix.Close(epfd)

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, sfd, &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(sfd)}); err != nil {
		return fmt.Errorf("failed to register signalfd with epoll: %w", err)
	}

	events := make([]unix.EpollEvent, 1)
	buf := make([]byte, signalfdSiginfoSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := unix.EpollWait(epfd, events, epollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait on signalfd failed: %w", err)
		}
		if n == 0 {
			continue
		}

		// Drain every queued siginfo; either signal just means "go
		// sweep", so the contents don't matter.
		for {
			if _, err := unix.Read(sfd, buf); err != nil {
				break
			}
		}
		r.reapAll()
	}
}

// reapAll does a non-blocking waitpid sweep over every child, matching
// exited pids against the container table and deciding whether to
// restart or tear down.
func (r *Reaper) reapAll() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		r.onChildExit(pid, ws)
	}
}

func (r *Reaper) onChildExit(pid int, ws unix.WaitStatus) {
	c := r.findByPid(pid)
	if c == nil {
		return
	}

	r.log.Info().Str("id", c.ContainerID).Int("pid", pid).Msg("container process exited")

	wasRunning := c.State == dobby.StateRunning || c.State == dobby.StateStopping
	if wasRunning && r.Legacy != nil {
		r.Legacy.Dispatch(pluginmgr.PostStop, nil)
	}
	r.mgr.mu.Lock()
	c.State = dobby.StateStopping
	r.mgr.mu.Unlock()

	if c.Restart.Enabled && !c.CurseOfDeath && r.shouldRestart(c) {
		r.restart(c)
		return
	}

	r.mgr.removeLocked(c)
	if r.ContainerStopped != nil {
		r.ContainerStopped(c)
	}
}

func (r *Reaper) findByPid(pid int) *dobby.Container {
	r.mgr.mu.Lock()
	defer r.mgr.mu.Unlock()
	for _, c := range r.mgr.byID {
		if c.RuntimePid == pid {
			return c
		}
	}
	return nil
}

// shouldRestart applies the <=10-attempts/5-minute-sliding-window rule.
func (r *Reaper) shouldRestart(c *dobby.Container) bool {
	now := time.Now()
	if now.Sub(c.Restart.LastAttempt) > restartWindow {
		c.Restart.Attempts = 0
	}
	if c.Restart.Attempts >= maxRestartAttempts {
		r.log.Warn().Str("id", c.ContainerID).Msg("restart attempts exhausted within window, giving up")
		return false
	}
	c.Restart.Attempts++
	c.Restart.LastAttempt = now
	return true
}

func (r *Reaper) restart(c *dobby.Container) {
	ctx := context.Background()
	if err := r.rt.Delete(ctx, c.ContainerID, true); err != nil {
		r.log.Warn().Err(err).Str("id", c.ContainerID).Msg("best-effort cleanup before restart failed")
	}

	if r.Legacy != nil {
		r.Legacy.Dispatch(pluginmgr.PreStart, nil)
	}

	extraFiles := reopenExtraFiles(c.Restart.ExtraFiles, r.log)
	pid, err := r.rt.Run(ctx, c.ContainerConfig, extraFiles)
	if err != nil {
		r.log.Error().Err(err).Str("id", c.ContainerID).Msg("failed to restart crashed container")
		r.mgr.removeLocked(c)
		if r.ContainerStopped != nil {
			r.ContainerStopped(c)
		}
		return
	}

	r.mgr.mu.Lock()
	c.RuntimePid = pid
	c.State = dobby.StateRunning
	r.mgr.mu.Unlock()

	if r.ContainerStarted != nil {
		r.ContainerStarted(c)
	}
}

// reopenExtraFiles turns the descriptor numbers recorded at the
// container's original start (dup'd into the parent before fork, so
// they survive the crashed child) into *os.File handles the restarted
// run can pass down again. A descriptor that fails to dup is dropped
// rather than aborting the whole restart.
func reopenExtraFiles(fds []int, log zerolog.Logger) []*os.File {
	if len(fds) == 0 {
		return nil
	}
	files := make([]*os.File, 0, len(fds))
	for _, fd := range fds {
		dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
		if err != nil {
			log.Warn().Int("fd", fd).Err(err).Msg("failed to duplicate extra file descriptor for restart")
			continue
		}
		files = append(files, os.NewFile(uintptr(dup), fmt.Sprintf("extra-fd-%d", fd)))
	}
	return files
}

// sigaddset sets sig in a Sigset_t whose Val elements are 64 bits wide
// (amd64/arm64/riscv64/mips64); it is not portable to the 32-bit
// layouts some other GOARCH values use.
func sigaddset(set *unix.Sigset_t, sig unix.Signal) {
	s := uint(sig) - 1
	set.Val[s/64] |= 1 << (s % 64)
}
