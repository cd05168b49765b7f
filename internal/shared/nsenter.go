package shared

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// CallInNamespace opens /proc/<pid>/ns/<nsType>, spawns a dedicated
// locked OS thread, setns's into that namespace, runs fn, and joins.
// This is the only mechanism by which plugin code may execute inside a
// container's network or mount namespace: the setns happens on a
// throwaway thread so the namespace change never leaks onto a thread
// the Go scheduler later reuses for unrelated work.
func CallInNamespace(pid int, nsType string, fn func() error) error {
	nsPath := fmt.Sprintf("/proc/%d/ns/%s", pid, nsType)

	errCh := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		fd, err := unix.Open(nsPath, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err != nil {
			errCh <- fmt.Errorf("failed to open %s: %w", nsPath, err)
			return
		}
		defer unix.Close(fd)

		if err := unix.Setns(fd, 0); err != nil {
			errCh <- fmt.Errorf("setns(%s) failed: %w", nsPath, err)
			return
		}

		errCh <- fn()
	}()

	return <-errCh
}
