// Package bundlefs implements the scoped-acquisition directory resources
// a container's OCI bundle and rootfs are built from: Bundle owns the
// bundle directory fd, Rootfs owns the rootfs/ subtree within it.
package bundlefs

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const bundleDirMode = 0755

// Bundle is a scoped acquisition of a directory on the workspace. It
// holds an open directory fd for *at() syscalls and removes its contents
// on Close unless marked persistent.
type Bundle struct {
	path      string
	dirFd     int
	persist   bool
	log       zerolog.Logger
}

// NewPersistentBundle opens a caller-supplied absolute path as a bundle
// that is never deleted on Close.
func NewPersistentBundle(path string, log zerolog.Logger) (*Bundle, error) {
	return openBundle(path, true, log)
}

// NewDebugBundle creates path (must not already exist) and never deletes
// it, mirroring the debug dbus "CreateBundle" entry point.
func NewDebugBundle(path string, log zerolog.Logger) (*Bundle, error) {
	if err := os.Mkdir(path, bundleDirMode); err != nil {
		return nil, fmt.Errorf("failed to create debug bundle dir %s: %w", path, err)
	}
	return openBundle(path, true, log)
}

// NewWorkspaceBundle creates a non-persistent bundle directory under
// <workspace>/dobby/bundles/<id>.<5-digit-random>/, creating the bundles
// directory itself if it doesn't yet exist.
func NewWorkspaceBundle(workspace, id string, log zerolog.Logger) (*Bundle, error) {
	bundlesDir := filepath.Join(workspace, "dobby", "bundles")
	if err := os.MkdirAll(bundlesDir, bundleDirMode); err != nil {
		return nil, fmt.Errorf("failed to create bundles dir %s: %w", bundlesDir, err)
	}

	dirName := fmt.Sprintf("%s.%05d", id, rand.Intn(90000)+10000)
	path := filepath.Join(bundlesDir, dirName)
	if err := os.Mkdir(path, bundleDirMode); err != nil {
		return nil, fmt.Errorf("failed to create bundle dir %s: %w", path, err)
	}
	return openBundle(path, false, log)
}

func openBundle(path string, persist bool, log zerolog.Logger) (*Bundle, error) {
	fd, err := unix.Open(path, unix.O_CLOEXEC|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle dir %s: %w", path, err)
	}
	if err := unix.Fchmod(fd, bundleDirMode); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set mode on bundle dir %s: %w", path, err)
	}
	return &Bundle{
		path:    path,
		dirFd:   fd,
		persist: persist,
		log:     log.With().Str("bundle", path).Logger(),
	}, nil
}

// Path returns the bundle's absolute directory path.
func (b *Bundle) Path() string { return b.path }

// DirFd returns the open directory fd backing *at() operations within
// the bundle.
func (b *Bundle) DirFd() int { return b.dirFd }

// SetPersistence overrides whether Close deletes the bundle's contents.
func (b *Bundle) SetPersistence(persist bool) { b.persist = persist }

// Persistent reports the current persistence setting.
func (b *Bundle) Persistent() bool { return b.persist }

// Close removes the bundle's contents (unless persistent) and closes the
// directory fd. A failure to remove the directory itself -- e.g. because
// a child filesystem is still mounted under it -- is logged, not
// returned: callers cannot meaningfully react to it.
func (b *Bundle) Close() error {
	if b.dirFd < 0 {
		return nil
	}
	if !b.persist {
		if err := removeDirContents(b.dirFd, 0); err != nil {
			b.log.Error().Err(err).Msg("failed to delete contents of bundle dir")
		}
	}
	if err := unix.Close(b.dirFd); err != nil {
		b.log.Error().Err(err).Msg("failed to close bundle dir fd")
	}
	b.dirFd = -1

	if !b.persist {
		if err := os.Remove(b.path); err != nil {
			b.log.Error().Err(err).Msg("failed to delete bundle dir")
		}
	}
	return nil
}

// maxRecursionDepth guards against fd exhaustion when recursively
// deleting a bundle or rootfs tree.
const maxRecursionDepth = 128

// removeDirContents deletes everything inside the directory referenced
// by dirFd without removing dirFd itself.
func removeDirContents(dirFd int, depth int) error {
	if depth >= maxRecursionDepth {
		return fmt.Errorf("exceeded max recursion depth %d", maxRecursionDepth)
	}

	f := os.NewFile(uintptr(dupFd(dirFd)), "")
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return fmt.Errorf("failed to read directory contents: %w", err)
	}

	for _, name := range names {
		var st unix.Stat_t
		if err := unix.Fstatat(dirFd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}
		if st.Mode&unix.S_IFMT == unix.S_IFDIR {
			childFd, err := unix.Openat(dirFd, name, unix.O_CLOEXEC|unix.O_DIRECTORY, 0)
			if err != nil {
				return fmt.Errorf("failed to open child dir %s: %w", name, err)
			}
			if err := removeDirContents(childFd, depth+1); err != nil {
				unix.Close(childFd)
				return err
			}
			unix.Close(childFd)
			if err := unix.Unlinkat(dirFd, name, unix.AT_REMOVEDIR); err != nil {
				return fmt.Errorf("failed to remove child dir %s: %w", name, err)
			}
		} else {
			if err := unix.Unlinkat(dirFd, name, 0); err != nil {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
		}
	}
	return nil
}

func dupFd(fd int) int {
	newFd, err := unix.Dup(fd)
	if err != nil {
		return fd
	}
	return newFd
}
