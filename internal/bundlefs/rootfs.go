package bundlefs

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/rdkcentral/dobby/internal/specpipeline"
)

// canonicalSkeleton is the fixed set of top-level directories every
// spec-origin rootfs gets, each created at bundleDirMode.
var canonicalSkeleton = []string{
	"etc", "proc", "dev", "sys", "sys/fs/cgroup", "tmp",
	"lib", "bin", "sbin", "usr", "home", "home/private",
	"etc/ssl", "etc/ssl/certs",
}

const nsswitchConf = "hosts:     files mdns4_minimal [NOTFOUND=return] dns mdns4\nprotocols: files\n"

// Rootfs is a scoped acquisition of the rootfs/ subtree within a Bundle.
type Rootfs struct {
	path    string
	dirFd   int
	persist bool
	log     zerolog.Logger
}

// NewSpecRootfs builds a canonical rootfs skeleton inside bundle and
// populates it from rc: the five intrinsic /etc files, nsswitch.conf, an
// empty resolv.conf, home/private/, and a parent dir/placeholder for
// every declared mount point.
func NewSpecRootfs(bundle *Bundle, rc *specpipeline.ResolvedConfig, log zerolog.Logger) (*Rootfs, error) {
	const dirName = "rootfs"

	if err := unix.Mkdirat(bundle.DirFd(), dirName, bundleDirMode); err != nil {
		return nil, fmt.Errorf("failed to create rootfs dir: %w", err)
	}
	fd, err := unix.Openat(bundle.DirFd(), dirName, unix.O_CLOEXEC|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open rootfs dir: %w", err)
	}

	rfs := &Rootfs{
		path:    filepath.Join(bundle.Path(), dirName),
		dirFd:   fd,
		persist: false,
		log:     log.With().Str("rootfs", filepath.Join(bundle.Path(), dirName)).Logger(),
	}

	if err := rfs.construct(rc); err != nil {
		rfs.Close()
		return nil, err
	}
	return rfs, nil
}

// NewExistingRootfs references the rootfs of a bundle-origin container:
// the directory is assumed to already exist and is merely opened.
func NewExistingRootfs(bundlePath, rootfsRelPath string, log zerolog.Logger) (*Rootfs, error) {
	path := filepath.Join(bundlePath, rootfsRelPath)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("could not find rootfs at %s: %w", path, err)
	}
	fd, err := unix.Open(path, unix.O_CLOEXEC|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open rootfs dir %s: %w", path, err)
	}
	return &Rootfs{path: path, dirFd: fd, persist: true, log: log.With().Str("rootfs", path).Logger()}, nil
}

func (r *Rootfs) Path() string  { return r.path }
func (r *Rootfs) DirFd() int    { return r.dirFd }

func (r *Rootfs) construct(rc *specpipeline.ResolvedConfig) error {
	for _, dir := range canonicalSkeleton {
		if err := mkdirAllAt(r.dirFd, dir); err != nil {
			return fmt.Errorf("failed to create rootfs skeleton dir %s: %w", dir, err)
		}
	}

	files := map[string]string{
		"etc/hosts":           orDefaultEtc(rc.Etc.Hosts, "127.0.0.1 localhost\n"),
		"etc/services":        rc.Etc.Services,
		"etc/passwd":          rc.Etc.Passwd,
		"etc/group":           rc.Etc.Group,
		"etc/ld.so.preload":   rc.Etc.LDSoPreload,
		"etc/nsswitch.conf":   nsswitchConf,
		"etc/resolv.conf":     "",
	}
	for name, content := range files {
		if err := writeFileAt(r.dirFd, name, content); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}

	for _, m := range rc.Mounts {
		if err := r.createMountPoint(m); err != nil {
			return err
		}
	}
	for _, m := range rc.LoopMounts {
		if err := r.createMountPoint(specpipeline.DeclaredMount{Kind: specpipeline.MountDirectory, Destination: m.Destination}); err != nil {
			return err
		}
	}
	return nil
}

// createMountPoint creates the parent directories (and, for a
// MountDirectory kind, the mount point itself) of a declared mount. The
// destination is cleaned against "/" first, so ".." components are
// collapsed rather than rejected ("../escape" becomes "escape"); paths
// that are empty after trimming the leading "/" are rejected, and "."
// components are collapsed silently.
func (r *Rootfs) createMountPoint(m specpipeline.DeclaredMount) error {
	clean := strings.TrimPrefix(filepath.Clean("/"+m.Destination), "/")
	if clean == "" || clean == "." {
		return fmt.Errorf("mount destination %q is empty after cleaning", m.Destination)
	}
	if strings.Contains(clean, "..") {
		return fmt.Errorf("mount destination %q escapes the rootfs", m.Destination)
	}
	if _, err := securejoin.SecureJoin(r.path, clean); err != nil {
		return fmt.Errorf("mount destination %q is not safely joinable: %w", m.Destination, err)
	}

	if m.Kind == specpipeline.MountDirectory {
		return mkdirAllAt(r.dirFd, clean)
	}

	dir := filepath.Dir(clean)
	if dir != "." {
		if err := mkdirAllAt(r.dirFd, dir); err != nil {
			return fmt.Errorf("failed to create mount parent dir %s: %w", dir, err)
		}
	}
	return writeFileAt(r.dirFd, clean, "")
}

func orDefaultEtc(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// mkdirAllAt creates every path component of rel under dirFd, ignoring
// components that already exist.
func mkdirAllAt(dirFd int, rel string) error {
	parts := strings.Split(rel, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if cur == "" {
			cur = p
		} else {
			cur = cur + "/" + p
		}
		if err := unix.Mkdirat(dirFd, cur, bundleDirMode); err != nil && err != unix.EEXIST {
			return err
		}
	}
	return nil
}

func writeFileAt(dirFd int, rel, content string) error {
	fd, err := unix.Openat(dirFd, rel, unix.O_CLOEXEC|unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	f := os.NewFile(uintptr(fd), rel)
	defer f.Close()
	_, err = f.WriteString(content)
	return err
}

// Close unmounts anything still mounted under the rootfs and recursively
// deletes it, unless persistent.
func (r *Rootfs) Close() error {
	if r.dirFd < 0 {
		return nil
	}
	if !r.persist {
		if err := r.unmountUnder(); err != nil {
			r.log.Error().Err(err).Msg("failed to unmount entries under rootfs, a well-behaved plugin should have cleaned these up")
		}
		if err := removeDirContents(r.dirFd, 0); err != nil {
			r.log.Error().Err(err).Msg("failed to delete contents of rootfs dir")
		}
	}
	unix.Close(r.dirFd)
	r.dirFd = -1
	if !r.persist {
		if err := os.Remove(r.path); err != nil {
			r.log.Error().Err(err).Msg("failed to delete rootfs dir")
		}
	}
	return nil
}

// unmountUnder scans /proc/self/mountinfo and lazily unmounts every
// entry whose mount point has the rootfs path as a prefix.
func (r *Rootfs) unmountUnder() error {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return fmt.Errorf("failed to open /proc/self/mountinfo: %w", err)
	}
	defer f.Close()

	prefix := strings.TrimRight(r.path, "/") + "/"
	var mountPoints []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		mountPoint := fields[4]
		if strings.HasPrefix(mountPoint, prefix) {
			mountPoints = append(mountPoints, mountPoint)
		}
	}

	// unmount deepest-first so parent mounts aren't busy when we get to them.
	for i := len(mountPoints) - 1; i >= 0; i-- {
		mp := mountPoints[i]
		if err := unix.Unmount(mp, unix.MNT_DETACH); err != nil {
			r.log.Error().Err(err).Str("mountpoint", mp).Msg("failed to unmount")
		}
	}
	return nil
}
