package shared

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// deviceKey packs a (major, minor) pair for the allowlist set.
type deviceKey struct {
	major, minor int64
}

// DeviceAllowlist is the process-wide set of (major, minor) device
// numbers a spec's devices[] entries are checked against. Populated at
// startup from a static policy and never mutated afterward, except for
// the driver-major cache which /proc/devices lookups fill lazily.
type DeviceAllowlist struct {
	allowed map[deviceKey]bool

	mu         sync.Mutex
	driverMajors map[string]int64
	procDevicesPath string
}

// NewDeviceAllowlist builds an allowlist from a static policy of
// (major, minor) pairs.
func NewDeviceAllowlist(policy [][2]int64) *DeviceAllowlist {
	a := &DeviceAllowlist{
		allowed:         make(map[deviceKey]bool, len(policy)),
		driverMajors:    make(map[string]int64),
		procDevicesPath: "/proc/devices",
	}
	for _, pair := range policy {
		a.allowed[deviceKey{pair[0], pair[1]}] = true
	}
	return a
}

// Allowed reports whether (major, minor) is in the host policy.
// Implements internal/specpipeline.DeviceAllowlist.
func (a *DeviceAllowlist) Allowed(major, minor int64) bool {
	return a.allowed[deviceKey{major, minor}]
}

// ResolveDriverMajor looks up name's major number from /proc/devices,
// caching the result. Implements the signature specpipeline.resolveDriverMajor
// expects, for wiring via specpipeline.SetDriverMajorResolver-equivalent.
func (a *DeviceAllowlist) ResolveDriverMajor(name string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if major, ok := a.driverMajors[name]; ok {
		return major, nil
	}

	f, err := os.Open(a.procDevicesPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", a.procDevicesPath, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		major, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		a.driverMajors[fields[1]] = major
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan %s: %w", a.procDevicesPath, err)
	}

	major, ok := a.driverMajors[name]
	if !ok {
		return 0, fmt.Errorf("driver %q not found in %s", name, a.procDevicesPath)
	}
	return major, nil
}
