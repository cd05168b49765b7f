package specpipeline

import (
	"fmt"

	"github.com/coreos/go-systemd/v22/util"
)

// cgroupDriver picks between systemd-encoded and plain cgroupfs paths
// for Linux.CgroupsPath, the way the teacher's own runtime_test.go sets
// CgroupsPath to an id-derived ".slice" unit name. Overridable in tests.
var cgroupDriverIsSystemd = util.IsRunningSystemd

// cgroupsPath returns the Linux.CgroupsPath value for containerID: a
// systemd slice unit name under the dobby.slice parent when the host
// runs systemd, otherwise a plain cgroupfs subtree path.
func cgroupsPath(containerID string) string {
	if cgroupDriverIsSystemd() {
		return fmt.Sprintf("dobby.slice:dobby:%s", containerID)
	}
	return fmt.Sprintf("/dobby/%s", containerID)
}
