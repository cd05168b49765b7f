package specpipeline

import (
	"encoding/json"
	"fmt"
)

// VendorSpec is the JSON document describing a container at a higher
// level than OCI: this pipeline compiles it down to an OCI bundle.
// Every field is optional except the three mandatory ones enforced in
// Compile (args, user, memLimit).
type VendorSpec struct {
	Version string `json:"version"`

	Env  []string `json:"env,omitempty"`
	Args []string `json:"args,omitempty"`
	Cwd  string   `json:"cwd,omitempty"`

	User *UserSpec `json:"user,omitempty"`

	UserNs *bool `json:"userNs,omitempty"`

	Console *ConsoleSpec `json:"console,omitempty"`

	Etc *EtcSpec `json:"etc,omitempty"`

	Network string `json:"network,omitempty"` // "nat" | "open" | "private"

	RTPriority json.RawMessage `json:"rtPriority,omitempty"`

	RestartOnCrash *bool `json:"restartOnCrash,omitempty"`

	Mounts []MountSpec `json:"mounts,omitempty"`

	Plugins map[string]json.RawMessage `json:"plugins,omitempty"`

	MemLimit *int64 `json:"memLimit,omitempty"`

	GPU *HardwareAccessSpec `json:"gpu,omitempty"`
	VPU *HardwareAccessSpec `json:"vpu,omitempty"`

	DBus *DBusSpec `json:"dbus,omitempty"`

	Syslog *bool `json:"syslog,omitempty"`

	CPU *CPUSpec `json:"cpu,omitempty"`

	Devices []DeviceSpec `json:"devices,omitempty"`

	Capabilities []string `json:"capabilities,omitempty"`

	Seccomp *SeccompSpec `json:"seccomp,omitempty"`

	RDKPlugins map[string]json.RawMessage `json:"rdkPlugins,omitempty"`
}

// UserSpec is the mandatory "user" field.
type UserSpec struct {
	UID int64 `json:"uid"`
	GID int64 `json:"gid"`
}

// ConsoleSpec is the "console" field; nil means disabled. A JSON `null`
// is indistinguishable from "absent" at the VendorSpec level (both leave
// the pointer nil), so a null console is compiled as disabled with no
// logging plugin data; only an object without a path selects the
// devnull sink.
type ConsoleSpec struct {
	Path  string `json:"path"`
	Limit *int64 `json:"limit,omitempty"`
}

// EtcSpec carries the raw line-oriented content for four of the
// intrinsic /etc files (hosts, services, passwd, group), when the vendor
// spec overrides the defaults. It has no field for ld.so.preload.
type EtcSpec struct {
	Hosts    []string `json:"hosts,omitempty"`
	Services []string `json:"services,omitempty"`
	Passwd   []string `json:"passwd,omitempty"`
	Group    []string `json:"group,omitempty"`
}

// MountSpec is one entry of the "mounts" array.
type MountSpec struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Type        string   `json:"type"`
	Options     []string `json:"options,omitempty"`
}

// HardwareAccessSpec is the "gpu"/"vpu" field.
type HardwareAccessSpec struct {
	Enable    bool  `json:"enable"`
	MemLimit  int64 `json:"memLimit,omitempty"`
}

// DBusSpec is the "dbus" field: each entry names a bus.
type DBusSpec struct {
	System  string `json:"system,omitempty"`
	Session string `json:"session,omitempty"`
	Debug   string `json:"debug,omitempty"`
}

// CPUSpec is the "cpu" field.
type CPUSpec struct {
	Shares int    `json:"shares,omitempty"`
	Cores  string `json:"cores,omitempty"`
}

// DeviceSpec is one entry of the "devices" array. Major may be a JSON
// string (driver name) or number; we keep it raw and resolve in the
// devices processor.
type DeviceSpec struct {
	Major  json.RawMessage `json:"major"`
	Minor  int64           `json:"minor"`
	Access string          `json:"access"`
}

// SeccompSpec is the "seccomp" field.
type SeccompSpec struct {
	DefaultAction string             `json:"defaultAction"`
	Syscalls      []SeccompSyscalls  `json:"syscalls"`
}

// SeccompSyscalls is one entry of seccomp.syscalls.
type SeccompSyscalls struct {
	Action string   `json:"action"`
	Names  []string `json:"names"`
}

// ParseVendorSpec decodes and minimally validates a vendor spec document.
func ParseVendorSpec(data []byte) (*VendorSpec, error) {
	var vs VendorSpec
	if err := json.Unmarshal(data, &vs); err != nil {
		return nil, &CompileError{Field: "<root>", Err: fmt.Errorf("invalid spec json: %w", err)}
	}
	if vs.Version != "1.0" && vs.Version != "1.1" {
		return nil, &CompileError{Field: "version", Err: fmt.Errorf("unsupported version %q", vs.Version)}
	}
	return &vs, nil
}

// CompileError is the single "invalid spec" failure surfaced by a failing
// processor, carrying the offending field path when known.
type CompileError struct {
	Field string
	Err   error
}

func (e *CompileError) Error() string {
	if e.Field == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

func fieldErr(field string, format string, args ...interface{}) error {
	return &CompileError{Field: field, Err: fmt.Errorf(format, args...)}
}
