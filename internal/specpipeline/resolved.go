// Package specpipeline turns a vendor container spec (or an existing OCI
// bundle) into a compliant OCI config.json plus an in-memory
// ResolvedConfig used by the manager and the plugin pipeline.
package specpipeline

import (
	"github.com/opencontainers/runtime-spec/specs-go"
)

// ConsoleSink selects where the container's console output goes.
type ConsoleSink int

const (
	ConsoleDisabled ConsoleSink = iota
	ConsoleDevNull
	ConsoleFile
)

// DBusBus is the bus a D-Bus selector (system/session/debug) resolves to.
type DBusBus string

const (
	BusNone      DBusBus = "none"
	BusSystem    DBusBus = "system"
	BusAIPublic  DBusBus = "ai-public"
	BusAIPrivate DBusBus = "ai-private"
)

// MountKind selects the placeholder a declared mount point gets in the
// rootfs: a directory (MountDirectory) or an empty file (MountFile).
type MountKind int

const (
	MountDirectory MountKind = iota
	MountFile
)

// DeclaredMount is an entry in ResolvedConfig.Mounts. Source/FSType/
// Options are only populated for mounts threaded in from settings (GPU/
// VPU hardware-access extra mounts); spec-declared mounts only ever set
// Kind and Destination.
type DeclaredMount struct {
	Kind        MountKind
	Destination string
	Source      string
	FSType      string
	Options     []string
}

// PluginEntry is the value stored under one plugin's name in
// config.json's rdkPlugins section, which is written as a JSON object
// keyed by plugin name, not as an array.
type PluginEntry struct {
	Name      string                 `json:"name"`
	Data      map[string]interface{} `json:"data"`
	Required  bool                   `json:"required"`
	DependsOn []string               `json:"dependsOn"`
}

// LoopMount is a "type": "loop" mount, routed to the storage plugin instead
// of being emitted as an OCI mount.
type LoopMount struct {
	Source      string
	Destination string
	FSType      string
	Flags       uintptr
	Options     string
}

// IntrinsicEtc holds the five generated /etc files for a container rootfs.
type IntrinsicEtc struct {
	Hosts         string
	Services      string
	Passwd        string
	Group         string
	LDSoPreload   string
}

// ResolvedDevice is a validated entry from the "devices" field.
type ResolvedDevice struct {
	Major, Minor int64
	Access       string
}

// ResolvedSeccompRule is one validated entry of seccomp.syscalls.
type ResolvedSeccompRule struct {
	Action string
	Names  []string
}

// ResolvedConfig is the merged, normalized representation of a container
// spec.
type ResolvedConfig struct {
	Version string // "1.0" or "1.1"

	Env  []string
	Args []string
	Cwd  string

	UID, GID int64

	RootfsPath string

	UserNsEnabled    bool
	NetworkNsEnabled bool
	NoNewPrivileges  bool

	Network string // "", "nat", "open", "private"

	RTPriorityDefault int
	RTPriorityLimit   int

	MemLimitBytes int64

	GPUEnable   bool
	GPUMemLimit int64
	VPUEnable   bool
	VPUMemLimit int64

	ConsoleSink  ConsoleSink
	ConsolePath  string
	ConsoleLimit int64 // -1 means unlimited; values below -1 are clamped to -1

	BusSystem, BusSession, BusDebug DBusBus

	SyslogEnable bool

	CPUShares   int
	CPUCoreMask uint16

	Devices      []ResolvedDevice
	Capabilities []string

	SeccompDefaultAction string
	SeccompRules         []ResolvedSeccompRule

	RestartOnCrash bool

	Schema *specs.Spec

	ModernPlugins map[string]PluginEntry
	LegacyPlugins map[string]map[string]interface{}

	// ContainerID and HookLauncherPath are filled in by the caller
	// (bundlefs/supervisor wiring) once they're known; the pipeline
	// itself never generates an id or locates the hook binary.
	ContainerID     string
	HookLauncherPath string

	Mounts     []DeclaredMount
	LoopMounts []LoopMount

	Etc IntrinsicEtc
}

// ClampConsoleLimit applies the console.limit clamping rule: values
// below -1 are clamped to -1, and an absent limit is stored as -1.
func ClampConsoleLimit(limit *int64) int64 {
	if limit == nil {
		return -1
	}
	if *limit < -1 {
		return -1
	}
	return *limit
}
