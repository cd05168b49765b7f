package specpipeline

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/runtime-spec/specs-go"
)

// ToOCISpec expands a ResolvedConfig into a full OCI runtime spec. This
// plays the role the embedded mustache-style config.json template plays
// upstream, but is expressed as direct Go struct construction: there is
// no string templating step, and no token dictionary to keep in sync
// with the struct fields.
func (rc *ResolvedConfig) ToOCISpec() (*specs.Spec, error) {
	if rc.RootfsPath == "" {
		return nil, fmt.Errorf("resolved config has no rootfs path")
	}

	proc := &specs.Process{
		Terminal: rc.ConsoleSink != ConsoleDisabled,
		User: specs.User{
			UID: uint32(rc.UID),
			GID: uint32(rc.GID),
		},
		Args: rc.Args,
		Env:  rc.Env,
		Cwd:  orDefault(rc.Cwd, "/"),
		Capabilities: &specs.LinuxCapabilities{
			Bounding:    rc.Capabilities,
			Effective:   rc.Capabilities,
			Permitted:   rc.Capabilities,
			Inheritable: nil,
			Ambient:     nil,
		},
		NoNewPrivileges: rc.NoNewPrivileges,
		Rlimits:         []specs.POSIXRlimit{{Type: "RLIMIT_RTPRIO", Hard: 0, Soft: 0}},
	}

	linux := &specs.Linux{
		Resources: &specs.LinuxResources{
			Memory: &specs.LinuxMemory{Limit: int64Ptr(rc.MemLimitBytes)},
			CPU:    rc.linuxCPU(),
			Devices: rc.linuxDeviceRules(),
		},
	}

	if rc.UserNsEnabled {
		linux.Namespaces = append(linux.Namespaces, specs.LinuxNamespace{Type: specs.UserNamespace})
	}
	if rc.NetworkNsEnabled {
		linux.Namespaces = append(linux.Namespaces, specs.LinuxNamespace{Type: specs.NetworkNamespace})
	}
	linux.Namespaces = append(linux.Namespaces,
		specs.LinuxNamespace{Type: specs.PIDNamespace},
		specs.LinuxNamespace{Type: specs.MountNamespace},
		specs.LinuxNamespace{Type: specs.IPCNamespace},
		specs.LinuxNamespace{Type: specs.UTSNamespace},
	)

	linux.CgroupsPath = cgroupsPath(rc.ContainerID)
	linux.Seccomp = rc.ociSeccomp()

	spec := &specs.Spec{
		Version: specs.Version,
		Process: proc,
		Root: &specs.Root{
			Path:     rc.RootfsPath,
			Readonly: false,
		},
		Hostname: "",
		Mounts:   rc.ociMounts(),
		Linux:    linux,
		Hooks:    rc.ociHooks(),
	}

	spec.Linux.Resources.Pids = &specs.LinuxPids{Limit: 0}

	return rc.withRDKPlugins(spec)
}

// rdkPluginsSpec is the OCI spec plus the rdkPlugins/legacyPlugins
// extension sections upstream runtimes (and config.json readers like the
// bundle-origin start path) expect to find it under.
type rdkPluginsSpec struct {
	*specs.Spec
	RDKPlugins    map[string]PluginEntry            `json:"rdkPlugins,omitempty"`
	LegacyPlugins map[string]map[string]interface{} `json:"legacyPlugins,omitempty"`
}

// withRDKPlugins records the modern plugin table in the spec's
// annotations (rdk.plugins.count, rdk.plugins.config) so the hook
// launcher binary (which only gets handed annotations, not the full
// document) can find its own plugin's data without parsing the whole
// spec. The rdkPlugins section itself is written by
// MarshalRDKPluginsConfig.
func (rc *ResolvedConfig) withRDKPlugins(spec *specs.Spec) (*specs.Spec, error) {
	spec.Annotations = map[string]string{}
	if len(rc.ModernPlugins) == 0 {
		return spec, nil
	}
	spec.Annotations["rdk.plugins.count"] = fmt.Sprintf("%d", len(rc.ModernPlugins))
	pluginsJSON, err := json.Marshal(rc.ModernPlugins)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize rdkPlugins for the hook launcher: %w", err)
	}
	spec.Annotations["rdk.plugins.config"] = string(pluginsJSON)
	return spec, nil
}

// MarshalRDKPluginsConfig renders spec with its rdkPlugins section
// attached, the actual byte sequence written to config.json. ToOCISpec
// returns a *specs.Spec alone so callers that only need the struct (the
// runtime driver, most tests) aren't forced through this, but
// writeConfigJSON uses it for the on-disk document.
func (rc *ResolvedConfig) MarshalRDKPluginsConfig(spec *specs.Spec) ([]byte, error) {
	return json.MarshalIndent(rdkPluginsSpec{
		Spec:          spec,
		RDKPlugins:    rc.ModernPlugins,
		LegacyPlugins: rc.LegacyPlugins,
	}, "", "  ")
}

func (rc *ResolvedConfig) linuxCPU() *specs.LinuxCPU {
	if rc.CPUShares == 0 && rc.CPUCoreMask == 0 {
		return nil
	}
	cpu := &specs.LinuxCPU{}
	if rc.CPUShares != 0 {
		shares := uint64(rc.CPUShares)
		cpu.Shares = &shares
	}
	if rc.CPUCoreMask != 0 {
		cpu.Cpus = coreMaskToList(rc.CPUCoreMask)
	}
	return cpu
}

func coreMaskToList(mask uint16) string {
	var ranges []string
	start := -1
	for i := 0; i < 16; i++ {
		set := mask&(1<<uint(i)) != 0
		if set && start < 0 {
			start = i
		}
		if !set && start >= 0 {
			ranges = append(ranges, cpuRange(start, i-1))
			start = -1
		}
	}
	if start >= 0 {
		ranges = append(ranges, cpuRange(start, 15))
	}
	out := ""
	for i, r := range ranges {
		if i > 0 {
			out += ","
		}
		out += r
	}
	return out
}

func cpuRange(lo, hi int) string {
	if lo == hi {
		return fmt.Sprintf("%d", lo)
	}
	return fmt.Sprintf("%d-%d", lo, hi)
}

func (rc *ResolvedConfig) linuxDeviceRules() []specs.LinuxDeviceCgroup {
	rules := make([]specs.LinuxDeviceCgroup, 0, len(rc.Devices))
	for _, d := range rc.Devices {
		major, minor := d.Major, d.Minor
		rules = append(rules, specs.LinuxDeviceCgroup{
			Allow:  true,
			Type:   "c",
			Major:  &major,
			Minor:  &minor,
			Access: d.Access,
		})
	}
	return rules
}

func (rc *ResolvedConfig) ociMounts() []specs.Mount {
	mounts := make([]specs.Mount, 0, len(rc.Mounts))
	for _, m := range rc.Mounts {
		mounts = append(mounts, specs.Mount{
			Destination: m.Destination,
			Type:        "bind",
			Options:     []string{"bind"},
		})
	}
	return mounts
}

// ociHooks builds the five OCI hook arrays the runtime itself invokes
// (CreateRuntime, CreateContainer, StartContainer, Poststart, Poststop)
// so the hook launcher binary gets called at every modern-plugin point
// the manager doesn't call directly. Nothing is added when there's no
// launcher configured or no modern plugins to dispatch to.
func (rc *ResolvedConfig) ociHooks() *specs.Hooks {
	if rc.HookLauncherPath == "" || len(rc.ModernPlugins) == 0 {
		return nil
	}
	hook := func(point string) []specs.Hook {
		return []specs.Hook{{
			Path: rc.HookLauncherPath,
			Args: []string{rc.HookLauncherPath, point},
		}}
	}
	return &specs.Hooks{
		CreateRuntime:   hook("createRuntime"),
		CreateContainer: hook("createContainer"),
		StartContainer:  hook("startContainer"),
		Poststart:       hook("postStart"),
		Poststop:        hook("postStop"),
	}
}

// ociSeccomp translates the validated seccomp rules into an OCI
// LinuxSeccomp filter. The vendor spec's action strings are already the
// OCI action names (SCMP_ACT_ERRNO, SCMP_ACT_ALLOW), so no translation
// table is needed beyond the type cast.
func (rc *ResolvedConfig) ociSeccomp() *specs.LinuxSeccomp {
	if rc.SeccompDefaultAction == "" {
		return nil
	}
	seccomp := &specs.LinuxSeccomp{
		DefaultAction: specs.LinuxSeccompAction(rc.SeccompDefaultAction),
	}
	for _, rule := range rc.SeccompRules {
		seccomp.Syscalls = append(seccomp.Syscalls, specs.LinuxSyscall{
			Names:  rule.Names,
			Action: specs.LinuxSeccompAction(rule.Action),
		})
	}
	return seccomp
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func int64Ptr(v int64) *int64 { return &v }
