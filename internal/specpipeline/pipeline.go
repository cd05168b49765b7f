package specpipeline

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/runtime-spec/specs-go"
)

// CompileSpec runs the spec path up to the ResolvedConfig: schema
// validation and the processor dispatch table. It does not expand the
// OCI spec; the returned *specs.Spec is always nil, and
// CompileSpecWithRootfs (or ToOCISpec) performs the expansion.
func CompileSpec(data []byte) (*ResolvedConfig, *specs.Spec, error) {
	if err := ValidateVendorSpec(data); err != nil {
		return nil, nil, err
	}
	vs, err := ParseVendorSpec(data)
	if err != nil {
		return nil, nil, err
	}
	rc, err := Compile(vs)
	if err != nil {
		return nil, nil, err
	}
	return rc, nil, nil
}

// CompileSpecWithRootfs is CompileSpec followed by OCI expansion once the
// rootfs path has been allocated by internal/bundlefs -- the pipeline
// itself never touches the filesystem. containerID and hookLauncherPath
// feed the cgroup path and the runtime-dispatched hook entries.
func CompileSpecWithRootfs(data []byte, rootfsPath, containerID, hookLauncherPath string) (*ResolvedConfig, *specs.Spec, error) {
	rc, _, err := CompileSpec(data)
	if err != nil {
		return nil, nil, err
	}
	rc.RootfsPath = rootfsPath
	rc.ContainerID = containerID
	rc.HookLauncherPath = hookLauncherPath
	ociSpec, err := rc.ToOCISpec()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to expand resolved config to an OCI spec: %w", err)
	}
	return rc, ociSpec, nil
}

// existingBundleConfig reads just the extension sections CompileExistingBundle
// needs out of an already-written config.json; the OCI fields themselves are
// parsed separately by ValidateOCIConfig.
type existingBundleConfig struct {
	LegacyPlugins map[string]map[string]interface{} `json:"legacyPlugins"`
}

// CompileExistingBundle runs the bundle path: parse config.json directly,
// re-run the reduced processor set against the vendor fields recovered
// from the bundle's own legacyPlugins section -- the same section
// ToOCISpec/MarshalRDKPluginsConfig wrote when the bundle was first
// created, so there is no separate sideband input to keep in sync.
func CompileExistingBundle(configJSON []byte, containerID string) (*ResolvedConfig, *specs.Spec, error) {
	ociSpec, err := ValidateOCIConfig(configJSON)
	if err != nil {
		return nil, nil, err
	}

	var ext existingBundleConfig
	if err := json.Unmarshal(configJSON, &ext); err != nil {
		return nil, nil, fmt.Errorf("invalid legacyPlugins section in config.json: %w", err)
	}

	vs := vendorSpecFromLegacyPlugins(ext.LegacyPlugins)
	rc, err := CompileBundle(vs)
	if err != nil {
		return nil, nil, err
	}
	rc.ContainerID = containerID
	if ociSpec.Root != nil {
		rc.RootfsPath = ociSpec.Root.Path
	}
	return rc, ociSpec, nil
}

// vendorSpecFromLegacyPlugins inverts the logging/ipc/gpu merges
// processConsole/processDBus/processGPU perform, recovering the subset
// of vendor-spec fields the bundle path's reduced dispatch table needs.
func vendorSpecFromLegacyPlugins(legacy map[string]map[string]interface{}) *VendorSpec {
	vs := &VendorSpec{Version: "1.1"}

	if logging, ok := legacy["logging"]; ok {
		vs.Console = consoleSpecFromData(logging)
	}
	if ipc, ok := legacy["ipc"]; ok {
		vs.DBus = &DBusSpec{
			System:  stringField(ipc, "system"),
			Session: stringField(ipc, "session"),
			Debug:   stringField(ipc, "debug"),
		}
	}
	if gpu, ok := legacy["gpu"]; ok {
		vs.GPU = &HardwareAccessSpec{
			Enable:   boolField(gpu, "enable"),
			MemLimit: int64Field(gpu, "memLimit"),
		}
	}
	return vs
}

func consoleSpecFromData(data map[string]interface{}) *ConsoleSpec {
	if stringField(data, "sink") != "file" {
		return &ConsoleSpec{}
	}
	opts, _ := data["fileOptions"].(map[string]interface{})
	cs := &ConsoleSpec{Path: stringField(opts, "path")}
	if limit := int64Field(opts, "limit"); limit != 0 {
		cs.Limit = &limit
	}
	return cs
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func int64Field(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
