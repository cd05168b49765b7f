// Package engine wires the configuration pipeline, bundle/rootfs
// construction, plugin dispatch, and the supervisor into the single
// entry point cmd/dobbyd drives: start a container from a vendor spec,
// stop/pause/resume it by descriptor, and list the live table.
package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// MountSettings is one of Settings' extra-mounts entries. Options are
// passed through as given; they are not checked against a fixed set.
type MountSettings struct {
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Type        string   `json:"type"`
	Options     []string `json:"options,omitempty"`
}

// HardwareAccessSettings configures GPU/VPU device access shared across
// every container: glob patterns for device nodes, supplementary GIDs,
// and extra mounts layered into the rootfs.
type HardwareAccessSettings struct {
	DeviceGlobs        []string        `json:"deviceGlobs,omitempty"`
	SupplementaryGIDs  []int           `json:"supplementaryGids,omitempty"`
	ExtraMounts        []MountSettings `json:"extraMounts,omitempty"`
}

// LogRelaySettings controls whether container console output is
// forwarded to syslog and/or journald sockets.
type LogRelaySettings struct {
	SyslogEnabled      bool   `json:"syslogEnabled"`
	JournaldEnabled    bool   `json:"journaldEnabled"`
	SyslogSocketPath   string `json:"syslogSocketPath"`
	JournaldSocketPath string `json:"journaldSocketPath"`
}

// StraceSettings controls per-app strace capture.
type StraceSettings struct {
	LogsDir string   `json:"logsDir"`
	Apps    []string `json:"apps,omitempty"`
}

// AppArmorSettings controls whether containers get an AppArmor profile.
type AppArmorSettings struct {
	Enabled     bool   `json:"enabled"`
	ProfileName string `json:"profileName"`
}

// Settings is the daemon-wide configuration document, loaded once at
// startup and never mutated afterward.
type Settings struct {
	WorkspaceDir      string                 `json:"workspaceDir"`
	PersistentDir     string                 `json:"persistentDir"`
	ConsoleSocketPath string                 `json:"consoleSocketPath"`
	ExtraEnv          []string               `json:"extraEnv,omitempty"`
	GPU               HardwareAccessSettings `json:"gpu"`
	VPU                HardwareAccessSettings `json:"vpu"`
	ExternalNetworkIfaces []string            `json:"externalNetworkInterfaces,omitempty"`
	NetworkAddressRange   string              `json:"networkAddressRange"`
	DefaultPlugins        []string            `json:"defaultPlugins,omitempty"`
	PluginDefaultData     map[string]json.RawMessage `json:"pluginDefaultData,omitempty"`
	LogRelay              LogRelaySettings    `json:"logRelay"`
	Strace                StraceSettings      `json:"strace"`
	AppArmor              AppArmorSettings    `json:"appArmor"`

	OCIToolPath string `json:"ociToolPath"`
	RuntimeRoot string `json:"runtimeRoot"`
	LibexecDir  string `json:"libexecDir"`
	PluginDir   string `json:"pluginDir"`
}

// LoadSettings reads the settings document at path and overlays the
// AI_* environment variables the spec names.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file %s: %w", path, err)
	}
	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}
	s.applyEnvOverrides()
	if err := s.validatePlatformEnv(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyEnvOverrides() {
	if v := os.Getenv("AI_WORKSPACE_PATH"); v != "" {
		s.WorkspaceDir = v
	}
	if v := os.Getenv("AI_PERSISTENT_PATH"); v != "" {
		s.PersistentDir = v
	}
}

var platformIdentPattern = regexp.MustCompile(`^[0-9a-fA-F]{4}$`)

var validPlatformTypes = map[string]bool{"MR": true, "GW": true, "HIP": true}

var validPlatformModels = map[string]bool{
	"ES140": true, "ES130": true, "EM150": true, "ES240": true,
	"ES340": true, "ESi240": true, "vSTB": true, "ES160": true,
}

// validatePlatformEnv checks AI_PLATFORM_IDENT/TYPE/MODEL when present;
// none of them are mandatory for the daemon to start, but a malformed
// value is rejected rather than silently ignored.
func (s *Settings) validatePlatformEnv() error {
	if v := os.Getenv("AI_PLATFORM_IDENT"); v != "" && !platformIdentPattern.MatchString(v) {
		return fmt.Errorf("AI_PLATFORM_IDENT %q is not 4 hex digits", v)
	}
	if v := os.Getenv("AI_PLATFORM_TYPE"); v != "" && !validPlatformTypes[v] {
		return fmt.Errorf("AI_PLATFORM_TYPE %q is not one of MR, GW, HIP", v)
	}
	if v := os.Getenv("AI_PLATFORM_MODEL"); v != "" && !validPlatformModels[v] {
		return fmt.Errorf("AI_PLATFORM_MODEL %q is not a recognized platform model", v)
	}
	return nil
}
