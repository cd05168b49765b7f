// Command dobby-hook is the binary referenced by every runtime-dispatched
// hook point (createRuntime, createContainer, startContainer, postStart,
// postStop) in a container's OCI config.json. The OCI runtime tool
// invokes it directly -- dobbyd is not in the call path at these points
// -- so it has to rediscover the modern plugin set from the bundle
// itself rather than being handed it by the daemon.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/rdkcentral/dobby/internal/specpipeline"
)

// pluginBinDir holds one executable per modern plugin name, each
// invoked as "<pluginBinDir>/<name> <hookPoint>" with the plugin's
// own data blob on stdin. This mirrors the legacy plugin directory
// convention (internal/pluginmgr.DiscoverLegacyPlugins) but with an
// exec boundary instead of dlopen, since the OCI runtime can only
// launch dobby-hook as a subprocess, not call into it as a library.
const pluginBinDir = "/usr/libexec/rdk/plugins"

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "dobby-hook").Logger()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: dobby-hook <hookPoint>")
		os.Exit(1)
	}
	point := os.Args[1]

	state, err := readState(os.Stdin)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read OCI state from stdin")
	}

	configPath := filepath.Join(state.Bundle, "config.json")
	plugins, err := loadPluginConfig(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("bundle", state.Bundle).Msg("failed to load plugin configuration")
	}

	failed := false
	for name, entry := range plugins {
		if err := dispatchOne(name, entry, point, state); err != nil {
			log.Error().Err(err).Str("plugin", name).Str("hook", point).Msg("plugin hook failed")
			if entry.Required {
				failed = true
			}
		}
	}

	if failed {
		os.Exit(1)
	}
}

func readState(r io.Reader) (*specs.State, error) {
	var state specs.State
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode OCI state: %w", err)
	}
	return &state, nil
}

func loadPluginConfig(configPath string) (map[string]specpipeline.PluginEntry, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
	}
	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", configPath, err)
	}
	raw, ok := spec.Annotations["rdk.plugins.config"]
	if !ok || raw == "" {
		return nil, nil
	}
	var plugins map[string]specpipeline.PluginEntry
	if err := json.Unmarshal([]byte(raw), &plugins); err != nil {
		return nil, fmt.Errorf("failed to parse rdk.plugins.config annotation: %w", err)
	}
	return plugins, nil
}

// dispatchOne execs the plugin's own binary, if present, passing the
// hook point as argv[1] and the plugin's data blob as JSON on stdin.
// There is one binary per plugin, invoked at every hook point; a plugin
// with no installed binary is skipped silently.
func dispatchOne(name string, entry specpipeline.PluginEntry, point string, state *specs.State) error {
	bin := filepath.Join(pluginBinDir, name)
	if _, err := os.Stat(bin); err != nil {
		return nil
	}

	payload, err := json.Marshal(struct {
		Data  map[string]interface{} `json:"data"`
		State *specs.State           `json:"state"`
	}{Data: entry.Data, State: state})
	if err != nil {
		return fmt.Errorf("failed to marshal plugin payload: %w", err)
	}

	cmd := exec.Command(bin, point)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("plugin %s exited with error: %w: %s", name, err, out)
	}
	return nil
}
