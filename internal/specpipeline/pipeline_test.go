package specpipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func minimalSpecJSON(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"version":  "1.0",
		"args":     []string{"/bin/sh"},
		"user":     map[string]int{"uid": 1000, "gid": 1000},
		"memLimit": 128 * 1024 * 1024,
	})
	require.NoError(t, err)
	return data
}

func TestCompileSpecRoundTrip(t *testing.T) {
	rc, ociSpec, err := CompileSpec(minimalSpecJSON(t))
	require.NoError(t, err)
	require.Nil(t, ociSpec, "CompileSpec alone does not expand to an OCI spec")
	require.Equal(t, []string{"/bin/sh"}, rc.Args)
}

func TestCompileSpecRejectsSchemaViolation(t *testing.T) {
	data, err := json.Marshal(map[string]interface{}{
		"version": "1.0",
		// args missing entirely -- schema requires it
		"user":     map[string]int{"uid": 1000, "gid": 1000},
		"memLimit": 1024,
	})
	require.NoError(t, err)

	_, _, err = CompileSpec(data)
	require.Error(t, err)
}

func TestCompileSpecRejectsMalformedJSON(t *testing.T) {
	_, _, err := CompileSpec([]byte(`{not valid json`))
	require.Error(t, err)
}

func TestCompileSpecWithRootfsExpandsOCISpec(t *testing.T) {
	rc, ociSpec, err := CompileSpecWithRootfs(minimalSpecJSON(t), "/var/lib/dobby/bundles/c1/rootfs", "c1", "/usr/libexec/dobby-hook")
	require.NoError(t, err)
	require.Equal(t, "c1", rc.ContainerID)
	require.Equal(t, "/var/lib/dobby/bundles/c1/rootfs", rc.RootfsPath)
	require.NotNil(t, ociSpec)
	require.NotNil(t, ociSpec.Root)
	require.Equal(t, "/var/lib/dobby/bundles/c1/rootfs", ociSpec.Root.Path)
	require.Equal(t, []string{"/bin/sh"}, ociSpec.Process.Args)
}

func TestCompileExistingBundleRequiresValidOCIConfig(t *testing.T) {
	_, _, err := CompileExistingBundle([]byte(`{"process":{"args":[]}}`), "c1")
	require.Error(t, err)
}

// TestCompileExistingBundleRejectsDrmRdkServices confirms the reduced
// dispatch table's drm/rdkServices stubs still fire on the bundle path
// even with a perfectly valid OCI document: those two fields are
// permanently unsupported for reprocessing, by design.
func TestCompileExistingBundleRejectsDrmRdkServices(t *testing.T) {
	configJSON, err := json.Marshal(map[string]interface{}{
		"ociVersion": "1.0.2",
		"process":    map[string]interface{}{"args": []string{"/bin/sh"}},
		"root":       map[string]interface{}{"path": "/bundles/c1/rootfs"},
	})
	require.NoError(t, err)

	_, _, err = CompileExistingBundle(configJSON, "c1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "drm")
}

func TestCompileExistingBundleRecoversLegacyPluginFields(t *testing.T) {
	configJSON, err := json.Marshal(map[string]interface{}{
		"ociVersion": "1.0.2",
		"process":    map[string]interface{}{"args": []string{"/bin/sh"}},
		"root":       map[string]interface{}{"path": "/bundles/c1/rootfs"},
		"legacyPlugins": map[string]interface{}{
			"logging": map[string]interface{}{
				"sink":        "file",
				"fileOptions": map[string]interface{}{"path": "/tmp/console.log", "limit": float64(4096)},
			},
			"ipc": map[string]interface{}{"system": "system", "session": "none", "debug": "none"},
			"gpu": map[string]interface{}{"enable": true, "memLimit": float64(1024)},
		},
	})
	require.NoError(t, err)

	vs := vendorSpecFromLegacyPlugins(map[string]map[string]interface{}{
		"logging": {"sink": "file", "fileOptions": map[string]interface{}{"path": "/tmp/console.log", "limit": float64(4096)}},
		"ipc":     {"system": "system", "session": "none", "debug": "none"},
		"gpu":     {"enable": true, "memLimit": float64(1024)},
	})
	require.Equal(t, "/tmp/console.log", vs.Console.Path)
	require.Equal(t, int64(4096), *vs.Console.Limit)
	require.Equal(t, "system", vs.DBus.System)
	require.True(t, vs.GPU.Enable)
	require.Equal(t, int64(1024), vs.GPU.MemLimit)

	// The reduced dispatch table still fails on drm/rdkServices regardless
	// of the recovered fields, so CompileExistingBundle itself still errors.
	_, _, err = CompileExistingBundle(configJSON, "c1")
	require.Error(t, err)
}
