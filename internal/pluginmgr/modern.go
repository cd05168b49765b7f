package pluginmgr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

const (
	installSuccessMarker = "postinstallhooksuccess"
	configBackupName     = "config-dobby.json"
)

// ModernRunner invokes the modern-plugin hook points the manager calls
// directly: PostInstallation, PreCreation, PostHalt. The
// runtime-dispatched points (CreateRuntime..PostStop) are invoked by the
// OCI runtime itself via hook entries the config pipeline injects; this
// type is not involved in those.
type ModernRunner struct {
	BundlePath     string
	PluginLauncher string // path to the external plugin-launcher binary
	PostHaltTimeout time.Duration
	Log             zerolog.Logger
}

// RunPostInstallation invokes PostInstallation once per bundle, guarded
// by the postinstallhooksuccess marker. On failure it restores
// config.json from config-dobby.json before returning the error.
func (r *ModernRunner) RunPostInstallation(ctx context.Context) error {
	marker := filepath.Join(r.BundlePath, installSuccessMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil // already ran
	}

	configPath := filepath.Join(r.BundlePath, "config.json")
	backupPath := filepath.Join(r.BundlePath, configBackupName)
	if err := copyFile(configPath, backupPath); err != nil {
		return fmt.Errorf("failed to back up config.json before PostInstallation: %w", err)
	}

	if err := r.invoke(ctx, PostInstallation); err != nil {
		if restoreErr := copyFile(backupPath, configPath); restoreErr != nil {
			r.Log.Error().Err(restoreErr).Msg("failed to restore config.json after failed PostInstallation")
		}
		return fmt.Errorf("PostInstallation failed: %w", err)
	}

	f, err := os.Create(marker)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", installSuccessMarker, err)
	}
	return f.Close()
}

// RunPreCreation invokes PreCreation before the OCI runtime's create
// verb; a failure here must abort container creation.
func (r *ModernRunner) RunPreCreation(ctx context.Context) error {
	return r.invoke(ctx, PreCreation)
}

// RunPostHalt invokes PostHalt in a forked process (it cannot mutate the
// parent's config) with a bounded timeout, after the container has
// stopped.
func (r *ModernRunner) RunPostHalt(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, r.PostHaltTimeout)
	defer cancel()
	if err := r.invoke(ctx, PostHalt); err != nil {
		r.Log.Warn().Err(err).Msg("PostHalt failed")
		return err
	}
	return nil
}

func (r *ModernRunner) invoke(ctx context.Context, point ModernHookPoint) error {
	if r.PluginLauncher == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, r.PluginLauncher, point.String(), r.BundlePath)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("plugin launcher failed at %s: %w: %s", point, err, out)
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
