package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/rdkcentral/dobby"
	"github.com/rdkcentral/dobby/internal/bundlefs"
	"github.com/rdkcentral/dobby/internal/pluginmgr"
	"github.com/rdkcentral/dobby/internal/shared"
	"github.com/rdkcentral/dobby/internal/specpipeline"
	"github.com/rdkcentral/dobby/internal/supervisor"
)

// Engine is the daemon's composition root: it owns every shared service
// (address pool, metadata, device allowlist, timers), the container
// table and reaper, and drives one container from a vendor spec through
// to a live, running OCI container.
type Engine struct {
	Settings *Settings
	Log      zerolog.Logger

	Runtime   *dobby.Runtime
	Manager   *supervisor.Manager
	Reaper    *supervisor.Reaper
	Legacy    *pluginmgr.LegacyManager
	Addresses *shared.AddressPool
	Metadata  *shared.MetadataStore
	Devices   *shared.DeviceAllowlist
	Timers    *shared.TimerQueue

	bundles map[string]*bundlefs.Bundle
	rootfs  map[string]*bundlefs.Rootfs
}

// DefaultDevicePolicy is the static allowlist New always installs (no
// Settings field overrides it): the console pty multiplexer and
// /dev/null-style singletons every container needs regardless of
// GPU/VPU grants.
var DefaultDevicePolicy = [][2]int64{
	{1, 3},  // /dev/null
	{1, 5},  // /dev/zero
	{1, 8},  // /dev/random
	{1, 9},  // /dev/urandom
	{5, 0},  // /dev/tty
	{5, 2},  // /dev/ptmx
}

// New builds an Engine from settings. It does not start the reaper
// loop; call Run for that.
func New(settings *Settings, toolPath string, log zerolog.Logger) (*Engine, error) {
	rt := dobby.NewRuntime(toolPath, settings.RuntimeRoot, settings.LibexecDir, log.With().Str("component", "runtime").Logger())
	if err := rt.Init(); err != nil {
		return nil, err
	}
	rt.ConsoleSocketPath = settings.ConsoleSocketPath

	addrPool, err := shared.NewAddressPool(settings.NetworkAddressRange, log.With().Str("component", "ipam").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to build address pool: %w", err)
	}

	devices := shared.NewDeviceAllowlist(DefaultDevicePolicy)
	specpipeline.SetDeviceAllowlist(devices)
	specpipeline.SetDriverMajorResolver(devices.ResolveDriverMajor)
	specpipeline.SetGPUPolicy(hardwareAccessPolicy(settings.GPU))
	specpipeline.SetVPUPolicy(hardwareAccessPolicy(settings.VPU))
	specpipeline.SetSettingsExtraEnv(settings.ExtraEnv)

	metadata := shared.NewMetadataStore()
	timers := shared.NewTimerQueue()
	utils := shared.NewUtils(addrPool, metadata, devices, timers)

	legacy, err := pluginmgr.DiscoverLegacyPlugins(settings.PluginDir, settings, utils, log.With().Str("component", "legacyplugins").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to discover legacy plugins: %w", err)
	}

	mgr := supervisor.NewManager(rt, log.With().Str("component", "manager").Logger())

	e := &Engine{
		Settings:  settings,
		Log:       log,
		Runtime:   rt,
		Manager:   mgr,
		Legacy:    legacy,
		Addresses: addrPool,
		Metadata:  metadata,
		Devices:   devices,
		Timers:    timers,
		bundles:   make(map[string]*bundlefs.Bundle),
		rootfs:    make(map[string]*bundlefs.Rootfs),
	}

	reaper := supervisor.NewReaper(mgr, rt, log.With().Str("component", "reaper").Logger())
	reaper.Legacy = legacy
	reaper.ContainerStopped = e.onContainerStopped
	reaper.ContainerStarted = e.onContainerStarted
	e.Reaper = reaper

	return e, nil
}

// Run starts the reaper loop; it blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.Reaper.Run(ctx)
}

// StartContainer runs the full create path for a single container: the
// configuration pipeline compiles specJSON into an OCI config, bundlefs
// builds the bundle and rootfs, the modern PostInstallation/PreCreation
// hooks run, and the runtime driver forks and starts the container.
func (e *Engine) StartContainer(ctx context.Context, containerID string, specJSON []byte) (int, error) {
	hookLauncher := filepath.Join(e.Settings.LibexecDir, "dobby-hook")

	bundle, err := bundlefs.NewWorkspaceBundle(e.Settings.WorkspaceDir, containerID, e.Log)
	if err != nil {
		return 0, dobby.NewSystemFailure(err)
	}

	rootfsPath := filepath.Join(bundle.Path(), "rootfs")
	rc, ociSpec, err := specpipeline.CompileSpec(specJSON)
	if err != nil {
		bundle.Close()
		return 0, err
	}
	rc.RootfsPath = rootfsPath
	rc.ContainerID = containerID
	rc.HookLauncherPath = hookLauncher
	ociSpec, err = rc.ToOCISpec()
	if err != nil {
		bundle.Close()
		return 0, fmt.Errorf("failed to expand resolved config to an OCI spec: %w", err)
	}

	rfs, err := bundlefs.NewSpecRootfs(bundle, rc, e.Log)
	if err != nil {
		bundle.Close()
		return 0, dobby.NewSystemFailure(err)
	}

	if err := writeConfigJSON(bundle.Path(), rc, ociSpec); err != nil {
		rfs.Close()
		bundle.Close()
		return 0, dobby.NewSystemFailure(err)
	}

	runner := &pluginmgr.ModernRunner{
		BundlePath:      bundle.Path(),
		PluginLauncher:  hookLauncher,
		PostHaltTimeout: e.Runtime.Timeouts.PostHalt,
		Log:             e.Log,
	}
	if err := runner.RunPostInstallation(ctx); err != nil {
		rfs.Close()
		bundle.Close()
		return 0, dobby.NewPluginFailure(err)
	}
	if !e.Legacy.Dispatch(pluginmgr.PostConstruction, legacyDataFor(rc)) {
		rfs.Close()
		bundle.Close()
		return 0, dobby.NewPluginFailure(fmt.Errorf("postConstruction hook vetoed container creation"))
	}
	if err := runner.RunPreCreation(ctx); err != nil {
		rfs.Close()
		bundle.Close()
		return 0, dobby.NewPluginFailure(err)
	}
	if !e.Legacy.Dispatch(pluginmgr.PreStart, legacyDataFor(rc)) {
		rfs.Close()
		bundle.Close()
		return 0, dobby.NewPluginFailure(fmt.Errorf("preStart hook vetoed container creation"))
	}

	cfg := &dobby.ContainerConfig{
		ContainerID:   containerID,
		BundlePath:    bundle.Path(),
		Spec:          ociSpec,
		ConsoleSocket: e.Settings.ConsoleSocketPath,
	}

	desc, err := e.Manager.Start(ctx, cfg)
	if err != nil {
		rfs.Close()
		bundle.Close()
		return 0, err
	}

	e.bundles[containerID] = bundle
	e.rootfs[containerID] = rfs

	e.Legacy.Dispatch(pluginmgr.PostStart, legacyDataFor(rc))
	return desc, nil
}

// StartContainerFromBundle runs the bundle-origin create path: the
// caller supplies an already-on-disk OCI bundle directory (its
// config.json's own legacyPlugins/rdkPlugins sections are re-processed,
// not a freshly supplied vendor spec), and the bundle is never deleted
// by this engine since it doesn't own it.
func (e *Engine) StartContainerFromBundle(ctx context.Context, containerID, bundlePath string) (int, error) {
	configJSON, err := os.ReadFile(filepath.Join(bundlePath, dobby.BundleConfigFile))
	if err != nil {
		return 0, dobby.NewSystemFailure(err)
	}

	rc, ociSpec, err := specpipeline.CompileExistingBundle(configJSON, containerID)
	if err != nil {
		return 0, err
	}
	rc.HookLauncherPath = filepath.Join(e.Settings.LibexecDir, "dobby-hook")

	bundle, err := bundlefs.NewPersistentBundle(bundlePath, e.Log)
	if err != nil {
		return 0, dobby.NewSystemFailure(err)
	}

	runner := &pluginmgr.ModernRunner{
		BundlePath:      bundle.Path(),
		PluginLauncher:  rc.HookLauncherPath,
		PostHaltTimeout: e.Runtime.Timeouts.PostHalt,
		Log:             e.Log,
	}
	if err := runner.RunPostInstallation(ctx); err != nil {
		bundle.Close()
		return 0, dobby.NewPluginFailure(err)
	}
	if !e.Legacy.Dispatch(pluginmgr.PostConstruction, legacyDataFor(rc)) {
		bundle.Close()
		return 0, dobby.NewPluginFailure(fmt.Errorf("postConstruction hook vetoed container creation"))
	}
	if err := runner.RunPreCreation(ctx); err != nil {
		bundle.Close()
		return 0, dobby.NewPluginFailure(err)
	}
	if !e.Legacy.Dispatch(pluginmgr.PreStart, legacyDataFor(rc)) {
		bundle.Close()
		return 0, dobby.NewPluginFailure(fmt.Errorf("preStart hook vetoed container creation"))
	}

	cfg := &dobby.ContainerConfig{
		ContainerID:   containerID,
		BundlePath:    bundle.Path(),
		Spec:          ociSpec,
		ConsoleSocket: e.Settings.ConsoleSocketPath,
	}

	desc, err := e.Manager.Start(ctx, cfg)
	if err != nil {
		bundle.Close()
		return 0, err
	}

	e.bundles[containerID] = bundle
	e.Legacy.Dispatch(pluginmgr.PostStart, legacyDataFor(rc))
	return desc, nil
}

// StopContainer signals a container by descriptor. The actual teardown
// (PostHalt, preDestruction, bundle cleanup) happens once the reaper
// confirms the process has exited, via onContainerStopped -- the same
// path a crash-triggered exit takes, so hook ordering is identical
// regardless of what triggered the stop.
func (e *Engine) StopContainer(ctx context.Context, descriptor int, withPrejudice bool) error {
	return e.Manager.Stop(ctx, descriptor, withPrejudice)
}

func (e *Engine) PauseContainer(ctx context.Context, descriptor int) error {
	return e.Manager.Pause(ctx, descriptor)
}

func (e *Engine) ResumeContainer(ctx context.Context, descriptor int) error {
	return e.Manager.Resume(ctx, descriptor)
}

func (e *Engine) ContainerIDs() []string {
	return e.Manager.ContainerIDs()
}

// onContainerStopped runs the shared post-exit hook sequence: PostStop
// has already been dispatched by the reaper before this callback fires.
// PostHalt, preDestruction, and bundle teardown follow regardless of
// whether the exit was a crash or a user-initiated stop.
func (e *Engine) onContainerStopped(c *dobby.Container) {
	id := c.ContainerID
	runner := &pluginmgr.ModernRunner{
		BundlePath:      e.bundlePath(id),
		PluginLauncher:  filepath.Join(e.Settings.LibexecDir, "dobby-hook"),
		PostHaltTimeout: e.Runtime.Timeouts.PostHalt,
		Log:             e.Log,
	}
	runner.RunPostHalt(context.Background())

	e.Legacy.Dispatch(pluginmgr.PreDestruction, nil)
	e.teardown(id)
}

func (e *Engine) onContainerStarted(c *dobby.Container) {
	e.Legacy.Dispatch(pluginmgr.PostStart, nil)
}

func (e *Engine) teardown(id string) {
	e.Metadata.ClearContainerMetaData(id)
	if rfs, ok := e.rootfs[id]; ok {
		rfs.Close()
		delete(e.rootfs, id)
	}
	if b, ok := e.bundles[id]; ok {
		b.Close()
		delete(e.bundles, id)
	}
}

func (e *Engine) bundlePath(id string) string {
	if b, ok := e.bundles[id]; ok {
		return b.Path()
	}
	return ""
}

func legacyDataFor(rc *specpipeline.ResolvedConfig) map[string]map[string]interface{} {
	return rc.LegacyPlugins
}

// hardwareAccessPolicy converts a settings document's GPU/VPU grant into
// the pipeline's own policy type, so specpipeline doesn't need to import
// the engine package back.
func hardwareAccessPolicy(s HardwareAccessSettings) specpipeline.HardwareAccessPolicy {
	mounts := make([]specpipeline.DeclaredMount, 0, len(s.ExtraMounts))
	for _, m := range s.ExtraMounts {
		mounts = append(mounts, specpipeline.DeclaredMount{
			Kind:        specpipeline.MountDirectory,
			Destination: m.Destination,
			Source:      m.Source,
			FSType:      m.Type,
			Options:     m.Options,
		})
	}
	return specpipeline.HardwareAccessPolicy{
		DeviceGlobs:       s.DeviceGlobs,
		SupplementaryGIDs: s.SupplementaryGIDs,
		ExtraMounts:       mounts,
	}
}

func writeConfigJSON(bundlePath string, rc *specpipeline.ResolvedConfig, spec *specs.Spec) error {
	data, err := rc.MarshalRDKPluginsConfig(spec)
	if err != nil {
		return fmt.Errorf("failed to marshal config.json: %w", err)
	}
	return os.WriteFile(filepath.Join(bundlePath, dobby.BundleConfigFile), data, 0644)
}
