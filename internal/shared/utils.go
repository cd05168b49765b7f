package shared

// Utils bundles the cross-cutting services a legacy plugin's factory
// function receives as its "utils" argument, mirroring the original
// daemon's IDobbyUtils_v1 interface: IP allocation, per-container
// metadata, the device allowlist, a timer queue and callInNamespace,
// all behind one handle instead of one dlopen symbol per service.
type Utils struct {
	Addresses *AddressPool
	Metadata  *MetadataStore
	Devices   *DeviceAllowlist
	Timers    *TimerQueue
}

// NewUtils bundles already-constructed services for handoff to
// pluginmgr.DiscoverLegacyPlugins.
func NewUtils(addresses *AddressPool, metadata *MetadataStore, devices *DeviceAllowlist, timers *TimerQueue) *Utils {
	return &Utils{Addresses: addresses, Metadata: metadata, Devices: devices, Timers: timers}
}

// CallInNamespace runs fn inside the namespace of type nsType belonging
// to pid, on a dedicated locked thread. See CallInNamespace for the
// mechanism; this is the method legacy plugins actually call through
// their utils handle.
func (u *Utils) CallInNamespace(pid int, nsType string, fn func() error) error {
	return CallInNamespace(pid, nsType, fn)
}
