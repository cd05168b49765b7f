package shared

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestUtilsCallInNamespaceRunsInCurrentProcess(t *testing.T) {
	u := NewUtils(nil, NewMetadataStore(), NewDeviceAllowlist(nil), NewTimerQueue())

	var ranFn bool
	err := u.CallInNamespace(os.Getpid(), "mnt", func() error {
		ranFn = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ranFn)
}

func TestUtilsBundlesServices(t *testing.T) {
	addresses, err := NewAddressPool("172.20.0.0/24", zerolog.Nop())
	require.NoError(t, err)
	metadata := NewMetadataStore()
	devices := NewDeviceAllowlist([][2]int64{{1, 3}})
	timers := NewTimerQueue()

	u := NewUtils(addresses, metadata, devices, timers)
	require.Same(t, addresses, u.Addresses)
	require.Same(t, metadata, u.Metadata)
	require.Same(t, devices, u.Devices)
	require.Same(t, timers, u.Timers)
}
