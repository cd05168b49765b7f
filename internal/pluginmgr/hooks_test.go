package pluginmgr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLegacyHookPointAborting(t *testing.T) {
	require.True(t, PostConstruction.aborting())
	require.True(t, PreStart.aborting())
	require.False(t, PostStart.aborting())
	require.False(t, PostStop.aborting())
	require.False(t, PreDestruction.aborting())
}

func TestHookHintsBitmask(t *testing.T) {
	var hh HookHints
	require.False(t, hh.has(PreStart, Sync))
	require.False(t, hh.has(PreStart, Async))

	hh |= hintBit(PreStart, Async)
	require.True(t, hh.has(PreStart, Async))
	require.False(t, hh.has(PreStart, Sync))
	require.False(t, hh.has(PostStart, Async), "hint bits are per hook point")
}

func TestRuntimeDispatchedPoints(t *testing.T) {
	require.True(t, runtimeDispatchedPoints[CreateRuntime])
	require.True(t, runtimeDispatchedPoints[StartContainer])
	require.False(t, runtimeDispatchedPoints[PostInstallation], "called directly by the manager, not runtime-dispatched")
	require.False(t, runtimeDispatchedPoints[PreCreation])
	require.False(t, runtimeDispatchedPoints[PostHalt])
}

func TestLegacyHookPointString(t *testing.T) {
	require.Equal(t, "postConstruction", PostConstruction.String())
	require.Equal(t, "preDestruction", PreDestruction.String())
}
