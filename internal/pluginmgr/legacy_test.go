package pluginmgr

import (
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeLegacyPlugin is a hand-built LegacyPlugin for exercising
// LegacyManager.Dispatch without a real dlopen'd .so.
type fakeLegacyPlugin struct {
	name   string
	hints  HookHints
	result bool
	calls  int32
}

func (p *fakeLegacyPlugin) Name() string         { return p.name }
func (p *fakeLegacyPlugin) HookHints() HookHints { return p.hints }
func (p *fakeLegacyPlugin) record(data map[string]interface{}) bool {
	atomic.AddInt32(&p.calls, 1)
	return p.result
}
func (p *fakeLegacyPlugin) PostConstruction(data map[string]interface{}) bool { return p.record(data) }
func (p *fakeLegacyPlugin) PreStart(data map[string]interface{}) bool        { return p.record(data) }
func (p *fakeLegacyPlugin) PostStart(data map[string]interface{}) bool      { return p.record(data) }
func (p *fakeLegacyPlugin) PostStop(data map[string]interface{}) bool       { return p.record(data) }
func (p *fakeLegacyPlugin) PreDestruction(data map[string]interface{}) bool { return p.record(data) }

func TestDispatchRunsSyncPluginsAndAggregates(t *testing.T) {
	ok := &fakeLegacyPlugin{name: "networking", result: true}
	bad := &fakeLegacyPlugin{name: "storage", result: false}
	m := &LegacyManager{log: zerolog.Nop(), plugins: []LegacyPlugin{ok, bad}}

	result := m.Dispatch(PreStart, nil)
	require.False(t, result, "preStart aborts on any failed hook")
	require.EqualValues(t, 1, ok.calls)
	require.EqualValues(t, 1, bad.calls)
}

func TestDispatchNonAbortingPointSwallowsFailure(t *testing.T) {
	bad := &fakeLegacyPlugin{name: "storage", result: false}
	m := &LegacyManager{log: zerolog.Nop(), plugins: []LegacyPlugin{bad}}

	result := m.Dispatch(PostStop, nil)
	require.True(t, result, "postStop failures are logged, not aborting")
}

func TestDispatchAsyncPluginsAllRun(t *testing.T) {
	async1 := &fakeLegacyPlugin{name: "a", result: true, hints: hintBit(PostStart, Async)}
	async2 := &fakeLegacyPlugin{name: "b", result: true, hints: hintBit(PostStart, Async)}
	m := &LegacyManager{log: zerolog.Nop(), plugins: []LegacyPlugin{async1, async2}}

	require.True(t, m.Dispatch(PostStart, nil))
	require.EqualValues(t, 1, async1.calls)
	require.EqualValues(t, 1, async2.calls)
}

func TestDispatchPassesPerPluginData(t *testing.T) {
	var seen map[string]interface{}
	p := &capturingPlugin{fakeLegacyPlugin: fakeLegacyPlugin{name: "networking", result: true}, seen: &seen}
	m := &LegacyManager{log: zerolog.Nop(), plugins: []LegacyPlugin{p}}

	data := map[string]map[string]interface{}{
		"networking": {"mode": "nat"},
		"other":      {"mode": "open"},
	}
	m.Dispatch(PreStart, data)
	require.Equal(t, map[string]interface{}{"mode": "nat"}, seen)
}

type capturingPlugin struct {
	fakeLegacyPlugin
	seen *map[string]interface{}
}

func (p *capturingPlugin) PreStart(data map[string]interface{}) bool {
	*p.seen = data
	return p.result
}

func TestTruncateName(t *testing.T) {
	require.Equal(t, "short", truncateName("short"))
	require.Equal(t, "exactly15charsX", truncateName("exactly15charsX"))
	require.Equal(t, "this-name-is-wa", truncateName("this-name-is-way-too-long-for-a-thread"))
}

func TestDiscoverLegacyPluginsMissingDirIsNotAnError(t *testing.T) {
	m, err := DiscoverLegacyPlugins("/no/such/dir", nil, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, m.plugins)
}
