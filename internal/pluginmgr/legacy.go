package pluginmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sync"

	"github.com/rs/zerolog"
)

// LegacyPlugin is the capability surface a dynamically-loaded plugin
// object exposes. preStart/postStart/postStop/preDestruction take the
// plugin-specific data blob the config pipeline recorded for this
// plugin's name.
type LegacyPlugin interface {
	Name() string
	HookHints() HookHints
	PostConstruction(data map[string]interface{}) bool
	PreStart(data map[string]interface{}) bool
	PostStart(data map[string]interface{}) bool
	PostStop(data map[string]interface{}) bool
	PreDestruction(data map[string]interface{}) bool
}

// pluginFactory is the symbol every legacy plugin .so must export.
type pluginFactory func(env, utils interface{}) (LegacyPlugin, error)

const factorySymbol = "NewDobbyPlugin"

// LegacyManager discovers and dispatches legacy plugins. Plugins run in
// the order DiscoverLegacyPlugins loaded them, which is the file-name
// order of the plugin directory; the order plugins are declared in the
// vendor spec is not consulted.
type LegacyManager struct {
	log     zerolog.Logger
	plugins []LegacyPlugin
}

// DiscoverLegacyPlugins scans dir for executable regular files (symlinks
// are followed) and resolves the factory symbol from each.
func DiscoverLegacyPlugins(dir string, env, utils interface{}, log zerolog.Logger) (*LegacyManager, error) {
	m := &LegacyManager{log: log}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to read plugin dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path) // follows symlinks
		if err != nil || !info.Mode().IsRegular() || info.Mode()&0111 == 0 {
			continue
		}
		p, err := loadLegacyPlugin(path, env, utils)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to load legacy plugin")
			continue
		}
		m.plugins = append(m.plugins, p)
	}
	return m, nil
}

func loadLegacyPlugin(path string, env, utils interface{}) (LegacyPlugin, error) {
	lib, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to dlopen %s: %w", path, err)
	}
	sym, err := lib.Lookup(factorySymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin %s does not export %s: %w", path, factorySymbol, err)
	}
	factory, ok := sym.(func(interface{}, interface{}) (LegacyPlugin, error))
	if !ok {
		return nil, fmt.Errorf("plugin %s exports %s with the wrong signature", path, factorySymbol)
	}
	return factory(env, utils)
}

// hookResult pairs a plugin with its hook's outcome for dispatch-order
// aware aggregation.
type hookResult struct {
	name string
	ok   bool
}

// Dispatch runs every registered plugin's hook for the given point,
// sync plugins in declared order followed by async plugins' completion
// order, and returns false if any plugin's hook returned false. A false
// result at an aborting hook point is the caller's signal to unwind
// container creation; at non-aborting points it is logged only.
func (m *LegacyManager) Dispatch(point LegacyHookPoint, pluginData map[string]map[string]interface{}) bool {
	var syncResults []hookResult
	var wg sync.WaitGroup
	var mu sync.Mutex
	var asyncResults []hookResult

	for _, p := range m.plugins {
		data := pluginData[p.Name()]
		hints := p.HookHints()
		fn := hookFunc(p, point)
		if fn == nil {
			continue
		}

		if hints.has(point, Async) {
			wg.Add(1)
			taskName := truncateName(p.Name())
			go func(p LegacyPlugin, fn func(map[string]interface{}) bool) {
				defer wg.Done()
				ok := fn(data)
				mu.Lock()
				asyncResults = append(asyncResults, hookResult{name: taskName, ok: ok})
				mu.Unlock()
			}(p, fn)
		} else {
			syncResults = append(syncResults, hookResult{name: p.Name(), ok: fn(data)})
		}
	}

	wg.Wait()

	overall := true
	for _, r := range append(syncResults, asyncResults...) {
		if !r.ok {
			overall = false
			m.log.Warn().Str("plugin", r.name).Str("hook", point.String()).Msg("hook returned false")
		}
	}

	if !overall && !point.aborting() {
		m.log.Warn().Str("hook", point.String()).Msg("non-aborting hook failed, continuing")
		return true
	}
	return overall
}

// truncateName matches the original dispatcher's worker-thread naming
// limit.
func truncateName(name string) string {
	const maxLen = 15
	if len(name) <= maxLen {
		return name
	}
	return name[:maxLen]
}

func hookFunc(p LegacyPlugin, point LegacyHookPoint) func(map[string]interface{}) bool {
	switch point {
	case PostConstruction:
		return p.PostConstruction
	case PreStart:
		return p.PreStart
	case PostStart:
		return p.PostStart
	case PostStop:
		return p.PostStop
	case PreDestruction:
		return p.PreDestruction
	default:
		return nil
	}
}
