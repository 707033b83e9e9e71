package plugin

import (
	"fmt"
	"sort"
	"sync"
)

// AlreadyRegisteredError is returned by Register when name is already
// present (spec §4.4, ported from original_source/src/plugin/
// registry.rs's generic "already registered" error).
type AlreadyRegisteredError struct{ Name string }

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("plugin: %q is already registered", e.Name)
}

// Registry is a thread-safe store of registered plugins, tracking which
// are currently active (spec §4.4, ported from
// original_source/src/plugin/registry.rs's `PluginRegistry`).
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	active  map[string]bool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin), active: make(map[string]bool)}
}

// Register adds plugin under its own PluginInfo().Name. Duplicate
// names are rejected (spec §4.4).
func (r *Registry) Register(p Plugin) error {
	name := p.PluginInfo().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return &AlreadyRegisteredError{Name: name}
	}
	r.plugins[name] = p
	return nil
}

// RegisterConsumer registers a Consumer-capable plugin. The original
// kept a separate consumer_plugins map; here Consumer already embeds
// Plugin, so one map suffices and Get's type assertion distinguishes
// capability.
func (r *Registry) RegisterConsumer(p Consumer) error {
	return r.Register(p)
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// HasPlugin reports whether name is registered.
func (r *Registry) HasPlugin(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[name]
	return ok
}

// PluginCount returns the number of registered plugins.
func (r *Registry) PluginCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// PluginNames returns every registered plugin name, sorted.
func (r *Registry) PluginNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActivatePlugin marks name active. Activating an Output-type plugin
// deactivates whichever Output-type plugin is currently active — at
// most one Output plugin is ever active at once (spec §4.4's Output
// uniqueness constraint; spec §8 scenario 3: "activate o1; activate o2"
// leaves only o2 active, not an error).
func (r *Registry) ActivatePlugin(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.plugins[name]
	if !ok {
		return &PluginNotFoundError{Name: name}
	}
	if p.PluginInfo().Type == TypeOutput {
		for active := range r.active {
			if active == name {
				continue
			}
			if other, ok := r.plugins[active]; ok && other.PluginInfo().Type == TypeOutput {
				delete(r.active, active)
			}
		}
	}
	r.active[name] = true
	return nil
}

// DeactivatePlugin marks name inactive.
func (r *Registry) DeactivatePlugin(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; !ok {
		return &PluginNotFoundError{Name: name}
	}
	delete(r.active, name)
	return nil
}

// IsPluginActive reports whether name is currently active.
func (r *Registry) IsPluginActive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[name]
}

// GetActivePlugins returns every currently active plugin name, sorted.
func (r *Registry) GetActivePlugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClearActivePlugins deactivates every plugin.
func (r *Registry) ClearActivePlugins() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[string]bool)
}
