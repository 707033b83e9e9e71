package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"gopkg.in/yaml.v3"
)

// BuiltinFactory constructs a fresh Plugin instance. Built-in plugins
// register one of these from their own init() (spec §9's design note,
// ported from original_source/src/plugin/builtin/api.rs's compile-time
// inventory pattern; Go has no `inventory` crate, so a package-level
// map, plus a slice recording registration order, populated by init()
// stands in for it).
type BuiltinFactory func() Plugin

var builtinFactories = map[string]BuiltinFactory{}
var builtinOrder []string

// RegisterBuiltin is called from a built-in plugin's own init() to
// register its factory under name. Panics on duplicate registration
// since this only ever runs at program startup, before any Registry
// exists to report the error through.
func RegisterBuiltin(name string, factory BuiltinFactory) {
	if _, exists := builtinFactories[name]; exists {
		panic(fmt.Sprintf("plugin: builtin %q registered twice", name))
	}
	builtinFactories[name] = factory
	builtinOrder = append(builtinOrder, name)
}

// Manifest is the YAML shape an external plugin directory must provide
// alongside its loadable module (spec §6.3).
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Description string   `yaml:"description"`
	Author      string   `yaml:"author"`
	APIVersion  int      `yaml:"api_version"`
	Type        string   `yaml:"type"`
	Entrypoint  string   `yaml:"entrypoint"`
	Functions   []string `yaml:"functions"`
}

// Loader turns a parsed Manifest plus its directory into a runnable
// Plugin. Left as an interface only: the spec leaves the external
// loading mechanism (subprocess, plugin.Open, RPC) as an open question,
// and no SPEC_FULL.md operation requires a concrete implementation
// beyond the manifest-scanning contract below.
type Loader interface {
	Load(dir string, m Manifest) (Plugin, error)
}

// CompatibilityResult classifies a plugin's declared APIVersion against
// the running system's, richer than a bare bool (ported from
// original_source/src/plugin/registry.rs's PluginApiVersion gate).
type CompatibilityResult int

const (
	Compatible CompatibilityResult = iota
	Deprecated
	Incompatible
)

func (c CompatibilityResult) String() string {
	switch c {
	case Compatible:
		return "compatible"
	case Deprecated:
		return "deprecated"
	default:
		return "incompatible"
	}
}

// CheckCompatibility reports how a plugin declaring pluginAPIVersion
// relates to systemAPIVersion: older-but-still-loadable manifests are
// Deprecated rather than silently Compatible or hard-rejected.
func CheckCompatibility(systemAPIVersion, pluginAPIVersion int) CompatibilityResult {
	switch {
	case pluginAPIVersion == systemAPIVersion:
		return Compatible
	case pluginAPIVersion > 0 && pluginAPIVersion < systemAPIVersion:
		return Deprecated
	default:
		return Incompatible
	}
}

// DefaultSearchPaths returns the three external plugin directories
// defined by §6.4, in override order: XDG/platform config dir, the
// platform user-config fallback, then ./plugins in the working
// directory. Only directories that actually exist are returned,
// matching original_source/src/plugin/discovery.rs's
// get_default_plugin_paths.
func DefaultSearchPaths() []string {
	var paths []string

	if cfgDir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(cfgDir, "repostats", "plugins")
		if dirExists(candidate) {
			paths = append(paths, candidate)
		}
	}

	if runtime.GOOS != "windows" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".config", "repostats", "plugins")
			if dirExists(candidate) && !contains(paths, candidate) {
				paths = append(paths, candidate)
			}
		}
	}

	if dirExists("plugins") {
		paths = append(paths, "plugins")
	}

	return paths
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// DiscoveredManifest pairs a parsed Manifest with the directory it was
// found in, ready for a Loader to turn into a running Plugin.
type DiscoveredManifest struct {
	Dir      string
	Manifest Manifest
}

// DiscoverExternalManifests walks searchPaths in order and parses every
// "manifest.yaml" found directly beneath them (spec §6.3/§6.4). It does
// not load any plugin module — callers pass the result to a Loader.
func DiscoverExternalManifests(searchPaths []string) ([]DiscoveredManifest, error) {
	var found []DiscoveredManifest
	for _, root := range searchPaths {
		entries, err := os.ReadDir(root)
		if err != nil {
			continue
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			dir := filepath.Join(root, name)
			manifestPath := filepath.Join(dir, "manifest.yaml")
			data, err := os.ReadFile(manifestPath)
			if err != nil {
				continue
			}
			var m Manifest
			if err := yaml.Unmarshal(data, &m); err != nil {
				return nil, fmt.Errorf("plugin: parsing manifest %s: %w", manifestPath, err)
			}
			found = append(found, DiscoveredManifest{Dir: dir, Manifest: m})
		}
	}
	return found, nil
}

// DiscoverBuiltins returns every plugin registered via RegisterBuiltin,
// in registration order, instantiated fresh via its factory.
func DiscoverBuiltins() []Plugin {
	plugins := make([]Plugin, 0, len(builtinOrder))
	for _, name := range builtinOrder {
		plugins = append(plugins, builtinFactories[name]())
	}
	return plugins
}

// Discover unions built-ins with external manifests resolved through
// loader, built-ins first so that a same-named external manifest
// overrides its built-in counterpart in the returned Registry (spec
// §4.4's union-with-override rule). Manifests that are Incompatible
// with systemAPIVersion are skipped; Deprecated ones are loaded but
// reported back in the warnings slice.
func Discover(systemAPIVersion int, searchPaths []string, loader Loader) (*Registry, []string, error) {
	reg := NewRegistry()
	var warnings []string

	for _, p := range DiscoverBuiltins() {
		if err := reg.Register(p); err != nil {
			return nil, warnings, err
		}
	}

	if loader == nil {
		return reg, warnings, nil
	}

	manifests, err := DiscoverExternalManifests(searchPaths)
	if err != nil {
		return nil, warnings, err
	}

	for _, dm := range manifests {
		switch CheckCompatibility(systemAPIVersion, dm.Manifest.APIVersion) {
		case Incompatible:
			warnings = append(warnings, fmt.Sprintf("plugin %q: incompatible api_version %d, skipped", dm.Manifest.Name, dm.Manifest.APIVersion))
			continue
		case Deprecated:
			warnings = append(warnings, fmt.Sprintf("plugin %q: deprecated api_version %d, loading anyway", dm.Manifest.Name, dm.Manifest.APIVersion))
		}

		p, err := loader.Load(dm.Dir, dm.Manifest)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("plugin %q: load failed: %v", dm.Manifest.Name, err))
			continue
		}

		if reg.HasPlugin(dm.Manifest.Name) {
			delete(reg.plugins, dm.Manifest.Name)
		}
		if err := reg.Register(p); err != nil {
			return nil, warnings, err
		}
	}

	return reg, warnings, nil
}
