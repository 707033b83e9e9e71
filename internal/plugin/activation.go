package plugin

import "fmt"

// CommandSegment is one `--` delimited slice of the command line, e.g.
// `repostats scan dump --json -- output --compact`
// splits into segments {"dump", [--json]} and {"output",
// [--compact]} (spec §4.5, §6.4).
type CommandSegment struct {
	CommandName string
	Args        []string
}

// PluginNotFoundError is returned by Activator.ProcessSegments when a
// command segment matches no known plugin name, alias, or function
// (spec §4.5, §7).
type PluginNotFoundError struct{ Name string }

func (e *PluginNotFoundError) Error() string {
	return fmt.Sprintf("plugin: no plugin matches command %q", e.Name)
}

// Activator resolves command segments against a known-plugin set,
// producing the map of plugin name to its activation arguments (spec
// §4.5, ported from original_source/src/plugin/activation.rs's
// `PluginActivator`).
type Activator struct {
	available map[string]Info
}

// NewActivator constructs an Activator over the given available plugin
// set, keyed by plugin name.
func NewActivator(available map[string]Info) *Activator {
	cp := make(map[string]Info, len(available))
	for k, v := range available {
		cp[k] = v
	}
	return &Activator{available: cp}
}

// MatchSegment reports whether segment names pluginName directly, or
// one of its advertised functions (by name or alias), returning the
// matched name.
func (a *Activator) MatchSegment(pluginName string, segment CommandSegment) (string, bool) {
	if pluginName == segment.CommandName {
		return pluginName, true
	}
	info, ok := a.available[pluginName]
	if !ok {
		return "", false
	}
	for _, fn := range info.Functions {
		if fn.Name == segment.CommandName {
			return fn.Name, true
		}
		for _, alias := range fn.Aliases {
			if alias == segment.CommandName {
				return fn.Name, true
			}
		}
	}
	return "", false
}

// ProcessSegments matches every segment against the available plugin
// set, applies auto-activation for plugins not explicitly matched, and
// enforces "last Output wins" among Output-type plugins (spec §4.5).
// Any segment matching no plugin returns a *PluginNotFoundError naming
// the first unmatched command.
func (a *Activator) ProcessSegments(segments []CommandSegment) (map[string][]string, error) {
	toActivate := make(map[string][]string)
	var activeOutputPlugin string
	var activeOutputArgs []string
	haveActiveOutput := false

	// Segments are processed in command-line order so that, among
	// multiple Output-type matches, the LAST one overwrites any earlier
	// candidate (spec §4.5 step 4, "Last Output wins").
	for _, segment := range segments {
		matchedPlugin := ""
		for pluginName := range a.available {
			if _, ok := a.MatchSegment(pluginName, segment); ok {
				matchedPlugin = pluginName
				break
			}
		}
		if matchedPlugin == "" {
			return nil, &PluginNotFoundError{Name: segment.CommandName}
		}
		info := a.available[matchedPlugin]
		if info.Type == TypeOutput {
			activeOutputPlugin = matchedPlugin
			activeOutputArgs = segment.Args
			haveActiveOutput = true
		} else {
			toActivate[matchedPlugin] = segment.Args
		}
	}

	// Auto-active plugins not already chosen are added with default
	// args; an auto-active Output plugin becomes the candidate only if
	// no explicit Output candidate was matched above (spec §4.5 step 3).
	for pluginName, info := range a.available {
		if !info.AutoActive {
			continue
		}
		if info.Type == TypeOutput {
			if !haveActiveOutput {
				activeOutputPlugin = pluginName
				activeOutputArgs = []string{pluginName}
				haveActiveOutput = true
			}
			continue
		}
		if _, already := toActivate[pluginName]; !already {
			toActivate[pluginName] = nil
		}
	}

	if haveActiveOutput {
		args := activeOutputArgs
		if args == nil {
			args = []string{activeOutputPlugin}
		}
		toActivate[activeOutputPlugin] = args
	}

	return toActivate, nil
}
