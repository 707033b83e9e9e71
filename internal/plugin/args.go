package plugin

import (
	"flag"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// PluginConfig is the configuration context passed to a plugin during
// argument parsing (spec §4.5, ported from
// original_source/src/plugin/args.rs's `PluginConfig`). UseColors is
// resolved once at the global level; TOMLConfig holds the plugin's own
// section of the core config file, decoded with BurntSushi/toml since
// core config itself is YAML (spec's own ambient choice) but per-plugin
// sections are free-form TOML tables in the original implementation.
type PluginConfig struct {
	UseColors  bool
	TOMLConfig map[string]toml.Primitive
	decoder    *toml.MetaData
}

// NewPluginConfigFromTOML builds a PluginConfig from a raw TOML
// document fragment (one plugin's configuration section).
func NewPluginConfigFromTOML(useColors bool, raw string) (*PluginConfig, error) {
	var table map[string]toml.Primitive
	meta, err := toml.Decode(raw, &table)
	if err != nil {
		return nil, fmt.Errorf("plugin: decoding TOML config: %w", err)
	}
	return &PluginConfig{UseColors: useColors, TOMLConfig: table, decoder: &meta}, nil
}

// DefaultPluginConfig returns the zero-value configuration (no colors,
// no per-plugin TOML section).
func DefaultPluginConfig() *PluginConfig {
	return &PluginConfig{TOMLConfig: map[string]toml.Primitive{}}
}

// GetString returns the string value for key, or def if absent or of
// the wrong type.
func (c *PluginConfig) GetString(key, def string) string {
	prim, ok := c.TOMLConfig[key]
	if !ok || c.decoder == nil {
		return def
	}
	var s string
	if err := c.decoder.PrimitiveDecode(prim, &s); err != nil {
		return def
	}
	return s
}

// GetBool returns the boolean value for key, or def if absent or of
// the wrong type.
func (c *PluginConfig) GetBool(key string, def bool) bool {
	prim, ok := c.TOMLConfig[key]
	if !ok || c.decoder == nil {
		return def
	}
	var b bool
	if err := c.decoder.PrimitiveDecode(prim, &b); err != nil {
		return def
	}
	return b
}

// HelpRequestedError is returned by ParsePluginArguments instead of a
// fatal error when the plugin's argument set includes -h/--help: the
// caller should print FormattedHelp and treat the run as a
// non-error, early exit (spec §9 "help-as-error", ported from
// original_source/src/plugin/args.rs's ArgParseResult::Help variant).
type HelpRequestedError struct {
	PluginName     string
	FormattedHelp  string
}

func (e *HelpRequestedError) Error() string {
	return fmt.Sprintf("plugin %q: help requested", e.PluginName)
}

// ArgParser is a small flag.FlagSet wrapper giving every plugin a
// consistent --help/--json/--text/--compact surface (spec §4.5),
// grounded on original_source/src/plugin/args.rs's `PluginArgParser`
// and `create_format_args`. Go's flag package has no clap-style
// conflicting-flag groups, so ArgParser.ResolveFormat applies a fixed
// precedence explicitly instead: --json, then --compact, then --text,
// then the TOML default_format, then text.
type ArgParser struct {
	fs          *flag.FlagSet
	pluginName  string
	description string
	json        bool
	text        bool
	compact     bool
}

// NewArgParser constructs a parser for a plugin named pluginName.
func NewArgParser(pluginName, description string) *ArgParser {
	fs := flag.NewFlagSet(pluginName, flag.ContinueOnError)
	p := &ArgParser{fs: fs, pluginName: pluginName, description: description}
	fs.BoolVar(&p.json, "json", false, "output in JSON format")
	fs.BoolVar(&p.text, "text", false, "output in human-readable text format (default)")
	fs.BoolVar(&p.compact, "compact", false, "output in compact single-line format")
	return p
}

// FlagSet exposes the underlying *flag.FlagSet so plugin-specific
// arguments can be registered before Parse.
func (p *ArgParser) FlagSet() *flag.FlagSet { return p.fs }

// Parse parses args, returning *HelpRequestedError if -h/--help was
// requested rather than a fatal error.
func (p *ArgParser) Parse(args []string) error {
	var help bool
	p.fs.BoolVar(&help, "help", false, "show help information")
	if err := p.fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			var b strings.Builder
			fmt.Fprintf(&b, "%s: %s\n\n", p.pluginName, p.description)
			p.fs.SetOutput(&b)
			p.fs.Usage()
			return &HelpRequestedError{PluginName: p.pluginName, FormattedHelp: b.String()}
		}
		return fmt.Errorf("plugin %q: parsing arguments: %w", p.pluginName, err)
	}
	if help {
		var b strings.Builder
		fmt.Fprintf(&b, "%s: %s\n\n", p.pluginName, p.description)
		p.fs.SetOutput(&b)
		p.fs.Usage()
		return &HelpRequestedError{PluginName: p.pluginName, FormattedHelp: b.String()}
	}
	return nil
}

// OutputFormat mirrors original_source/src/plugin/args.rs's
// `OutputFormat` enum (spec §4.5's "standard format flags").
type OutputFormat int

const (
	FormatText OutputFormat = iota
	FormatJSON
	FormatCompact
)

func (f OutputFormat) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCompact:
		return "compact"
	default:
		return "text"
	}
}

// ResolveFormat applies the same precedence as
// original_source/src/plugin/args.rs's determine_format: explicit flags
// first, then the TOML config's default_format, then text.
func (p *ArgParser) ResolveFormat(cfg *PluginConfig) OutputFormat {
	switch {
	case p.json:
		return FormatJSON
	case p.compact:
		return FormatCompact
	case p.text:
		return FormatText
	}
	switch strings.ToLower(cfg.GetString("default_format", "text")) {
	case "json":
		return FormatJSON
	case "compact":
		return FormatCompact
	default:
		return FormatText
	}
}
