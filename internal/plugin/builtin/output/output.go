// Package output implements the built-in, auto-active Output plugin:
// the fallback renderer used when no external output plugin is
// activated, subscribing to PluginDataReady events and formatting
// every data export it receives (spec §3.6/§4.4, ported from
// original_source/src/plugin/builtin/output/mod.rs's OutputPlugin).
package output

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/repostats/repostats/internal/dataexport"
	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/plugin"
	"github.com/repostats/repostats/internal/scanmodel"
)

func init() {
	plugin.RegisterBuiltin("output", func() plugin.Plugin { return New() })
}

// Plugin is the built-in Output-type plugin. It activates
// automatically whenever no other Output plugin wins "last Output
// wins" resolution (spec §4.5), so a scan always produces some
// rendering of collected data even with no external plugins installed.
type Plugin struct {
	mu sync.Mutex

	initialized bool
	format      dataexport.ExportFormat
	out         io.Writer
	bus         *events.Bus

	subID  string
	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Plugin writing JSON to stdout by default (spec
// §4.4's "Output contract": some concrete default rendering even
// without explicit configuration).
func New() *Plugin {
	return &Plugin{format: dataexport.FormatJSON, out: os.Stdout}
}

// PluginInfo returns the plugin's static metadata, marked AutoActive so
// it wins output resolution whenever no other Output plugin is
// explicitly activated (spec §4.5).
func (p *Plugin) PluginInfo() plugin.Info {
	return plugin.Info{
		Name:        "output",
		Version:     "1.0.0",
		Description: "Built-in output plugin for data export and formatting",
		Author:      "repostats",
		APIVersion:  1,
		Type:        plugin.TypeOutput,
		Functions: []plugin.Function{
			{Name: "output", Description: "render collected plugin data exports"},
			{Name: "json", Aliases: []string{"jsn"}},
			{Name: "csv"},
			{Name: "table"},
		},
		Required:   scanmodel.RequireNone,
		AutoActive: true,
	}
}

// AdvertisedFunctions returns this plugin's functions.
func (p *Plugin) AdvertisedFunctions() []plugin.Function { return p.PluginInfo().Functions }

// Requirements declares no scan data requirements of its own; this
// plugin only renders data other plugins already collected.
func (p *Plugin) Requirements() scanmodel.ScanRequires { return scanmodel.RequireNone }

// IsCompatible reports whether this built-in can run under
// systemAPIVersion.
func (p *Plugin) IsCompatible(systemAPIVersion int) bool {
	return systemAPIVersion >= p.PluginInfo().APIVersion
}

// SetNotificationManager stores the bus handle used to subscribe for
// PluginDataReady events once Initialize runs.
func (p *Plugin) SetNotificationManager(bus *events.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bus = bus
}

// Initialize subscribes to Plugin events and starts the rendering
// goroutine.
func (p *Plugin) Initialize(ctx context.Context) error {
	p.mu.Lock()
	bus := p.bus
	p.initialized = true
	p.mu.Unlock()

	if bus == nil {
		return fmt.Errorf("output: no notification manager set before initialize")
	}

	subID, ch := bus.Subscribe(events.FilterPluginOnly, "output-plugin", 256)
	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	p.mu.Lock()
	p.subID = subID
	p.stopCh = stopCh
	p.doneCh = doneCh
	p.mu.Unlock()

	go p.renderLoop(ch, stopCh, doneCh)
	return nil
}

func (p *Plugin) renderLoop(ch <-chan events.Event, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != events.KindPlugin || ev.Plugin == nil || ev.Plugin.EventType != events.PluginDataReady {
				continue
			}
			export, ok := ev.Plugin.DataExport.(*dataexport.PluginDataExport)
			if !ok {
				continue
			}
			p.render(export)

			p.mu.Lock()
			bus := p.bus
			p.mu.Unlock()
			if bus != nil {
				bus.Publish(events.NewPluginEvent(events.PluginDataComplete, "output", export.ScanID(), ""))
			}
		}
	}
}

// ParsePluginArguments parses --json/--text/--compact and resolves
// them to this plugin's richer dataexport.ExportFormat vocabulary.
func (p *Plugin) ParsePluginArguments(ctx context.Context, args []string, cfg *plugin.PluginConfig) error {
	parser := plugin.NewArgParser("output", p.PluginInfo().Description)
	if err := parser.Parse(args); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch parser.ResolveFormat(cfg) {
	case plugin.FormatJSON:
		p.format = dataexport.FormatJSON
	case plugin.FormatCompact:
		p.format = dataexport.FormatCSV
	default:
		p.format = dataexport.FormatTable
	}
	return nil
}

// Execute is a no-op; all work happens in the subscriber goroutine
// started by Initialize.
func (p *Plugin) Execute(ctx context.Context, args []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return fmt.Errorf("output: execute called before initialize")
	}
	return nil
}

// Cleanup stops the rendering goroutine and unsubscribes from the bus.
func (p *Plugin) Cleanup(ctx context.Context) error {
	p.mu.Lock()
	bus, subID, stopCh, doneCh := p.bus, p.subID, p.stopCh, p.doneCh
	p.initialized = false
	p.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	select {
	case <-doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}
	if bus != nil {
		bus.Unsubscribe(subID)
	}
	return nil
}

func (p *Plugin) render(export *dataexport.PluginDataExport) {
	p.mu.Lock()
	format, out := p.format, p.out
	p.mu.Unlock()

	switch format {
	case dataexport.FormatCSV:
		renderCSV(out, export)
	case dataexport.FormatTable:
		renderTable(out, export)
	default:
		renderJSON(out, export)
	}
}

func renderJSON(out io.Writer, export *dataexport.PluginDataExport) {
	payload := map[string]any{"plugin_id": export.PluginID(), "scan_id": export.ScanID()}
	if kv, ok := export.KeyValue(); ok {
		entries := make(map[string]any, len(kv.Entries))
		for k, v := range kv.Entries {
			entries[k] = valueToAny(v)
		}
		payload["entries"] = entries
	}
	if tab, ok := export.Tabular(); ok {
		rows := make([][]any, 0, len(tab.Rows))
		for _, row := range tab.Rows {
			r := make([]any, 0, len(row.Values))
			for _, v := range row.Values {
				r = append(r, valueToAny(v))
			}
			rows = append(rows, r)
		}
		payload["rows"] = rows
	}
	enc, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(out, "{\"error\":%q}\n", err.Error())
		return
	}
	fmt.Fprintln(out, string(enc))
}

func renderCSV(out io.Writer, export *dataexport.PluginDataExport) {
	w := csv.NewWriter(out)
	defer w.Flush()

	tab, ok := export.Tabular()
	if !ok {
		_ = w.Write([]string{"plugin_id", "scan_id"})
		_ = w.Write([]string{export.PluginID(), export.ScanID()})
		return
	}
	header := make([]string, len(tab.Schema.Columns))
	for i, c := range tab.Schema.Columns {
		header[i] = c.Name
	}
	_ = w.Write(header)
	for _, row := range tab.Rows {
		record := make([]string, len(row.Values))
		for i, v := range row.Values {
			record[i] = fmt.Sprint(valueToAny(v))
		}
		_ = w.Write(record)
	}
}

func renderTable(out io.Writer, export *dataexport.PluginDataExport) {
	fmt.Fprintf(out, "plugin=%s scan=%s\n", export.PluginID(), export.ScanID())
	if kv, ok := export.KeyValue(); ok {
		for k, v := range kv.Entries {
			fmt.Fprintf(out, "  %s: %v\n", k, valueToAny(v))
		}
	}
	if tab, ok := export.Tabular(); ok {
		for _, row := range tab.Rows {
			for i, v := range row.Values {
				fmt.Fprintf(out, "  %s=%v", tab.Schema.Columns[i].Name, valueToAny(v))
			}
			fmt.Fprintln(out)
		}
	}
}

func valueToAny(v dataexport.Value) any {
	switch v.Kind {
	case dataexport.ValueString:
		return v.Str
	case dataexport.ValueInteger:
		return v.Int
	case dataexport.ValueFloat:
		return v.Float
	case dataexport.ValueBoolean:
		return v.Bool
	case dataexport.ValueTimestamp:
		return v.Time
	case dataexport.ValueDuration:
		return v.Dur
	default:
		return nil
	}
}
