// Package dump implements a built-in Processing plugin that prints
// every scan message it consumes from the queue, for debugging
// purposes (spec §7, ported from
// original_source/src/plugin/builtin/dump/mod.rs's DumpPlugin).
package dump

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/plugin"
	"github.com/repostats/repostats/internal/queue"
	"github.com/repostats/repostats/internal/scanmodel"
)

func init() {
	plugin.RegisterBuiltin("dump", func() plugin.Plugin { return New() })
}

// Plugin dumps every scan message seen on the queue to its output
// writer (stdout by default), in text, JSON, or compact form.
type Plugin struct {
	mu sync.Mutex

	initialized  bool
	format       plugin.OutputFormat
	showHeaders  bool
	wantContent  bool
	wantFileInfo bool
	out          io.Writer
	bus          *events.Bus

	stopCh   chan struct{}
	doneCh   chan struct{}
	consumer *queue.Consumer
}

// New constructs a Plugin with its default settings: text output,
// headers shown, writing to stdout.
func New() *Plugin {
	return &Plugin{format: plugin.FormatText, showHeaders: true, out: os.Stdout}
}

// PluginInfo returns the plugin's static metadata (spec §3.6).
func (p *Plugin) PluginInfo() plugin.Info {
	return plugin.Info{
		Name:        "dump",
		Version:     "1.0.0",
		Description: "Dump repository scan messages for debugging purposes",
		Author:      "repostats",
		APIVersion:  1,
		Type:        plugin.TypeProcessing,
		Functions:   []plugin.Function{{Name: "dump", Description: "dump scan messages as they arrive"}},
		Required:    scanmodel.RequireHistory | scanmodel.RequireCommits,
	}
}

// AdvertisedFunctions returns the one function this plugin advertises.
func (p *Plugin) AdvertisedFunctions() []plugin.Function { return p.PluginInfo().Functions }

// Requirements reports the scan data this plugin needs, expanded with
// FileContent/FileInfo if the corresponding flags were parsed.
func (p *Plugin) Requirements() scanmodel.ScanRequires {
	p.mu.Lock()
	defer p.mu.Unlock()
	reqs := scanmodel.RequireHistory | scanmodel.RequireCommits
	if p.wantFileInfo {
		reqs |= scanmodel.RequireFileInfo
	}
	if p.wantContent {
		reqs |= scanmodel.RequireFileContent
	}
	return reqs
}

// IsCompatible reports whether this built-in can run under
// systemAPIVersion; built-ins require the system to be at least the
// version they were compiled against (spec §4.4).
func (p *Plugin) IsCompatible(systemAPIVersion int) bool {
	return systemAPIVersion >= p.PluginInfo().APIVersion
}

// SetNotificationManager stores the bus handle for later use (this
// plugin currently only consumes from the queue, but holds the handle
// for parity with the trait contract).
func (p *Plugin) SetNotificationManager(bus *events.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bus = bus
}

// Initialize marks the plugin ready to run.
func (p *Plugin) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
	return nil
}

// ParsePluginArguments parses --json/--text/--compact and --no-headers
// (spec §4.5, ported from
// original_source/src/plugin/builtin/dump/args.rs).
func (p *Plugin) ParsePluginArguments(ctx context.Context, args []string, cfg *plugin.PluginConfig) error {
	parser := plugin.NewArgParser("dump", p.PluginInfo().Description)
	noHeaders := parser.FlagSet().Bool("no-headers", false, "don't show message headers")
	checkout := parser.FlagSet().Bool("checkout", false, "request file content (historical reconstruction)")
	files := parser.FlagSet().Bool("files", false, "include file change metadata")
	if err := parser.Parse(args); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.format = parser.ResolveFormat(cfg)
	p.showHeaders = !*noHeaders
	p.wantContent = *checkout
	p.wantFileInfo = *files
	return nil
}

// Execute is a no-op once initialized; the plugin does its real work
// via StartConsuming.
func (p *Plugin) Execute(ctx context.Context, args []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return fmt.Errorf("dump: execute called before initialize")
	}
	return nil
}

// StartConsuming reads scan messages from consumer until StopConsuming
// is called or ctx is cancelled, printing each one (spec §4.6, ported
// from original_source/src/plugin/builtin/dump/consumer.rs's consumer
// loop).
func (p *Plugin) StartConsuming(ctx context.Context, consumer *queue.Consumer) error {
	p.mu.Lock()
	p.consumer = consumer
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	stopCh := p.stopCh
	doneCh := p.doneCh
	p.mu.Unlock()

	go func() {
		defer close(doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			default:
			}
			msg, ok := consumer.Next()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				default:
					continue
				}
			}
			p.print(msg)
		}
	}()
	return nil
}

// StopConsuming halts the consumer goroutine and waits for it to exit.
func (p *Plugin) StopConsuming(ctx context.Context) error {
	p.mu.Lock()
	stopCh := p.stopCh
	doneCh := p.doneCh
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
	return nil
}

// Cleanup stops consuming if still active.
func (p *Plugin) Cleanup(ctx context.Context) error {
	_ = p.StopConsuming(ctx)
	p.mu.Lock()
	p.initialized = false
	p.mu.Unlock()
	return nil
}

func (p *Plugin) print(msg queue.ScanMessage) {
	p.mu.Lock()
	format, showHeaders, out := p.format, p.showHeaders, p.out
	p.mu.Unlock()

	switch format {
	case plugin.FormatJSON:
		enc, _ := json.Marshal(msg)
		fmt.Fprintln(out, string(enc))
	case plugin.FormatCompact:
		fmt.Fprintf(out, "%s:%s\n", msg.ScanID, msg.Kind)
	default:
		if showHeaders {
			fmt.Fprintf(out, "--- %s (scan %s) ---\n", msg.Kind, msg.ScanID)
		}
		switch msg.Kind {
		case queue.MessageCommitData:
			if msg.Commit != nil {
				fmt.Fprintf(out, "commit %s by %s: %s\n", msg.Commit.SHA, msg.Commit.Author, msg.Commit.Message)
			}
		case queue.MessageFileChange:
			if msg.Change != nil {
				fmt.Fprintf(out, "%s %s (+%d -%d)\n", msg.Change.Kind, msg.Change.Path, msg.Change.Additions, msg.Change.Deletions)
			}
		case queue.MessageFileContent:
			if msg.Content != nil {
				fmt.Fprintf(out, "%s: %d bytes (truncated=%v)\n", msg.Content.Path, len(msg.Content.Content), msg.Content.Truncated)
			}
		case queue.MessageScanStarted:
			if msg.Started != nil {
				fmt.Fprintf(out, "repository %s\n", msg.Started.Repository.Path)
			}
		case queue.MessageScanCompleted:
			if msg.Completed != nil {
				fmt.Fprintf(out, "completed: %d commits, %d files, %s\n", msg.Completed.Stats.CommitsScanned, msg.Completed.Stats.FilesChanged, msg.Completed.Stats.Duration)
			}
		}
	}
}
