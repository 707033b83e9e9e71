package plugin

import (
	"log/slog"

	"github.com/repostats/repostats/internal/dataexport"
	"github.com/repostats/repostats/internal/events"
)

// CoordinatorBusBridge is the sole subscriber translating bus events
// into Coordinator calls, keeping Coordinator itself bus-agnostic (spec
// §9's open-question resolution: a ScanEvent::Error becomes
// MarkPluginFailed for every plugin in the cohort that has not yet
// submitted for that scan, rather than aborting dependent plugins
// outright).
type CoordinatorBusBridge struct {
	bus         *events.Bus
	log         *slog.Logger
	coordinator *Coordinator
	subID       string
	stopCh      chan struct{}
}

// NewCoordinatorBusBridge subscribes to Scan and Plugin events on bus
// and drives coordinator from them.
func NewCoordinatorBusBridge(bus *events.Bus, coordinator *Coordinator, log *slog.Logger) *CoordinatorBusBridge {
	if log == nil {
		log = slog.Default()
	}
	id, ch := bus.Subscribe(events.FilterScanAndPlugin, "coordinator-bridge", 256)
	b := &CoordinatorBusBridge{bus: bus, log: log, coordinator: coordinator, subID: id, stopCh: make(chan struct{})}
	go b.loop(ch)
	return b
}

func (b *CoordinatorBusBridge) loop(ch <-chan events.Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			b.handle(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *CoordinatorBusBridge) handle(ev events.Event) {
	switch ev.Kind {
	case events.KindScan:
		if ev.Scan != nil && ev.Scan.EventType == events.ScanError {
			b.failPendingPlugins("scan error: " + ev.Scan.Message)
		}
	case events.KindPlugin:
		if ev.Plugin == nil {
			return
		}
		switch ev.Plugin.EventType {
		case events.PluginDataReady:
			export, ok := ev.Plugin.DataExport.(*dataexport.PluginDataExport)
			if !ok {
				return
			}
			if err := b.coordinator.AddData(export); err != nil {
				b.log.Warn("coordinator: rejecting data export", "plugin", ev.Plugin.PluginID, "error", err)
			}
		case events.PluginError:
			if err := b.coordinator.MarkPluginFailed(ev.Plugin.PluginID, ev.Plugin.Message); err != nil {
				b.log.Debug("coordinator: mark plugin failed rejected", "plugin", ev.Plugin.PluginID, "error", err)
			}
		}
	}
}

func (b *CoordinatorBusBridge) failPendingPlugins(reason string) {
	for _, id := range b.coordinator.PendingPlugins() {
		if err := b.coordinator.MarkPluginFailed(id, reason); err != nil {
			b.log.Debug("coordinator: mark plugin failed rejected", "plugin", id, "error", err)
		}
	}
}

// Stop unsubscribes the bridge from the bus.
func (b *CoordinatorBusBridge) Stop() {
	close(b.stopCh)
	b.bus.Unsubscribe(b.subID)
}
