package app

import (
	"context"
	"testing"
	"time"

	"github.com/repostats/repostats/internal/config"
	"github.com/repostats/repostats/internal/dataexport"
	"github.com/repostats/repostats/internal/plugin"
)

func testSystem(t *testing.T) *System {
	t.Helper()
	cfg := config.Default()
	sys, err := New(cfg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sys
}

func TestNewDiscoversBuiltins(t *testing.T) {
	sys := testSystem(t)
	if !sys.Registry.HasPlugin("dump") {
		t.Fatal("expected built-in dump plugin to be registered")
	}
	if !sys.Registry.HasPlugin("output") {
		t.Fatal("expected built-in output plugin to be registered")
	}
}

func TestActivatePluginsAutoActivatesOutput(t *testing.T) {
	sys := testSystem(t)
	if err := sys.ActivatePlugins([]plugin.CommandSegment{{CommandName: "dump"}}); err != nil {
		t.Fatalf("ActivatePlugins: %v", err)
	}
	if !sys.Registry.IsPluginActive("dump") {
		t.Fatal("expected dump to be active")
	}
	if !sys.Registry.IsPluginActive("output") {
		t.Fatal("expected auto-active output plugin to be active")
	}
}

func TestStartScanAndShutdownLifecycle(t *testing.T) {
	sys := testSystem(t)
	if err := sys.ActivatePlugins([]plugin.CommandSegment{{CommandName: "dump"}}); err != nil {
		t.Fatalf("ActivatePlugins: %v", err)
	}

	scanID := NewScanID()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	coordinator, err := sys.StartScan(ctx, scanID)
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if coordinator == nil {
		t.Fatal("expected a non-nil coordinator")
	}

	export, err := dataexport.NewKeyValueBuilder("dump", scanID).
		Set("commits", dataexport.NewIntegerValue(3)).
		Build()
	if err != nil {
		t.Fatalf("building export: %v", err)
	}
	if err := sys.PublishDataReady("dump", scanID, export); err != nil {
		t.Fatalf("PublishDataReady: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := coordinator.GetData("dump"); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := coordinator.GetData("dump"); !ok {
		t.Fatal("expected coordinator to have received dump's export")
	}

	if err := sys.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestActivatePluginsUnknownSegmentIsError(t *testing.T) {
	sys := testSystem(t)
	err := sys.ActivatePlugins([]plugin.CommandSegment{{CommandName: "nonexistent"}})
	if err == nil {
		t.Fatal("expected PluginNotFoundError")
	}
}
