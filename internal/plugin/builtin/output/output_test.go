package output

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/repostats/repostats/internal/dataexport"
	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/plugin"
)

func TestOutputPluginAdvertisesFormats(t *testing.T) {
	p := New()
	funcs := p.AdvertisedFunctions()
	if len(funcs) == 0 || funcs[0].Name != "output" {
		t.Fatalf("expected output function first, got %+v", funcs)
	}
}

func TestOutputPluginIsAutoActiveOutputType(t *testing.T) {
	p := New()
	info := p.PluginInfo()
	if info.Type != plugin.TypeOutput {
		t.Fatalf("expected TypeOutput, got %v", info.Type)
	}
	if !info.AutoActive {
		t.Fatal("expected output plugin to be AutoActive")
	}
}

func TestOutputPluginExecuteBeforeInitializeFails(t *testing.T) {
	p := New()
	if err := p.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected execute before initialize to fail")
	}
}

func TestOutputPluginRendersDataReadyEvents(t *testing.T) {
	bus := events.New(nil)
	p := New()
	var buf bytes.Buffer
	p.out = &buf
	p.SetNotificationManager(bus)

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := p.ParsePluginArguments(context.Background(), []string{"--json"}, plugin.DefaultPluginConfig()); err != nil {
		t.Fatalf("ParsePluginArguments: %v", err)
	}

	export, err := dataexport.NewKeyValueBuilder("dump", "scan-1").
		Set("count", dataexport.NewIntegerValue(42)).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	bus.Publish(events.NewPluginDataReadyEvent("dump", "scan-1", export))

	deadline := time.Now().Add(time.Second)
	for buf.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	if err := p.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}

	if !strings.Contains(buf.String(), "scan-1") {
		t.Fatalf("expected rendered output to mention scan id, got %q", buf.String())
	}
}

func TestOutputPluginIgnoresNonDataReadyPluginEvents(t *testing.T) {
	bus := events.New(nil)
	p := New()
	var buf bytes.Buffer
	p.out = &buf
	p.SetNotificationManager(bus)

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	bus.Publish(events.NewPluginEvent(events.PluginTerminated, "dump", "scan-1", ""))

	time.Sleep(20 * time.Millisecond)
	if err := p.Cleanup(context.Background()); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no output for non-DataReady plugin events, got %q", buf.String())
	}
}
