package plugin

import (
	"testing"
	"time"

	"github.com/repostats/repostats/internal/dataexport"
)

func mustExport(t *testing.T, pluginID, scanID string) *dataexport.PluginDataExport {
	t.Helper()
	export, err := dataexport.NewKeyValueBuilder(pluginID, scanID).
		Set("count", dataexport.NewIntegerValue(1)).
		Build()
	if err != nil {
		t.Fatalf("building export: %v", err)
	}
	return export
}

func TestCoordinatorCompletesWhenAllPluginsReport(t *testing.T) {
	c := NewCoordinator("scan-1")
	c.ExpectPlugin("dump")
	c.ExpectPlugin("csv")

	if status, _ := c.Status(); status != StatusPending {
		t.Fatalf("expected pending before any data, got %v", status)
	}

	if err := c.AddData(mustExport(t, "dump", "scan-1")); err != nil {
		t.Fatalf("AddData dump: %v", err)
	}
	if status, _ := c.Status(); status != StatusPending {
		t.Fatalf("expected still pending with one of two reported, got %v", status)
	}

	if err := c.AddData(mustExport(t, "csv", "scan-1")); err != nil {
		t.Fatalf("AddData csv: %v", err)
	}
	if status, _ := c.Status(); status != StatusComplete {
		t.Fatalf("expected complete once both reported, got %v", status)
	}
}

func TestCoordinatorRejectsScanIDMismatch(t *testing.T) {
	c := NewCoordinator("scan-1")
	c.ExpectPlugin("dump")
	if err := c.AddData(mustExport(t, "dump", "scan-2")); err == nil {
		t.Fatal("expected scan id mismatch rejection")
	}
}

func TestCoordinatorRejectsDuplicateData(t *testing.T) {
	c := NewCoordinator("scan-1")
	c.ExpectPlugin("dump")
	if err := c.AddData(mustExport(t, "dump", "scan-1")); err != nil {
		t.Fatalf("first AddData: %v", err)
	}
	if err := c.AddData(mustExport(t, "dump", "scan-1")); err == nil {
		t.Fatal("expected duplicate AddData to be rejected")
	}
}

func TestCoordinatorFailFast(t *testing.T) {
	c := NewCoordinatorWithConfig("scan-1", CoordinationConfig{FailFast: true})
	c.ExpectPlugin("dump")
	c.ExpectPlugin("csv")

	if err := c.MarkPluginFailed("dump", "boom"); err != nil {
		t.Fatalf("MarkPluginFailed: %v", err)
	}
	status, reason := c.Status()
	if status != StatusFailed {
		t.Fatalf("expected fail-fast to fail coordination immediately, got %v (%s)", status, reason)
	}
}

func TestCoordinatorTimeoutWithoutPartialCompletion(t *testing.T) {
	c := NewCoordinatorWithConfig("scan-1", CoordinationConfig{Timeout: 10 * time.Millisecond})
	c.ExpectPlugin("dump")
	c.Start()
	time.Sleep(20 * time.Millisecond)

	status, reason := c.Status()
	if status != StatusFailed {
		t.Fatalf("expected timeout to fail coordination, got %v (%s)", status, reason)
	}
}

func TestCoordinatorTimeoutWithPartialCompletionAndQuorum(t *testing.T) {
	c := NewCoordinatorWithConfig("scan-1", CoordinationConfig{
		Timeout:                10 * time.Millisecond,
		AllowPartialCompletion: true,
		MinPluginsRequired:     1,
	})
	c.ExpectPlugin("dump")
	c.ExpectPlugin("csv")
	c.Start()
	if err := c.AddData(mustExport(t, "dump", "scan-1")); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	status, _ := c.Status()
	if status != StatusComplete {
		t.Fatalf("expected partial completion to succeed once quorum met, got %v", status)
	}
}

func TestCoordinatorResetForNewScan(t *testing.T) {
	c := NewCoordinator("scan-1")
	c.ExpectPlugin("dump")
	if err := c.AddData(mustExport(t, "dump", "scan-1")); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	if status, _ := c.Status(); status != StatusComplete {
		t.Fatalf("expected complete before reset, got %v", status)
	}

	c.ResetForNewScan("scan-2")
	if status, _ := c.Status(); status != StatusPending {
		t.Fatalf("expected pending after reset, got %v", status)
	}
	if err := c.AddData(mustExport(t, "dump", "scan-2")); err != nil {
		t.Fatalf("AddData after reset: %v", err)
	}
}

func TestCoordinatorProgressMonotonic(t *testing.T) {
	c := NewCoordinator("scan-1")
	c.ExpectPlugin("dump")
	c.ExpectPlugin("csv")

	prev := c.Progress()
	if prev != 0 {
		t.Fatalf("expected zero progress initially, got %v", prev)
	}
	if err := c.AddData(mustExport(t, "dump", "scan-1")); err != nil {
		t.Fatalf("AddData: %v", err)
	}
	next := c.Progress()
	if next <= prev {
		t.Fatalf("expected progress to increase monotonically, got %v -> %v", prev, next)
	}
	if err := c.MarkPluginFailed("csv", "boom"); err != nil {
		t.Fatalf("MarkPluginFailed: %v", err)
	}
	final := c.Progress()
	if final != 1.0 {
		t.Fatalf("expected progress 1.0 once every plugin accounted for, got %v", final)
	}
}
