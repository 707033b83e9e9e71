package plugin

import (
	"context"
	"testing"

	"github.com/repostats/repostats/internal/events"
	"github.com/repostats/repostats/internal/scanmodel"
)

type stubPlugin struct {
	info Info
}

func (s *stubPlugin) PluginInfo() Info                      { return s.info }
func (s *stubPlugin) AdvertisedFunctions() []Function        { return s.info.Functions }
func (s *stubPlugin) Requirements() scanmodel.ScanRequires    { return s.info.Required }
func (s *stubPlugin) Initialize(ctx context.Context) error   { return nil }
func (s *stubPlugin) Execute(ctx context.Context, args []string) error { return nil }
func (s *stubPlugin) Cleanup(ctx context.Context) error      { return nil }
func (s *stubPlugin) ParsePluginArguments(ctx context.Context, args []string, cfg *PluginConfig) error {
	return nil
}
func (s *stubPlugin) IsCompatible(systemAPIVersion int) bool { return systemAPIVersion == s.info.APIVersion }
func (s *stubPlugin) SetNotificationManager(bus *events.Bus) {}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	p := &stubPlugin{info: Info{Name: "dump"}}
	if err := r.Register(p); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(p); err == nil {
		t.Fatal("expected AlreadyRegisteredError on duplicate register")
	}
}

func TestActivateUnknownPlugin(t *testing.T) {
	r := NewRegistry()
	if err := r.ActivatePlugin("nope"); err == nil {
		t.Fatal("expected PluginNotFoundError")
	}
}

func TestOutputUniquenessConstraint(t *testing.T) {
	// spec §8 scenario 3: register o1, o2; activate o1; activate o2 ->
	// o1 inactive, o2 active, exactly one active output plugin.
	r := NewRegistry()
	a := &stubPlugin{info: Info{Name: "csv", Type: TypeOutput}}
	b := &stubPlugin{info: Info{Name: "json", Type: TypeOutput}}
	_ = r.Register(a)
	_ = r.Register(b)

	if err := r.ActivatePlugin("csv"); err != nil {
		t.Fatalf("activate csv: %v", err)
	}
	if err := r.ActivatePlugin("json"); err != nil {
		t.Fatalf("activate json: %v", err)
	}
	if r.IsPluginActive("csv") {
		t.Fatal("expected csv to be deactivated once json is activated")
	}
	if !r.IsPluginActive("json") {
		t.Fatal("expected json to be active")
	}
	if got := len(r.GetActivePlugins()); got != 1 {
		t.Fatalf("expected exactly 1 active plugin, got %d", got)
	}
}

func TestActiveOutputCanBeReplacedAfterDeactivate(t *testing.T) {
	r := NewRegistry()
	a := &stubPlugin{info: Info{Name: "csv", Type: TypeOutput}}
	b := &stubPlugin{info: Info{Name: "json", Type: TypeOutput}}
	_ = r.Register(a)
	_ = r.Register(b)

	_ = r.ActivatePlugin("csv")
	if err := r.DeactivatePlugin("csv"); err != nil {
		t.Fatalf("deactivate csv: %v", err)
	}
	if err := r.ActivatePlugin("json"); err != nil {
		t.Fatalf("activate json after csv deactivated: %v", err)
	}
}

func TestPluginNamesSortedAndMerged(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&stubPlugin{info: Info{Name: "zeta"}})
	_ = r.Register(&stubPlugin{info: Info{Name: "alpha"}})
	names := r.PluginNames()
	if len(names) != 2 || names[0] != "alpha" || names[1] != "zeta" {
		t.Fatalf("expected sorted [alpha zeta], got %v", names)
	}
}

func TestClearActivePlugins(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&stubPlugin{info: Info{Name: "dump", Type: TypeProcessing}})
	_ = r.ActivatePlugin("dump")
	r.ClearActivePlugins()
	if r.IsPluginActive("dump") {
		t.Fatal("expected no active plugins after ClearActivePlugins")
	}
}
