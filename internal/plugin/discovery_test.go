package plugin

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckCompatibility(t *testing.T) {
	cases := []struct {
		system, plugin int
		want           CompatibilityResult
	}{
		{3, 3, Compatible},
		{3, 2, Deprecated},
		{3, 4, Incompatible},
		{3, 0, Incompatible},
	}
	for _, c := range cases {
		if got := CheckCompatibility(c.system, c.plugin); got != c.want {
			t.Errorf("CheckCompatibility(%d,%d) = %v, want %v", c.system, c.plugin, got, c.want)
		}
	}
}

func TestDiscoverExternalManifestsParsesYAML(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "csvout")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "name: csvout\nversion: \"1.0\"\napi_version: 1\ntype: output\n"
	if err := os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := DiscoverExternalManifests([]string{dir})
	if err != nil {
		t.Fatalf("DiscoverExternalManifests: %v", err)
	}
	if len(found) != 1 || found[0].Manifest.Name != "csvout" {
		t.Fatalf("expected one manifest named csvout, got %+v", found)
	}
}

func TestDiscoverExternalManifestsSkipsMissingDirs(t *testing.T) {
	found, err := DiscoverExternalManifests([]string{"/nonexistent/path/for/test"})
	if err != nil {
		t.Fatalf("unexpected error for missing search path: %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("expected no manifests, got %v", found)
	}
}

type fakeLoader struct{}

func (fakeLoader) Load(dir string, m Manifest) (Plugin, error) {
	return &stubPlugin{info: Info{Name: m.Name, APIVersion: m.APIVersion}}, nil
}

func TestDiscoverExternalOverridesBuiltin(t *testing.T) {
	builtinFactories = map[string]BuiltinFactory{}
	builtinOrder = nil
	RegisterBuiltin("dump", func() Plugin {
		return &stubPlugin{info: Info{Name: "dump", APIVersion: 1, Version: "builtin"}}
	})

	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "dump")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := "name: dump\napi_version: 1\n"
	if err := os.WriteFile(filepath.Join(pluginDir, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}

	reg, _, err := Discover(1, []string{dir}, fakeLoader{})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if reg.PluginCount() != 1 {
		t.Fatalf("expected exactly one registered plugin named dump, got %d", reg.PluginCount())
	}
}
