package repo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeRegistryFile(t *testing.T, entries []Repo) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repos.json")
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadRegistry(t *testing.T) {
	path := writeRegistryFile(t, []Repo{
		{ID: "api", Path: "/src/api"},
		{ID: "web", Path: "/src/web"},
	})

	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}

	if !reg.Has("api") || !reg.Has("web") {
		t.Error("registered repos missing")
	}
	if reg.Has("ghost") {
		t.Error("unknown repo should not resolve")
	}

	p, err := reg.Resolve("api")
	if err != nil || p != "/src/api" {
		t.Errorf("Resolve(api) = %q, %v", p, err)
	}
	if _, err := reg.Resolve("ghost"); err == nil {
		t.Error("resolving an unknown repo must fail")
	}

	list := reg.List()
	if len(list) != 2 || list[0].ID != "api" {
		t.Errorf("List should be sorted by id: %+v", list)
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("a missing registry file should yield an empty registry, got %v", err)
	}
	if len(reg.List()) != 0 {
		t.Errorf("expected empty registry, got %+v", reg.List())
	}
}

func TestRemovePersists(t *testing.T) {
	path := writeRegistryFile(t, []Repo{{ID: "api", Path: "/src/api"}})
	reg, err := LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.Remove("api"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := reg.Remove("api"); err == nil {
		t.Error("removing twice must fail")
	}

	reloaded, err := LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Has("api") {
		t.Error("removal was not persisted")
	}
}

func TestAddRejectsNonGitPath(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "repos.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Add("plain", t.TempDir()); err == nil {
		t.Error("a plain directory must not register as a repository")
	}
	if err := reg.Add("", "/x"); err == nil {
		t.Error("empty id must be rejected")
	}
}
