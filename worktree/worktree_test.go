package worktree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidateBranchName(t *testing.T) {
	tests := []struct {
		name    string
		branch  string
		wantErr bool
	}{
		{"simple", "feature", false},
		{"with slash", "feature/login-fix", false},
		{"with dots and dashes", "release-1.2.3", false},
		{"underscores", "wip_branch", false},
		{"empty", "", true},
		{"leading dash", "-rf", true},
		{"lock suffix", "main.lock", true},
		{"double dot", "a..b", true},
		{"space", "my branch", true},
		{"tilde", "br~1", true},
		{"colon", "a:b", true},
		{"too long", strings.Repeat("a", 101), true},
		{"max length ok", strings.Repeat("a", 100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBranchName(tt.branch)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBranchName(%q) err = %v, wantErr %v", tt.branch, err, tt.wantErr)
			}
		})
	}
}

func TestConventionPath(t *testing.T) {
	got := ConventionPath("/home/u/code/myrepo", "myrepo", "sess-1")
	want := filepath.Join("/home/u/code", MarkerDir, "myrepo", "sess-1")
	if got != want {
		t.Errorf("ConventionPath = %q, want %q", got, want)
	}
}

func TestFindOrphans(t *testing.T) {
	base := t.TempDir()
	repoPath := filepath.Join(base, "myrepo")
	treeDir := filepath.Join(base, MarkerDir, "myrepo")

	for _, id := range []string{"known-1", "orphan-1", "orphan-2"} {
		if err := os.MkdirAll(filepath.Join(treeDir, id), 0755); err != nil {
			t.Fatal(err)
		}
	}
	// A stray file should never count as a worktree
	if err := os.WriteFile(filepath.Join(treeDir, "stray.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewController()
	orphans := c.FindOrphans(repoPath, "myrepo", map[string]bool{"known-1": true})

	if len(orphans) != 2 {
		t.Fatalf("expected 2 orphans, got %d: %+v", len(orphans), orphans)
	}
	ids := map[string]bool{}
	for _, o := range orphans {
		ids[o.SessionID] = true
		if o.RepoID != "myrepo" {
			t.Errorf("wrong repo id on orphan: %+v", o)
		}
	}
	if !ids["orphan-1"] || !ids["orphan-2"] {
		t.Errorf("unexpected orphan set: %v", ids)
	}
}

func TestFindOrphansMissingDir(t *testing.T) {
	c := NewController()
	if orphans := c.FindOrphans(filepath.Join(t.TempDir(), "norepo"), "norepo", nil); orphans != nil {
		t.Errorf("missing convention dir should yield no orphans, got %+v", orphans)
	}
}

func TestIsValidRejectsPlainDirectory(t *testing.T) {
	c := NewController()
	dir := t.TempDir()
	if c.IsValid(dir) {
		t.Error("a directory without .git must not validate as a worktree")
	}
	if c.IsValid(filepath.Join(dir, "missing")) {
		t.Error("a missing path must not validate as a worktree")
	}
}
