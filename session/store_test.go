package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func makeSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		RepoIDs:        []string{"repo-a"},
		Status:         StatusIdle,
		Mode:           ModeDirect,
		Messages:       []*ChatMessage{},
		CreatedAt:      now,
		LastActivityAt: now,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	sess := makeSession("s1")
	sess.Messages = append(sess.Messages, &ChatMessage{
		ID: "m1", Role: "user", Content: "hello", Timestamp: time.Now(),
	})
	store.Put(sess)

	// A second store reading the same directory must see the session
	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore reload: %v", err)
	}
	if _, err := reloaded.LoadAll(nil); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	got, ok := reloaded.Get("s1")
	if !ok {
		t.Fatal("session not found after reload")
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "hello" {
		t.Errorf("messages did not survive the round trip: %+v", got.Messages)
	}
	if got.RepoIDs[0] != "repo-a" {
		t.Errorf("repo ids did not survive: %+v", got.RepoIDs)
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	store := newTestStore(t)
	store.Put(makeSession("s1"))

	a, _ := store.Get("s1")
	a.RepoIDs[0] = "mutated"
	a.Status = StatusError

	b, _ := store.Get("s1")
	if b.RepoIDs[0] != "repo-a" || b.Status != StatusIdle {
		t.Error("mutating a returned session must not affect the stored one")
	}
}

func TestStoreUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	store.Put(makeSession("s1"))

	err := store.Update("s1", func(s *Session) error {
		s.Name = "renamed"
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "s1.json"))
	if err != nil {
		t.Fatalf("reading persisted record: %v", err)
	}
	var onDisk Session
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("unmarshal persisted record: %v", err)
	}
	if onDisk.Name != "renamed" {
		t.Errorf("update not persisted, got name %q", onDisk.Name)
	}
}

func TestStoreUpdateMissing(t *testing.T) {
	store := newTestStore(t)
	err := store.Update("nope", func(s *Session) error { return nil })
	if err == nil {
		t.Fatal("expected an error for a missing session")
	}
}

func TestStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)
	store.Put(makeSession("s1"))

	store.Delete("s1")
	if store.Exists("s1") {
		t.Error("session still present after delete")
	}
	if _, err := os.Stat(filepath.Join(dir, "s1.json")); !os.IsNotExist(err) {
		t.Error("record file still present after delete")
	}
}

func TestLoadAllMigratesLegacyRecords(t *testing.T) {
	dir := t.TempDir()
	legacy := `{
		"id": "old1",
		"repoId": "legacy-repo",
		"status": "running",
		"mode": "",
		"messages": [{"id":"m1","role":"assistant","content":"partial","isStreaming":true,"timestamp":"2025-01-01T00:00:00Z"}],
		"ownsWorktree": true,
		"createdAt": "2025-01-01T00:00:00Z",
		"lastActivityAt": "2025-01-01T00:00:00Z"
	}`
	if err := os.WriteFile(filepath.Join(dir, "old1.json"), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	store, _ := NewStore(dir)
	n, err := store.LoadAll(nil)
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 loaded session, got %d", n)
	}

	sess, _ := store.Get("old1")
	if len(sess.RepoIDs) != 1 || sess.RepoIDs[0] != "legacy-repo" {
		t.Errorf("legacy repoId not upcast: %+v", sess.RepoIDs)
	}
	if sess.Status != StatusIdle {
		t.Errorf("running status must reset to idle on load, got %q", sess.Status)
	}
	if sess.Mode != ModeDirect {
		t.Errorf("empty mode must default to direct, got %q", sess.Mode)
	}
	if sess.Messages[0].IsStreaming {
		t.Error("streaming flag must be cleared on load")
	}
	if sess.Ownership != OwnershipOwned {
		t.Errorf("legacy boolean ownership not upcast, got %q", sess.Ownership)
	}
}

func TestOwnershipUnmarshal(t *testing.T) {
	tests := []struct {
		raw  string
		want Ownership
	}{
		{`true`, OwnershipOwned},
		{`false`, OwnershipBorrowed},
		{`null`, OwnershipUnknown},
		{`"owned"`, OwnershipOwned},
		{`"borrowed"`, OwnershipBorrowed},
		{`""`, OwnershipUnknown},
		{`"garbage"`, OwnershipUnknown},
	}
	for _, tt := range tests {
		var o Ownership
		if err := json.Unmarshal([]byte(tt.raw), &o); err != nil {
			t.Errorf("unmarshal %s: %v", tt.raw, err)
			continue
		}
		if o != tt.want {
			t.Errorf("unmarshal %s = %q, want %q", tt.raw, o, tt.want)
		}
	}
}

func TestStoreListSortsByActivity(t *testing.T) {
	store := newTestStore(t)

	older := makeSession("older")
	older.LastActivityAt = time.Now().Add(-time.Hour)
	newer := makeSession("newer")
	newer.LastActivityAt = time.Now()
	store.Put(older)
	store.Put(newer)

	list := store.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(list))
	}
	if list[0].ID != "newer" {
		t.Errorf("most recent session should come first, got %q", list[0].ID)
	}
}

func TestStoreCountRunning(t *testing.T) {
	store := newTestStore(t)
	a := makeSession("a")
	a.Status = StatusRunning
	store.Put(a)
	store.Put(makeSession("b"))

	if got := store.CountRunning(); got != 1 {
		t.Errorf("CountRunning = %d, want 1", got)
	}
	if got := store.Count(); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
}
