package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// changeRecorder collects watcher callbacks.
type changeRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (c *changeRecorder) record(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

func (c *changeRecorder) waitFor(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, got := range c.ids {
			if got == id {
				c.mu.Unlock()
				return
			}
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("watcher never reported a change for %s", id)
}

func TestWatcherPushesExternalEdit(t *testing.T) {
	store := newTestStore(t)
	sess := makeSession("w1")
	store.Put(sess)

	rec := &changeRecorder{}
	w := NewWatcher(store, rec.record)
	if w.watcher == nil {
		t.Skip("fsnotify unavailable on this filesystem")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Rewrite the record the way an external tool would
	data, err := json.Marshal(sess)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.Dir(), "w1.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	rec.waitFor(t, "w1")
}

func TestWatcherPollFallbackDetectsChange(t *testing.T) {
	store := newTestStore(t)
	store.Put(makeSession("w2"))

	rec := &changeRecorder{}
	w := &Watcher{
		store:        store,
		onChange:     rec.record,
		pollInterval: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// Let the baseline scan settle, then bump the modtime as an
	// external edit would
	time.Sleep(50 * time.Millisecond)
	path := filepath.Join(store.Dir(), "w2.json")
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	rec.waitFor(t, "w2")
}

func TestWatcherIgnoresForeignFiles(t *testing.T) {
	store := newTestStore(t)
	store.Put(makeSession("w3"))

	rec := &changeRecorder{}
	w := &Watcher{
		store:        store,
		onChange:     rec.record,
		pollInterval: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.Dir(), "unknown.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.ids) != 0 {
		t.Errorf("foreign files must not fire callbacks, got %v", rec.ids)
	}
}
