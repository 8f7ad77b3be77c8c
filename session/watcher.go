package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conductor-dev/conductor/log"
)

// Watcher observes the sessions directory so records modified outside
// this process (manual edits, sync tools) still push fresh state to
// subscribers. Events are debounced per session id. When inotify is
// unavailable the watcher degrades to polling file modtimes.
type Watcher struct {
	store        *Store
	watcher      *fsnotify.Watcher // nil in polling mode
	onChange     func(sessionID string)
	debounce     time.Duration
	pollInterval time.Duration
}

// NewWatcher creates a watcher over the store's directory. onChange is
// invoked with the session id after a quiet period.
func NewWatcher(store *Store, onChange func(sessionID string)) *Watcher {
	w := &Watcher{
		store:        store,
		onChange:     onChange,
		debounce:     200 * time.Millisecond,
		pollInterval: 2 * time.Second,
	}

	fsw, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := fsw.Add(store.Dir()); addErr != nil {
			fsw.Close()
			err = addErr
		} else {
			w.watcher = fsw
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("fsnotify unavailable, session watcher falling back to polling")
	}
	return w
}

// Start runs the event loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	if w.watcher == nil {
		go w.pollLoop(ctx)
		return
	}
	go w.eventLoop(ctx)
}

// pollLoop scans file modtimes on a ticker. The first scan primes the
// baseline so pre-existing records do not fire.
func (w *Watcher) pollLoop(ctx context.Context) {
	seen := make(map[string]time.Time)
	w.scanModTimes(seen, nil)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.scanModTimes(seen, w.onChange)
		}
	}
}

func (w *Watcher) scanModTimes(seen map[string]time.Time, notify func(sessionID string)) {
	entries, err := os.ReadDir(w.store.Dir())
	if err != nil {
		return
	}
	for _, e := range entries {
		id := sessionIDFromPath(e.Name())
		if id == "" || !w.store.Exists(id) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		prev, known := seen[e.Name()]
		seen[e.Name()] = info.ModTime()
		if notify != nil && (!known || info.ModTime().After(prev)) {
			notify(id)
		}
	}
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.watcher.Close()

	pending := make(map[string]struct{})
	flush := time.NewTimer(0)
	<-flush.C

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			id := sessionIDFromPath(event.Name)
			if id == "" || !w.store.Exists(id) {
				continue
			}
			pending[id] = struct{}{}
			flush.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("session watcher error")

		case <-flush.C:
			for id := range pending {
				w.onChange(id)
				delete(pending, id)
			}
		}
	}
}

func sessionIDFromPath(path string) string {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".json") {
		return ""
	}
	return strings.TrimSuffix(name, ".json")
}
