package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/conductor-dev/conductor/log"
)

// ErrNotFound is returned by Update for an unknown session id.
var ErrNotFound = errors.New("session not found")

// Store owns every session record. In-memory state is the source of
// truth; every mutation is mirrored to one JSON file per session, and a
// failed write is logged rather than rolled back.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	dir      string
}

// NewStore creates a store persisting under dir.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}
	return &Store{
		sessions: make(map[string]*Session),
		dir:      dir,
	}, nil
}

// Dir returns the directory session files are written to.
func (s *Store) Dir() string {
	return s.dir
}

// LoadAll reads every persisted session into memory. Legacy records are
// upcast (single repoId to repoIds, boolean ownsWorktree to the
// tri-state form), any session persisted mid-run is reset to idle, and
// validate, when non-nil, may clear stale worktree fields before the
// record is adopted. Unreadable files are skipped with a warning.
func (s *Store) LoadAll(validate func(*Session)) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read sessions dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping unreadable session file")
			continue
		}

		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping malformed session file")
			continue
		}
		if sess.ID == "" {
			sess.ID = strings.TrimSuffix(entry.Name(), ".json")
		}

		migrate(&sess)
		if validate != nil {
			validate(&sess)
		}

		s.sessions[sess.ID] = &sess
		loaded++
	}

	return loaded, nil
}

// migrate upcasts legacy record shapes.
func migrate(sess *Session) {
	if len(sess.RepoIDs) == 0 && sess.LegacyRepoID != "" {
		sess.RepoIDs = []string{sess.LegacyRepoID}
	}
	sess.LegacyRepoID = ""

	// A process handle never survives a restart
	if sess.Status == StatusRunning {
		sess.Status = StatusIdle
	}
	if sess.Status == "" {
		sess.Status = StatusIdle
	}
	if sess.Mode == "" {
		sess.Mode = ModeDirect
	}

	// Mark any message persisted mid-stream as complete
	for _, m := range sess.Messages {
		m.IsStreaming = false
	}
}

// Get returns a deep copy of the session.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Exists reports whether the session id is known.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

// Put inserts a new session and persists it.
func (s *Store) Put(sess *Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	cp := sess.Clone()
	s.mu.Unlock()
	s.save(cp)
}

// Update applies fn to the live session under the store lock, then
// persists the result. fn returning an error aborts both the mutation's
// persistence and Update itself; the in-memory change fn already made is
// the caller's responsibility in that case.
func (s *Store) Update(id string, fn func(*Session) error) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := fn(sess); err != nil {
		s.mu.Unlock()
		return err
	}
	cp := sess.Clone()
	s.mu.Unlock()

	s.save(cp)
	return nil
}

// Delete removes the session from memory and disk.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	path := filepath.Join(s.dir, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("session_id", id).Msg("failed to remove session file")
	}
}

// Count returns the number of sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CountRunning returns how many sessions are mid-turn.
func (s *Store) CountRunning() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.Status == StatusRunning {
			n++
		}
	}
	return n
}

// List returns summaries of every session, newest activity first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Summarize())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// IDs returns every session id.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// save writes one session's full state to disk. Best effort: the
// in-memory record stays authoritative even when the write fails.
func (s *Store) save(sess *Session) {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to marshal session")
		return
	}

	path := filepath.Join(s.dir, sess.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to persist session")
	}
}
