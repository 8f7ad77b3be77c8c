// Package repo maps repository identifiers to filesystem paths.
package repo

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"

	"github.com/conductor-dev/conductor/log"
)

// Repo is one registered repository.
type Repo struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// Registry resolves repository ids to paths. Backed by a JSON file in
// the data directory; mutations persist immediately.
type Registry struct {
	mu    sync.RWMutex
	path  string
	repos map[string]string
}

// LoadRegistry reads the registry file. A missing file yields an empty
// registry.
func LoadRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:  path,
		repos: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read repo registry: %w", err)
	}

	var repos []Repo
	if err := json.Unmarshal(data, &repos); err != nil {
		return nil, fmt.Errorf("failed to parse repo registry: %w", err)
	}
	for _, rp := range repos {
		r.repos[rp.ID] = rp.Path
	}

	log.Info().Int("count", len(r.repos)).Msg("repo registry loaded")
	return r, nil
}

// Resolve returns the filesystem path for a repository id.
func (r *Registry) Resolve(id string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	path, ok := r.repos[id]
	if !ok {
		return "", fmt.Errorf("unknown repository %q", id)
	}
	return path, nil
}

// Has reports whether a repository id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.repos[id]
	return ok
}

// Add registers a repository after checking the path is a git repo.
func (r *Registry) Add(id, path string) error {
	if id == "" || path == "" {
		return fmt.Errorf("repo id and path are required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid repo path: %w", err)
	}
	if err := validateRepo(abs); err != nil {
		return err
	}

	r.mu.Lock()
	r.repos[id] = abs
	r.mu.Unlock()

	r.persist()
	return nil
}

// Remove unregisters a repository.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	if _, ok := r.repos[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("unknown repository %q", id)
	}
	delete(r.repos, id)
	r.mu.Unlock()

	r.persist()
	return nil
}

// List returns all repositories sorted by id.
func (r *Registry) List() []Repo {
	r.mu.RLock()
	out := make([]Repo, 0, len(r.repos))
	for id, path := range r.repos {
		out = append(out, Repo{ID: id, Path: path})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Paths returns the id to path map as a copy.
func (r *Registry) Paths() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.repos))
	for id, path := range r.repos {
		out[id] = path
	}
	return out
}

// validateRepo checks a path exists and is a git repository.
func validateRepo(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("repo path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repo path is not a directory: %s", path)
	}
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = path
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("not a git repository: %s", path)
	}
	return nil
}

// persist writes the registry file. Best effort, like session records.
func (r *Registry) persist() {
	data, err := json.MarshalIndent(r.List(), "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal repo registry")
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		log.Error().Err(err).Msg("failed to create repo registry dir")
		return
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		log.Error().Err(err).Msg("failed to persist repo registry")
	}
}
