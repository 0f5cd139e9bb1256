// Package workingstate implements the Working-State Store (§4.7): a
// small versioned JSON file, one per project, that the Orchestrator reads
// and writes between turns. Reads cache on first load per key; an
// explicit Invalidate drops that cache entry; every write goes through a
// merge callback and then clamps list sizes before it ever touches disk.
package workingstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"agentcore/internal/domain"
)

// DefaultKeepDoneTasks bounds how many completed OpenTasks survive a
// Merge's CompactTasksOpen pass (§3, §4.7). Open and in_progress tasks are
// never dropped regardless of this bound.
const DefaultKeepDoneTasks = 5

// Store owns every project's working-state file under one root directory.
// A single Store is shared across a session; its cache makes repeated
// reads of the same key free until something calls Invalidate or Merge.
type Store struct {
	Root string

	mu    sync.Mutex
	cache map[string]*domain.WorkingState
}

// NewStore builds a Store rooted at dir. dir is created lazily on first
// write, not here.
func NewStore(dir string) *Store {
	return &Store{Root: dir, cache: map[string]*domain.WorkingState{}}
}

// Load returns key's WorkingState, serving the cached copy if this Store
// has already loaded it this process, reading the file (or returning a
// fresh empty state if it doesn't exist yet) otherwise. The returned value
// is a copy; mutating it does not affect the Store's cache — use Merge to
// persist changes.
func (s *Store) Load(key string) (*domain.WorkingState, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.cache[key]
	if !ok {
		ws, err = loadFromDisk(path)
		if err != nil {
			return nil, err
		}
		s.cache[key] = ws
	}
	clone := *ws
	clone.RecentDecisions = append([]domain.Decision(nil), ws.RecentDecisions...)
	clone.TasksOpen = append([]domain.OpenTask(nil), ws.TasksOpen...)
	clone.Conventions = make(map[string]string, len(ws.Conventions))
	for k, v := range ws.Conventions {
		clone.Conventions[k] = v
	}
	return &clone, nil
}

// Invalidate drops key's cached state, forcing the next Load to re-read
// disk. Used around PreCompact/SessionEnd hooks and whenever something
// outside this Store may have touched the file.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, key)
}

// Merge loads key's current state (from cache, or disk on a cache miss),
// applies fn to mutate it in place, clamps TasksOpen via
// CompactTasksOpen(DefaultKeepDoneTasks), stamps LastUpdated, and writes
// the result atomically with owner-only permissions before updating the
// cache. The returned state is a copy of what was persisted.
func (s *Store) Merge(key string, fn func(*domain.WorkingState)) (*domain.WorkingState, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.cache[key]
	if !ok {
		loaded, err := loadFromDisk(path)
		if err != nil {
			return nil, err
		}
		ws = loaded
	}

	fn(ws)
	ws.CompactTasksOpen(DefaultKeepDoneTasks)
	ws.LastUpdated = time.Now().UTC()

	if err := writeAtomic(path, ws); err != nil {
		return nil, err
	}

	s.cache[key] = ws
	clone := *ws
	return &clone, nil
}

// pathFor resolves key (a caller-chosen project identifier, never a raw
// filesystem path) to a file under Root, rejecting traversal the same
// way the teacher's SpecStore rejects an untrusted relative path.
func (s *Store) pathFor(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("workingstate: key is required")
	}
	if strings.Contains(key, "..") || filepath.IsAbs(key) {
		return "", fmt.Errorf("workingstate: invalid key %q", key)
	}
	return filepath.Join(s.Root, key+".json"), nil
}

func loadFromDisk(path string) (*domain.WorkingState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ws := domain.NewWorkingState()
			return &ws, nil
		}
		return nil, fmt.Errorf("workingstate: read %s: %w", path, err)
	}

	var ws domain.WorkingState
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("workingstate: parse %s: %w", path, err)
	}
	return &ws, nil
}

// writeAtomic mirrors the teacher's spec_store.go pattern: write to a
// sibling .tmp file, then rename over the target so a reader never sees a
// partially written file. Mode 0600, per §6: the working-state file is
// project-local, owner-only.
func writeAtomic(path string, ws *domain.WorkingState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("workingstate: create dir: %w", err)
	}

	data, err := json.MarshalIndent(ws, "", "  ")
	if err != nil {
		return fmt.Errorf("workingstate: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("workingstate: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("workingstate: rename: %w", err)
	}
	return nil
}
