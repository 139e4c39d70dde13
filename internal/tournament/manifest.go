package tournament

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fixture lifecycle states as persisted in the manifest.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// Fixture is one scheduled match (or multi-event pairing) in a
// tournament.
type Fixture struct {
	ID      string             `json:"id"`
	Event   string             `json:"event"`
	Players []string           `json:"players"`
	Round   int                `json:"round"`
	Status  string             `json:"status"`
	MatchID string             `json:"match_id,omitempty"`
	Winner  string             `json:"winner,omitempty"`
	Scores  map[string]float64 `json:"scores,omitempty"`
	// Fidelity carries per-player violation counts out of the match
	// summary so standings tiebreaks survive a restart.
	Fidelity map[string]map[string]int `json:"fidelity,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// Manifest is the on-disk progress record for one tournament. It is
// the resume point after a crash and the data behind the spectate
// endpoints, so it must never be observable half-written.
type Manifest struct {
	Tournament string     `json:"tournament"`
	Format     string     `json:"format"`
	Seed       int64      `json:"seed"`
	Status     string     `json:"status"`
	UpdatedAt  string     `json:"updated_at"`
	Fixtures   []Fixture  `json:"fixtures"`
	Champion   string     `json:"champion,omitempty"`
	Standings  []Standing `json:"standings,omitempty"`
}

// ManifestStore persists a manifest with atomic replace semantics: the
// new content is written to a temp file in the same directory, fsynced,
// then renamed over the old file. Readers always see a complete
// document.
type ManifestStore struct {
	mu   sync.Mutex
	path string
	m    Manifest
}

// NewManifestStore creates a store at <dir>/<format>-<name>.json.
func NewManifestStore(dir, format, name string) *ManifestStore {
	return &ManifestStore{
		path: filepath.Join(dir, fmt.Sprintf("%s-%s.json", format, name)),
	}
}

// Path returns the manifest file location.
func (s *ManifestStore) Path() string {
	return s.path
}

// Load reads an existing manifest. found=false means a fresh start.
func (s *ManifestStore) Load() (found bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal(data, &s.m); err != nil {
		return false, fmt.Errorf("decode manifest %s: %w", s.path, err)
	}
	return true, nil
}

// Update mutates the manifest under the lock and persists it.
func (s *ManifestStore) Update(fn func(m *Manifest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.m)
	s.m.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.writeLocked()
}

// Snapshot returns a copy of the current manifest.
func (s *ManifestStore) Snapshot() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.m
	out.Fixtures = append([]Fixture(nil), s.m.Fixtures...)
	out.Standings = append([]Standing(nil), s.m.Standings...)
	return out
}

func (s *ManifestStore) writeLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	data, err := json.MarshalIndent(s.m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create manifest temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close manifest temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
