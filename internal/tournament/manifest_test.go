package tournament

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManifestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := NewManifestStore(dir, "league", "summer-open")

	if !strings.HasSuffix(s.Path(), "league-summer-open.json") {
		t.Errorf("path = %q", s.Path())
	}

	found, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if found {
		t.Fatal("found manifest before any write")
	}

	err = s.Update(func(m *Manifest) {
		m.Tournament = "summer-open"
		m.Format = "league"
		m.Status = StatusInProgress
		m.Fixtures = []Fixture{
			{ID: "ev-a-vs-b", Event: "ev", Players: []string{"a", "b"}, Status: StatusPending},
		}
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	s2 := NewManifestStore(dir, "league", "summer-open")
	found, err = s2.Load()
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if !found {
		t.Fatal("manifest not found after write")
	}
	snap := s2.Snapshot()
	if snap.Tournament != "summer-open" || len(snap.Fixtures) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.UpdatedAt == "" {
		t.Error("updated_at not stamped")
	}
}

func TestManifestLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := NewManifestStore(dir, "bracket", "x")
	for i := 0; i < 5; i++ {
		if err := s.Update(func(m *Manifest) { m.Status = StatusInProgress }); err != nil {
			t.Fatalf("Update() error = %v", err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("dir contains %v, want only the manifest", names)
	}
}

func TestManifestAlwaysValidJSON(t *testing.T) {
	dir := t.TempDir()
	s := NewManifestStore(dir, "league", "x")
	err := s.Update(func(m *Manifest) {
		m.Tournament = "x"
		for i := 0; i < 100; i++ {
			m.Fixtures = append(m.Fixtures, Fixture{ID: "f", Status: StatusPending})
		}
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "league-x.json"))
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("manifest on disk is not valid JSON: %v", err)
	}
	if len(m.Fixtures) != 100 {
		t.Errorf("fixtures = %d, want 100", len(m.Fixtures))
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewManifestStore(t.TempDir(), "league", "x")
	if err := s.Update(func(m *Manifest) {
		m.Fixtures = []Fixture{{ID: "f1", Status: StatusPending}}
	}); err != nil {
		t.Fatal(err)
	}

	snap := s.Snapshot()
	snap.Fixtures[0].Status = StatusComplete

	if s.Snapshot().Fixtures[0].Status != StatusPending {
		t.Error("mutating a snapshot changed the store")
	}
}
