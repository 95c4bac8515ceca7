package triage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/p-blackswan/tod/internal/ordering"
	"github.com/p-blackswan/tod/internal/todoist"
)

// ErrNoSnapshot is returned when no snapshot matches.
var ErrNoSnapshot = errors.New("no saved session")

// Snapshot is the resumable part of a session. It holds task ids only.
type Snapshot struct {
	ID        string             `yaml:"id"`
	Mode      ordering.Mode      `yaml:"mode"`
	Scope     ordering.Scope     `yaml:"scope,omitempty"`
	Filter    todoist.TaskFilter `yaml:"filter"`
	Queue     []string           `yaml:"queue"`
	Processed int                `yaml:"processed"`
	SavedAt   time.Time          `yaml:"saved_at"`
}

// SnapshotStore keeps snapshots as YAML files in a directory.
type SnapshotStore struct {
	dir    string
	now    func() time.Time
	logger zerolog.Logger
}

// NewSnapshotStore creates a store rooted at dir. The directory is created on first save.
func NewSnapshotStore(dir string, logger zerolog.Logger) *SnapshotStore {
	return &SnapshotStore{
		dir:    dir,
		now:    time.Now,
		logger: logger.With().Str("component", "triage.snapshots").Logger(),
	}
}

// Dir returns the directory holding the snapshots.
func (s *SnapshotStore) Dir() string { return s.dir }

func (s *SnapshotStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("snapshot: invalid id %q", id)
	}
	return filepath.Join(s.dir, id+".yaml"), nil
}

// Save writes snap, replacing any earlier snapshot with the same id.
func (s *SnapshotStore) Save(snap Snapshot) error {
	path, err := s.path(snap.ID)
	if err != nil {
		return err
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = s.now().UTC()
	}
	raw, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: encode %s: %w", snap.ID, err)
	}
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("snapshot: create %s: %w", s.dir, err)
	}

	tmp, err := os.CreateTemp(s.dir, snap.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("snapshot: write %s: %w", path, err)
	}

	s.logger.Debug().Str("session_id", snap.ID).Int("queued", len(snap.Queue)).Msg("snapshot saved")
	return nil
}

// Load reads the snapshot with the given id.
func (s *SnapshotStore) Load(id string) (Snapshot, error) {
	path, err := s.path(id)
	if err != nil {
		return Snapshot{}, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNoSnapshot, id)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: read %s: %w", path, err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: parse %s: %w", path, err)
	}
	if snap.ID != id {
		return Snapshot{}, fmt.Errorf("snapshot: %s holds session %q", path, snap.ID)
	}
	return snap, nil
}

// Delete removes a snapshot. Deleting a missing snapshot is not an error.
func (s *SnapshotStore) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("snapshot: delete %s: %w", path, err)
	}
	return nil
}

// List returns all readable snapshots, newest first.
func (s *SnapshotStore) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: list %s: %w", s.dir, err)
	}

	var out []Snapshot
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".yaml" {
			continue
		}
		snap, err := s.Load(strings.TrimSuffix(name, ".yaml"))
		if err != nil {
			s.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable snapshot")
			continue
		}
		out = append(out, snap)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Latest returns the newest snapshot of mode.
func (s *SnapshotStore) Latest(mode ordering.Mode) (Snapshot, error) {
	all, err := s.List()
	if err != nil {
		return Snapshot{}, err
	}
	for _, snap := range all {
		if snap.Mode == mode {
			return snap, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w for %s", ErrNoSnapshot, mode)
}
