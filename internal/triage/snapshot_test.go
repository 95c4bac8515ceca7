package triage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/tod/internal/ordering"
	"github.com/p-blackswan/tod/internal/todoist"
)

func newStore(t *testing.T) *SnapshotStore {
	t.Helper()
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "sessions"), zerolog.Nop())
	s.now = func() time.Time { return time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC) }
	return s
}

func TestSnapshotStore_SaveLoad(t *testing.T) {
	store := newStore(t)
	snap := Snapshot{
		ID:        "s1",
		Mode:      ordering.Schedule,
		Scope:     ordering.ScopeOverdue,
		Filter:    todoist.TaskFilter{ProjectID: "p1", Label: "home"},
		Queue:     []string{"t3", "t1"},
		Processed: 2,
	}
	require.NoError(t, store.Save(snap))

	got, err := store.Load("s1")
	require.NoError(t, err)
	snap.SavedAt = store.now()
	assert.Equal(t, snap, got)

	info, err := os.Stat(store.Dir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestSnapshotStore_LoadMissing(t *testing.T) {
	store := newStore(t)

	_, err := store.Load("nope")
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.NoError(t, store.Delete("nope"))
}

func TestSnapshotStore_RejectsPathIDs(t *testing.T) {
	store := newStore(t)

	for _, id := range []string{"", ".", "..", "../x", `a\b`} {
		assert.Error(t, store.Save(Snapshot{ID: id}), id)
	}
}

func TestSnapshotStore_ListAndLatest(t *testing.T) {
	store := newStore(t)
	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(Snapshot{ID: "old", Mode: ordering.Schedule, SavedAt: base}))
	require.NoError(t, store.Save(Snapshot{ID: "new", Mode: ordering.Schedule, SavedAt: base.Add(time.Hour)}))
	require.NoError(t, store.Save(Snapshot{ID: "other", Mode: ordering.Process, SavedAt: base.Add(2 * time.Hour)}))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "broken.yaml"), []byte("id: [unterminated"), 0o600))

	all, err := store.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "other", all[0].ID)

	latest, err := store.Latest(ordering.Schedule)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)

	_, err = store.Latest(ordering.Prioritize)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.Delete("new"))
	latest, err = store.Latest(ordering.Schedule)
	require.NoError(t, err)
	assert.Equal(t, "old", latest.ID)
}

func TestSnapshotStore_ListEmptyDir(t *testing.T) {
	all, err := newStore(t).List()
	assert.NoError(t, err)
	assert.Empty(t, all)
}

func TestSession_Snapshot(t *testing.T) {
	s := &Session{
		ID:        "abc",
		Mode:      ordering.Prioritize,
		Filter:    todoist.TaskFilter{Query: "p1"},
		queue:     []todoist.Task{{ID: "t2"}, {ID: "t5"}},
		processed: 4,
	}

	snap := s.Snapshot()
	assert.Equal(t, []string{"t2", "t5"}, snap.Queue)
	assert.Equal(t, 4, snap.Processed)
	assert.Equal(t, "p1", snap.Filter.Query)
	assert.True(t, snap.SavedAt.IsZero())
}

func TestParseSkipPolicy(t *testing.T) {
	p, err := ParseSkipPolicy(" Dismiss ")
	require.NoError(t, err)
	assert.Equal(t, SkipDismiss, p)

	_, err = ParseSkipPolicy("drop")
	assert.Error(t, err)
}

func TestStateAndOutcomeStrings(t *testing.T) {
	assert.Equal(t, "awaiting_decision", AwaitingDecision.String())
	assert.True(t, Aborted.Terminal())
	assert.False(t, Undoing.Terminal())
	assert.Equal(t, "completed", Done.String())

	err := &AbortError{Processed: 2, TaskID: "t9", Err: ErrQuit}
	assert.Equal(t, "session aborted after 2 processed task(s) at task t9: quit by operator", err.Error())
	assert.ErrorIs(t, err, ErrQuit)
}
