package triage_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/tod/internal/cache"
	"github.com/p-blackswan/tod/internal/due"
	terrors "github.com/p-blackswan/tod/internal/errors"
	"github.com/p-blackswan/tod/internal/metrics"
	"github.com/p-blackswan/tod/internal/ordering"
	"github.com/p-blackswan/tod/internal/retry"
	"github.com/p-blackswan/tod/internal/todoist"
	"github.com/p-blackswan/tod/internal/todoist/todoisttest"
	"github.com/p-blackswan/tod/internal/triage"
)

// Wednesday.
var ref = time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	srv     *todoisttest.Server
	client  *todoist.Client
	engine  *triage.Engine
	store   *triage.SnapshotStore
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, cfg triage.Config) *fixture {
	t.Helper()
	return newFixtureWith(t, cfg, func(*todoist.Options) {})
}

func newFixtureWith(t *testing.T, cfg triage.Config, tune func(*todoist.Options)) *fixture {
	t.Helper()
	srv := todoisttest.New()
	srv.Now = func() time.Time { return ref }

	opts := todoist.DefaultOptions()
	opts.Retry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, RateLimitDelay: time.Millisecond}
	opts.RequestsPerSecond = 0
	tune(&opts)
	client := srv.Client(opts)

	m := metrics.New()
	meta := cache.NewMetadata(cache.Options{TTL: time.Minute, Capacity: 16, Now: func() time.Time { return ref }, Metrics: m}, zerolog.Nop())
	resolver := due.NewResolver("en", time.UTC)
	resolver.Now = func() time.Time { return ref }

	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	e := triage.NewEngine(cfg, client, cache.NewCatalog(meta, client), resolver, m, zerolog.Nop())
	store := triage.NewSnapshotStore(t.TempDir(), zerolog.Nop())
	e.SetSnapshotStore(store)

	return &fixture{srv: srv, client: client, engine: e, store: store, metrics: m}
}

func dated(content, day string) todoist.Task {
	return todoist.Task{Content: content, Due: &todoist.Due{Date: day, String: day}}
}

func stepErr(t *testing.T, out triage.Outcome) *triage.StepError {
	t.Helper()
	var se *triage.StepError
	require.True(t, errors.As(out.Err, &se), "expected a StepError, got %v", out.Err)
	return se
}

func abortErr(t *testing.T, out triage.Outcome) *triage.AbortError {
	t.Helper()
	require.Equal(t, triage.Stopped, out.Kind)
	var ae *triage.AbortError
	require.True(t, errors.As(out.Err, &ae), "expected an AbortError, got %v", out.Err)
	return ae
}

func TestSchedule_Scenario(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.AddTask(dated("overdue", "2024-01-09"))
	undated := f.srv.AddTask(todoist.Task{Content: "undated"})
	nextWeek := f.srv.AddTask(dated("next week", "2024-01-17"))
	ctx := context.Background()

	s, out, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{undated.ID, nextWeek.ID}, s.QueueIDs())
	require.Equal(t, triage.Continuing, out.Kind)
	assert.Equal(t, undated.ID, out.Task.ID)
	assert.Equal(t, triage.AwaitingDecision, s.State())

	f.srv.ResetCalls()
	out = f.engine.Step(ctx, s, triage.Reschedule{Text: "yesterday"})
	require.Equal(t, triage.Continuing, out.Kind)
	se := stepErr(t, out)
	assert.Equal(t, undated.ID, se.TaskID)
	assert.ErrorIs(t, out.Err, due.ErrPastDate)
	assert.Equal(t, undated.ID, out.Task.ID, "queue does not advance")
	assert.Equal(t, triage.AwaitingDecision, s.State())
	assert.Zero(t, f.srv.Mutations())

	out = f.engine.Step(ctx, s, triage.Reschedule{Text: "tomorrow at 3pm"})
	require.NoError(t, out.Err)
	assert.Equal(t, nextWeek.ID, out.Task.ID)
	got, _ := f.srv.Task(undated.ID)
	require.NotNil(t, got.Due)
	assert.Equal(t, "2024-01-11T15:00:00", got.Due.Date)
}

func TestStart_EmptyQueueCompletes(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.AddTask(dated("later", "2024-02-01"))

	s, out, err := f.engine.Start(context.Background(), ordering.Process, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, triage.Done, out.Kind)
	assert.Equal(t, triage.Completed, s.State())
}

func TestStart_RejectsScopeOfAnotherMode(t *testing.T) {
	f := newFixture(t, triage.Config{})

	_, _, err := f.engine.Start(context.Background(), ordering.Process, ordering.ScopeOverdue, todoist.TaskFilter{})
	assert.ErrorIs(t, err, terrors.ErrInvalidInput)
	assert.Zero(t, f.srv.CallCount("", ""))
}

func TestStart_ListFailure(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.Fail(todoisttest.Fault{Method: http.MethodGet, Path: "/tasks", Status: http.StatusBadRequest})

	_, _, err := f.engine.Start(context.Background(), ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	assert.ErrorIs(t, err, terrors.ErrRejected)
}

func TestUndo_EmptyStackIsNoop(t *testing.T) {
	f := newFixture(t, triage.Config{})
	task := f.srv.AddTask(todoist.Task{Content: "only"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	f.srv.ResetCalls()

	out := f.engine.Step(ctx, s, triage.Undo{})
	require.Equal(t, triage.Continuing, out.Kind)
	assert.NoError(t, out.Err)
	assert.Equal(t, task.ID, out.Task.ID)
	assert.Equal(t, triage.AwaitingDecision, s.State())
	assert.Empty(t, f.srv.Calls())
}

type remoteState struct {
	Content   string
	DueDate   string
	Recurring bool
	Priority  int
	Labels    []string
	ProjectID string
	SectionID string
	Checked   bool
}

func stateOf(t todoist.Task) remoteState {
	st := remoteState{Content: t.Content, Priority: t.Priority, Labels: t.Labels, ProjectID: t.ProjectID, SectionID: t.SectionID, Checked: t.Checked}
	if t.Due != nil {
		st.DueDate = t.Due.Date
		st.Recurring = t.Due.IsRecurring
	}
	return st
}

func TestUndo_RestoresRemoteState(t *testing.T) {
	f := newFixture(t, triage.Config{})
	work := f.srv.AddProject(todoist.Project{Name: "Work"})
	next := f.srv.AddSection(todoist.Section{ProjectID: work.ID, Name: "Next"})
	f.srv.AddLabel("home")

	weekly := f.srv.AddTask(todoist.Task{Content: "standup", Due: &todoist.Due{Date: "2024-01-15", String: "every monday", Lang: "en", IsRecurring: true}})
	tasks := []todoist.Task{
		f.srv.AddTask(todoist.Task{Content: "reschedule me"}),
		f.srv.AddTask(todoist.Task{Content: "prioritize me"}),
		weekly,
		f.srv.AddTask(dated("finish me", "2024-01-20")),
		f.srv.AddTask(todoist.Task{Content: "label me"}),
		f.srv.AddTask(todoist.Task{Content: "move me"}),
		f.srv.AddTask(dated("clear me", "2024-01-11")),
		f.srv.AddTask(todoist.Task{Content: "unlabel me", Labels: []string{"home", "work"}}),
		f.srv.AddTask(todoist.Task{Content: "new home"}),
		f.srv.AddTask(todoist.Task{Content: "rename me"}),
		f.srv.AddTask(todoist.Task{Content: "untouched"}),
	}
	before := make(map[string]remoteState)
	for _, task := range f.srv.Tasks() {
		before[task.ID] = stateOf(task)
	}

	ctx := context.Background()
	s, _, err := f.engine.Start(ctx, ordering.Prioritize, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	require.Equal(t, weekly.ID, s.Current().ID, "queue follows creation order")

	decisions := []triage.Decision{
		triage.Complete{},
		triage.Reschedule{Text: "tomorrow at 3pm"},
		triage.SetPriority{Priority: todoist.PriorityHigh},
		triage.Complete{},
		triage.AddLabel{Label: "errands"},
		triage.MoveToProject{ProjectID: work.ID, SectionID: next.ID},
		triage.ClearDue{},
		triage.RemoveLabel{Label: "home"},
		triage.MoveToNewProject{Project: "Someday"},
		triage.Rename{Content: "renamed"},
	}
	for _, d := range decisions {
		out := f.engine.Step(ctx, s, d)
		require.NoError(t, out.Err, d.Name())
		require.Equal(t, triage.Continuing, out.Kind, d.Name())
	}
	assert.Equal(t, len(decisions), s.Processed())
	assert.Equal(t, len(decisions), s.UndoDepth())

	afterWeekly, _ := f.srv.Task(weekly.ID)
	assert.Equal(t, "2024-01-22", afterWeekly.Due.Date, "recurring task advances")
	moved, _ := f.srv.Task(tasks[5].ID)
	assert.Equal(t, next.ID, moved.SectionID)
	renamed, _ := f.srv.Task(tasks[9].ID)
	assert.Equal(t, "renamed", renamed.Content)

	for range decisions {
		out := f.engine.Step(ctx, s, triage.Undo{})
		require.NoError(t, out.Err)
		require.Equal(t, triage.Continuing, out.Kind)
	}
	assert.Equal(t, weekly.ID, s.Current().ID)
	assert.Zero(t, s.Processed())
	assert.Zero(t, s.UndoDepth())

	for _, task := range f.srv.Tasks() {
		assert.Equal(t, before[task.ID], stateOf(task), task.Content)
	}
}

func TestUndo_RecurringKeepsOccurrence(t *testing.T) {
	tests := []struct {
		name     string
		date     string
		decision triage.Decision
	}{
		{"complete overdue", "2024-01-08", triage.Complete{}},
		{"complete next", "2024-01-15", triage.Complete{}},
		{"complete further out", "2024-01-22", triage.Complete{}},
		{"reschedule overdue", "2024-01-08", triage.Reschedule{Text: "tomorrow"}},
		{"reschedule further out", "2024-01-22", triage.Reschedule{Text: "tomorrow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, triage.Config{})
			weekly := f.srv.AddTask(todoist.Task{Content: "standup", Due: &todoist.Due{Date: tt.date, String: "every monday", Lang: "en", IsRecurring: true}})
			f.srv.AddTask(todoist.Task{Content: "next"})
			ctx := context.Background()

			s, _, err := f.engine.Start(ctx, ordering.Prioritize, ordering.ScopeDefault, todoist.TaskFilter{})
			require.NoError(t, err)
			require.Equal(t, weekly.ID, s.Current().ID)

			require.NoError(t, f.engine.Step(ctx, s, tt.decision).Err)
			changed, _ := f.srv.Task(weekly.ID)
			require.NotEqual(t, tt.date, changed.Due.Date)

			out := f.engine.Step(ctx, s, triage.Undo{})
			require.NoError(t, out.Err)
			assert.Equal(t, weekly.ID, out.Task.ID)

			got, _ := f.srv.Task(weekly.ID)
			require.NotNil(t, got.Due)
			assert.Equal(t, tt.date, got.Due.Date)
			assert.True(t, got.Due.IsRecurring)
			assert.Equal(t, "every monday", got.Due.String)
		})
	}
}

func TestUndo_FailureKeepsEntry(t *testing.T) {
	f := newFixture(t, triage.Config{})
	first := f.srv.AddTask(todoist.Task{Content: "first"})
	f.srv.AddTask(todoist.Task{Content: "second"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Prioritize, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Step(ctx, s, triage.SetPriority{Priority: 3}).Err)

	f.srv.Fail(todoisttest.Fault{Method: http.MethodPost, Path: "/tasks/" + first.ID, Status: http.StatusServiceUnavailable, Times: -1})
	out := f.engine.Step(ctx, s, triage.Undo{})
	assert.Equal(t, first.ID, stepErr(t, out).TaskID)
	assert.ErrorIs(t, out.Err, terrors.ErrUnavailable)
	assert.Equal(t, 1, s.UndoDepth())
	assert.Equal(t, 1, s.Processed())

	f.srv.ClearFaults()
	out = f.engine.Step(ctx, s, triage.Undo{})
	require.NoError(t, out.Err)
	assert.Equal(t, first.ID, out.Task.ID)
	got, _ := f.srv.Task(first.ID)
	assert.Equal(t, todoist.PriorityNone, got.Priority)
}

func TestSkip_DefersByDefault(t *testing.T) {
	f := newFixture(t, triage.Config{})
	a := f.srv.AddTask(todoist.Task{Content: "a"})
	b := f.srv.AddTask(todoist.Task{Content: "b"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)

	out := f.engine.Step(ctx, s, triage.Skip{})
	assert.Equal(t, b.ID, out.Task.ID)
	assert.Equal(t, []string{b.ID, a.ID}, s.QueueIDs())

	out = f.engine.Step(ctx, s, triage.Skip{})
	assert.Equal(t, a.ID, out.Task.ID, "deferred tasks come back")

	out = f.engine.Step(ctx, s, triage.Dismiss{})
	assert.Equal(t, b.ID, out.Task.ID)
	assert.Equal(t, 1, s.Remaining())
	assert.Zero(t, s.Processed())
	assert.Zero(t, f.srv.Mutations())
}

func TestSkip_DismissPolicy(t *testing.T) {
	f := newFixture(t, triage.Config{Skip: map[ordering.Mode]triage.SkipPolicy{ordering.Process: triage.SkipDismiss}})
	f.srv.AddTask(todoist.Task{Content: "a"})
	f.srv.AddTask(todoist.Task{Content: "b"})
	ctx := context.Background()

	assert.Equal(t, triage.SkipDismiss, f.engine.SkipPolicy(ordering.Process))
	assert.Equal(t, triage.SkipDefer, f.engine.SkipPolicy(ordering.Schedule))

	s, _, err := f.engine.Start(ctx, ordering.Process, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	assert.Equal(t, triage.Continuing, f.engine.Step(ctx, s, triage.Skip{}).Kind)
	assert.Equal(t, triage.Done, f.engine.Step(ctx, s, triage.Skip{}).Kind)
	assert.Zero(t, s.Processed())
}

func TestStep_RemoteErrorLeavesQueue(t *testing.T) {
	f := newFixture(t, triage.Config{})
	a := f.srv.AddTask(todoist.Task{Content: "a"})
	b := f.srv.AddTask(todoist.Task{Content: "b"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Prioritize, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)

	f.srv.Fail(todoisttest.Fault{Method: http.MethodPost, Path: "/tasks/" + a.ID, Status: http.StatusServiceUnavailable, Times: -1})
	out := f.engine.Step(ctx, s, triage.SetPriority{Priority: 3})
	require.Equal(t, triage.Continuing, out.Kind)
	assert.Equal(t, a.ID, stepErr(t, out).TaskID)
	assert.ErrorIs(t, out.Err, terrors.ErrUnavailable)
	assert.Equal(t, a.ID, out.Task.ID)
	assert.Zero(t, s.Processed())
	assert.Zero(t, s.UndoDepth())
	assert.Equal(t, 3, f.srv.CallCount(http.MethodPost, "/tasks/"+a.ID), "retried up to the bound")

	f.srv.ClearFaults()
	out = f.engine.Step(ctx, s, triage.SetPriority{Priority: 3})
	require.NoError(t, out.Err)
	assert.Equal(t, b.ID, out.Task.ID)
	assert.Equal(t, 1, s.Processed())
}

func TestStep_ValidationNeverReachesRemote(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.AddTask(todoist.Task{Content: "a", Labels: []string{"home"}})
	work := f.srv.AddProject(todoist.Project{Name: "Work"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Prioritize, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)

	for _, d := range []triage.Decision{
		triage.SetPriority{Priority: 0},
		triage.SetPriority{Priority: 5},
		triage.AddLabel{Label: " "},
		triage.AddLabel{Label: "Home"},
		triage.RemoveLabel{Label: "work"},
		triage.ClearDue{},
		triage.MoveToProject{ProjectID: "missing"},
		triage.MoveToProject{ProjectID: work.ID, SectionID: "missing"},
		triage.MoveToProject{ProjectID: todoisttest.InboxID},
		triage.MoveToNewProject{Project: ""},
		triage.Rename{Content: "  "},
		triage.Rename{Content: "a"},
		triage.Reschedule{Text: "whenever"},
	} {
		out := f.engine.Step(ctx, s, d)
		require.Equal(t, triage.Continuing, out.Kind, d.Name())
		stepErr(t, out)
	}
	assert.Zero(t, f.srv.Mutations())
	assert.Equal(t, 1, s.Remaining())
}

func TestStep_AuthFailureAborts(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.AddTask(todoist.Task{Content: "a"})
	b := f.srv.AddTask(todoist.Task{Content: "b"})
	c := f.srv.AddTask(todoist.Task{Content: "c"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Step(ctx, s, triage.Complete{}).Err)

	f.srv.Token = "rotated"
	out := f.engine.Step(ctx, s, triage.Complete{})
	ae := abortErr(t, out)
	assert.Equal(t, 1, ae.Processed)
	assert.Equal(t, b.ID, ae.TaskID)
	assert.ErrorIs(t, out.Err, terrors.ErrAuthFailure)
	assert.Equal(t, triage.Aborted, s.State())
	assert.Zero(t, s.UndoDepth())
	assert.Equal(t, out.Err, s.Err())

	snap, err := f.store.Load(s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, snap.Queue)
	assert.Equal(t, 1, snap.Processed)

	f.srv.ResetCalls()
	assert.Equal(t, triage.Stopped, f.engine.Step(ctx, s, triage.Complete{}).Kind)
	assert.Empty(t, f.srv.Calls(), "aborted sessions accept no decisions")
}

func TestStep_TooManyPagesIsFatal(t *testing.T) {
	f := newFixtureWith(t, triage.Config{}, func(o *todoist.Options) {
		o.PageSize = 1
		o.MaxPages = 2
	})
	task := f.srv.AddTask(todoist.Task{Content: "a"})
	for i := 0; i < 3; i++ {
		f.srv.AddProject(todoist.Project{Name: "p"})
	}
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)

	out := f.engine.Step(ctx, s, triage.MoveToProject{ProjectID: "elsewhere"})
	ae := abortErr(t, out)
	assert.ErrorIs(t, out.Err, terrors.ErrTooManyPages)
	assert.Equal(t, task.ID, ae.TaskID)
	assert.Zero(t, ae.Processed)
	assert.Zero(t, f.srv.Mutations())
}

func TestStep_QuitAndResume(t *testing.T) {
	f := newFixture(t, triage.Config{})
	a := f.srv.AddTask(todoist.Task{Content: "a"})
	b := f.srv.AddTask(todoist.Task{Content: "b"})
	c := f.srv.AddTask(todoist.Task{Content: "c"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Step(ctx, s, triage.Complete{}).Err)

	out := f.engine.Step(ctx, s, triage.Quit{})
	ae := abortErr(t, out)
	assert.ErrorIs(t, out.Err, triage.ErrQuit)
	assert.Equal(t, 1, ae.Processed)

	done, _ := f.srv.Task(a.ID)
	assert.True(t, done.Checked, "committed work survives the abort")

	// c is completed elsewhere before the session resumes.
	require.NoError(t, f.client.CloseTask(ctx, c.ID))

	snap, err := f.store.Latest(ordering.Schedule)
	require.NoError(t, err)
	resumed, out, err := f.engine.Resume(ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, s.ID, resumed.ID)
	assert.Equal(t, []string{b.ID}, resumed.QueueIDs())
	assert.Equal(t, 1, resumed.Processed())
	assert.Equal(t, b.ID, out.Task.ID)

	out = f.engine.Step(ctx, resumed, triage.Complete{})
	assert.Equal(t, triage.Done, out.Kind)
	assert.Equal(t, 2, resumed.Processed())
	_, err = f.store.Load(s.ID)
	assert.ErrorIs(t, err, triage.ErrNoSnapshot, "completed sessions drop their snapshot")
}

func TestStep_CancelledContextAborts(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.AddTask(todoist.Task{Content: "a"})
	ctx, cancel := context.WithCancel(context.Background())

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	cancel()

	out := f.engine.Step(ctx, s, triage.Complete{})
	abortErr(t, out)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Zero(t, f.srv.Mutations())
}

func TestStep_CompletionClearsUndo(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.AddTask(todoist.Task{Content: "a"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	out := f.engine.Step(ctx, s, triage.Complete{})
	assert.Equal(t, triage.Done, out.Kind)
	assert.Nil(t, out.Task)
	assert.Zero(t, s.UndoDepth())
	assert.Equal(t, 1, s.Processed())

	f.srv.ResetCalls()
	assert.Equal(t, triage.Done, f.engine.Step(ctx, s, triage.Undo{}).Kind)
	assert.Empty(t, f.srv.Calls())
}

func TestStep_AddUnknownLabelRefreshesCatalog(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.AddTask(todoist.Task{Content: "a"})
	f.srv.AddTask(todoist.Task{Content: "b"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	require.NoError(t, f.engine.Step(ctx, s, triage.AddLabel{Label: "errands"}).Err)
	f.srv.AddLabel("errands")

	require.NoError(t, f.engine.Step(ctx, s, triage.AddLabel{Label: "errands"}).Err)
	assert.Equal(t, 2, f.srv.CallCount(http.MethodGet, "/labels"), "unknown label invalidates the cached list")
}

func TestStep_MoveToNewProjectRetryReusesProject(t *testing.T) {
	f := newFixture(t, triage.Config{})
	task := f.srv.AddTask(todoist.Task{Content: "a"})
	f.srv.AddTask(todoist.Task{Content: "b"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)

	f.srv.Fail(todoisttest.Fault{Method: http.MethodPost, Path: "/tasks/" + task.ID + "/move", Status: http.StatusBadRequest})
	out := f.engine.Step(ctx, s, triage.MoveToNewProject{Project: "Someday"})
	assert.ErrorIs(t, out.Err, terrors.ErrRejected)
	assert.Equal(t, task.ID, out.Task.ID)
	assert.Zero(t, s.UndoDepth())

	out = f.engine.Step(ctx, s, triage.MoveToNewProject{Project: "Someday"})
	require.NoError(t, out.Err)

	var someday []todoist.Project
	for _, p := range f.srv.Projects() {
		if p.Name == "Someday" {
			someday = append(someday, p)
		}
	}
	require.Len(t, someday, 1)
	got, _ := f.srv.Task(task.ID)
	assert.Equal(t, someday[0].ID, got.ProjectID)
	assert.Equal(t, 1, f.srv.CallCount(http.MethodPost, "/projects"))

	require.NoError(t, f.engine.Step(ctx, s, triage.Undo{}).Err)
	got, _ = f.srv.Task(task.ID)
	assert.Equal(t, todoisttest.InboxID, got.ProjectID)
}

func TestStep_RefreshReloadsTaskAndCatalog(t *testing.T) {
	f := newFixture(t, triage.Config{})
	task := f.srv.AddTask(todoist.Task{Content: "a"})
	f.srv.AddTask(todoist.Task{Content: "b"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	_, err = f.engine.Describe(ctx, *s.Current())
	require.NoError(t, err)

	// Changed elsewhere while the session is open.
	_, err = f.client.UpdateTask(ctx, task.ID, todoist.WithContent("a, edited"))
	require.NoError(t, err)
	f.srv.ResetCalls()

	out := f.engine.Step(ctx, s, triage.Refresh{})
	require.NoError(t, out.Err)
	require.Equal(t, triage.Continuing, out.Kind)
	assert.Equal(t, task.ID, out.Task.ID)
	assert.Equal(t, "a, edited", out.Task.Content)
	assert.Zero(t, f.srv.Mutations())
	assert.Zero(t, s.Processed())

	_, err = f.engine.Describe(ctx, *out.Task)
	require.NoError(t, err)
	assert.Equal(t, 1, f.srv.CallCount(http.MethodGet, "/projects"), "refresh drops cached projects")
}

func TestStep_RefreshDropsClosedTask(t *testing.T) {
	f := newFixture(t, triage.Config{})
	a := f.srv.AddTask(todoist.Task{Content: "a"})
	b := f.srv.AddTask(todoist.Task{Content: "b"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	require.NoError(t, f.client.CloseTask(ctx, a.ID))

	out := f.engine.Step(ctx, s, triage.Refresh{})
	require.NoError(t, out.Err)
	assert.Equal(t, b.ID, out.Task.ID)
	assert.Equal(t, []string{b.ID}, s.QueueIDs())
	assert.Zero(t, s.Processed())

	lines, err := f.metrics.Summary()
	require.NoError(t, err)
	assert.Contains(t, lines, `tod_triage_decisions_total{decision="refresh",mode="schedule",result="gone"} 1`)
}

func TestStep_NilDecision(t *testing.T) {
	f := newFixture(t, triage.Config{})
	task := f.srv.AddTask(todoist.Task{Content: "a"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)

	out := f.engine.Step(ctx, s, nil)
	require.Equal(t, triage.Continuing, out.Kind)
	assert.Equal(t, task.ID, stepErr(t, out).TaskID)
	assert.ErrorIs(t, out.Err, terrors.ErrInvalidInput)
	assert.Equal(t, triage.AwaitingDecision, s.State())
}

func TestDescribe(t *testing.T) {
	f := newFixture(t, triage.Config{})
	work := f.srv.AddProject(todoist.Project{Name: "Work"})
	next := f.srv.AddSection(todoist.Section{ProjectID: work.ID, Name: "Next"})
	task := f.srv.AddTask(todoist.Task{Content: "a", ProjectID: work.ID, SectionID: next.ID})

	d, err := f.engine.Describe(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, "Work", d.ProjectName)
	assert.Equal(t, "Next", d.SectionName)
}

func TestStep_RecordsDecisions(t *testing.T) {
	f := newFixture(t, triage.Config{})
	f.srv.AddTask(todoist.Task{Content: "a"})
	f.srv.AddTask(todoist.Task{Content: "b"})
	ctx := context.Background()

	s, _, err := f.engine.Start(ctx, ordering.Schedule, ordering.ScopeDefault, todoist.TaskFilter{})
	require.NoError(t, err)
	f.engine.Step(ctx, s, triage.Skip{})
	f.engine.Step(ctx, s, triage.Complete{})
	f.engine.Step(ctx, s, triage.Undo{})

	lines, err := f.metrics.Summary()
	require.NoError(t, err)
	assert.Contains(t, lines, `tod_triage_decisions_total{decision="skip",mode="schedule",result="defer"} 1`)
	assert.Contains(t, lines, `tod_triage_decisions_total{decision="complete",mode="schedule",result="ok"} 1`)
	assert.Contains(t, lines, `tod_triage_decisions_total{decision="undo",mode="schedule",result="ok"} 1`)
}
