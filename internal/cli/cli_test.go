package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/tod/internal/cache"
	"github.com/p-blackswan/tod/internal/due"
	"github.com/p-blackswan/tod/internal/health"
	"github.com/p-blackswan/tod/internal/todoist"
	"github.com/p-blackswan/tod/internal/todoist/todoisttest"
	"github.com/p-blackswan/tod/internal/triage"
)

var ref = time.Date(2024, time.January, 10, 9, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) (*App, *todoisttest.Server) {
	t.Helper()
	srv := todoisttest.New()
	srv.Now = func() time.Time { return ref }

	opts := todoist.DefaultOptions()
	opts.RequestsPerSecond = 0
	client := srv.Client(opts)

	resolver := due.NewResolver("en", time.UTC)
	resolver.Now = func() time.Time { return ref }
	catalog := cache.NewCatalog(cache.NewMetadata(cache.Options{TTL: time.Minute, Capacity: 8}, zerolog.Nop()), client)

	engine := triage.NewEngine(triage.Config{Lang: "en"}, client, catalog, resolver, nil, zerolog.Nop())
	store := triage.NewSnapshotStore(t.TempDir(), zerolog.Nop())
	engine.SetSnapshotStore(store)

	return &App{
		Engine:    engine,
		Tasks:     client,
		Resolver:  resolver,
		Snapshots: store,
		Lang:      "en",
		Version:   "1.2.3",
		Logger:    zerolog.Nop(),
	}, srv
}

func run(t *testing.T, app *App, input string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(app)
	var out bytes.Buffer
	root.SetArgs(args)
	root.SetIn(strings.NewReader(input))
	root.SetOut(&out)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestScheduleCommand(t *testing.T) {
	app, srv := newTestApp(t)
	srv.AddProject(todoist.Project{ID: "work", Name: "Work"})
	first := srv.AddTask(todoist.Task{Content: "write report", ProjectID: "work"})
	second := srv.AddTask(todoist.Task{Content: "call mom"})

	out, err := run(t, app, "?\nyesterday\ntomorrow at 3pm\n+family\n", "schedule")
	require.NoError(t, err)

	assert.Contains(t, out, "schedule: 2 task(s)")
	assert.Contains(t, out, "write report")
	assert.Contains(t, out, "in Work")
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "error: task "+first.ID+": reschedule:")
	assert.Contains(t, out, "Done: 2 task(s) processed.")

	got, _ := srv.Task(first.ID)
	assert.Equal(t, "2024-01-11T15:00:00", got.Due.Date)
	got, _ = srv.Task(second.ID)
	assert.Equal(t, []string{"family"}, got.Labels)
}

func TestScheduleCommand_QuitAndResume(t *testing.T) {
	app, srv := newTestApp(t)
	srv.AddTask(todoist.Task{Content: "a"})
	b := srv.AddTask(todoist.Task{Content: "b"})

	out, err := run(t, app, "c\nq\n", "schedule")
	require.NoError(t, err)
	assert.Contains(t, out, "Stopped after 1 processed task(s). Resume with --resume")

	out, err = run(t, app, "", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "schedule")
	assert.Contains(t, out, "1 left, 1 done")

	out, err = run(t, app, "c\n", "schedule", "--resume", "last")
	require.NoError(t, err)
	assert.Contains(t, out, "Done: 2 task(s) processed.")
	got, _ := srv.Task(b.ID)
	assert.True(t, got.Checked)

	_, err = run(t, app, "", "process", "--resume", "last")
	assert.ErrorIs(t, err, triage.ErrNoSnapshot)
}

func TestTriageCommand_EOFQuits(t *testing.T) {
	app, srv := newTestApp(t)
	srv.AddTask(todoist.Task{Content: "a"})

	out, err := run(t, app, "", "prioritize")
	require.NoError(t, err)
	assert.Contains(t, out, "Stopped after 0 processed task(s).")
}

func TestTriageCommand_NothingToDo(t *testing.T) {
	app, _ := newTestApp(t)

	out, err := run(t, app, "", "process")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to process.\n", out)
}

func TestTriageCommand_FatalErrorIsReturned(t *testing.T) {
	app, srv := newTestApp(t)
	srv.AddTask(todoist.Task{Content: "a"})
	srv.Token = "rotated"

	_, err := run(t, app, "", "schedule")
	assert.Error(t, err)
}

func TestTriageCommand_BadScope(t *testing.T) {
	app, _ := newTestApp(t)

	_, err := run(t, app, "", "prioritize", "--scope", "overdue")
	assert.Error(t, err)
}

func TestDueCommand(t *testing.T) {
	app, _ := newTestApp(t)

	out, err := run(t, app, "", "due", "tomorrow", "at", "3pm")
	require.NoError(t, err)
	assert.Equal(t, "Thu 2024-01-11 15:00\n", out)

	out, err = run(t, app, "", "due", "every", "monday")
	require.NoError(t, err)
	assert.Equal(t, "every monday (next Mon 2024-01-15)\n", out)

	_, err = run(t, app, "", "due", "yesterday")
	assert.ErrorIs(t, err, due.ErrPastDate)
}

func TestAddCommand(t *testing.T) {
	app, srv := newTestApp(t)

	out, err := run(t, app, "", "add", "--content", "pay rent", "--due", "every month", "--priority", "3", "-l", "home")
	require.NoError(t, err)
	assert.Contains(t, out, "pay rent")

	tasks := srv.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, 3, tasks[0].Priority)
	assert.Equal(t, []string{"home"}, tasks[0].Labels)
	require.NotNil(t, tasks[0].Due)
	assert.True(t, tasks[0].Due.IsRecurring)

	_, err = run(t, app, "", "add")
	assert.Error(t, err)
	_, err = run(t, app, "", "add", "--content", "x", "--priority", "7")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	app, _ := newTestApp(t)

	out, err := run(t, app, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "tod 1.2.3\n", out)
}

func TestRenderTask(t *testing.T) {
	var buf bytes.Buffer
	task := todoist.Task{
		Content:     "standup",
		Description: "daily sync",
		Priority:    3,
		Labels:      []string{"work", "team"},
		ProjectID:   "p1",
		Due:         &todoist.Due{Date: "2024-01-15T09:30:00", String: "every monday at 9:30", IsRecurring: true},
	}
	renderTask(&buf, triage.Details{Task: task, ProjectName: "Work", SectionName: "Rituals"}, 4, time.UTC)

	assert.Equal(t, "\n[4 left] standup\n"+
		"  due Mon 2024-01-15 09:30 (every monday at 9:30) | priority 3 | @work @team\n"+
		"  in Work / Rituals\n"+
		"  daily sync\n", buf.String())
}

func TestDoctorCommand(t *testing.T) {
	app, srv := newTestApp(t)
	opts := todoist.DefaultOptions()
	opts.RequestsPerSecond = 0
	checks := health.NewChecker(time.Second, zerolog.Nop())
	checks.Register("token", TokenCheck(todoisttest.Token))
	checks.Register("remote", RemoteCheck(srv.Client(opts)))
	checks.Register("sessions", SessionDirCheck(t.TempDir()))
	app.Checks = checks

	out, err := run(t, app, "", "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "remote     ok       1 project(s)")

	srv.Token = "rotated"
	out, err = run(t, app, "", "doctor")
	assert.ErrorIs(t, err, errUnhealthy)
	assert.Contains(t, out, "remote     down")
}

func TestChecks(t *testing.T) {
	ctx := context.Background()

	s, _ := TokenCheck("")(ctx)
	assert.Equal(t, health.StatusDown, s)
	s, _ = SessionDirCheck("")(ctx)
	assert.Equal(t, health.StatusDegraded, s)
	s, detail := SessionDirCheck(t.TempDir())(ctx)
	assert.Equal(t, health.StatusOK, s, detail)
}
