// Package triage drives interactive walkthroughs over a queue of tasks.
//
// An Engine starts a Session for a mode, then applies one Decision per Step.
// Mutations are write-through: the session only advances after the remote
// write succeeded, and every applied mutation can be undone in reverse order.
package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/tod/internal/cache"
	"github.com/p-blackswan/tod/internal/due"
	terrors "github.com/p-blackswan/tod/internal/errors"
	"github.com/p-blackswan/tod/internal/metrics"
	"github.com/p-blackswan/tod/internal/ordering"
	"github.com/p-blackswan/tod/internal/requestid"
	"github.com/p-blackswan/tod/internal/todoist"
)

// Remote is the part of the remote API the engine uses.
type Remote interface {
	ListTasks(ctx context.Context, filter todoist.TaskFilter) ([]todoist.Task, error)
	GetTask(ctx context.Context, id string) (*todoist.Task, error)
	UpdateTask(ctx context.Context, id string, req todoist.UpdateTaskRequest) (*todoist.Task, error)
	CloseTask(ctx context.Context, id string) error
	ReopenTask(ctx context.Context, id string) error
	MoveTask(ctx context.Context, id string, req todoist.MoveTaskRequest) error
	CreateProject(ctx context.Context, req todoist.CreateProjectRequest) (*todoist.Project, error)
}

// Catalog resolves projects, sections and labels, usually through the metadata cache.
type Catalog interface {
	Project(ctx context.Context, id string) (todoist.Project, bool, error)
	Section(ctx context.Context, projectID, id string) (todoist.Section, bool, error)
	Label(ctx context.Context, name string) (todoist.Label, bool, error)
	Invalidate(kind cache.Kind)
	Refresh()
}

// Resolver turns rescheduling text into a due specification.
type Resolver interface {
	ResolveText(text string) (due.Spec, error)
	Today() due.Date
}

// Config holds engine settings.
type Config struct {
	// Skip maps each mode to its skip policy; missing modes defer.
	Skip map[ordering.Mode]SkipPolicy
	// Lang is sent with recurring due strings.
	Lang     string
	Location *time.Location
}

// Engine runs triage sessions.
type Engine struct {
	remote    Remote
	catalog   Catalog
	resolver  Resolver
	cfg       Config
	snapshots *SnapshotStore
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config, remote Remote, catalog Catalog, resolver Resolver, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Engine{
		remote:   remote,
		catalog:  catalog,
		resolver: resolver,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "triage").Logger(),
	}
}

// SetSnapshotStore enables saving aborted sessions for Resume.
func (e *Engine) SetSnapshotStore(s *SnapshotStore) {
	e.snapshots = s
}

// SkipPolicy returns the policy applied to Skip in mode.
func (e *Engine) SkipPolicy(mode ordering.Mode) SkipPolicy {
	if p, ok := e.cfg.Skip[mode]; ok {
		return p
	}
	return SkipDefer
}

// Start fetches the tasks matching filter, selects and orders them for mode,
// and returns a session presenting the first one.
func (e *Engine) Start(ctx context.Context, mode ordering.Mode, scope ordering.Scope, filter todoist.TaskFilter) (*Session, Outcome, error) {
	if err := mode.ValidateScope(scope); err != nil {
		return nil, Outcome{}, fmt.Errorf("%w: %v", terrors.ErrInvalidInput, err)
	}

	id := uuid.NewString()
	tasks, err := e.remote.ListTasks(requestid.WithRequestID(ctx, id), filter)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("listing tasks: %w", err)
	}

	s := &Session{
		ID:     id,
		Mode:   mode,
		Scope:  scope,
		Filter: filter,
		queue:  ordering.Queue(tasks, mode, scope, e.resolver.Today(), e.cfg.Location),
	}
	e.logger.Info().
		Str("session_id", s.ID).
		Str("mode", string(mode)).
		Int("fetched", len(tasks)).
		Int("queued", len(s.queue)).
		Msg("session started")

	e.present(s)
	return s, s.outcome(), nil
}

// Resume rebuilds a saved session. Tasks that no longer exist are dropped;
// the rest keep their saved order.
func (e *Engine) Resume(ctx context.Context, snap Snapshot) (*Session, Outcome, error) {
	if _, err := ordering.ParseMode(string(snap.Mode)); err != nil {
		return nil, Outcome{}, fmt.Errorf("%w: %v", terrors.ErrInvalidInput, err)
	}

	tasks, err := e.remote.ListTasks(requestid.WithRequestID(ctx, snap.ID), snap.Filter)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("listing tasks: %w", err)
	}
	byID := make(map[string]todoist.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	s := &Session{
		ID:        snap.ID,
		Mode:      snap.Mode,
		Scope:     snap.Scope,
		Filter:    snap.Filter,
		processed: snap.Processed,
	}
	for _, id := range snap.Queue {
		if t, ok := byID[id]; ok && !t.Checked {
			s.queue = append(s.queue, t)
		}
	}
	e.logger.Info().
		Str("session_id", s.ID).
		Int("saved", len(snap.Queue)).
		Int("queued", len(s.queue)).
		Msg("session resumed")

	e.present(s)
	return s, s.outcome(), nil
}

// Details is the presentation of a task with names resolved.
type Details struct {
	Task        todoist.Task
	ProjectName string
	SectionName string
}

// Describe resolves the project and section names of t.
func (e *Engine) Describe(ctx context.Context, t todoist.Task) (Details, error) {
	d := Details{Task: t}
	if t.ProjectID != "" {
		p, ok, err := e.catalog.Project(ctx, t.ProjectID)
		if err != nil {
			return d, err
		}
		if ok {
			d.ProjectName = p.Name
		}
	}
	if t.SectionID != "" {
		sec, ok, err := e.catalog.Section(ctx, t.ProjectID, t.SectionID)
		if err != nil {
			return d, err
		}
		if ok {
			d.SectionName = sec.Name
		}
	}
	return d, nil
}

// Step applies one decision to the task being presented.
func (e *Engine) Step(ctx context.Context, s *Session, d Decision) Outcome {
	if s.state.Terminal() {
		return s.outcome()
	}
	if err := ctx.Err(); err != nil {
		return e.abort(s, err)
	}
	if d == nil {
		out := s.outcome()
		out.Err = &StepError{TaskID: s.currentID(), Decision: "none", Err: fmt.Errorf("%w: no decision", terrors.ErrInvalidInput)}
		return out
	}
	if s.state != AwaitingDecision {
		return e.abort(s, fmt.Errorf("decision %s received in state %s", d.Name(), s.state))
	}
	ctx = requestid.WithRequestID(ctx, s.ID)

	task := s.queue[0]
	switch d := d.(type) {
	case Quit:
		e.metrics.RecordDecision(string(s.Mode), d.Name(), "ok")
		return e.abort(s, ErrQuit)
	case Undo:
		return e.undo(ctx, s)
	case Refresh:
		return e.refresh(ctx, s, task)
	case Skip:
		return e.skip(s, task, d, e.SkipPolicy(s.Mode))
	case Dismiss:
		return e.skip(s, task, d, SkipDismiss)
	}

	if !mutates(d) {
		return e.fail(s, task, d, fmt.Errorf("%w: unsupported decision %T", terrors.ErrInvalidInput, d))
	}

	op, err := e.prepare(ctx, s, task, d)
	if err != nil {
		return e.fail(s, task, d, err)
	}

	e.enter(s, Mutating)
	// Once a mutation starts it runs to completion; cancellation is honoured at the next decision.
	if err := op(context.WithoutCancel(ctx)); err != nil {
		return e.fail(s, task, d, err)
	}

	s.undo = append(s.undo, undoEntry{decision: d.Name(), before: task.Clone(), counted: true})
	s.processed++
	e.metrics.RecordDecision(string(s.Mode), d.Name(), "ok")
	e.logger.Debug().Str("session_id", s.ID).Str("task_id", task.ID).Str("decision", d.Name()).Msg("mutation applied")

	e.enter(s, Advancing)
	s.queue = s.queue[1:]
	return e.advance(s)
}

// prepare validates d against task and returns the remote write that applies it.
// Anything that can fail without touching the task happens here.
func (e *Engine) prepare(ctx context.Context, s *Session, task todoist.Task, d Decision) (func(context.Context) error, error) {
	update := func(req todoist.UpdateTaskRequest) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := e.remote.UpdateTask(ctx, task.ID, req)
			return err
		}
	}

	switch d := d.(type) {
	case Complete:
		return func(ctx context.Context) error { return e.remote.CloseTask(ctx, task.ID) }, nil

	case Reschedule:
		spec, err := e.resolver.ResolveText(d.Text)
		if err != nil {
			return nil, err
		}
		return update(todoist.WithDueSpec(spec, e.cfg.Lang)), nil

	case ClearDue:
		if task.Due == nil {
			return nil, fmt.Errorf("%w: task has no due date", terrors.ErrInvalidInput)
		}
		return update(todoist.WithDue(nil)), nil

	case SetPriority:
		if d.Priority < todoist.PriorityNone || d.Priority > todoist.PriorityHigh {
			return nil, fmt.Errorf("%w: priority must be between %d and %d", terrors.ErrInvalidInput, todoist.PriorityNone, todoist.PriorityHigh)
		}
		return update(todoist.WithPriority(d.Priority)), nil

	case Rename:
		content := strings.TrimSpace(d.Content)
		if content == "" {
			return nil, fmt.Errorf("%w: content is required", terrors.ErrInvalidInput)
		}
		if content == task.Content {
			return nil, fmt.Errorf("%w: content is unchanged", terrors.ErrInvalidInput)
		}
		return update(todoist.WithContent(content)), nil

	case AddLabel:
		name := strings.TrimSpace(d.Label)
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("%w: invalid label name %q", terrors.ErrInvalidInput, d.Label)
		}
		if task.HasLabel(name) {
			return nil, fmt.Errorf("%w: task already has label %q", terrors.ErrInvalidInput, name)
		}
		_, known, err := e.catalog.Label(ctx, name)
		if err != nil {
			return nil, err
		}
		op := update(todoist.WithLabels(append(append([]string{}, task.Labels...), name)))
		if known {
			return op, nil
		}
		// The service creates unknown labels on first use.
		return func(ctx context.Context) error {
			if err := op(ctx); err != nil {
				return err
			}
			e.catalog.Invalidate(cache.KindLabels)
			return nil
		}, nil

	case RemoveLabel:
		if !task.HasLabel(d.Label) {
			return nil, fmt.Errorf("%w: task has no label %q", terrors.ErrInvalidInput, d.Label)
		}
		kept := make([]string, 0, len(task.Labels))
		for _, l := range task.Labels {
			if !strings.EqualFold(l, d.Label) {
				kept = append(kept, l)
			}
		}
		return update(todoist.WithLabels(kept)), nil

	case MoveToProject:
		if d.ProjectID == "" {
			return nil, fmt.Errorf("%w: project id is required", terrors.ErrInvalidInput)
		}
		if _, ok, err := e.catalog.Project(ctx, d.ProjectID); err != nil {
			return nil, err
		} else if !ok {
			return nil, fmt.Errorf("%w: unknown project %q", terrors.ErrInvalidInput, d.ProjectID)
		}
		if d.SectionID != "" {
			if _, ok, err := e.catalog.Section(ctx, d.ProjectID, d.SectionID); err != nil {
				return nil, err
			} else if !ok {
				return nil, fmt.Errorf("%w: project %q has no section %q", terrors.ErrInvalidInput, d.ProjectID, d.SectionID)
			}
		}
		if d.ProjectID == task.ProjectID && d.SectionID == task.SectionID {
			return nil, fmt.Errorf("%w: task is already there", terrors.ErrInvalidInput)
		}
		return func(ctx context.Context) error {
			return e.remote.MoveTask(ctx, task.ID, moveRequest(d.ProjectID, d.SectionID))
		}, nil

	case MoveToNewProject:
		name := strings.TrimSpace(d.Project)
		if name == "" {
			return nil, fmt.Errorf("%w: project name is required", terrors.ErrInvalidInput)
		}
		key, pending := s.pendingProject(task.ID, name)
		return func(ctx context.Context) error {
			// A retry after a failed move reuses the project created by the first attempt.
			if pending.projectID == "" {
				p, err := e.remote.CreateProject(ctx, todoist.CreateProjectRequest{Name: name, IdempotencyToken: pending.token})
				if err != nil {
					return err
				}
				pending.projectID = p.ID
				e.catalog.Invalidate(cache.KindProjects)
			}
			if err := e.remote.MoveTask(ctx, task.ID, todoist.MoveTaskRequest{ProjectID: pending.projectID}); err != nil {
				return err
			}
			delete(s.pending, key)
			return nil
		}, nil
	}
	return nil, fmt.Errorf("%w: unsupported decision %T", terrors.ErrInvalidInput, d)
}

// inverse returns the remote write that restores entry.before.
func (e *Engine) inverse(entry undoEntry) func(context.Context) error {
	before := entry.before
	restore := func(req todoist.UpdateTaskRequest) func(context.Context) error {
		return func(ctx context.Context) error {
			_, err := e.remote.UpdateTask(ctx, before.ID, req)
			return err
		}
	}

	switch entry.decision {
	case Complete{}.Name():
		if before.Due != nil && before.Due.IsRecurring {
			return restore(todoist.WithDue(before.Due))
		}
		return func(ctx context.Context) error { return e.remote.ReopenTask(ctx, before.ID) }
	case Reschedule{}.Name(), ClearDue{}.Name():
		return restore(todoist.WithDue(before.Due))
	case SetPriority{}.Name():
		p := before.Priority
		if p < todoist.PriorityNone {
			p = todoist.PriorityNone
		}
		return restore(todoist.WithPriority(p))
	case Rename{}.Name():
		return restore(todoist.WithContent(before.Content))
	case AddLabel{}.Name(), RemoveLabel{}.Name():
		return restore(todoist.WithLabels(before.Labels))
	default: // moves
		return func(ctx context.Context) error {
			return e.remote.MoveTask(ctx, before.ID, moveRequest(before.ProjectID, before.SectionID))
		}
	}
}

func moveRequest(projectID, sectionID string) todoist.MoveTaskRequest {
	if sectionID != "" {
		return todoist.MoveTaskRequest{SectionID: sectionID}
	}
	return todoist.MoveTaskRequest{ProjectID: projectID}
}

func (e *Engine) undo(ctx context.Context, s *Session) Outcome {
	if len(s.undo) == 0 {
		e.metrics.RecordDecision(string(s.Mode), Undo{}.Name(), "noop")
		e.present(s)
		return s.outcome()
	}

	e.enter(s, Undoing)
	entry := s.undo[len(s.undo)-1]
	if err := e.inverse(entry)(context.WithoutCancel(ctx)); err != nil {
		return e.fail(s, entry.before, Undo{}, err)
	}

	s.undo = s.undo[:len(s.undo)-1]
	if entry.counted {
		s.processed--
	}
	s.queue = append([]todoist.Task{entry.before.Clone()}, s.queue...)
	e.metrics.RecordDecision(string(s.Mode), Undo{}.Name(), "ok")
	e.logger.Debug().Str("session_id", s.ID).Str("task_id", entry.before.ID).Str("reverted", entry.decision).Msg("mutation undone")

	e.present(s)
	return s.outcome()
}

// refresh drops cached metadata and reloads the presented task. A task that
// was completed or deleted elsewhere leaves the queue.
func (e *Engine) refresh(ctx context.Context, s *Session, task todoist.Task) Outcome {
	e.catalog.Refresh()
	fresh, err := e.remote.GetTask(ctx, task.ID)
	switch {
	case errors.Is(err, terrors.ErrNotFound) || (err == nil && fresh.Checked):
		e.metrics.RecordDecision(string(s.Mode), Refresh{}.Name(), "gone")
		e.logger.Info().Str("session_id", s.ID).Str("task_id", task.ID).Msg("task no longer open")
		e.enter(s, Advancing)
		s.queue = s.queue[1:]
		return e.advance(s)
	case err != nil:
		return e.fail(s, task, Refresh{}, err)
	}

	s.queue[0] = fresh.Clone()
	e.metrics.RecordDecision(string(s.Mode), Refresh{}.Name(), "ok")
	e.present(s)
	return s.outcome()
}

func (e *Engine) skip(s *Session, task todoist.Task, d Decision, policy SkipPolicy) Outcome {
	e.enter(s, Skipping)
	rest := s.queue[1:]
	if policy == SkipDefer {
		s.queue = append(append([]todoist.Task{}, rest...), task)
	} else {
		s.queue = rest
	}
	e.metrics.RecordDecision(string(s.Mode), d.Name(), string(policy))

	e.enter(s, Advancing)
	return e.advance(s)
}

// advance moves to the next task or completes the session.
func (e *Engine) advance(s *Session) Outcome {
	e.present(s)
	return s.outcome()
}

func (e *Engine) complete(s *Session) {
	e.enter(s, Completed)
	s.undo = nil
	if e.snapshots != nil {
		if err := e.snapshots.Delete(s.ID); err != nil {
			e.logger.Warn().Err(err).Str("session_id", s.ID).Msg("removing snapshot")
		}
	}
	e.logger.Info().Str("session_id", s.ID).Int("processed", s.processed).Msg("session completed")
}

// fail surfaces a decision error. Fatal errors abort the session; everything
// else leaves the queue untouched and waits for another decision.
func (e *Engine) fail(s *Session, task todoist.Task, d Decision, err error) Outcome {
	e.metrics.RecordDecision(string(s.Mode), d.Name(), "error")
	if terrors.IsFatal(err) {
		return e.abort(s, err)
	}

	e.logger.Warn().
		Err(err).
		Str("session_id", s.ID).
		Str("task_id", task.ID).
		Str("decision", d.Name()).
		Msg("decision failed")

	e.enter(s, AwaitingDecision)
	out := s.outcome()
	out.Err = &StepError{TaskID: task.ID, Decision: d.Name(), Err: err}
	return out
}

func (e *Engine) abort(s *Session, cause error) Outcome {
	taskID := s.currentID()
	e.enter(s, Aborted)
	s.undo = nil
	s.err = &AbortError{Processed: s.processed, TaskID: taskID, Err: cause}

	logEvent := e.logger.Warn()
	if errors.Is(cause, ErrQuit) {
		logEvent = e.logger.Info()
	}
	logEvent.Err(cause).Str("session_id", s.ID).Int("processed", s.processed).Msg("session aborted")

	if e.snapshots != nil && len(s.queue) > 0 {
		if err := e.snapshots.Save(s.Snapshot()); err != nil {
			e.logger.Warn().Err(err).Str("session_id", s.ID).Msg("saving snapshot")
		}
	}
	return s.outcome()
}

// present shows the head of the queue and waits for a decision.
func (e *Engine) present(s *Session) {
	if len(s.queue) == 0 {
		e.complete(s)
		return
	}
	e.enter(s, Presenting)
	e.enter(s, AwaitingDecision)
}

func (e *Engine) enter(s *Session, to State) {
	if s.state == to {
		return
	}
	e.logger.Debug().
		Str("session_id", s.ID).
		Str("task_id", s.currentID()).
		Stringer("from", s.state).
		Stringer("to", to).
		Msg("transition")
	s.state = to
}
