package triage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/p-blackswan/tod/internal/ordering"
	"github.com/p-blackswan/tod/internal/todoist"
)

// State is a step of the session state machine.
type State int

const (
	Idle State = iota
	Presenting
	AwaitingDecision
	Mutating
	Skipping
	Undoing
	Advancing
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Presenting:
		return "presenting"
	case AwaitingDecision:
		return "awaiting_decision"
	case Mutating:
		return "mutating"
	case Skipping:
		return "skipping"
	case Undoing:
		return "undoing"
	case Advancing:
		return "advancing"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further decisions are accepted.
func (s State) Terminal() bool { return s == Completed || s == Aborted }

// ErrQuit is the abort cause when the operator ends the session.
var ErrQuit = errors.New("quit by operator")

// StepError is a recoverable failure of one decision. The queue position is unchanged.
type StepError struct {
	TaskID   string
	Decision string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Decision, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// AbortError ends a session and reports how far it got.
type AbortError struct {
	Processed int
	TaskID    string
	Err       error
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("session aborted after %d processed task(s)", e.Processed)
	if e.TaskID != "" {
		msg += " at task " + e.TaskID
	}
	return msg + ": " + e.Err.Error()
}

func (e *AbortError) Unwrap() error { return e.Err }

// OutcomeKind tells the caller whether to keep prompting.
type OutcomeKind int

const (
	Continuing OutcomeKind = iota
	Done
	Stopped
)

func (k OutcomeKind) String() string {
	switch k {
	case Continuing:
		return "continuing"
	case Done:
		return "completed"
	default:
		return "aborted"
	}
}

// Outcome is the result of starting a session or applying a decision.
// Continuing outcomes carry the task to present next and, after a failed
// decision, the *StepError that explains it. Stopped outcomes carry an *AbortError.
type Outcome struct {
	Kind OutcomeKind
	Task *todoist.Task
	Err  error
}

// pendingProject is a project creation that may have reached the service
// while the move that follows it did not.
type pendingProject struct {
	token     string
	projectID string
}

type undoEntry struct {
	decision string
	before   todoist.Task
	// counted is whether the mutation advanced the queue and bumped Processed.
	counted bool
}

// Session is one triage walkthrough. It is owned by a single goroutine.
type Session struct {
	ID     string
	Mode   ordering.Mode
	Scope  ordering.Scope
	Filter todoist.TaskFilter

	state     State
	queue     []todoist.Task
	processed int
	undo      []undoEntry
	err       error

	// pending is keyed by task id and project name.
	pending map[string]*pendingProject
}

// State returns the current state.
func (s *Session) State() State { return s.state }

// Current returns the task being presented, or nil when the queue is empty.
func (s *Session) Current() *todoist.Task {
	if len(s.queue) == 0 {
		return nil
	}
	t := s.queue[0].Clone()
	return &t
}

// Remaining is the number of tasks still queued, the current one included.
func (s *Session) Remaining() int { return len(s.queue) }

// Processed is the number of tasks successfully mutated.
func (s *Session) Processed() int { return s.processed }

// UndoDepth is the number of mutations that can be undone.
func (s *Session) UndoDepth() int { return len(s.undo) }

// Err returns the abort cause of an aborted session.
func (s *Session) Err() error { return s.err }

// QueueIDs returns the ids of the queued tasks in order.
func (s *Session) QueueIDs() []string {
	ids := make([]string, 0, len(s.queue))
	for _, t := range s.queue {
		ids = append(ids, t.ID)
	}
	return ids
}

// Snapshot captures what is needed to resume the session later.
func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		ID:        s.ID,
		Mode:      s.Mode,
		Scope:     s.Scope,
		Filter:    s.Filter,
		Queue:     s.QueueIDs(),
		Processed: s.processed,
	}
}

// pendingProject returns the creation state for moving taskID to a new project
// named name, keeping its idempotency token across retries.
func (s *Session) pendingProject(taskID, name string) (string, *pendingProject) {
	key := taskID + "\x00" + strings.ToLower(name)
	if s.pending == nil {
		s.pending = make(map[string]*pendingProject)
	}
	p, ok := s.pending[key]
	if !ok {
		p = &pendingProject{token: todoist.NewIdempotencyToken()}
		s.pending[key] = p
	}
	return key, p
}

func (s *Session) currentID() string {
	if len(s.queue) == 0 {
		return ""
	}
	return s.queue[0].ID
}

func (s *Session) outcome() Outcome {
	switch s.state {
	case Completed:
		return Outcome{Kind: Done}
	case Aborted:
		return Outcome{Kind: Stopped, Err: s.err}
	default:
		return Outcome{Kind: Continuing, Task: s.Current()}
	}
}
