package triage

import (
	"fmt"
	"strings"
)

// Decision is one operator answer for the task being presented.
// The set is closed: only the types in this file implement it.
type Decision interface {
	Name() string
	decision()
}

// Complete closes the task. Recurring tasks advance to their next occurrence.
type Complete struct{}

// Skip leaves the task untouched and applies the mode's skip policy.
type Skip struct{}

// Dismiss drops the task from this session without touching it.
type Dismiss struct{}

// Reschedule resolves Text into a due date and applies it.
type Reschedule struct{ Text string }

// ClearDue removes the due date.
type ClearDue struct{}

// SetPriority sets the priority (1 none .. 4 highest).
type SetPriority struct{ Priority int }

// Rename replaces the task content.
type Rename struct{ Content string }

// AddLabel attaches a label by name.
type AddLabel struct{ Label string }

// RemoveLabel detaches a label by name.
type RemoveLabel struct{ Label string }

// MoveToProject moves the task to a project, or to a section of it.
type MoveToProject struct {
	ProjectID string
	SectionID string
}

// MoveToNewProject creates a project named Project and moves the task there.
type MoveToNewProject struct{ Project string }

// Refresh drops cached metadata and reloads the task being presented.
type Refresh struct{}

// Undo reverts the most recent mutation of the session.
type Undo struct{}

// Quit ends the session.
type Quit struct{}

func (Complete) Name() string         { return "complete" }
func (Skip) Name() string             { return "skip" }
func (Dismiss) Name() string          { return "dismiss" }
func (Reschedule) Name() string       { return "reschedule" }
func (ClearDue) Name() string         { return "clear_due" }
func (SetPriority) Name() string      { return "set_priority" }
func (Rename) Name() string           { return "rename" }
func (AddLabel) Name() string         { return "add_label" }
func (RemoveLabel) Name() string      { return "remove_label" }
func (MoveToProject) Name() string    { return "move" }
func (MoveToNewProject) Name() string { return "move_new_project" }
func (Refresh) Name() string          { return "refresh" }
func (Undo) Name() string             { return "undo" }
func (Quit) Name() string             { return "quit" }

func (Complete) decision()         {}
func (Skip) decision()             {}
func (Dismiss) decision()          {}
func (Reschedule) decision()       {}
func (ClearDue) decision()         {}
func (SetPriority) decision()      {}
func (Rename) decision()           {}
func (AddLabel) decision()         {}
func (RemoveLabel) decision()      {}
func (MoveToProject) decision()    {}
func (MoveToNewProject) decision() {}
func (Refresh) decision()          {}
func (Undo) decision()             {}
func (Quit) decision()             {}

// mutates reports whether d is applied through the remote API.
func mutates(d Decision) bool {
	switch d.(type) {
	case Complete, Reschedule, ClearDue, SetPriority, Rename, AddLabel, RemoveLabel, MoveToProject, MoveToNewProject:
		return true
	}
	return false
}

// SkipPolicy says what Skip does with the current task.
type SkipPolicy string

const (
	// SkipDefer moves the task to the back of the queue.
	SkipDefer SkipPolicy = "defer"
	// SkipDismiss drops the task from the session.
	SkipDismiss SkipPolicy = "dismiss"
)

// ParseSkipPolicy validates a policy name.
func ParseSkipPolicy(s string) (SkipPolicy, error) {
	switch p := SkipPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case SkipDefer, SkipDismiss:
		return p, nil
	}
	return "", fmt.Errorf("unknown skip policy %q (want %q or %q)", s, SkipDefer, SkipDismiss)
}
