// Package ordering decides which tasks a triage session walks through and in what order.
package ordering

import (
	"fmt"
	"sort"
	"time"

	"github.com/p-blackswan/tod/internal/due"
	"github.com/p-blackswan/tod/internal/todoist"
)

// Mode is a triage walkthrough.
type Mode string

// Supported modes.
const (
	Schedule   Mode = "schedule"
	Prioritize Mode = "prioritize"
	Process    Mode = "process"
)

// Scope narrows the tasks a mode selects.
type Scope string

// Supported scopes. ScopeDefault is each mode's own selection.
const (
	ScopeDefault       Scope = ""
	ScopeOverdue       Scope = "overdue"
	ScopeUnscheduled   Scope = "unscheduled"
	ScopeUnprioritized Scope = "unprioritized"
)

var validScopes = map[Mode][]Scope{
	Schedule:   {ScopeDefault, ScopeOverdue, ScopeUnscheduled},
	Prioritize: {ScopeDefault, ScopeUnprioritized},
	Process:    {ScopeDefault},
}

// Modes lists the supported modes.
func Modes() []Mode { return []Mode{Schedule, Prioritize, Process} }

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if _, ok := validScopes[m]; !ok {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// Scopes lists the scopes accepted by m.
func (m Mode) Scopes() []Scope { return validScopes[m] }

// ValidateScope reports whether s applies to m.
func (m Mode) ValidateScope(s Scope) error {
	for _, v := range validScopes[m] {
		if v == s {
			return nil
		}
	}
	return fmt.Errorf("scope %q does not apply to %s", s, m)
}

// Select keeps the tasks mode should visit, preserving input order.
// today and loc define which dues count as overdue.
func Select(tasks []todoist.Task, mode Mode, scope Scope, today due.Date, loc *time.Location) []todoist.Task {
	keep := func(t todoist.Task) bool {
		day, dated := dueDay(t, loc)
		switch mode {
		case Schedule:
			switch scope {
			case ScopeOverdue:
				return dated && day.Before(today)
			case ScopeUnscheduled:
				return !dated
			default:
				return !dated || !day.Before(today)
			}
		case Prioritize:
			if scope == ScopeUnprioritized {
				return !t.HasPriority()
			}
			return true
		case Process:
			return !dated || !day.After(today)
		}
		return false
	}

	out := make([]todoist.Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.Checked && keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// Order returns tasks in the order mode presents them. The sort is stable,
// so input order breaks every remaining tie.
//
//   - schedule: undated tasks by creation, then dated tasks by due instant, then creation.
//   - prioritize: tasks without priority by creation, then by ascending priority, then creation.
//   - process: input order.
func Order(tasks []todoist.Task, mode Mode, loc *time.Location) []todoist.Task {
	out := append([]todoist.Task(nil), tasks...)

	switch mode {
	case Schedule:
		instants := make(map[string]time.Time, len(out))
		for _, t := range out {
			if t.Due != nil {
				if at, err := t.Due.Instant(loc); err == nil {
					instants[t.ID] = at
				}
			}
		}
		sort.SliceStable(out, func(i, j int) bool {
			ai, iDated := instants[out[i].ID]
			aj, jDated := instants[out[j].ID]
			switch {
			case !iDated && !jDated:
				return out[i].AddedAt.Before(out[j].AddedAt)
			case iDated != jDated:
				return !iDated
			case !ai.Equal(aj):
				return ai.Before(aj)
			default:
				return out[i].AddedAt.Before(out[j].AddedAt)
			}
		})
	case Prioritize:
		sort.SliceStable(out, func(i, j int) bool {
			pi, pj := out[i].Priority, out[j].Priority
			if pi < todoist.PriorityNone {
				pi = todoist.PriorityNone
			}
			if pj < todoist.PriorityNone {
				pj = todoist.PriorityNone
			}
			if pi != pj {
				return pi < pj
			}
			return out[i].AddedAt.Before(out[j].AddedAt)
		})
	}
	return out
}

// Queue is Select followed by Order.
func Queue(tasks []todoist.Task, mode Mode, scope Scope, today due.Date, loc *time.Location) []todoist.Task {
	return Order(Select(tasks, mode, scope, today, loc), mode, loc)
}

func dueDay(t todoist.Task, loc *time.Location) (due.Date, bool) {
	if t.Due == nil {
		return due.Date{}, false
	}
	d, err := t.Due.Day(loc)
	if err != nil {
		return due.Date{}, false
	}
	return d, true
}
