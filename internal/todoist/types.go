package todoist

import (
	"fmt"
	"strings"
	"time"

	"github.com/p-blackswan/tod/internal/due"
)

// Priorities as the API encodes them; 1 means "no priority".
const (
	PriorityNone   = 1
	PriorityLow    = 2
	PriorityMedium = 3
	PriorityHigh   = 4
)

// NoDate is the due string that clears a task's due date.
const NoDate = "no date"

// Layouts of Due.Date.
const (
	DateLayout     = "2006-01-02"
	FloatingLayout = "2006-01-02T15:04:05"
)

// Due is the due information attached to a task.
type Due struct {
	// Date is YYYY-MM-DD for all-day dues, YYYY-MM-DDTHH:MM:SS for floating times
	// and YYYY-MM-DDTHH:MM:SSZ for fixed times.
	Date        string  `json:"date"`
	String      string  `json:"string,omitempty"`
	Lang        string  `json:"lang,omitempty"`
	IsRecurring bool    `json:"is_recurring"`
	Timezone    *string `json:"timezone,omitempty"`
}

// HasTime reports whether the due carries a time of day.
func (d *Due) HasTime() bool {
	return d != nil && len(d.Date) > len(DateLayout)
}

// Instant returns the due moment. All-day and floating dues are interpreted in loc.
func (d *Due) Instant(loc *time.Location) (time.Time, error) {
	if d == nil {
		return time.Time{}, fmt.Errorf("no due date")
	}
	if loc == nil {
		loc = time.UTC
	}
	if d.Timezone != nil && *d.Timezone != "" {
		if tz, err := time.LoadLocation(*d.Timezone); err == nil {
			loc = tz
		}
	}
	switch {
	case len(d.Date) == len(DateLayout):
		return time.ParseInLocation(DateLayout, d.Date, loc)
	case strings.HasSuffix(d.Date, "Z"):
		return time.Parse(time.RFC3339, d.Date)
	default:
		return time.ParseInLocation(FloatingLayout, d.Date, loc)
	}
}

// Day returns the calendar day of the due in loc.
func (d *Due) Day(loc *time.Location) (due.Date, error) {
	t, err := d.Instant(loc)
	if err != nil {
		return due.Date{}, err
	}
	if loc != nil {
		t = t.In(loc)
	}
	return due.DateOf(t), nil
}

func (d *Due) clone() *Due {
	if d == nil {
		return nil
	}
	c := *d
	if d.Timezone != nil {
		tz := *d.Timezone
		c.Timezone = &tz
	}
	return &c
}

// Task is a task as returned by the API.
type Task struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Description string    `json:"description"`
	Priority    int       `json:"priority"`
	Due         *Due      `json:"due"`
	Labels      []string  `json:"labels"`
	ProjectID   string    `json:"project_id"`
	SectionID   string    `json:"section_id,omitempty"`
	ChildOrder  int       `json:"child_order"`
	AddedAt     time.Time `json:"added_at"`
	Checked     bool      `json:"checked"`
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	c.Due = t.Due.clone()
	if t.Labels != nil {
		c.Labels = append([]string(nil), t.Labels...)
	}
	return c
}

// HasPriority reports whether the task carries an explicit priority.
func (t Task) HasPriority() bool {
	return t.Priority > PriorityNone
}

// HasLabel reports whether the task carries the named label.
func (t Task) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}

// Project is a Todoist project.
type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ParentID       string `json:"parent_id,omitempty"`
	IsInboxProject bool   `json:"inbox_project,omitempty"`
}

// Section is a section inside a project.
type Section struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

// Label is a personal label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TaskFilter narrows ListTasks. Query, when set, takes precedence over the other fields.
type TaskFilter struct {
	ProjectID string `yaml:"project_id,omitempty"`
	SectionID string `yaml:"section_id,omitempty"`
	Label     string `yaml:"label,omitempty"`
	Query     string `yaml:"query,omitempty"`
}

// CreateTaskRequest is the body of a task creation.
type CreateTaskRequest struct {
	Content     string   `json:"content"`
	Description string   `json:"description,omitempty"`
	ProjectID   string   `json:"project_id,omitempty"`
	SectionID   string   `json:"section_id,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	DueString   string   `json:"due_string,omitempty"`
	DueDate     string   `json:"due_date,omitempty"`
	DueDatetime string   `json:"due_datetime,omitempty"`
	DueLang     string   `json:"due_lang,omitempty"`

	// IdempotencyToken makes the create safe to retry. It is sent as X-Request-Id.
	IdempotencyToken string `json:"-"`
}

// UpdateTaskRequest is the body of a task update; nil fields are left unchanged.
type UpdateTaskRequest struct {
	Content     *string   `json:"content,omitempty"`
	Description *string   `json:"description,omitempty"`
	Labels      *[]string `json:"labels,omitempty"`
	Priority    *int      `json:"priority,omitempty"`
	DueString   *string   `json:"due_string,omitempty"`
	DueDate     *string   `json:"due_date,omitempty"`
	DueDatetime *string   `json:"due_datetime,omitempty"`
	DueLang     *string   `json:"due_lang,omitempty"`
}

// MoveTaskRequest moves a task to a project or a section.
type MoveTaskRequest struct {
	ProjectID string `json:"project_id,omitempty"`
	SectionID string `json:"section_id,omitempty"`
}

// CreateProjectRequest is the body of a project creation.
type CreateProjectRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`

	IdempotencyToken string `json:"-"`
}

type page[T any] struct {
	Results    []T     `json:"results"`
	NextCursor *string `json:"next_cursor"`
}

// WithPriority returns an update that sets the priority.
func WithPriority(p int) UpdateTaskRequest {
	return UpdateTaskRequest{Priority: &p}
}

// WithContent returns an update that replaces the task content.
func WithContent(content string) UpdateTaskRequest {
	return UpdateTaskRequest{Content: &content}
}

// WithLabels returns an update that replaces the label set.
func WithLabels(labels []string) UpdateTaskRequest {
	l := append([]string{}, labels...)
	return UpdateTaskRequest{Labels: &l}
}

// WithDueSpec returns an update that applies a resolved due specification.
// Timed, non-recurring specs are sent as floating date-times.
func WithDueSpec(spec due.Spec, lang string) UpdateTaskRequest {
	var req UpdateTaskRequest
	switch {
	case spec.Recurrence != "":
		s := due.Format(spec)
		req.DueString = &s
		if lang != "" {
			req.DueLang = &lang
		}
	case spec.Time == nil:
		d := spec.Date.String()
		req.DueDate = &d
	default:
		dt := spec.Instant(time.UTC).Format(FloatingLayout)
		req.DueDatetime = &dt
	}
	return req
}

// WithDue returns an update that restores a previously observed due, or clears it when prev is nil.
// Recurring dues are pinned to their observed occurrence with a start clause, so the
// service does not recompute the next one from the current day.
func WithDue(prev *Due) UpdateTaskRequest {
	var req UpdateTaskRequest
	switch {
	case prev == nil:
		s := NoDate
		req.DueString = &s
	case prev.IsRecurring:
		s := prev.String
		if len(prev.Date) >= len(DateLayout) {
			if day, err := due.ParseDate(prev.Date[:len(DateLayout)]); err == nil {
				s = due.WithStart(prev.String, prev.Lang, day)
			}
		}
		req.DueString = &s
		if prev.Lang != "" {
			lang := prev.Lang
			req.DueLang = &lang
		}
	case prev.HasTime():
		dt := prev.Date
		req.DueDatetime = &dt
	default:
		d := prev.Date
		req.DueDate = &d
	}
	return req
}
