// Package due resolves free-text scheduling input into structured due specifications.
//
// The grammar is deliberately bounded: relative days, weekdays, explicit calendar dates,
// an optional time-of-day suffix and a recurrence prefix. Anything else is rejected with
// a ParseError so that callers can re-prompt instead of guessing.
package due

import (
	"errors"
	"fmt"
	"time"
)

// Date is a calendar day with no time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate returns the normalised date for y-m-d.
func NewDate(y int, m time.Month, d int) Date {
	return DateOf(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses an ISO 8601 calendar date (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// In returns midnight of d in loc.
func (d Date) In(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return NewDate(d.Year, d.Month, d.Day+n)
}

// AddDate returns d shifted like time.Time.AddDate.
func (d Date) AddDate(years, months, days int) Date {
	return DateOf(d.In(time.UTC).AddDate(years, months, days))
}

// Before reports whether d is strictly earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// After reports whether d is strictly later than o.
func (d Date) After(o Date) bool { return o.Before(d) }

// Weekday returns the day of the week.
func (d Date) Weekday() time.Weekday { return d.In(time.UTC).Weekday() }

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool { return d == Date{} }

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

// Spec is a resolved due specification.
// A Spec with a Recurrence always carries the concrete date of the next occurrence.
type Spec struct {
	Date       Date
	Time       *Clock
	AllDay     bool
	Recurrence string
}

// Instant returns the moment the spec refers to in loc; all-day specs map to midnight.
func (s Spec) Instant(loc *time.Location) time.Time {
	t := s.Date.In(loc)
	if s.Time != nil {
		t = t.Add(time.Duration(s.Time.Hour)*time.Hour + time.Duration(s.Time.Minute)*time.Minute)
	}
	return t
}

// IsRecurring reports whether the spec carries a recurrence rule.
func (s Spec) IsRecurring() bool { return s.Recurrence != "" }

// Equal compares two specs by value.
func (s Spec) Equal(o Spec) bool {
	if s.Date != o.Date || s.AllDay != o.AllDay || s.Recurrence != o.Recurrence {
		return false
	}
	if s.Time == nil || o.Time == nil {
		return s.Time == nil && o.Time == nil
	}
	return *s.Time == *o.Time
}

func (s Spec) String() string { return Format(s) }

// Format renders the canonical text for s. For non-recurring specs,
// resolving the result again yields s.
func Format(s Spec) string {
	if s.Recurrence != "" {
		if s.Time != nil {
			return s.Recurrence + " at " + s.Time.String()
		}
		return s.Recurrence
	}
	if s.Time != nil {
		return s.Date.String() + " " + s.Time.String()
	}
	return s.Date.String()
}

// Parse error sentinels; match with errors.Is.
var (
	ErrUnrecognized    = errors.New("unrecognized due date")
	ErrPastDate        = errors.New("due date is in the past")
	ErrAmbiguousFormat = errors.New("ambiguous date format")
)

// ErrorKind classifies a ParseError.
type ErrorKind int

const (
	Unrecognized ErrorKind = iota + 1
	PastDate
	AmbiguousFormat
)

func (k ErrorKind) sentinel() error {
	switch k {
	case PastDate:
		return ErrPastDate
	case AmbiguousFormat:
		return ErrAmbiguousFormat
	default:
		return ErrUnrecognized
	}
}

// ParseError reports why text could not be resolved.
type ParseError struct {
	Kind   ErrorKind
	Text   string
	Reason string
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("%v: %q", e.Kind.sentinel(), e.Text)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Is matches the sentinel for the error's kind.
func (e *ParseError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func parseErr(kind ErrorKind, text, reason string) *ParseError {
	return &ParseError{Kind: kind, Text: text, Reason: reason}
}
