package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/p-blackswan/tod/internal/todoist"
	"github.com/p-blackswan/tod/internal/triage"
)

// renderTask writes one task for the operator.
func renderTask(w io.Writer, d triage.Details, remaining int, loc *time.Location) {
	t := d.Task
	fmt.Fprintf(w, "\n[%d left] %s\n", remaining, t.Content)

	var meta []string
	if t.Due != nil {
		meta = append(meta, "due "+describeDue(t.Due, loc))
	}
	if t.HasPriority() {
		meta = append(meta, fmt.Sprintf("priority %d", t.Priority))
	}
	if len(t.Labels) > 0 {
		meta = append(meta, "@"+strings.Join(t.Labels, " @"))
	}
	if len(meta) > 0 {
		fmt.Fprintf(w, "  %s\n", strings.Join(meta, " | "))
	}

	where := d.ProjectName
	if where == "" {
		where = t.ProjectID
	}
	if d.SectionName != "" {
		where += " / " + d.SectionName
	}
	if where != "" {
		fmt.Fprintf(w, "  in %s\n", where)
	}
	if desc := strings.TrimSpace(t.Description); desc != "" {
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(desc, "\n", "\n  "))
	}
}

func describeDue(d *todoist.Due, loc *time.Location) string {
	when := d.Date
	if inst, err := d.Instant(loc); err == nil {
		if d.HasTime() {
			when = inst.In(loc).Format("Mon 2006-01-02 15:04")
		} else {
			when = inst.Format("Mon 2006-01-02")
		}
	}
	if d.IsRecurring && d.String != "" {
		return fmt.Sprintf("%s (%s)", when, d.String)
	}
	return when
}
