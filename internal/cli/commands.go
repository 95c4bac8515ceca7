package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/tod/internal/due"
	"github.com/p-blackswan/tod/internal/requestid"
	"github.com/p-blackswan/tod/internal/todoist"
)

func newDueCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "due TEXT...",
		Short: "Show how a due date text resolves",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := app.Resolver.ResolveText(strings.Join(args, " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if spec.IsRecurring() {
				fmt.Fprintf(out, "%s (next %s)\n", spec.Recurrence, describeSpec(spec))
				return nil
			}
			fmt.Fprintln(out, describeSpec(spec))
			return nil
		},
	}
}

func describeSpec(spec due.Spec) string {
	if spec.Time == nil {
		return spec.Date.In(time.UTC).Format("Mon 2006-01-02")
	}
	return spec.Instant(time.UTC).Format("Mon 2006-01-02 15:04")
}

func newAddCommand(app *App) *cobra.Command {
	var (
		content  string
		dueText  string
		priority int
		project  string
		labels   []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("--content is required")
			}
			if priority < todoist.PriorityNone || priority > todoist.PriorityHigh {
				return fmt.Errorf("--priority must be between %d and %d", todoist.PriorityNone, todoist.PriorityHigh)
			}
			req := todoist.CreateTaskRequest{
				Content:          content,
				ProjectID:        project,
				Labels:           labels,
				Priority:         priority,
				IdempotencyToken: todoist.NewIdempotencyToken(),
			}
			if dueText != "" {
				spec, err := app.Resolver.ResolveText(dueText)
				if err != nil {
					return err
				}
				setDue(&req, spec, app.Lang)
			}

			ctx, _ := requestid.Ensure(cmd.Context())
			task, err := app.Tasks.CreateTask(ctx, req)
			if err != nil {
				return err
			}
			app.Logger.Debug().Str("task_id", task.ID).Msg("task created")
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s: %s\n", task.ID, task.Content)
			return nil
		},
	}
	cmd.Flags().StringVarP(&content, "content", "c", "", "Task content")
	cmd.Flags().StringVarP(&dueText, "due", "d", "", `Due date text, e.g. "tomorrow at 3pm"`)
	cmd.Flags().IntVarP(&priority, "priority", "p", todoist.PriorityNone, "Priority (1 none .. 4 highest)")
	cmd.Flags().StringVar(&project, "project", "", "Project id (default inbox)")
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "Labels")
	return cmd
}

// setDue copies the due fields of a resolved spec into a create request.
func setDue(req *todoist.CreateTaskRequest, spec due.Spec, lang string) {
	u := todoist.WithDueSpec(spec, lang)
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	req.DueString = deref(u.DueString)
	req.DueDate = deref(u.DueDate)
	req.DueDatetime = deref(u.DueDatetime)
	req.DueLang = deref(u.DueLang)
}

func newSessionsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions that can be resumed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if app.Snapshots == nil {
				fmt.Fprintln(out, "Session snapshots are not configured.")
				return nil
			}
			snaps, err := app.Snapshots.List()
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No saved sessions.")
				return nil
			}
			for _, s := range snaps {
				fmt.Fprintf(out, "%s  %-10s  %d left, %d done  saved %s\n",
					s.ID, s.Mode, len(s.Queue), s.Processed, s.SavedAt.In(app.Location).Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
}

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tod %s\n", app.Version)
		},
	}
}
