// Package cli is the command-line front end: it collects decisions from the
// operator and renders tasks, and never talks to the remote service itself.
package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/tod/internal/due"
	"github.com/p-blackswan/tod/internal/health"
	"github.com/p-blackswan/tod/internal/ordering"
	"github.com/p-blackswan/tod/internal/todoist"
	"github.com/p-blackswan/tod/internal/triage"
)

// TaskCreator creates tasks for the add command.
type TaskCreator interface {
	CreateTask(ctx context.Context, req todoist.CreateTaskRequest) (*todoist.Task, error)
}

// App holds the components the commands drive.
type App struct {
	Engine    *triage.Engine
	Tasks     TaskCreator
	Resolver  *due.Resolver
	Snapshots *triage.SnapshotStore
	Checks    *health.Checker
	// Lang is sent with recurring due strings.
	Lang     string
	Location *time.Location
	Version  string
	// Logger is expected to carry component=cli.
	Logger zerolog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand(app *App) *cobra.Command {
	if app.Location == nil {
		app.Location = time.UTC
	}

	root := &cobra.Command{
		Use:           "tod",
		Short:         "tod - triage your Todoist tasks from the terminal",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newTriageCommand(app, ordering.Schedule, "Give undated and upcoming tasks a due date"))
	root.AddCommand(newTriageCommand(app, ordering.Prioritize, "Walk tasks from least to most prioritized"))
	root.AddCommand(newTriageCommand(app, ordering.Process, "Process tasks that are undated, due today or overdue"))
	root.AddCommand(newDueCommand(app))
	root.AddCommand(newAddCommand(app))
	root.AddCommand(newSessionsCommand(app))
	root.AddCommand(newDoctorCommand(app))
	root.AddCommand(newVersionCommand(app))
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context, app *App, args []string) error {
	root := NewRootCommand(app)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
