package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/tod/internal/ordering"
	"github.com/p-blackswan/tod/internal/todoist"
	"github.com/p-blackswan/tod/internal/triage"
)

type triageFlags struct {
	project string
	section string
	label   string
	filter  string
	scope   string
	resume  string
}

func newTriageCommand(app *App, mode ordering.Mode, short string) *cobra.Command {
	var f triageFlags
	cmd := &cobra.Command{
		Use:   string(mode),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTriage(cmd, app, mode, f)
		},
	}

	var scopes []string
	for _, s := range mode.Scopes() {
		if s != ordering.ScopeDefault {
			scopes = append(scopes, string(s))
		}
	}
	cmd.Flags().StringVar(&f.project, "project", "", "Only tasks in this project id")
	cmd.Flags().StringVar(&f.section, "section", "", "Only tasks in this section id")
	cmd.Flags().StringVar(&f.label, "label", "", "Only tasks with this label")
	cmd.Flags().StringVar(&f.filter, "filter", "", "Todoist filter query (overrides --project, --section and --label)")
	if len(scopes) > 0 {
		cmd.Flags().StringVar(&f.scope, "scope", "", "Narrow the selection: "+strings.Join(scopes, ", "))
	}
	cmd.Flags().StringVar(&f.resume, "resume", "", `Resume a saved session by id, or "last"`)
	return cmd
}

func runTriage(cmd *cobra.Command, app *App, mode ordering.Mode, f triageFlags) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	var (
		s     *triage.Session
		first triage.Outcome
		err   error
	)
	if f.resume != "" {
		snap, lerr := loadSnapshot(app, mode, f.resume)
		if lerr != nil {
			return lerr
		}
		s, first, err = app.Engine.Resume(ctx, snap)
	} else {
		filter := todoist.TaskFilter{ProjectID: f.project, SectionID: f.section, Label: f.label, Query: f.filter}
		s, first, err = app.Engine.Start(ctx, mode, ordering.Scope(f.scope), filter)
	}
	if err != nil {
		return err
	}

	if first.Kind == triage.Done && s.Processed() == 0 {
		fmt.Fprintf(out, "Nothing to %s.\n", mode)
		return nil
	}
	fmt.Fprintf(out, "%s: %d task(s). Type ? for help.\n", mode, s.Remaining())
	return runSession(ctx, app, s, first, cmd.InOrStdin(), out)
}

func loadSnapshot(app *App, mode ordering.Mode, id string) (triage.Snapshot, error) {
	if app.Snapshots == nil {
		return triage.Snapshot{}, errors.New("session snapshots are not configured")
	}
	if id == "last" {
		return app.Snapshots.Latest(mode)
	}
	snap, err := app.Snapshots.Load(id)
	if err != nil {
		return triage.Snapshot{}, err
	}
	if snap.Mode != mode {
		return triage.Snapshot{}, fmt.Errorf("session %s is a %s session, not %s", id, snap.Mode, mode)
	}
	return snap, nil
}

// readLines feeds operator input to the session loop so it can also watch ctx.
// The reader goroutine exits at EOF or once stop is closed.
func readLines(r io.Reader, stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
	}()
	return lines
}

// runSession prompts for decisions until the session ends. Quitting is not an
// error; any other abort is returned.
func runSession(ctx context.Context, app *App, s *triage.Session, out triage.Outcome, in io.Reader, w io.Writer) error {
	stop := make(chan struct{})
	defer close(stop)
	lines := readLines(in, stop)
	presented := ""

	for out.Kind == triage.Continuing {
		if out.Err != nil {
			fmt.Fprintf(w, "error: %v\n", out.Err)
		}
		if out.Err == nil || out.Task.ID != presented {
			details, err := app.Engine.Describe(ctx, *out.Task)
			if err != nil {
				app.Logger.Warn().Err(err).Str("task_id", out.Task.ID).Msg("resolving project names")
			}
			renderTask(w, details, s.Remaining(), app.Location)
			presented = out.Task.ID
		}

		var d triage.Decision
		for d == nil {
			fmt.Fprint(w, "> ")
			var line string
			var ok bool
			select {
			case <-ctx.Done():
				fmt.Fprintln(w)
			case line, ok = <-lines:
				if !ok {
					fmt.Fprintln(w)
					line = "q"
				}
			}
			if ctx.Err() != nil {
				d = triage.Quit{}
				break
			}

			parsed, err := ParseDecision(line)
			switch {
			case errors.Is(err, errHelp):
				fmt.Fprintln(w, promptHelp)
			case err != nil:
				fmt.Fprintf(w, "error: %v\n", err)
			default:
				d = parsed
			}
		}
		out = app.Engine.Step(ctx, s, d)
	}

	if out.Kind == triage.Done {
		fmt.Fprintf(w, "Done: %d task(s) processed.\n", s.Processed())
		return nil
	}

	fmt.Fprintf(w, "Stopped after %d processed task(s).", s.Processed())
	if app.Snapshots != nil && s.Remaining() > 0 {
		fmt.Fprintf(w, " Resume with --resume %s", s.ID)
	}
	fmt.Fprintln(w)
	if errors.Is(out.Err, triage.ErrQuit) {
		return nil
	}
	return out.Err
}
