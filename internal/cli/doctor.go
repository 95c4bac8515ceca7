package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/p-blackswan/tod/internal/health"
	"github.com/p-blackswan/tod/internal/todoist"
)

// ProjectLister is what the remote check needs.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]todoist.Project, error)
}

// TokenCheck reports whether an API token is configured.
func TokenCheck(token string) health.CheckFunc {
	return func(context.Context) (health.Status, string) {
		if token == "" {
			return health.StatusDown, "TOD_API_TOKEN is not set"
		}
		return health.StatusOK, "configured"
	}
}

// RemoteCheck lists projects to prove the service is reachable with the token.
func RemoteCheck(remote ProjectLister) health.CheckFunc {
	return func(ctx context.Context) (health.Status, string) {
		projects, err := remote.ListProjects(ctx)
		if err != nil {
			return health.StatusDown, err.Error()
		}
		return health.StatusOK, fmt.Sprintf("%d project(s)", len(projects))
	}
}

// SessionDirCheck verifies snapshots can be written to dir.
func SessionDirCheck(dir string) health.CheckFunc {
	return func(context.Context) (health.Status, string) {
		if dir == "" {
			return health.StatusDegraded, "no session directory; sessions cannot be resumed"
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return health.StatusDegraded, err.Error()
		}
		f, err := os.CreateTemp(dir, ".doctor-*")
		if err != nil {
			return health.StatusDegraded, err.Error()
		}
		f.Close()
		os.Remove(f.Name())
		return health.StatusOK, dir
	}
}

var errUnhealthy = errors.New("some checks failed")

func newDoctorCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.Checks == nil {
				return errors.New("no checks configured")
			}
			results := app.Checks.RunAll(cmd.Context())
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%-10s %-8s %s\n", r.Name, r.Status, r.Detail)
			}
			if !health.Healthy(results) {
				return errUnhealthy
			}
			return nil
		},
	}
}
