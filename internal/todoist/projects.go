package todoist

import (
	"context"
	"net/http"
	"net/url"
)

// ListProjects returns all projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	return listAll[Project](ctx, c, "list_projects", "/projects", nil)
}

// CreateProject creates a project. Without an idempotency token the call is never retried.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*Project, error) {
	cfg := c.retry
	if req.IdempotencyToken == "" {
		cfg = cfg.Once()
	}
	var project Project
	err := c.call(ctx, cfg, request{
		op:        "create_project",
		method:    http.MethodPost,
		path:      "/projects",
		body:      req,
		requestID: req.IdempotencyToken,
	}, &project)
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ListSections returns the sections of a project.
func (c *Client) ListSections(ctx context.Context, projectID string) ([]Section, error) {
	q := url.Values{}
	q.Set("project_id", projectID)
	return listAll[Section](ctx, c, "list_sections", "/sections", q)
}

// ListLabels returns all personal labels.
func (c *Client) ListLabels(ctx context.Context) ([]Label, error) {
	return listAll[Label](ctx, c, "list_labels", "/labels", nil)
}
