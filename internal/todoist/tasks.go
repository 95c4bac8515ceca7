package todoist

import (
	"context"
	"net/http"
	"net/url"
)

// ListTasks returns every active task matching filter, following pagination.
func (c *Client) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	q := url.Values{}
	if filter.Query != "" {
		q.Set("query", filter.Query)
		return listAll[Task](ctx, c, "filter_tasks", "/tasks/filter", q)
	}
	if filter.ProjectID != "" {
		q.Set("project_id", filter.ProjectID)
	}
	if filter.SectionID != "" {
		q.Set("section_id", filter.SectionID)
	}
	if filter.Label != "" {
		q.Set("label", filter.Label)
	}
	return listAll[Task](ctx, c, "list_tasks", "/tasks", q)
}

// GetTask fetches a single task.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var task Task
	err := c.call(ctx, c.retry, request{op: "get_task", method: http.MethodGet, path: "/tasks/" + url.PathEscape(id)}, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask creates a task. Without an idempotency token the call is never retried.
func (c *Client) CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	cfg := c.retry
	if req.IdempotencyToken == "" {
		cfg = cfg.Once()
	}
	var task Task
	err := c.call(ctx, cfg, request{
		op:        "create_task",
		method:    http.MethodPost,
		path:      "/tasks",
		body:      req,
		requestID: req.IdempotencyToken,
	}, &task)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("task_id", task.ID).Msg("task created")
	return &task, nil
}

// UpdateTask applies req to the task and returns its new state.
func (c *Client) UpdateTask(ctx context.Context, id string, req UpdateTaskRequest) (*Task, error) {
	var task Task
	err := c.call(ctx, c.retry, request{
		op:     "update_task",
		method: http.MethodPost,
		path:   "/tasks/" + url.PathEscape(id),
		body:   req,
	}, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CloseTask completes a task. Recurring tasks advance to their next occurrence.
func (c *Client) CloseTask(ctx context.Context, id string) error {
	return c.call(ctx, c.retry, request{op: "close_task", method: http.MethodPost, path: "/tasks/" + url.PathEscape(id) + "/close"}, nil)
}

// ReopenTask reverses CloseTask for a non-recurring task.
func (c *Client) ReopenTask(ctx context.Context, id string) error {
	return c.call(ctx, c.retry, request{op: "reopen_task", method: http.MethodPost, path: "/tasks/" + url.PathEscape(id) + "/reopen"}, nil)
}

// MoveTask moves a task to another project or section.
func (c *Client) MoveTask(ctx context.Context, id string, req MoveTaskRequest) error {
	return c.call(ctx, c.retry, request{
		op:     "move_task",
		method: http.MethodPost,
		path:   "/tasks/" + url.PathEscape(id) + "/move",
		body:   req,
	}, nil)
}
