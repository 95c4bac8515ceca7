// Package todoisttest provides an in-memory Todoist API for tests.
package todoisttest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/tod/internal/due"
	"github.com/p-blackswan/tod/internal/todoist"
)

const (
	// BaseURL is the API root clients should be pointed at.
	BaseURL = "http://todoist.test/api/v1"
	// Token is the API token the server accepts by default.
	Token = "test-token"
	// InboxID is the id of the seeded inbox project.
	InboxID = "inbox"

	prefix = "/api/v1"
)

// Fault makes the server fail matching requests instead of serving them.
type Fault struct {
	Method string // empty matches any method
	Path   string // prefix of the path below the API root; empty matches any path
	Status int
	// RetryAfter is sent verbatim as the Retry-After header.
	RetryAfter string
	// Err is returned as a transport error instead of a response.
	Err error
	// Times is how many requests fail; zero means once, negative means forever.
	Times int
}

func (f *Fault) matches(method, path string) bool {
	return (f.Method == "" || f.Method == method) && strings.HasPrefix(path, f.Path)
}

// Call records one request the server saw.
type Call struct {
	Method    string
	Path      string
	Query     string
	RequestID string
	Status    int
}

// Server is a fake Todoist API backed by a fiber app. It implements
// todoist.HTTPClient by dispatching requests in-process.
type Server struct {
	App *fiber.App

	// Token is the accepted bearer token; empty disables authentication.
	Token  string
	Now    func() time.Time
	Locale string

	mu       sync.Mutex
	tasks    map[string]*todoist.Task
	order    []string
	projects []todoist.Project
	sections []todoist.Section
	labels   []todoist.Label
	seen     map[string][]byte
	faults   []*Fault
	calls    []Call
	nextID   int
}

// New returns a server holding only the inbox project.
func New() *Server {
	s := &Server{
		Token:    Token,
		Now:      time.Now,
		Locale:   "en",
		tasks:    make(map[string]*todoist.Task),
		projects: []todoist.Project{{ID: InboxID, Name: "Inbox", IsInboxProject: true}},
		seen:     make(map[string][]byte),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		// Recorded calls outlive the request; strings read from the context must not alias fiber's buffers.
		Immutable:             true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})
	app.Use(s.intercept)

	api := app.Group(prefix)
	api.Get("/tasks/filter", s.filterTasks)
	api.Get("/tasks", s.listTasks)
	api.Post("/tasks", s.createTask)
	api.Get("/tasks/:id", s.getTask)
	api.Post("/tasks/:id", s.updateTask)
	api.Post("/tasks/:id/close", s.closeTask)
	api.Post("/tasks/:id/reopen", s.reopenTask)
	api.Post("/tasks/:id/move", s.moveTask)
	api.Get("/projects", s.listProjects)
	api.Post("/projects", s.createProject)
	api.Get("/sections", s.listSections)
	api.Get("/labels", s.listLabels)

	s.App = app
	return s
}

// Client returns a todoist client wired to the server.
func (s *Server) Client(opts todoist.Options) *todoist.Client {
	c := todoist.NewClient(BaseURL, &todoist.BearerAuth{Token: Token}, opts, zerolog.Nop())
	c.SetHTTPClient(s)
	return c
}

// Do serves req in-process.
func (s *Server) Do(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	path := strings.TrimPrefix(req.URL.Path, prefix)
	for _, f := range s.faults {
		if f.Err != nil && f.Times != 0 && f.matches(req.Method, path) {
			f.Times--
			s.calls = append(s.calls, Call{Method: req.Method, Path: path, RequestID: req.Header.Get("X-Request-Id")})
			s.mu.Unlock()
			return nil, f.Err
		}
	}
	s.mu.Unlock()

	return s.App.Test(req, -1)
}

// Fail queues a fault.
func (s *Server) Fail(f Fault) {
	if f.Times == 0 {
		f.Times = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = append(s.faults, &f)
}

// ClearFaults drops every pending fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = nil
}

// Calls returns the requests seen so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount counts requests matching method and path prefix.
func (s *Server) CallCount(method, path string) int {
	n := 0
	for _, c := range s.Calls() {
		if (method == "" || c.Method == method) && strings.HasPrefix(c.Path, path) {
			n++
		}
	}
	return n
}

// Mutations counts requests that could change state.
func (s *Server) Mutations() int {
	return s.CallCount(http.MethodPost, "")
}

// ResetCalls forgets the recorded requests.
func (s *Server) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// AddTask seeds a task. Missing ids, projects, priorities and creation times are filled in.
func (s *Server) AddTask(t todoist.Task) todoist.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = s.newID("t")
	}
	if t.ProjectID == "" {
		t.ProjectID = InboxID
	}
	if t.Priority == 0 {
		t.Priority = todoist.PriorityNone
	}
	if t.AddedAt.IsZero() {
		t.AddedAt = s.Now().UTC().Add(time.Duration(len(s.order)) * time.Second)
	}
	if t.Labels == nil {
		t.Labels = []string{}
	}
	stored := t.Clone()
	s.tasks[t.ID] = &stored
	s.order = append(s.order, t.ID)
	return t.Clone()
}

// AddProject seeds a project.
func (s *Server) AddProject(p todoist.Project) todoist.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = s.newID("p")
	}
	s.projects = append(s.projects, p)
	return p
}

// AddSection seeds a section.
func (s *Server) AddSection(sec todoist.Section) todoist.Section {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sec.ID == "" {
		sec.ID = s.newID("s")
	}
	s.sections = append(s.sections, sec)
	return sec
}

// AddLabel seeds a label.
func (s *Server) AddLabel(name string) todoist.Label {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := todoist.Label{ID: s.newID("l"), Name: name}
	s.labels = append(s.labels, l)
	return l
}

// Task returns a copy of the stored task, open or completed.
func (s *Server) Task(id string) (todoist.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return todoist.Task{}, false
	}
	return t.Clone(), true
}

// Tasks returns copies of all stored tasks in creation order.
func (s *Server) Tasks() []todoist.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]todoist.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tasks[id].Clone())
	}
	return out
}

// Projects returns the stored projects.
func (s *Server) Projects() []todoist.Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]todoist.Project(nil), s.projects...)
}

func (s *Server) newID(kind string) string {
	s.nextID++
	return kind + strconv.Itoa(s.nextID)
}

// intercept authenticates, records and applies status faults.
func (s *Server) intercept(c *fiber.Ctx) error {
	path := strings.TrimPrefix(c.Path(), prefix)
	call := Call{
		Method:    c.Method(),
		Path:      path,
		Query:     string(c.Request().URI().QueryString()),
		RequestID: c.Get("X-Request-Id"),
	}

	s.mu.Lock()
	var fault *Fault
	for _, f := range s.faults {
		if f.Err == nil && f.Times != 0 && f.matches(call.Method, path) {
			f.Times--
			fault = f
			break
		}
	}
	s.mu.Unlock()

	var err error
	switch {
	case s.Token != "" && c.Get("Authorization") != "Bearer "+s.Token:
		err = problem(c, fiber.StatusUnauthorized, "invalid token")
	case fault != nil:
		if fault.RetryAfter != "" {
			c.Set("Retry-After", fault.RetryAfter)
		}
		err = problem(c, fault.Status, "injected fault")
	default:
		err = c.Next()
	}

	call.Status = c.Response().StatusCode()
	s.mu.Lock()
	s.calls = append(s.calls, call)
	s.mu.Unlock()
	return err
}

func problem(c *fiber.Ctx, status int, detail string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":       http.StatusText(status),
		"error_extra": fiber.Map{"detail": detail},
	})
}

// paged serves one page of items. The cursor is the offset of the page.
func paged[T any](c *fiber.Ctx, items []T) error {
	offset := 0
	if cur := c.Query("cursor"); cur != "" {
		n, err := strconv.Atoi(cur)
		if err != nil || n < 0 {
			return problem(c, fiber.StatusBadRequest, "invalid cursor")
		}
		offset = n
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 {
		limit = 50
	}

	if offset > len(items) {
		offset = len(items)
	}
	end := offset + limit
	var next *string
	if end < len(items) {
		n := strconv.Itoa(end)
		next = &n
	} else {
		end = len(items)
	}
	results := items[offset:end]
	if results == nil {
		results = []T{}
	}
	return c.JSON(fiber.Map{"results": results, "next_cursor": next})
}

func (s *Server) activeTasks(keep func(todoist.Task) bool) []todoist.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []todoist.Task
	for _, id := range s.order {
		t := s.tasks[id]
		if !t.Checked && keep(*t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (s *Server) listTasks(c *fiber.Ctx) error {
	projectID, sectionID, label := c.Query("project_id"), c.Query("section_id"), c.Query("label")
	return paged(c, s.activeTasks(func(t todoist.Task) bool {
		return (projectID == "" || t.ProjectID == projectID) &&
			(sectionID == "" || t.SectionID == sectionID) &&
			(label == "" || t.HasLabel(label))
	}))
}

func (s *Server) filterTasks(c *fiber.Ctx) error {
	match, err := s.compileQuery(c.Query("query"))
	if err != nil {
		return problem(c, fiber.StatusBadRequest, err.Error())
	}
	return paged(c, s.activeTasks(match))
}

// compileQuery understands a small subset of the filter language:
// terms joined by "|", each one of "today", "overdue", "no date",
// "p1".."p4", "@label" or "#project".
func (s *Server) compileQuery(query string) (func(todoist.Task) bool, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	today := due.DateOf(s.Now().UTC())
	projects := s.Projects()

	var terms []func(todoist.Task) bool
	for _, raw := range strings.Split(query, "|") {
		term := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case term == "today":
			terms = append(terms, func(t todoist.Task) bool { return dueDay(t) == today })
		case term == "overdue":
			terms = append(terms, func(t todoist.Task) bool {
				d := dueDay(t)
				return !d.IsZero() && d.Before(today)
			})
		case term == "no date":
			terms = append(terms, func(t todoist.Task) bool { return t.Due == nil })
		case len(term) == 2 && term[0] == 'p' && term[1] >= '1' && term[1] <= '4':
			// p1 is the highest priority, which the API encodes as 4.
			want := 5 - int(term[1]-'0')
			terms = append(terms, func(t todoist.Task) bool { return t.Priority == want })
		case strings.HasPrefix(term, "@"):
			name := term[1:]
			terms = append(terms, func(t todoist.Task) bool { return t.HasLabel(name) })
		case strings.HasPrefix(term, "#"):
			name := term[1:]
			ids := map[string]bool{}
			for _, p := range projects {
				if strings.EqualFold(p.Name, name) {
					ids[p.ID] = true
				}
			}
			terms = append(terms, func(t todoist.Task) bool { return ids[t.ProjectID] })
		default:
			return nil, fmt.Errorf("unsupported filter term %q", raw)
		}
	}
	return func(t todoist.Task) bool {
		for _, term := range terms {
			if term(t) {
				return true
			}
		}
		return false
	}, nil
}

func dueDay(t todoist.Task) due.Date {
	if t.Due == nil {
		return due.Date{}
	}
	d, err := t.Due.Day(time.UTC)
	if err != nil {
		return due.Date{}
	}
	return d
}

func (s *Server) getTask(c *fiber.Ctx) error {
	t, ok := s.Task(c.Params("id"))
	if !ok {
		return problem(c, fiber.StatusNotFound, "task not found")
	}
	return c.JSON(t)
}

// replay answers a retried create with the response of the first attempt.
func (s *Server) replay(c *fiber.Ctx) (bool, error) {
	id := c.Get("X-Request-Id")
	if id == "" {
		return false, nil
	}
	s.mu.Lock()
	body, ok := s.seen[id]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return true, c.Status(fiber.StatusOK).Send(body)
}

func (s *Server) remember(c *fiber.Ctx, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id := c.Get("X-Request-Id"); id != "" {
		s.mu.Lock()
		s.seen[id] = body
		s.mu.Unlock()
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(fiber.StatusOK).Send(body)
}

func (s *Server) createTask(c *fiber.Ctx) error {
	if done, err := s.replay(c); done {
		return err
	}

	var req todoist.CreateTaskRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return problem(c, fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return problem(c, fiber.StatusBadRequest, "content is required")
	}

	t := todoist.Task{
		Content:     req.Content,
		Description: req.Description,
		ProjectID:   req.ProjectID,
		SectionID:   req.SectionID,
		Labels:      req.Labels,
		Priority:    req.Priority,
	}
	dueUpdate := todoist.UpdateTaskRequest{}
	if req.DueString != "" {
		dueUpdate.DueString = &req.DueString
	}
	if req.DueDate != "" {
		dueUpdate.DueDate = &req.DueDate
	}
	if req.DueDatetime != "" {
		dueUpdate.DueDatetime = &req.DueDatetime
	}
	if req.DueLang != "" {
		dueUpdate.DueLang = &req.DueLang
	}
	if err := s.applyDue(&t, dueUpdate); err != nil {
		return problem(c, fiber.StatusBadRequest, err.Error())
	}

	return s.remember(c, s.AddTask(t))
}

func (s *Server) updateTask(c *fiber.Ctx) error {
	var req todoist.UpdateTaskRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return problem(c, fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[c.Params("id")]
	if !ok || t.Checked {
		return problem(c, fiber.StatusNotFound, "task not found")
	}
	if req.Priority != nil && (*req.Priority < todoist.PriorityNone || *req.Priority > todoist.PriorityHigh) {
		return problem(c, fiber.StatusBadRequest, "priority must be between 1 and 4")
	}

	updated := t.Clone()
	if err := s.applyDue(&updated, req); err != nil {
		return problem(c, fiber.StatusBadRequest, err.Error())
	}
	if req.Content != nil {
		updated.Content = *req.Content
	}
	if req.Description != nil {
		updated.Description = *req.Description
	}
	if req.Labels != nil {
		updated.Labels = append([]string{}, *req.Labels...)
	}
	if req.Priority != nil {
		updated.Priority = *req.Priority
	}
	*t = updated
	return c.JSON(t.Clone())
}

// applyDue interprets the due fields of req the way the service does.
func (s *Server) applyDue(t *todoist.Task, req todoist.UpdateTaskRequest) error {
	lang := s.Locale
	if req.DueLang != nil {
		lang = *req.DueLang
	}
	switch {
	case req.DueString != nil:
		text := strings.TrimSpace(*req.DueString)
		if strings.EqualFold(text, todoist.NoDate) {
			t.Due = nil
			return nil
		}
		spec, err := due.ResolveWithOptions(text, s.Now(), lang, due.Options{AllowPast: true})
		if err != nil {
			return err
		}
		t.Due = dueFromSpec(spec, due.StripStart(text, lang), lang)
	case req.DueDate != nil:
		if _, err := due.ParseDate(*req.DueDate); err != nil {
			return fmt.Errorf("invalid due_date %q", *req.DueDate)
		}
		t.Due = &todoist.Due{Date: *req.DueDate, String: *req.DueDate}
	case req.DueDatetime != nil:
		if _, err := time.Parse(todoist.FloatingLayout, strings.TrimSuffix(*req.DueDatetime, "Z")); err != nil {
			return fmt.Errorf("invalid due_datetime %q", *req.DueDatetime)
		}
		t.Due = &todoist.Due{Date: *req.DueDatetime, String: *req.DueDatetime}
	}
	return nil
}

func dueFromSpec(spec due.Spec, text, lang string) *todoist.Due {
	d := &todoist.Due{String: text, Lang: lang, IsRecurring: spec.IsRecurring(), Date: spec.Date.String()}
	if spec.Time != nil {
		d.Date = spec.Instant(time.UTC).Format(todoist.FloatingLayout)
	}
	return d
}

func (s *Server) closeTask(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[c.Params("id")]
	if !ok || t.Checked {
		return problem(c, fiber.StatusNotFound, "task not found")
	}

	if t.Due == nil || !t.Due.IsRecurring {
		t.Checked = true
		return c.SendStatus(fiber.StatusNoContent)
	}

	// Recurring tasks move to the occurrence after the current one.
	day, err := t.Due.Day(time.UTC)
	if err != nil {
		return problem(c, fiber.StatusInternalServerError, err.Error())
	}
	after := day.AddDays(1).In(time.UTC)
	spec, err := due.ResolveWithOptions(t.Due.String, after, t.Due.Lang, due.Options{AllowPast: true})
	if err != nil {
		return problem(c, fiber.StatusInternalServerError, err.Error())
	}
	t.Due = dueFromSpec(spec, t.Due.String, t.Due.Lang)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) reopenTask(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[c.Params("id")]
	if !ok {
		return problem(c, fiber.StatusNotFound, "task not found")
	}
	t.Checked = false
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) moveTask(c *fiber.Ctx) error {
	var req todoist.MoveTaskRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return problem(c, fiber.StatusBadRequest, "invalid body: "+err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[c.Params("id")]
	if !ok || t.Checked {
		return problem(c, fiber.StatusNotFound, "task not found")
	}

	projectID, sectionID := req.ProjectID, req.SectionID
	if sectionID != "" {
		sec, ok := s.section(sectionID)
		if !ok {
			return problem(c, fiber.StatusBadRequest, "unknown section")
		}
		if projectID != "" && projectID != sec.ProjectID {
			return problem(c, fiber.StatusBadRequest, "section belongs to another project")
		}
		projectID = sec.ProjectID
	}
	if projectID == "" {
		return problem(c, fiber.StatusBadRequest, "project_id or section_id is required")
	}
	if !s.hasProject(projectID) {
		return problem(c, fiber.StatusBadRequest, "unknown project")
	}

	t.ProjectID, t.SectionID = projectID, sectionID
	return c.JSON(t.Clone())
}

func (s *Server) section(id string) (todoist.Section, bool) {
	for _, sec := range s.sections {
		if sec.ID == id {
			return sec, true
		}
	}
	return todoist.Section{}, false
}

func (s *Server) hasProject(id string) bool {
	for _, p := range s.projects {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	return paged(c, s.Projects())
}

func (s *Server) createProject(c *fiber.Ctx) error {
	if done, err := s.replay(c); done {
		return err
	}
	var req todoist.CreateProjectRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return problem(c, fiber.StatusBadRequest, "invalid body: "+err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return problem(c, fiber.StatusBadRequest, "name is required")
	}
	return s.remember(c, s.AddProject(todoist.Project{Name: req.Name, ParentID: req.ParentID}))
}

func (s *Server) listSections(c *fiber.Ctx) error {
	projectID := c.Query("project_id")
	s.mu.Lock()
	var out []todoist.Section
	for _, sec := range s.sections {
		if projectID == "" || sec.ProjectID == projectID {
			out = append(out, sec)
		}
	}
	s.mu.Unlock()
	return paged(c, out)
}

func (s *Server) listLabels(c *fiber.Ctx) error {
	s.mu.Lock()
	out := append([]todoist.Label(nil), s.labels...)
	s.mu.Unlock()
	return paged(c, out)
}
