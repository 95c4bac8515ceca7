package cache

import (
	"context"
	"strings"

	"github.com/p-blackswan/tod/internal/todoist"
)

// Source is the part of the remote API the catalog reads from.
type Source interface {
	ListProjects(ctx context.Context) ([]todoist.Project, error)
	ListLabels(ctx context.Context) ([]todoist.Label, error)
	ListSections(ctx context.Context, projectID string) ([]todoist.Section, error)
}

// Catalog serves projects, sections and labels through a Metadata cache.
type Catalog struct {
	cache *Metadata
	src   Source
}

// NewCatalog creates a catalog reading from src.
func NewCatalog(cache *Metadata, src Source) *Catalog {
	return &Catalog{cache: cache, src: src}
}

// Projects returns all projects.
func (c *Catalog) Projects(ctx context.Context) ([]todoist.Project, error) {
	return GetOrFetch(ctx, c.cache, KindProjects, c.src.ListProjects)
}

// Labels returns all personal labels.
func (c *Catalog) Labels(ctx context.Context) ([]todoist.Label, error) {
	return GetOrFetch(ctx, c.cache, KindLabels, c.src.ListLabels)
}

// Sections returns the sections of a project.
func (c *Catalog) Sections(ctx context.Context, projectID string) ([]todoist.Section, error) {
	return GetOrFetch(ctx, c.cache, SectionsKind(projectID), func(ctx context.Context) ([]todoist.Section, error) {
		return c.src.ListSections(ctx, projectID)
	})
}

// Project looks a project up by id.
func (c *Catalog) Project(ctx context.Context, id string) (todoist.Project, bool, error) {
	projects, err := c.Projects(ctx)
	if err != nil {
		return todoist.Project{}, false, err
	}
	for _, p := range projects {
		if p.ID == id {
			return p, true, nil
		}
	}
	return todoist.Project{}, false, nil
}

// Section looks a section of projectID up by id.
func (c *Catalog) Section(ctx context.Context, projectID, id string) (todoist.Section, bool, error) {
	sections, err := c.Sections(ctx, projectID)
	if err != nil {
		return todoist.Section{}, false, err
	}
	for _, s := range sections {
		if s.ID == id {
			return s, true, nil
		}
	}
	return todoist.Section{}, false, nil
}

// Label looks a label up by name, ignoring case.
func (c *Catalog) Label(ctx context.Context, name string) (todoist.Label, bool, error) {
	labels, err := c.Labels(ctx)
	if err != nil {
		return todoist.Label{}, false, err
	}
	for _, l := range labels {
		if strings.EqualFold(l.Name, name) {
			return l, true, nil
		}
	}
	return todoist.Label{}, false, nil
}

// Invalidate drops one kind.
func (c *Catalog) Invalidate(kind Kind) { c.cache.Invalidate(kind) }

// Refresh drops everything, forcing the next lookups to refetch.
func (c *Catalog) Refresh() { c.cache.InvalidateAll() }
