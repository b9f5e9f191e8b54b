package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/atinyakov/buildsite/internal/models"
)

func filterQuery(f models.ProjectFilter) string {
	q := url.Values{}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Active != nil {
		q.Set("is_active", strconv.FormatBool(*f.Active))
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(f.PerPage))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListProjects returns one page of projects matching f.
func (c *Client) ListProjects(ctx context.Context, f models.ProjectFilter) (*models.ProjectPage, error) {
	var page models.ProjectPage
	if _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/projects" + filterQuery(f),
	}, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetProject fetches one project with its images.
func (c *Client) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var data struct {
		Project *models.Project `json:"project"`
	}
	if _, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/projects/%d", id),
	}, &data); err != nil {
		return nil, err
	}
	if data.Project == nil {
		return nil, errors.New("invalid response: missing project")
	}
	return data.Project, nil
}

// CreateProject creates a project and returns the stored record.
func (c *Client) CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error) {
	return c.writeProject(ctx, http.MethodPost, "/projects", in)
}

// UpdateProject replaces the editable fields of project id.
func (c *Client) UpdateProject(ctx context.Context, id int64, in models.ProjectInput) (*models.Project, error) {
	return c.writeProject(ctx, http.MethodPut, fmt.Sprintf("/projects/%d", id), in)
}

func (c *Client) writeProject(ctx context.Context, method, path string, in models.ProjectInput) (*models.Project, error) {
	body, err := jsonBody(in)
	if err != nil {
		return nil, err
	}
	var data struct {
		Project *models.Project `json:"project"`
	}
	if _, err := c.do(ctx, request{
		method:      method,
		path:        path,
		body:        body,
		contentType: "application/json",
	}, &data); err != nil {
		return nil, err
	}
	if data.Project == nil {
		return nil, errors.New("invalid response: missing project")
	}
	return data.Project, nil
}

// DeleteProject removes project id and its images.
func (c *Client) DeleteProject(ctx context.Context, id int64) error {
	_, err := c.do(ctx, request{
		method: http.MethodDelete,
		path:   fmt.Sprintf("/projects/%d", id),
	}, nil)
	return err
}

// ToggleProjectActive flips the public visibility of project id and
// reports the new state.
func (c *Client) ToggleProjectActive(ctx context.Context, id int64) (bool, error) {
	var data struct {
		IsActive *bool           `json:"is_active"`
		Project  *models.Project `json:"project"`
	}
	if _, err := c.do(ctx, request{
		method: http.MethodPatch,
		path:   fmt.Sprintf("/projects/%d/toggle-active", id),
	}, &data); err != nil {
		return false, err
	}
	switch {
	case data.IsActive != nil:
		return *data.IsActive, nil
	case data.Project != nil:
		return data.Project.IsActive, nil
	}
	return false, errors.New("invalid response: missing active state")
}
