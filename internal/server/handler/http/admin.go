package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/gallery"
	"github.com/atinyakov/buildsite/internal/guard"
	"github.com/atinyakov/buildsite/internal/middleware"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// BackOffice defines the backend operations of the admin screens.
type BackOffice interface {
	ProjectReader
	gallery.ImageAPI
	CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error)
	UpdateProject(ctx context.Context, id int64, in models.ProjectInput) (*models.Project, error)
	DeleteProject(ctx context.Context, id int64) error
	ToggleProjectActive(ctx context.Context, id int64) (bool, error)
}

// AdminHandler serves the back-office screens. Every request acts with the
// token of the browser's session.
type AdminHandler struct {
	Render        *Renderer
	StorageOrigin string
	Log           *zap.Logger
	// Backend returns the backend for a request. By default it is the API
	// client of the request's browser session.
	Backend func(r *http.Request) BackOffice
	// Uploads holds the files selected for upload between requests. A
	// registry with the default TTL is created when nil.
	Uploads *Uploads

	uploadsOnce sync.Once
}

const (
	adminPerPage = 20
	// maxUploadBody bounds a whole multipart upload request.
	maxUploadBody = 64 << 20
)

func (h *AdminHandler) backend(r *http.Request) BackOffice {
	if h.Backend != nil {
		return h.Backend(r)
	}
	return middleware.BrowserFromContext(r.Context()).API
}

func notes(r *http.Request) notify.Notifier {
	return middleware.NotesFromContext(r.Context())
}

func projectID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func imageID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "imageID"), 10, 64)
	return id, err == nil && id > 0
}

func projectPath(id int64) string { return fmt.Sprintf("/admin/projects/%d", id) }

func imagesPath(id int64) string { return projectPath(id) + "/images" }

// fail reports a backend failure. A rejected token has already expired the
// session, so the browser is sent to log in and then return to back.
func (h *AdminHandler) fail(w http.ResponseWriter, r *http.Request, back, op string, err error) {
	if errors.Is(err, api.ErrUnauthorized) {
		redirect(w, r, guard.LoginURL("/login", back))
		return
	}
	var se *api.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	h.Log.Warn("back-office operation failed", zap.String("op", op), zap.Error(err))
	if r.Method == http.MethodGet {
		h.Render.Error(w, r, http.StatusBadGateway, fmt.Sprintf("%s failed: %s", op, api.Message(err)))
		return
	}
	notes(r).Notify(notify.Error, fmt.Sprintf("%s failed: %s", op, api.Message(err)))
	redirect(w, r, back)
}

// Dashboard lists projects with the search, status and active filters.
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.ProjectFilter{
		Search:  q.Get("search"),
		Status:  models.ProjectStatus(q.Get("status")),
		Page:    pageParam(r),
		PerPage: adminPerPage,
	}
	if !f.Status.Valid() {
		f.Status = ""
	}
	active := q.Get("active")
	switch active {
	case "1":
		v := true
		f.Active = &v
	case "0":
		v := false
		f.Active = &v
	default:
		active = ""
	}

	page, err := h.backend(r).ListProjects(r.Context(), f)
	if err != nil {
		h.fail(w, r, "/admin", "list projects", err)
		return
	}
	h.Render.Render(w, r, http.StatusOK, "admin_projects", View{
		Title: "Projects",
		Data: map[string]any{
			"Filter":   f,
			"Active":   active,
			"Statuses": allStatuses,
			"Page":     page,
		},
	})
}

func (h *AdminHandler) renderForm(w http.ResponseWriter, r *http.Request, status int, id int64, in models.ProjectInput, errs map[string][]string, msg string) {
	title := "New project"
	if id != 0 {
		title = "Edit " + in.Name
	}
	h.Render.Render(w, r, status, "admin_project_form", View{
		Title: title,
		Data: map[string]any{
			"ID":       id,
			"Input":    in,
			"Errors":   errs,
			"Message":  msg,
			"Statuses": allStatuses,
		},
	})
}

// NewProject renders an empty project form.
func (h *AdminHandler) NewProject(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, http.StatusOK, 0, models.ProjectInput{Status: models.StatusPlanned, IsActive: true}, nil, "")
}

// EditProject renders the form of an existing project.
func (h *AdminHandler) EditProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	p, err := h.backend(r).GetProject(r.Context(), id)
	if err != nil {
		h.fail(w, r, "/admin", "load project", err)
		return
	}
	h.renderForm(w, r, http.StatusOK, id, p.Input(), nil, "")
}

// parseProjectForm reads a ProjectInput from the submitted form. Values that
// cannot be parsed are reported as field errors.
func parseProjectForm(r *http.Request) (models.ProjectInput, map[string][]string) {
	_ = r.ParseForm()
	f := r.PostForm
	in := models.ProjectInput{
		Name:        strings.TrimSpace(f.Get("name")),
		Description: strings.TrimSpace(f.Get("description")),
		Client:      strings.TrimSpace(f.Get("client")),
		Location:    strings.TrimSpace(f.Get("location")),
		Category:    strings.TrimSpace(f.Get("category")),
		Status:      models.ProjectStatus(f.Get("status")),
		StartDate:   f.Get("start_date"),
		EndDate:     f.Get("end_date"),
		IsActive:    checked(f.Get("is_active")),
		IsFeatured:  checked(f.Get("is_featured")),
	}
	errs := in.Validate()
	if raw := strings.TrimSpace(f.Get("budget")); raw != "" {
		b, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			if errs == nil {
				errs = map[string][]string{}
			}
			errs["budget"] = append(errs["budget"], "The budget must be a number.")
		} else {
			in.Budget = b
			if b < 0 {
				if errs == nil {
					errs = map[string][]string{}
				}
				errs["budget"] = append(errs["budget"], "The budget must be at least 0.")
			}
		}
	}
	return in, errs
}

func checked(v string) bool {
	switch v {
	case "1", "on", "true", "yes":
		return true
	}
	return false
}

// CreateProject validates and creates a project.
func (h *AdminHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	in, errs := parseProjectForm(r)
	if len(errs) > 0 {
		h.renderForm(w, r, http.StatusUnprocessableEntity, 0, in, errs, "")
		return
	}
	p, err := h.backend(r).CreateProject(r.Context(), in)
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		h.renderForm(w, r, http.StatusUnprocessableEntity, 0, in, ve.Fields, ve.Message)
		return
	}
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			h.fail(w, r, "/admin/projects/new", "create project", err)
			return
		}
		h.Log.Warn("create project", zap.Error(err))
		h.renderForm(w, r, http.StatusBadGateway, 0, in, nil, "Saving failed: "+api.Message(err))
		return
	}
	notes(r).Notify(notify.Success, fmt.Sprintf("Project %q created", p.Name))
	redirect(w, r, projectPath(p.ID))
}

// UpdateProject validates and saves an existing project.
func (h *AdminHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	in, errs := parseProjectForm(r)
	if len(errs) > 0 {
		h.renderForm(w, r, http.StatusUnprocessableEntity, id, in, errs, "")
		return
	}
	p, err := h.backend(r).UpdateProject(r.Context(), id, in)
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		h.renderForm(w, r, http.StatusUnprocessableEntity, id, in, ve.Fields, ve.Message)
		return
	}
	if err != nil {
		h.fail(w, r, projectPath(id), "update project", err)
		return
	}
	notes(r).Notify(notify.Success, fmt.Sprintf("Project %q saved", p.Name))
	redirect(w, r, projectPath(id))
}

func (h *AdminHandler) confirm(w http.ResponseWriter, r *http.Request, prompt, cancel string) {
	h.Render.Render(w, r, http.StatusOK, "confirm", View{
		Title: "Confirm",
		Data: map[string]any{
			"Prompt": prompt,
			"Action": r.URL.Path,
			"Cancel": cancel,
		},
	})
}

func confirmed(r *http.Request) bool {
	return r.PostFormValue("confirm") == "yes"
}

// DeleteProject asks for confirmation, then deletes the project.
func (h *AdminHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	if !confirmed(r) {
		h.confirm(w, r, fmt.Sprintf("Delete project #%d and all its images? This cannot be undone.", id), "/admin")
		return
	}
	if err := h.backend(r).DeleteProject(r.Context(), id); err != nil {
		h.fail(w, r, "/admin", "delete project", err)
		return
	}
	notes(r).Notify(notify.Success, "Project deleted")
	redirect(w, r, "/admin")
}

// ToggleProject flips the public visibility of a project.
func (h *AdminHandler) ToggleProject(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	active, err := h.backend(r).ToggleProjectActive(r.Context(), id)
	if err != nil {
		h.fail(w, r, "/admin", "toggle project", err)
		return
	}
	if active {
		notes(r).Notify(notify.Success, "Project is now visible on the site")
	} else {
		notes(r).Notify(notify.Info, "Project is now hidden from the site")
	}
	redirect(w, r, "/admin")
}
