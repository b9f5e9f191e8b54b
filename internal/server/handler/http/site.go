// Package http provides the HTTP routing and handlers of the buildsite
// server: the public pages, the login flow and the back-office.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ProjectReader defines the read operations the public pages need.
type ProjectReader interface {
	ListProjects(ctx context.Context, f models.ProjectFilter) (*models.ProjectPage, error)
	GetProject(ctx context.Context, id int64) (*models.Project, error)
}

// Service is one entry of the services page.
type Service struct {
	Name    string
	Summary string
}

// Contact holds the company details shown on the contact page.
type Contact struct {
	Company string
	Address string
	Phone   string
	Email   string
}

// DefaultServices is the services page content.
var DefaultServices = []Service{
	{Name: "General contracting", Summary: "Full responsibility for residential and commercial builds, from permits to handover."},
	{Name: "Design and build", Summary: "One team for architecture, engineering and construction."},
	{Name: "Renovation", Summary: "Structural refurbishment, extensions and interior fit-out."},
	{Name: "Civil works", Summary: "Foundations, roads, drainage and site preparation."},
}

// SiteHandler serves the public marketing pages.
type SiteHandler struct {
	// Records reads the public project records.
	Records ProjectReader
	Render  *Renderer
	Contact Contact
	Log     *zap.Logger
}

// publicPerPage is the page size of the public project listing.
const publicPerPage = 12

var allStatuses = []models.ProjectStatus{models.StatusPlanned, models.StatusInProgress, models.StatusCompleted}

// Home renders the landing page with the featured active projects.
func (h *SiteHandler) Home(w http.ResponseWriter, r *http.Request) {
	active := true
	var featured []models.Project
	page, err := h.Records.ListProjects(r.Context(), models.ProjectFilter{Active: &active, PerPage: publicPerPage})
	if err != nil {
		h.Log.Warn("list featured projects", zap.Error(err))
	} else {
		for _, p := range page.Projects {
			if p.IsFeatured {
				featured = append(featured, p)
			}
		}
	}
	h.Render.Render(w, r, http.StatusOK, "home", View{Data: map[string]any{"Featured": featured}})
}

// Services renders the services page.
func (h *SiteHandler) Services(w http.ResponseWriter, r *http.Request) {
	h.Render.Render(w, r, http.StatusOK, "services", View{
		Title: "Services",
		Data:  map[string]any{"Services": DefaultServices},
	})
}

// Projects renders the public, paginated listing of active projects.
func (h *SiteHandler) Projects(w http.ResponseWriter, r *http.Request) {
	active := true
	f := models.ProjectFilter{
		Search:  r.URL.Query().Get("search"),
		Status:  models.ProjectStatus(r.URL.Query().Get("status")),
		Active:  &active,
		Page:    pageParam(r),
		PerPage: publicPerPage,
	}
	if !f.Status.Valid() {
		f.Status = ""
	}
	page, err := h.Records.ListProjects(r.Context(), f)
	if err != nil {
		h.Log.Error("list projects", zap.Error(err))
		h.Render.Error(w, r, http.StatusBadGateway, "Projects are unavailable right now, please try again later.")
		return
	}
	h.Render.Render(w, r, http.StatusOK, "projects", View{
		Title: "Projects",
		Data:  map[string]any{"Filter": f, "Statuses": allStatuses, "Page": page},
	})
}

// Project renders one active project with its gallery.
func (h *SiteHandler) Project(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	p, err := h.Records.GetProject(r.Context(), id)
	var se *api.StatusError
	switch {
	case errors.As(err, &se) && se.Code == http.StatusNotFound:
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	case err != nil:
		h.Log.Error("get project", zap.Int64("id", id), zap.Error(err))
		h.Render.Error(w, r, http.StatusBadGateway, "The project is unavailable right now, please try again later.")
		return
	case !p.IsActive:
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	withProjectID(p)
	h.Render.Render(w, r, http.StatusOK, "project", View{
		Title: p.Name,
		Data:  map[string]any{"Project": p},
	})
}

// ContactPage renders the contact page.
func (h *SiteHandler) ContactPage(w http.ResponseWriter, r *http.Request) {
	h.Render.Render(w, r, http.StatusOK, "contact", View{Title: "Contact", Data: h.Contact})
}

// Healthz reports that the server is up.
func (h *SiteHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// withProjectID fills the project id of images embedded in p so their
// display URLs can be resolved.
func withProjectID(p *models.Project) {
	if p.MainImage != nil && p.MainImage.ProjectID == 0 {
		p.MainImage.ProjectID = p.ID
	}
	for i := range p.Images {
		if p.Images[i].ProjectID == 0 {
			p.Images[i].ProjectID = p.ID
		}
	}
}

func pageParam(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
