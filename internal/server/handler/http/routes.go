package http

import (
	"net/http"

	"github.com/atinyakov/buildsite/internal/guard"
	"github.com/atinyakov/buildsite/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterOptions tunes NewRouter.
type RouterOptions struct {
	// RequiredRole is the role needed for /admin. Empty admits any
	// authenticated user.
	RequiredRole string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
}

// NewRouter constructs the HTTP handler of the site.
//
// Routes:
//
//	GET  /, /services, /projects, /projects/{id}, /contact, /healthz
//	GET  /login, POST /login, POST /logout         (browser session)
//	/admin/...                                     (browser session + guard)
//
// Middleware chain (applied in order):
//  1. RequestID, RealIP
//  2. WithRequestLogging(logger)
//  3. Recoverer
func NewRouter(
	site *SiteHandler,
	auth *AuthHandler,
	admin *AdminHandler,
	sessions middleware.Sessions,
	opts RouterOptions,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(chiMiddleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		site.Render.Error(w, req, http.StatusNotFound, "Page not found.")
	})

	// Public pages
	r.Get("/", site.Home)
	r.Get("/services", site.Services)
	r.Get("/projects", site.Projects)
	r.Get("/projects/{id}", site.Project)
	r.Get("/contact", site.ContactPage)
	r.Get("/healthz", site.Healthz)

	r.Group(func(r chi.Router) {
		r.Use(middleware.WithSession(sessions, logger, opts.SecureCookies))

		r.Get("/login", auth.LoginForm)
		r.Post("/login", auth.Login)
		r.Post("/logout", auth.Logout)

		// Protected group: requires an authenticated session with the role
		r.Route("/admin", func(r chi.Router) {
			r.Use(guard.Require(middleware.SessionState, opts.RequiredRole, guard.Options{
				LoginPath: "/login",
				Denied: http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
					admin.Render.Error(w, req, http.StatusForbidden, "Your account cannot access the back-office.")
				}),
			}))

			r.Get("/", admin.Dashboard)
			r.Get("/projects/new", admin.NewProject)
			r.Post("/projects", admin.CreateProject)
			r.Get("/projects/{id}", admin.EditProject)
			r.Post("/projects/{id}", admin.UpdateProject)
			r.Post("/projects/{id}/delete", admin.DeleteProject)
			r.Post("/projects/{id}/toggle", admin.ToggleProject)
			r.Get("/projects/{id}/images", admin.Images)
			r.Post("/projects/{id}/images", admin.UploadImages)
			r.Post("/projects/{id}/images/pending", admin.SelectImages)
			r.Get("/projects/{id}/images/pending/{localID}/preview", admin.PendingPreview)
			r.Post("/projects/{id}/images/pending/{localID}/drop", admin.DropPendingImage)
			r.Post("/projects/{id}/images/reorder", admin.ReorderImages)
			r.Post("/projects/{id}/images/{imageID}/delete", admin.DeleteImage)
			r.Post("/projects/{id}/images/{imageID}/main", admin.SetMainImage)
		})
	})

	return r
}
