package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/atinyakov/buildsite/internal/guard"
	"github.com/atinyakov/buildsite/internal/middleware"
	"github.com/atinyakov/buildsite/internal/models"
	"go.uber.org/zap"
)

// SessionRotator issues a fresh id for an existing browser session.
type SessionRotator interface {
	Rotate(ctx context.Context, sid string) (string, error)
}

// AuthHandler handles the back-office login and logout.
type AuthHandler struct {
	Sessions SessionRotator
	Render   *Renderer
	// Home is where a login without a return location lands.
	Home string
	// SecureCookies marks the session cookie Secure.
	SecureCookies bool
	Log           *zap.Logger
}

func (h *AuthHandler) home() string {
	if h.Home == "" {
		return "/admin"
	}
	return h.Home
}

// LoginForm renders the login page. Already authenticated users are sent on
// to the requested location.
func (h *AuthHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	to := guard.SafeReturnTo(r.URL.Query().Get("redirect"), h.home())
	if b := middleware.BrowserFromContext(r.Context()); b != nil && b.Session.IsAuthenticated() {
		redirect(w, r, to)
		return
	}
	h.renderLogin(w, r, http.StatusOK, map[string]any{"Redirect": to})
}

// Login authenticates the submitted credentials. On success the session id
// is rotated and the browser goes to the sanitised return location.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, r, http.StatusBadRequest, map[string]any{"Error": "invalid request"})
		return
	}
	to := guard.SafeReturnTo(r.PostForm.Get("redirect"), h.home())
	creds := models.Credentials{
		Email:    strings.TrimSpace(r.PostForm.Get("email")),
		Password: r.PostForm.Get("password"),
	}

	b := middleware.BrowserFromContext(r.Context())
	if b == nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	res := b.Session.Login(r.Context(), creds)
	if !res.Success {
		status := http.StatusUnauthorized
		if len(res.Errors) > 0 {
			status = http.StatusUnprocessableEntity
		}
		h.renderLogin(w, r, status, map[string]any{
			"Redirect": to,
			"Email":    creds.Email,
			"Errors":   res.Errors,
			"Error":    res.Error,
			"Message":  res.Message,
		})
		return
	}

	if sid, err := h.Sessions.Rotate(r.Context(), b.SID); err != nil {
		h.Log.Warn("rotate session after login", zap.Error(err))
	} else {
		middleware.SetSessionCookie(w, sid, h.SecureCookies)
	}
	redirect(w, r, to)
}

// Logout ends the session and returns to the home page.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if b := middleware.BrowserFromContext(r.Context()); b != nil {
		if err := b.Session.Logout(r.Context()); err != nil {
			h.Log.Error("logout", zap.Error(err))
		}
	}
	redirect(w, r, "/")
}

func (h *AuthHandler) renderLogin(w http.ResponseWriter, r *http.Request, status int, data map[string]any) {
	for _, k := range []string{"Redirect", "Email", "Error", "Message"} {
		if _, ok := data[k]; !ok {
			data[k] = ""
		}
	}
	if _, ok := data["Errors"]; !ok {
		data["Errors"] = map[string][]string(nil)
	}
	h.Render.Render(w, r, status, "login", View{Title: "Log in", Data: data})
}
