package middleware

import (
	"context"
	"net/http"

	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/atinyakov/buildsite/internal/service"
	"github.com/atinyakov/buildsite/internal/session"
	"go.uber.org/zap"
)

// CookieName is the cookie carrying the browser session id.
const CookieName = "buildsite_sid"

type ctxKey string

const (
	browserKey ctxKey = "browser"
	notesKey   ctxKey = "notes"
)

// Sessions opens browser sessions.
type Sessions interface {
	NewSID(ctx context.Context) (string, error)
	Known(ctx context.Context, sid string) (bool, error)
	Open(ctx context.Context, sid string, n notify.Notifier) *service.Browser
}

// WithSession resolves the browser session of every request and stores it in
// the request context. Browsers without a known session id get a new one.
func WithSession(sessions Sessions, log *zap.Logger, secure bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var sid string
			if c, err := r.Cookie(CookieName); err == nil {
				sid = c.Value
			}
			known, err := sessions.Known(ctx, sid)
			if err != nil {
				log.Error("lookup session", zap.Error(err))
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !known {
				if sid, err = sessions.NewSID(ctx); err != nil {
					log.Error("create session", zap.Error(err))
					http.Error(w, "internal error", http.StatusInternalServerError)
					return
				}
				SetSessionCookie(w, sid, secure)
			}

			notes := &notify.Collector{}
			b := sessions.Open(ctx, sid, notify.Multi(notes, notify.Log{L: log}))

			ctx = context.WithValue(ctx, browserKey, b)
			ctx = context.WithValue(ctx, notesKey, notes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetSessionCookie writes the session id cookie.
func SetSessionCookie(w http.ResponseWriter, sid string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// BrowserFromContext returns the browser session stored by WithSession, or nil.
func BrowserFromContext(ctx context.Context) *service.Browser {
	b, _ := ctx.Value(browserKey).(*service.Browser)
	return b
}

// NotesFromContext returns the notifications collected during the request.
// It never returns nil.
func NotesFromContext(ctx context.Context) *notify.Collector {
	if c, ok := ctx.Value(notesKey).(*notify.Collector); ok {
		return c
	}
	return &notify.Collector{}
}

// SessionState is a guard.StateSource over the request's browser session.
func SessionState(r *http.Request) (session.State, bool) {
	b := BrowserFromContext(r.Context())
	if b == nil {
		return session.State{}, false
	}
	return b.Session.State(), true
}
