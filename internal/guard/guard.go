// Package guard decides whether a request may enter the protected part of
// the back-office, based only on session state and an optional role.
package guard

import (
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/atinyakov/buildsite/internal/session"
)

// Kind is the outcome of a guard decision.
type Kind int

const (
	// Wait means the session is still loading; decide later.
	Wait Kind = iota
	// Redirect sends the visitor to the login entry point.
	Redirect
	// Deny means authenticated but lacking the required role.
	Deny
	// Admit lets the request through.
	Admit
)

func (k Kind) String() string {
	switch k {
	case Wait:
		return "wait"
	case Redirect:
		return "redirect"
	case Deny:
		return "deny"
	case Admit:
		return "admit"
	}
	return "unknown"
}

// Decision is the result of Decide.
type Decision struct {
	Kind Kind
	// ReturnTo is the originally requested location, set for Redirect.
	ReturnTo string
}

// Decide is a pure function of the session state, the required role ("" for
// any authenticated user) and the requested location.
func Decide(s session.State, requiredRole, requested string) Decision {
	switch {
	case s.Loading:
		return Decision{Kind: Wait}
	case !s.IsAuthenticated():
		return Decision{Kind: Redirect, ReturnTo: requested}
	case requiredRole != "" && s.User.Role != requiredRole:
		return Decision{Kind: Deny}
	default:
		return Decision{Kind: Admit}
	}
}

// SafeReturnTo returns raw when it is a local absolute path, and fallback
// otherwise, so a login redirect can never leave the site.
func SafeReturnTo(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return raw
}

// LoginURL builds the login entry point carrying returnTo.
func LoginURL(loginPath, returnTo string) string {
	if returnTo == "" {
		return loginPath
	}
	return loginPath + "?" + url.Values{"redirect": {returnTo}}.Encode()
}

// StateSource yields the session state for a request.
type StateSource func(r *http.Request) (session.State, bool)

// Options tunes the HTTP rendering of decisions.
type Options struct {
	// LoginPath is the login entry point. Defaults to "/login".
	LoginPath string
	// RetryAfter is sent with the waiting response, in seconds.
	RetryAfter int
	// Waiting and Denied render the neutral waiting and access-denied
	// pages. Defaults are minimal HTML pages. The server restores each
	// browser session before the guard runs, so it never sees a loading
	// state and Waiting is only served to callers that guard a session
	// while it is still initializing.
	Waiting http.Handler
	Denied  http.Handler
}

var fallbackPage = template.Must(template.New("guard").Parse(
	`<!doctype html><html><head><title>{{.}}</title></head><body><p>{{.}}</p></body></html>`))

func page(code int, text string, header map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(code)
		_ = fallbackPage.Execute(w, text)
	})
}

// Require returns middleware that admits only requests whose session passes
// Decide for requiredRole.
func Require(source StateSource, requiredRole string, opts Options) func(http.Handler) http.Handler {
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 1
	}
	if opts.Waiting == nil {
		opts.Waiting = page(http.StatusServiceUnavailable, "Loading…", map[string]string{
			"Refresh": strconv.Itoa(opts.RetryAfter),
		})
	}
	if opts.Denied == nil {
		opts.Denied = page(http.StatusForbidden, "Access denied", nil)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state, ok := source(r)
			if !ok {
				state = session.State{}
			}
			d := Decide(state, requiredRole, r.URL.RequestURI())
			switch d.Kind {
			case Wait:
				w.Header().Set("Retry-After", strconv.Itoa(opts.RetryAfter))
				opts.Waiting.ServeHTTP(w, r)
			case Redirect:
				http.Redirect(w, r, LoginURL(opts.LoginPath, d.ReturnTo), http.StatusFound)
			case Deny:
				opts.Denied.ServeHTTP(w, r)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}
