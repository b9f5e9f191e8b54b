package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/atinyakov/buildsite/internal/client/storage"
	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/atinyakov/buildsite/internal/service"
	"github.com/atinyakov/buildsite/internal/session"
	"go.uber.org/zap"
)

type fakeSessions struct {
	known    map[string]bool
	knownErr error
	newErr   error
	opened   []string
}

func (f *fakeSessions) NewSID(ctx context.Context) (string, error) {
	if f.newErr != nil {
		return "", f.newErr
	}
	return "fresh", nil
}

func (f *fakeSessions) Known(ctx context.Context, sid string) (bool, error) {
	return f.known[sid], f.knownErr
}

func (f *fakeSessions) Open(ctx context.Context, sid string, n notify.Notifier) *service.Browser {
	f.opened = append(f.opened, sid)
	return &service.Browser{SID: sid, Session: session.New(nil, storage.NewMemory(""))}
}

// dummyHandler records whether it was called and the context it received.
type dummyHandler struct {
	called bool
	ctx    context.Context
}

func (d *dummyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.called = true
	d.ctx = r.Context()
	w.WriteHeader(http.StatusOK)
}

func TestWithSession_KnownCookie(t *testing.T) {
	sessions := &fakeSessions{known: map[string]bool{"abc": true}}
	dummy := &dummyHandler{}
	h := WithSession(sessions, zap.NewNop(), false)(dummy)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/admin", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "abc"})
	h.ServeHTTP(rec, req)

	if !dummy.called {
		t.Fatal("expected next handler to be called")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("did not expect a new cookie for a known session")
	}
	b := BrowserFromContext(dummy.ctx)
	if b == nil || b.SID != "abc" {
		t.Fatalf("browser in context = %+v; want sid abc", b)
	}
}

func TestWithSession_IssuesCookie(t *testing.T) {
	sessions := &fakeSessions{known: map[string]bool{}}
	dummy := &dummyHandler{}
	h := WithSession(sessions, zap.NewNop(), true)(dummy)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/login", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "forged"})
	h.ServeHTTP(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != CookieName || c.Value != "fresh" || !c.HttpOnly || !c.Secure {
		t.Errorf("unexpected cookie %+v", c)
	}
	if len(sessions.opened) != 1 || sessions.opened[0] != "fresh" {
		t.Errorf("opened = %v; want [fresh]", sessions.opened)
	}
}

func TestWithSession_Errors(t *testing.T) {
	tests := []struct {
		name     string
		sessions *fakeSessions
	}{
		{name: "lookup fails", sessions: &fakeSessions{knownErr: errors.New("db down")}},
		{name: "create fails", sessions: &fakeSessions{newErr: errors.New("db down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dummy := &dummyHandler{}
			h := WithSession(tt.sessions, zap.NewNop(), false)(dummy)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest("GET", "/admin", nil))

			if dummy.called {
				t.Error("did not expect next handler to be called")
			}
			if rec.Code != http.StatusInternalServerError {
				t.Errorf("expected 500, got %d", rec.Code)
			}
		})
	}
}

func TestSessionState_NoBrowser(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if _, ok := SessionState(req); ok {
		t.Error("expected ok=false without a browser session")
	}
	if NotesFromContext(req.Context()) == nil {
		t.Error("NotesFromContext returned nil")
	}
}
