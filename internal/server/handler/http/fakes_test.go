package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/client/storage"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/atinyakov/buildsite/internal/service"
	"github.com/atinyakov/buildsite/internal/session"
	"go.uber.org/zap"
)

// fakeBackend implements BackOffice for testing.
type fakeBackend struct {
	mu       sync.Mutex
	projects map[int64]*models.Project
	images   map[int64][]models.Image
	calls    []string
	uploaded []api.UploadFile

	err error // returned by every mutating call when set
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		projects: map[int64]*models.Project{
			1: {ID: 1, Name: "Harbour Bridge", IsActive: true, IsFeatured: true, Status: models.StatusCompleted},
			2: {ID: 2, Name: "Hidden Depot", IsActive: false, Status: models.StatusPlanned},
		},
		images: map[int64][]models.Image{
			1: {
				{ID: 10, ProjectID: 1, Path: "projects/1/a.jpg", IsMain: true},
				{ID: 11, ProjectID: 1, Path: "projects/1/b.jpg"},
			},
		},
	}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeBackend) ListProjects(ctx context.Context, flt models.ProjectFilter) (*models.ProjectPage, error) {
	f.record("list")
	page := &models.ProjectPage{Pagination: models.Pagination{CurrentPage: 1, LastPage: 1, PerPage: 20}}
	for _, id := range []int64{1, 2} {
		p := f.projects[id]
		if p == nil || (flt.Active != nil && p.IsActive != *flt.Active) {
			continue
		}
		page.Projects = append(page.Projects, *p)
	}
	page.Pagination.Total = len(page.Projects)
	return page, nil
}

func (f *fakeBackend) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	f.record("get")
	p, ok := f.projects[id]
	if !ok {
		return nil, &api.StatusError{Code: http.StatusNotFound, Message: "Project not found"}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) CreateProject(ctx context.Context, in models.ProjectInput) (*models.Project, error) {
	f.record("create")
	if f.err != nil {
		return nil, f.err
	}
	p := &models.Project{ID: 3, Name: in.Name}
	f.projects[3] = p
	return p, nil
}

func (f *fakeBackend) UpdateProject(ctx context.Context, id int64, in models.ProjectInput) (*models.Project, error) {
	f.record("update")
	if f.err != nil {
		return nil, f.err
	}
	return &models.Project{ID: id, Name: in.Name}, nil
}

func (f *fakeBackend) DeleteProject(ctx context.Context, id int64) error {
	f.record("delete")
	return f.err
}

func (f *fakeBackend) ToggleProjectActive(ctx context.Context, id int64) (bool, error) {
	f.record("toggle")
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

func (f *fakeBackend) ListImages(ctx context.Context, projectID int64) ([]models.Image, error) {
	f.record("images")
	return append([]models.Image(nil), f.images[projectID]...), nil
}

func (f *fakeBackend) UploadImages(ctx context.Context, projectID int64, files []api.UploadFile) (string, error) {
	f.record("upload")
	if f.err != nil {
		return "", f.err
	}
	f.uploaded = append(f.uploaded, files...)
	return "Uploaded", nil
}

func (f *fakeBackend) DeleteImage(ctx context.Context, projectID, imageID int64) (string, error) {
	f.record("delete-image")
	return "", f.err
}

func (f *fakeBackend) SetMainImage(ctx context.Context, projectID, imageID int64) (string, error) {
	f.record("set-main")
	return "", f.err
}

func (f *fakeBackend) ReorderImages(ctx context.Context, projectID int64, imageIDs []int64) (string, error) {
	f.record("reorder")
	return "", f.err
}

// fakeAuthAPI implements session.AuthAPI for testing.
type fakeAuthAPI struct {
	user     *models.User
	loginErr error
}

func (f *fakeAuthAPI) Login(ctx context.Context, creds models.Credentials) (*api.LoginResponse, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &api.LoginResponse{User: f.user, Token: "tok"}, nil
}

func (f *fakeAuthAPI) Logout(ctx context.Context) error { return nil }

func (f *fakeAuthAPI) Me(ctx context.Context) (*models.User, error) {
	if f.user == nil {
		return nil, errors.New("no user")
	}
	return f.user, nil
}

// fakeSessions implements middleware.Sessions and SessionRotator. Every
// browser is backed by the same auth API; token holds the persisted token.
type fakeSessions struct {
	auth    *fakeAuthAPI
	token   string
	rotated int
}

func (f *fakeSessions) NewSID(ctx context.Context) (string, error) { return "sid", nil }

func (f *fakeSessions) Known(ctx context.Context, sid string) (bool, error) { return sid != "", nil }

func (f *fakeSessions) Open(ctx context.Context, sid string, n notify.Notifier) *service.Browser {
	mgr := session.New(f.auth, storage.NewMemory(f.token), session.WithNotifier(n))
	mgr.Initialize(ctx)
	return &service.Browser{SID: sid, Session: mgr}
}

func (f *fakeSessions) Rotate(ctx context.Context, sid string) (string, error) {
	f.rotated++
	return "rotated", nil
}

var adminUser = &models.User{ID: 1, Name: "Ann", Email: "ann@example.com", Role: "admin"}

type testServer struct {
	handler  http.Handler
	backend  *fakeBackend
	sessions *fakeSessions
}

// newTestServer builds the full router. A nil user means an anonymous
// browser.
func newTestServer(t *testing.T, user *models.User) *testServer {
	t.Helper()
	render, err := NewRenderer("https://cdn.example.com", zap.NewNop())
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	backend := newFakeBackend()
	sessions := &fakeSessions{auth: &fakeAuthAPI{user: user}}
	if user != nil {
		sessions.token = "tok"
	}
	site := &SiteHandler{Records: backend, Render: render, Log: zap.NewNop()}
	auth := &AuthHandler{Sessions: sessions, Render: render, Log: zap.NewNop()}
	admin := &AdminHandler{
		Render:        render,
		StorageOrigin: "https://cdn.example.com",
		Log:           zap.NewNop(),
		Backend:       func(*http.Request) BackOffice { return backend },
	}
	h := NewRouter(site, auth, admin, sessions, RouterOptions{RequiredRole: "admin"}, zap.NewNop())
	return &testServer{handler: h, backend: backend, sessions: sessions}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	req.AddCookie(&http.Cookie{Name: "buildsite_sid", Value: "sid"})
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}
