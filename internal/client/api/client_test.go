package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atinyakov/buildsite/internal/client/storage"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTripperFunc lets a test stand in for the network.
type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, token string, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api", storage.NewMemory(token))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestLogin_Success(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/auth/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Empty(t, r.Header.Get("Authorization"))

		var creds models.Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(t, "ann@example.com", creds.Email)

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Welcome",
			"data": map[string]any{
				"user":  map[string]any{"id": 7, "name": "Ann", "email": "ann@example.com", "role": "admin"},
				"token": "tok",
			},
		})
	})

	res, err := c.Login(context.Background(), models.Credentials{Email: "ann@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "tok", res.Token)
	assert.Equal(t, "Welcome", res.Message)
	assert.Equal(t, int64(7), res.User.ID)
	assert.Equal(t, "admin", res.User.Role)
}

func TestLogin_ValidationError(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"message": "The given data was invalid.",
			"errors":  map[string][]string{"email": {"The email field is required."}},
		})
	})

	_, err := c.Login(context.Background(), models.Credentials{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"The email field is required."}, ve.Fields["email"])
	assert.Equal(t, "The given data was invalid.", Message(err))
}

func TestLogin_RejectedDoesNotFireUnauthorizedHook(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "Invalid credentials"})
	})
	fired := false
	c.OnUnauthorized(func(context.Context) { fired = true })

	_, err := c.Login(context.Background(), models.Credentials{Email: "a@b.c", Password: "x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "Invalid credentials", Message(err))
	assert.False(t, fired)
}

func TestMe_SendsBearerToken(t *testing.T) {
	c := newTestClient(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"user": map[string]any{"id": 1, "email": "a@b.c", "role": "editor"}},
		})
	})

	u, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "editor", u.Role)
}

func TestDo_UnauthorizedFiresHook(t *testing.T) {
	c := newTestClient(t, "stale", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Unauthenticated."})
	})
	fired := 0
	c.OnUnauthorized(func(context.Context) { fired++ })

	_, err := c.ListImages(context.Background(), 3)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, fired)
}

func TestDo_ServerError(t *testing.T) {
	c := newTestClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "db down"})
	})

	_, err := c.GetProject(context.Background(), 1)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Code)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Contains(t, err.Error(), "db down")
}

func TestDo_SuccessFalseOn200(t *testing.T) {
	c := newTestClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": "nope"})
	})

	_, err := c.DeleteImage(context.Background(), 1, 2)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "nope", se.Message)
}

func TestDo_InvalidJSON(t *testing.T) {
	c := New("http://example.com/api", nil, WithHTTPClient(&http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("not-json")),
			}, nil
		}),
		Timeout: time.Second,
	}))

	_, err := c.ListImages(context.Background(), 1)
	if err == nil || !strings.Contains(err.Error(), "invalid response") {
		t.Errorf("expected JSON decode error, got %v", err)
	}
}

func TestDo_NetworkError(t *testing.T) {
	c := New("http://example.com/api", nil, WithHTTPClient(&http.Client{
		Transport: roundTripperFunc(func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network down")
		}),
	}))

	_, err := c.Me(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network down")
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestListProjects_Query(t *testing.T) {
	active := true
	c := newTestClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/api/projects", r.URL.Path)
		assert.Equal(t, "bridge", q.Get("search"))
		assert.Equal(t, "completed", q.Get("status"))
		assert.Equal(t, "true", q.Get("is_active"))
		assert.Equal(t, "2", q.Get("page"))
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"data": map[string]any{
				"projects":   []map[string]any{{"id": 4, "name": "Bridge", "is_active": true}},
				"pagination": map[string]any{"current_page": 2, "last_page": 3, "per_page": 10, "total": 21},
			},
		})
	})

	page, err := c.ListProjects(context.Background(), models.ProjectFilter{
		Search: "bridge", Status: models.StatusCompleted, Active: &active, Page: 2,
	})
	require.NoError(t, err)
	require.Len(t, page.Projects, 1)
	assert.Equal(t, "Bridge", page.Projects[0].Name)
	assert.Equal(t, 21, page.Pagination.Total)
}

func TestCreateUpdateDeleteToggleProject(t *testing.T) {
	c := newTestClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/projects":
			var in models.ProjectInput
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			writeJSON(w, http.StatusCreated, map[string]any{
				"success": true,
				"data":    map[string]any{"project": map[string]any{"id": 9, "name": in.Name}},
			})
		case r.Method == http.MethodPut && r.URL.Path == "/api/projects/9":
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"data":    map[string]any{"project": map[string]any{"id": 9, "name": "Renamed"}},
			})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/projects/9/toggle-active":
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{"is_active": false}})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/projects/9":
			writeJSON(w, http.StatusOK, map[string]any{"success": true})
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	p, err := c.CreateProject(ctx, models.ProjectInput{Name: "Tower"})
	require.NoError(t, err)
	assert.Equal(t, "Tower", p.Name)

	p, err = c.UpdateProject(ctx, 9, models.ProjectInput{Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", p.Name)

	active, err := c.ToggleProjectActive(ctx, 9)
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, c.DeleteProject(ctx, 9))
}

func TestUploadImages_Multipart(t *testing.T) {
	c := newTestClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/projects/5/images", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["images[]"]
		require.Len(t, files, 2)
		assert.Equal(t, "a.png", files[0].Filename)
		assert.Equal(t, "image/png", files[0].Header.Get("Content-Type"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "2 images uploaded"})
	})

	open := func(s string) func() (io.ReadCloser, error) {
		return func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(s)), nil }
	}
	msg, err := c.UploadImages(context.Background(), 5, []UploadFile{
		{Name: "a.png", ContentType: "image/png", Open: open("png")},
		{Name: "b.jpg", ContentType: "image/jpeg", Open: open("jpg")},
	})
	require.NoError(t, err)
	assert.Equal(t, "2 images uploaded", msg)
}

func TestReorderAndSetMain(t *testing.T) {
	c := newTestClient(t, "t", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/projects/5/images/reorder":
			var body struct {
				ImageIDs []int64 `json:"image_ids"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, []int64{3, 1, 2}, body.ImageIDs)
		case "/api/projects/5/images/2/set-main":
			assert.Equal(t, http.MethodPatch, r.Method)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "ok"})
	})

	_, err := c.ReorderImages(context.Background(), 5, []int64{3, 1, 2})
	require.NoError(t, err)
	_, err = c.SetMainImage(context.Background(), 5, 2)
	require.NoError(t, err)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Fields: map[string][]string{"name": {"required"}, "budget": {"numeric", "min"}}}
	assert.Equal(t, "validation failed: budget: numeric, min; name: required", err.Error())
}
