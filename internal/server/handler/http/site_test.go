package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSiteHandler_Pages(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		expectedCode   int
		expectedSubstr string
		unexpected     string
	}{
		{
			name:           "home shows featured",
			path:           "/",
			expectedCode:   http.StatusOK,
			expectedSubstr: "Harbour Bridge",
			unexpected:     "Hidden Depot",
		},
		{
			name:           "services",
			path:           "/services",
			expectedCode:   http.StatusOK,
			expectedSubstr: "General contracting",
		},
		{
			name:           "listing hides inactive",
			path:           "/projects",
			expectedCode:   http.StatusOK,
			expectedSubstr: "Harbour Bridge",
			unexpected:     "Hidden Depot",
		},
		{
			name:           "project detail resolves images",
			path:           "/projects/1",
			expectedCode:   http.StatusOK,
			expectedSubstr: "Harbour Bridge",
		},
		{
			name:           "inactive project is not found",
			path:           "/projects/2",
			expectedCode:   http.StatusNotFound,
			expectedSubstr: "Project not found",
		},
		{
			name:           "unknown project",
			path:           "/projects/99",
			expectedCode:   http.StatusNotFound,
			expectedSubstr: "Project not found",
		},
		{
			name:           "bad id",
			path:           "/projects/abc",
			expectedCode:   http.StatusNotFound,
			expectedSubstr: "Project not found",
		},
		{
			name:           "unknown page",
			path:           "/nowhere",
			expectedCode:   http.StatusNotFound,
			expectedSubstr: "Page not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			rec := httptest.NewRecorder()
			srv.handler.ServeHTTP(rec, httptest.NewRequest("GET", tt.path, nil))

			if rec.Code != tt.expectedCode {
				t.Errorf("expected status %d, got %d", tt.expectedCode, rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, tt.expectedSubstr) {
				t.Errorf("expected body to contain %q, got %q", tt.expectedSubstr, body)
			}
			if tt.unexpected != "" && strings.Contains(body, tt.unexpected) {
				t.Errorf("expected body not to contain %q", tt.unexpected)
			}
		})
	}
}

func TestSiteHandler_ProjectImageURLs(t *testing.T) {
	srv := newTestServer(t, nil)
	srv.backend.projects[1].Images = srv.backend.images[1]

	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/projects/1", nil))

	if !strings.Contains(rec.Body.String(), "https://cdn.example.com/projects/1/b.jpg") {
		t.Errorf("expected resolved image URL in body, got %q", rec.Body.String())
	}
}

func TestSiteHandler_Healthz(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status ok, got %q", resp["status"])
	}
}
