package http

import (
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/atinyakov/buildsite/internal/gallery"
	"github.com/atinyakov/buildsite/internal/middleware"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const flashCookie = "buildsite_flash"

// View is the data every page template receives.
type View struct {
	Title string
	User  *models.User
	Flash []notify.Message
	Data  any
}

// Renderer executes the embedded page templates inside the shared layout.
type Renderer struct {
	pages map[string]*template.Template
	log   *zap.Logger
}

// NewRenderer parses every page template. Image URLs are resolved against
// storageOrigin.
func NewRenderer(storageOrigin string, log *zap.Logger) (*Renderer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	funcs := template.FuncMap{
		"image": func(img models.Image) string {
			return gallery.ResolveDisplayURL(storageOrigin, img, gallery.Full)
		},
		"thumb": func(img models.Image) string {
			return gallery.ResolveDisplayURL(storageOrigin, img, gallery.Thumbnail)
		},
		"cover": func(p models.Project) string {
			if p.MainImage != nil {
				img := *p.MainImage
				if img.ProjectID == 0 {
					img.ProjectID = p.ID
				}
				return gallery.ResolveDisplayURL(storageOrigin, img, gallery.Thumbnail)
			}
			for _, img := range p.Images {
				if img.ProjectID == 0 {
					img.ProjectID = p.ID
				}
				return gallery.ResolveDisplayURL(storageOrigin, img, gallery.Thumbnail)
			}
			return gallery.Unavailable
		},
		"money": func(v float64) string {
			if v == 0 {
				return "-"
			}
			return fmt.Sprintf("$%.2f", v)
		},
		"num": func(v float64) string {
			return strconv.FormatFloat(v, 'f', -1, 64)
		},
		"status": models.ProjectStatus.Label,
		"fieldErrors": func(errs map[string][]string, field string) []string {
			return errs[field]
		},
		"add": func(a, b int) int { return a + b },
	}

	names, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		base := path.Base(name)
		if base == "layout.html" {
			continue
		}
		t, err := template.New(base).Funcs(funcs).ParseFS(templateFS, "templates/layout.html", name)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", base, err)
		}
		pages[strings.TrimSuffix(base, ".html")] = t
	}
	return &Renderer{pages: pages, log: log}, nil
}

// Render writes page name with status. Pending flash messages from the
// previous redirect and notifications raised during this request are shown.
func (rn *Renderer) Render(w http.ResponseWriter, r *http.Request, status int, name string, v View) {
	t, ok := rn.pages[name]
	if !ok {
		rn.log.Error("unknown template", zap.String("name", name))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if v.User == nil {
		if b := middleware.BrowserFromContext(r.Context()); b != nil {
			v.User = b.Session.User()
		}
	}
	v.Flash = append(readFlash(w, r), middleware.NotesFromContext(r.Context()).Drain()...)

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", v); err != nil {
		rn.log.Error("render template", zap.String("name", name), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Error renders the error page.
func (rn *Renderer) Error(w http.ResponseWriter, r *http.Request, status int, msg string) {
	rn.Render(w, r, status, "error", View{
		Title: http.StatusText(status),
		Data:  map[string]any{"Status": status, "Message": msg},
	})
}

// redirect keeps the request's notifications for the next page and
// redirects with 303 so the target is fetched with GET.
func redirect(w http.ResponseWriter, r *http.Request, to string) {
	if msgs := middleware.NotesFromContext(r.Context()).Drain(); len(msgs) > 0 {
		writeFlash(w, append(readFlash(nil, r), msgs...))
	}
	http.Redirect(w, r, to, http.StatusSeeOther)
}

func writeFlash(w http.ResponseWriter, msgs []notify.Message) {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.RawURLEncoding.EncodeToString(raw),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// readFlash returns the flash messages of r. When w is set the cookie is
// cleared.
func readFlash(w http.ResponseWriter, r *http.Request) []notify.Message {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return nil
	}
	if w != nil {
		http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})
	}
	raw, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return nil
	}
	var msgs []notify.Message
	if err := json.Unmarshal(raw, &msgs); err != nil {
		return nil
	}
	return msgs
}
