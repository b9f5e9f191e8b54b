package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/gallery"
	"github.com/atinyakov/buildsite/internal/middleware"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// gallery builds the gallery of project id for this request and loads its
// images.
func (h *AdminHandler) gallery(r *http.Request, id int64, opts ...gallery.Option) (*gallery.Manager, error) {
	opts = append([]gallery.Option{
		gallery.WithNotifier(notes(r)),
		gallery.WithStorageOrigin(h.StorageOrigin),
		gallery.WithLogger(h.Log),
	}, opts...)
	g := gallery.New(id, h.backend(r), opts...)
	if err := g.Load(r.Context()); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

func (h *AdminHandler) uploads() *Uploads {
	h.uploadsOnce.Do(func() {
		if h.Uploads == nil {
			h.Uploads = NewUploads(0, h.Log)
		}
	})
	return h.Uploads
}

// withPending runs fn on the files this browser selected for project id.
func (h *AdminHandler) withPending(r *http.Request, id int64, fn func(g *gallery.Manager)) {
	sid := ""
	if b := middleware.BrowserFromContext(r.Context()); b != nil {
		sid = b.SID
	}
	h.uploads().With(sid, id, h.backend(r), notes(r), fn)
}

type pendingView struct {
	LocalID     string
	Name        string
	Size        string
	ContentType string
	Preview     string
}

func pendingViews(id int64, pending []gallery.PendingUpload) []pendingView {
	out := make([]pendingView, len(pending))
	for i, p := range pending {
		out[i] = pendingView{
			LocalID:     p.LocalID,
			Name:        p.File.Name,
			Size:        fmt.Sprintf("%.1f KB", float64(p.File.Size)/(1<<10)),
			ContentType: p.ContentType,
			Preview:     fmt.Sprintf("%s/pending/%s/preview", imagesPath(id), p.LocalID),
		}
	}
	return out
}

// selectUploads queues the files of a multipart form on g.
func selectUploads(r *http.Request, g *gallery.Manager) {
	var headers []*multipart.FileHeader
	for _, field := range []string{"images[]", "images"} {
		headers = append(headers, r.MultipartForm.File[field]...)
	}
	files := make([]gallery.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readUpload(fh)
		if err != nil {
			notes(r).Notify(notify.Warning, fmt.Sprintf("%s: unreadable", fh.Filename))
			continue
		}
		files = append(files, f)
	}
	g.SelectFiles(files...)
}

// parseUpload parses a multipart request. On failure the user is told and
// false is returned.
func parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		notes(r).Notify(notify.Error, "The upload is too large or malformed.")
		return false
	}
	return true
}

// Images renders the gallery of a project.
func (h *AdminHandler) Images(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	p, err := h.backend(r).GetProject(r.Context(), id)
	if err != nil {
		h.fail(w, r, "/admin", "load project", err)
		return
	}
	var images []models.Image
	g, err := h.gallery(r, id)
	switch {
	case errors.Is(err, api.ErrUnauthorized):
		h.fail(w, r, imagesPath(id), "load images", err)
		return
	case err == nil:
		images = g.Images()
		g.Close()
	}
	// Other load failures were reported by the gallery and show as a flash.
	for i := range images {
		if images[i].ProjectID == 0 {
			images[i].ProjectID = id
		}
	}
	var pending []pendingView
	h.withPending(r, id, func(g *gallery.Manager) { pending = pendingViews(id, g.Pending()) })

	h.Render.Render(w, r, http.StatusOK, "admin_images", View{
		Title: "Images of " + p.Name,
		Data:  map[string]any{"Project": p, "Images": images, "Pending": pending},
	})
}

// SelectImages queues files for a later upload. Oversized files and files
// that are not images are dropped with a warning.
func (h *AdminHandler) SelectImages(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	back := imagesPath(id)
	if !parseUpload(w, r) {
		redirect(w, r, back)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	h.withPending(r, id, func(g *gallery.Manager) { selectUploads(r, g) })
	redirect(w, r, back)
}

// DropPendingImage removes one queued file.
func (h *AdminHandler) DropPendingImage(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	localID := chi.URLParam(r, "localID")
	var removed bool
	h.withPending(r, id, func(g *gallery.Manager) { removed = g.RemovePending(localID) })
	if !removed {
		notes(r).Notify(notify.Warning, "That file is no longer queued.")
	}
	redirect(w, r, imagesPath(id))
}

// PendingPreview serves the content of a queued file.
func (h *AdminHandler) PendingPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	localID := chi.URLParam(r, "localID")
	var url string
	h.withPending(r, id, func(g *gallery.Manager) {
		for _, p := range g.Pending() {
			if p.LocalID == localID {
				url = p.PreviewURL
			}
		}
	})
	f, contentType, ok := h.uploads().Preview(url)
	if url == "" || !ok || f.Open == nil {
		http.NotFound(w, r)
		return
	}
	rc, err := f.Open()
	if err != nil {
		h.Log.Warn("open preview", zap.String("file", f.Name), zap.Error(err))
		http.NotFound(w, r)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.Copy(w, rc)
}

// UploadImages sends every queued file, plus any included in the request,
// in one batch. A failed upload keeps the files queued for a retry.
func (h *AdminHandler) UploadImages(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	back := imagesPath(id)
	if !parseUpload(w, r) {
		redirect(w, r, back)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var err error
	h.withPending(r, id, func(g *gallery.Manager) {
		selectUploads(r, g)
		err = g.Upload(r.Context())
		if err != nil && len(g.Pending()) > 0 {
			notes(r).Notify(notify.Info, "The selected files are kept, upload again to retry.")
		}
	})
	switch {
	case errors.Is(err, gallery.ErrNothingPending):
		notes(r).Notify(notify.Warning, "Select at least one JPEG, PNG, GIF or WebP image.")
	case err != nil:
		h.failReported(w, r, back, err)
		return
	}
	redirect(w, r, back)
}

// DeleteImage asks for confirmation, then deletes one image.
func (h *AdminHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	imgID, ok2 := imageID(r)
	if !ok || !ok2 {
		h.Render.Error(w, r, http.StatusNotFound, "Image not found.")
		return
	}
	back := imagesPath(id)

	var prompt string
	g, err := h.gallery(r, id, gallery.WithConfirmer(gallery.ConfirmFunc(func(_ context.Context, p string) bool {
		prompt = p
		return confirmed(r)
	})))
	if err != nil {
		h.failReported(w, r, back, err)
		return
	}
	defer g.Close()

	err = g.Delete(r.Context(), imgID)
	switch {
	case errors.Is(err, gallery.ErrNotConfirmed):
		h.confirm(w, r, prompt, back)
		return
	case errors.Is(err, gallery.ErrUnknownImage):
		notes(r).Notify(notify.Warning, "That image is no longer part of the gallery.")
	case err != nil:
		h.failReported(w, r, back, err)
		return
	}
	redirect(w, r, back)
}

// SetMainImage promotes one image to the project's main image.
func (h *AdminHandler) SetMainImage(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	imgID, ok2 := imageID(r)
	if !ok || !ok2 {
		h.Render.Error(w, r, http.StatusNotFound, "Image not found.")
		return
	}
	back := imagesPath(id)

	g, err := h.gallery(r, id)
	if err != nil {
		h.failReported(w, r, back, err)
		return
	}
	defer g.Close()

	err = g.SetMain(r.Context(), imgID)
	switch {
	case errors.Is(err, gallery.ErrUnknownImage):
		notes(r).Notify(notify.Warning, "That image is no longer part of the gallery.")
	case err != nil:
		h.failReported(w, r, back, err)
		return
	}
	redirect(w, r, back)
}

// ReorderImages saves a new image order. The order is read from the "order"
// field (comma separated ids) or, when empty, from repeated "image_ids".
func (h *AdminHandler) ReorderImages(w http.ResponseWriter, r *http.Request) {
	id, ok := projectID(r)
	if !ok {
		h.Render.Error(w, r, http.StatusNotFound, "Project not found.")
		return
	}
	back := imagesPath(id)

	_ = r.ParseForm()
	raw := r.PostForm["image_ids"]
	if order := strings.TrimSpace(r.PostForm.Get("order")); order != "" {
		raw = strings.Split(order, ",")
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			notes(r).Notify(notify.Error, gallery.ErrInvalidOrder.Error())
			redirect(w, r, back)
			return
		}
		ids = append(ids, n)
	}

	g, err := h.gallery(r, id)
	if err != nil {
		h.failReported(w, r, back, err)
		return
	}
	defer g.Close()

	err = g.Reorder(r.Context(), ids)
	switch {
	case errors.Is(err, gallery.ErrInvalidOrder):
		notes(r).Notify(notify.Error, err.Error())
	case err != nil:
		h.failReported(w, r, back, err)
		return
	}
	redirect(w, r, back)
}

// failReported handles a gallery failure that the gallery has already
// reported to the notifier.
func (h *AdminHandler) failReported(w http.ResponseWriter, r *http.Request, back string, err error) {
	if errors.Is(err, api.ErrUnauthorized) {
		h.fail(w, r, back, "", err)
		return
	}
	redirect(w, r, back)
}
