package http

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"sync"
	"time"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/gallery"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"go.uber.org/zap"
)

// DefaultUploadTTL is how long selected files wait for an upload before
// they are discarded.
const DefaultUploadTTL = 30 * time.Minute

// Uploads keeps the files a browser session selected for upload, one
// gallery per session and project, until they are uploaded, dropped or left
// idle for longer than the TTL. Safe for concurrent use.
type Uploads struct {
	ttl      time.Duration
	log      *zap.Logger
	previews *gallery.MemoryPreviews
	now      func() time.Time

	mu      sync.Mutex
	entries map[uploadKey]*uploadEntry
}

type uploadKey struct {
	sid       string
	projectID int64
}

type uploadEntry struct {
	// mu is held by the request using the gallery.
	mu      sync.Mutex
	gallery *gallery.Manager
	binding *requestBinding
	used    time.Time
}

// NewUploads returns an empty registry. A ttl <= 0 uses DefaultUploadTTL.
func NewUploads(ttl time.Duration, log *zap.Logger) *Uploads {
	if ttl <= 0 {
		ttl = DefaultUploadTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Uploads{
		ttl:      ttl,
		log:      log,
		previews: gallery.NewMemoryPreviews(),
		now:      time.Now,
		entries:  make(map[uploadKey]*uploadEntry),
	}
}

// requestBinding routes the backend calls and reports of a long-lived
// gallery to the request currently holding it.
type requestBinding struct {
	api   gallery.ImageAPI
	notes notify.Notifier
}

func (b *requestBinding) ListImages(ctx context.Context, projectID int64) ([]models.Image, error) {
	return b.api.ListImages(ctx, projectID)
}

func (b *requestBinding) UploadImages(ctx context.Context, projectID int64, files []api.UploadFile) (string, error) {
	return b.api.UploadImages(ctx, projectID, files)
}

func (b *requestBinding) DeleteImage(ctx context.Context, projectID, imageID int64) (string, error) {
	return b.api.DeleteImage(ctx, projectID, imageID)
}

func (b *requestBinding) SetMainImage(ctx context.Context, projectID, imageID int64) (string, error) {
	return b.api.SetMainImage(ctx, projectID, imageID)
}

func (b *requestBinding) ReorderImages(ctx context.Context, projectID int64, imageIDs []int64) (string, error) {
	return b.api.ReorderImages(ctx, projectID, imageIDs)
}

func (b *requestBinding) Notify(level notify.Level, msg string) {
	if b.notes != nil {
		b.notes.Notify(level, msg)
	}
}

// With runs fn on the pending gallery of sid and projectID, creating it on
// first use. While fn runs the gallery talks to imageAPI and reports to n.
func (u *Uploads) With(sid string, projectID int64, imageAPI gallery.ImageAPI, n notify.Notifier, fn func(g *gallery.Manager)) {
	key := uploadKey{sid: sid, projectID: projectID}

	u.mu.Lock()
	e, ok := u.entries[key]
	if !ok {
		b := &requestBinding{}
		e = &uploadEntry{
			binding: b,
			gallery: gallery.New(projectID, b,
				gallery.WithNotifier(b),
				gallery.WithPreviews(u.previews),
				gallery.WithLogger(u.log),
			),
		}
		u.entries[key] = e
	}
	e.used = u.now()
	u.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.binding.api, e.binding.notes = imageAPI, n
	defer func() { e.binding.api, e.binding.notes = nil, nil }()
	fn(e.gallery)
}

// Preview returns the file behind a live preview URL.
func (u *Uploads) Preview(url string) (gallery.File, string, bool) {
	return u.previews.Lookup(url)
}

// Sweep discards galleries idle for longer than the TTL and returns how
// many were removed.
func (u *Uploads) Sweep() int {
	cutoff := u.now().Add(-u.ttl)

	u.mu.Lock()
	var idle []*uploadEntry
	for k, e := range u.entries {
		if e.used.Before(cutoff) {
			idle = append(idle, e)
			delete(u.entries, k)
		}
	}
	u.mu.Unlock()

	for _, e := range idle {
		e.mu.Lock()
		e.gallery.Close()
		e.mu.Unlock()
	}
	return len(idle)
}

// StartSweeper sweeps every interval until ctx is done.
func (u *Uploads) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := u.Sweep(); removed > 0 {
					u.log.Info("discarded idle upload selections",
						zap.Int("removed", removed),
						zap.Int("previews", u.previews.Len()),
					)
				}
			}
		}
	}()
}

// readUpload copies a received file into memory so it outlives the request.
// Oversized files are not read; the gallery rejects them by size.
func readUpload(fh *multipart.FileHeader) (gallery.File, error) {
	if fh.Size > gallery.MaxFileSize {
		return gallery.File{Name: fh.Filename, Size: fh.Size}, nil
	}
	f, err := fh.Open()
	if err != nil {
		return gallery.File{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, gallery.MaxFileSize+1))
	if err != nil {
		return gallery.File{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return gallery.FromBytes(fh.Filename, b), nil
}
