// Package gallery manages the ordered image set of one project: loading,
// the select-then-upload pipeline, deletion, main image and ordering.
//
// Every change to persisted images is confirmed by the backend before it is
// reflected locally; main image changes are always re-read from the server.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client-side rejections. None of them reach the network.
var (
	ErrNothingPending = errors.New("no files selected for upload")
	ErrNotConfirmed   = errors.New("deletion not confirmed")
	ErrUnknownImage   = errors.New("image is not part of this gallery")
	ErrInvalidOrder   = errors.New("order must list every image exactly once")
)

// ImageAPI is the subset of the backend the gallery uses.
type ImageAPI interface {
	ListImages(ctx context.Context, projectID int64) ([]models.Image, error)
	UploadImages(ctx context.Context, projectID int64, files []api.UploadFile) (string, error)
	DeleteImage(ctx context.Context, projectID, imageID int64) (string, error)
	SetMainImage(ctx context.Context, projectID, imageID int64) (string, error)
	ReorderImages(ctx context.Context, projectID int64, imageIDs []int64) (string, error)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) bool

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) bool { return f(ctx, prompt) }

// PendingUpload is a selected file that has not been uploaded yet.
type PendingUpload struct {
	LocalID     string
	File        File
	ContentType string
	PreviewURL  string
}

// Rejection explains why a selected file was dropped.
type Rejection struct {
	Name   string
	Reason string
}

// Manager holds the gallery state of one project.
type Manager struct {
	projectID int64
	api       ImageAPI
	notifier  notify.Notifier
	confirmer Confirmer
	previews  Previews
	origin    string
	log       *zap.Logger

	mu      sync.Mutex
	images  []models.Image
	pending []PendingUpload
	err     error
	closed  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets where outcomes and warnings are reported.
func WithNotifier(n notify.Notifier) Option { return func(m *Manager) { m.notifier = n } }

// WithConfirmer sets the delete confirmation. Without one every deletion is
// declined.
func WithConfirmer(c Confirmer) Option { return func(m *Manager) { m.confirmer = c } }

// WithPreviews sets the preview registry.
func WithPreviews(p Previews) Option { return func(m *Manager) { m.previews = p } }

// WithStorageOrigin sets the origin relative image paths are served from.
func WithStorageOrigin(origin string) Option { return func(m *Manager) { m.origin = origin } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(m *Manager) { m.log = l } }

// New returns an empty gallery for projectID. Call Load to fetch images.
func New(projectID int64, imageAPI ImageAPI, opts ...Option) *Manager {
	m := &Manager{
		projectID: projectID,
		api:       imageAPI,
		notifier:  notify.Discard,
		confirmer: ConfirmFunc(func(context.Context, string) bool { return false }),
		previews:  NewMemoryPreviews(),
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ProjectID returns the project this gallery belongs to.
func (m *Manager) ProjectID() int64 { return m.projectID }

// Images returns a copy of the persisted images.
func (m *Manager) Images() []models.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Image, len(m.images))
	copy(out, m.images)
	return out
}

// Pending returns a copy of the pending uploads.
func (m *Manager) Pending() []PendingUpload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PendingUpload, len(m.pending))
	copy(out, m.pending)
	return out
}

// MainImage returns the image flagged as main, if any.
func (m *Manager) MainImage() (models.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, img := range m.images {
		if img.IsMain {
			return img, true
		}
	}
	return models.Image{}, false
}

// Err returns the last server or network failure, until cleared.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// ClearErr dismisses the current failure.
func (m *Manager) ClearErr() {
	m.mu.Lock()
	m.err = nil
	m.mu.Unlock()
}

// Close marks the gallery as no longer displayed. Operations still in flight
// will not change its state, and pending previews are released.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, p := range pending {
		m.previews.Release(p.PreviewURL)
	}
}

// update runs fn under the lock unless the gallery was closed.
func (m *Manager) update(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	fn()
	return true
}

func (m *Manager) fail(op string, err error) error {
	m.update(func() { m.err = err })
	m.log.Warn("gallery operation failed",
		zap.String("op", op),
		zap.Int64("project_id", m.projectID),
		zap.Error(err),
	)
	m.notifier.Notify(notify.Error, fmt.Sprintf("%s failed: %s", op, api.Message(err)))
	return fmt.Errorf("%s: %w", op, err)
}

// Load replaces the local image list with the server's. On failure the
// previous list is kept and the error flag is set.
func (m *Manager) Load(ctx context.Context) error {
	imgs, err := m.api.ListImages(ctx, m.projectID)
	if err != nil {
		return m.fail("load images", err)
	}
	m.update(func() {
		m.images = imgs
		m.err = nil
	})
	return nil
}

// SelectFiles validates files and queues the acceptable ones as pending
// uploads. Files over MaxFileSize or not of an accepted image type are
// dropped with a warning.
func (m *Manager) SelectFiles(files ...File) ([]PendingUpload, []Rejection) {
	var (
		added    []PendingUpload
		rejected []Rejection
	)
	for _, f := range files {
		if f.Size > MaxFileSize {
			rejected = append(rejected, Rejection{Name: f.Name, Reason: "larger than 10 MB"})
			continue
		}
		ct, err := detectType(f)
		if err != nil {
			rejected = append(rejected, Rejection{Name: f.Name, Reason: "unreadable: " + err.Error()})
			continue
		}
		if !accepted(ct) {
			rejected = append(rejected, Rejection{Name: f.Name, Reason: "unsupported type " + ct})
			continue
		}
		url, err := m.previews.Create(f, ct)
		if err != nil {
			rejected = append(rejected, Rejection{Name: f.Name, Reason: "no preview: " + err.Error()})
			continue
		}
		added = append(added, PendingUpload{
			LocalID:     uuid.NewString(),
			File:        f,
			ContentType: ct,
			PreviewURL:  url,
		})
	}

	if !m.update(func() { m.pending = append(m.pending, added...) }) {
		for _, p := range added {
			m.previews.Release(p.PreviewURL)
		}
		return nil, rejected
	}
	for _, r := range rejected {
		m.notifier.Notify(notify.Warning, fmt.Sprintf("%s: %s", r.Name, r.Reason))
	}
	return added, rejected
}

// RemovePending discards one pending upload and releases its preview.
func (m *Manager) RemovePending(localID string) bool {
	var removed *PendingUpload
	m.update(func() {
		for i, p := range m.pending {
			if p.LocalID == localID {
				removed = &p
				m.pending = append(m.pending[:i:i], m.pending[i+1:]...)
				return
			}
		}
	})
	if removed == nil {
		return false
	}
	m.previews.Release(removed.PreviewURL)
	return true
}

// Upload sends every pending file in one batch. On success the pending list
// is cleared and the images are reloaded; on failure the pending list is
// kept as it was so the upload can be retried.
func (m *Manager) Upload(ctx context.Context) error {
	batch := m.Pending()
	if len(batch) == 0 {
		return ErrNothingPending
	}

	files := make([]api.UploadFile, len(batch))
	for i, p := range batch {
		files[i] = api.UploadFile{Name: p.File.Name, ContentType: p.ContentType, Open: p.File.Open}
	}

	msg, err := m.api.UploadImages(ctx, m.projectID, files)
	if err != nil {
		return m.fail("upload", err)
	}

	sent := make(map[string]bool, len(batch))
	for _, p := range batch {
		sent[p.LocalID] = true
	}
	m.update(func() {
		kept := m.pending[:0:0]
		for _, p := range m.pending {
			if !sent[p.LocalID] {
				kept = append(kept, p)
			}
		}
		m.pending = kept
		m.err = nil
	})
	for _, p := range batch {
		m.previews.Release(p.PreviewURL)
	}
	m.log.Info("images uploaded", zap.Int64("project_id", m.projectID), zap.Int("count", len(batch)))
	m.notifier.Notify(notify.Success, messageOr(msg, fmt.Sprintf("%d image(s) uploaded", len(batch))))

	_ = m.Load(ctx)
	return nil
}

func (m *Manager) find(imageID int64) (models.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, img := range m.images {
		if img.ID == imageID {
			return img, true
		}
	}
	return models.Image{}, false
}

// Delete removes an image after the confirmer approves. When the main image
// is removed the list is reloaded so the server's choice of a successor is
// shown; no image is promoted locally.
func (m *Manager) Delete(ctx context.Context, imageID int64) error {
	img, ok := m.find(imageID)
	if !ok {
		return ErrUnknownImage
	}
	name := img.OriginalName
	if name == "" {
		name = fmt.Sprintf("#%d", img.ID)
	}
	if !m.confirmer.Confirm(ctx, fmt.Sprintf("Delete image %s? This cannot be undone.", name)) {
		return ErrNotConfirmed
	}

	msg, err := m.api.DeleteImage(ctx, m.projectID, imageID)
	if err != nil {
		return m.fail("delete image", err)
	}

	remaining := 0
	m.update(func() {
		kept := m.images[:0:0]
		for _, im := range m.images {
			if im.ID != imageID {
				kept = append(kept, im)
			}
		}
		m.images = kept
		remaining = len(kept)
		m.err = nil
	})
	m.notifier.Notify(notify.Success, messageOr(msg, "Image deleted"))

	if img.IsMain && remaining > 0 {
		_ = m.Load(ctx)
	}
	return nil
}

// SetMain promotes an image to main and reloads the list from the server.
func (m *Manager) SetMain(ctx context.Context, imageID int64) error {
	if _, ok := m.find(imageID); !ok {
		return ErrUnknownImage
	}
	msg, err := m.api.SetMainImage(ctx, m.projectID, imageID)
	if err != nil {
		return m.fail("set main image", err)
	}
	m.notifier.Notify(notify.Success, messageOr(msg, "Main image updated"))
	return m.Load(ctx)
}

// Reorder sends the complete new order. Local display order changes only
// after the server accepts it.
func (m *Manager) Reorder(ctx context.Context, imageIDs []int64) error {
	current := m.Images()
	if len(imageIDs) != len(current) {
		return ErrInvalidOrder
	}
	byID := make(map[int64]models.Image, len(current))
	for _, img := range current {
		byID[img.ID] = img
	}
	seen := make(map[int64]bool, len(imageIDs))
	for _, id := range imageIDs {
		if _, ok := byID[id]; !ok || seen[id] {
			return ErrInvalidOrder
		}
		seen[id] = true
	}

	msg, err := m.api.ReorderImages(ctx, m.projectID, imageIDs)
	if err != nil {
		return m.fail("reorder images", err)
	}

	m.update(func() {
		// Rebuild from the live list so fields refreshed meanwhile survive.
		live := make(map[int64]models.Image, len(m.images))
		for _, img := range m.images {
			live[img.ID] = img
		}
		ordered := make([]models.Image, 0, len(imageIDs))
		for pos, id := range imageIDs {
			img, ok := live[id]
			if !ok {
				continue
			}
			img.DisplayOrder = pos
			ordered = append(ordered, img)
		}
		m.images = ordered
		m.err = nil
	})
	m.notifier.Notify(notify.Success, messageOr(msg, "Order saved"))
	return nil
}

// ResolveDisplayURL resolves img against the gallery's storage origin.
func (m *Manager) ResolveDisplayURL(img models.Image, v Variant) string {
	if img.ProjectID == 0 {
		img.ProjectID = m.projectID
	}
	return ResolveDisplayURL(m.origin, img, v)
}

func messageOr(msg, fallback string) string {
	if msg == "" {
		return fallback
	}
	return msg
}
