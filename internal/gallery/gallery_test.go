package gallery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/atinyakov/buildsite/internal/client/api"
	"github.com/atinyakov/buildsite/internal/models"
	"github.com/atinyakov/buildsite/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend keeps one project's images and enforces the single-main rule
// the way the real backend does.
type fakeBackend struct {
	images []models.Image
	nextID int64

	listErr, uploadErr, deleteErr, mainErr, reorderErr error

	calls    map[string]int
	uploaded [][]api.UploadFile
	order    []int64

	onList func()
}

func newFakeBackend(images ...models.Image) *fakeBackend {
	return &fakeBackend{images: images, nextID: 100, calls: map[string]int{}}
}

func (f *fakeBackend) ListImages(_ context.Context, _ int64) ([]models.Image, error) {
	f.calls["list"]++
	if f.onList != nil {
		f.onList()
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Image, len(f.images))
	copy(out, f.images)
	return out, nil
}

func (f *fakeBackend) UploadImages(_ context.Context, projectID int64, files []api.UploadFile) (string, error) {
	f.calls["upload"]++
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploaded = append(f.uploaded, files)
	for _, file := range files {
		f.nextID++
		f.images = append(f.images, models.Image{
			ID:           f.nextID,
			ProjectID:    projectID,
			OriginalName: file.Name,
			IsMain:       len(f.images) == 0,
		})
	}
	return "uploaded", nil
}

func (f *fakeBackend) DeleteImage(_ context.Context, _, imageID int64) (string, error) {
	f.calls["delete"]++
	if f.deleteErr != nil {
		return "", f.deleteErr
	}
	wasMain := false
	kept := f.images[:0:0]
	for _, img := range f.images {
		if img.ID == imageID {
			wasMain = img.IsMain
			continue
		}
		kept = append(kept, img)
	}
	if wasMain && len(kept) > 0 {
		kept[0].IsMain = true
	}
	f.images = kept
	return "", nil
}

func (f *fakeBackend) SetMainImage(_ context.Context, _, imageID int64) (string, error) {
	f.calls["main"]++
	if f.mainErr != nil {
		return "", f.mainErr
	}
	for i := range f.images {
		f.images[i].IsMain = f.images[i].ID == imageID
	}
	return "Main image updated", nil
}

func (f *fakeBackend) ReorderImages(_ context.Context, _ int64, ids []int64) (string, error) {
	f.calls["reorder"]++
	if f.reorderErr != nil {
		return "", f.reorderErr
	}
	f.order = ids
	return "", nil
}

func pngBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	return b
}

func jpegBytes(size int) []byte {
	b := make([]byte, size)
	copy(b, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	return b
}

func threeImages() []models.Image {
	return []models.Image{
		{ID: 1, ProjectID: 7, IsMain: true, OriginalName: "front.jpg", DisplayOrder: 0},
		{ID: 2, ProjectID: 7, OriginalName: "side.jpg", DisplayOrder: 1},
		{ID: 3, ProjectID: 7, OriginalName: "roof.jpg", DisplayOrder: 2},
	}
}

func mainIDs(imgs []models.Image) []int64 {
	var ids []int64
	for _, img := range imgs {
		if img.IsMain {
			ids = append(ids, img.ID)
		}
	}
	return ids
}

func TestLoad_ReplacesList(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	m := New(7, be)

	require.NoError(t, m.Load(context.Background()))
	assert.Len(t, m.Images(), 3)

	be.images = be.images[:1]
	require.NoError(t, m.Load(context.Background()))
	assert.Len(t, m.Images(), 1)
	assert.NoError(t, m.Err())
}

func TestLoad_FailureKeepsPreviousList(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	var got notify.Collector
	m := New(7, be, WithNotifier(&got))
	require.NoError(t, m.Load(context.Background()))

	be.listErr = errors.New("timeout")
	err := m.Load(context.Background())

	require.Error(t, err)
	assert.Len(t, m.Images(), 3)
	assert.ErrorIs(t, m.Err(), be.listErr)
	require.Len(t, got.Messages(), 1)
	assert.Equal(t, notify.Error, got.Messages()[0].Level)

	m.ClearErr()
	assert.NoError(t, m.Err())
}

func TestLoad_FirstFailureLeavesEmpty(t *testing.T) {
	be := newFakeBackend()
	be.listErr = errors.New("down")
	m := New(7, be)

	assert.Error(t, m.Load(context.Background()))
	assert.Empty(t, m.Images())
	assert.Error(t, m.Err())
}

func TestSelectFiles_SizeAndType(t *testing.T) {
	be := newFakeBackend()
	var got notify.Collector
	previews := NewMemoryPreviews()
	m := New(7, be, WithNotifier(&got), WithPreviews(previews))

	opened := false
	huge := File{Name: "huge.png", Size: 11 << 20, Open: func() (io.ReadCloser, error) {
		opened = true
		return io.NopCloser(bytes.NewReader(pngBytes(16))), nil
	}}

	added, rejected := m.SelectFiles(
		huge,
		FromBytes("plan.png", pngBytes(2<<20)),
		FromBytes("photo.jpg", jpegBytes(4096)),
		FromBytes("notes.txt", []byte("just some text")),
	)

	assert.False(t, opened, "oversized files must be rejected without reading them")
	require.Len(t, added, 2)
	assert.Equal(t, "plan.png", added[0].File.Name)
	assert.Equal(t, "image/png", added[0].ContentType)
	assert.Equal(t, "image/jpeg", added[1].ContentType)
	assert.NotEmpty(t, added[0].LocalID)
	assert.NotEqual(t, added[0].LocalID, added[1].LocalID)
	assert.Equal(t, 2, previews.Len())

	require.Len(t, rejected, 2)
	assert.Equal(t, "huge.png", rejected[0].Name)
	assert.Equal(t, "notes.txt", rejected[1].Name)
	assert.Len(t, got.Messages(), 2)
	assert.Len(t, m.Pending(), 2)
	assert.Zero(t, be.calls["upload"])
}

func TestSelectFiles_RenamedTextIsRejected(t *testing.T) {
	m := New(7, newFakeBackend())
	added, rejected := m.SelectFiles(FromBytes("fake.png", []byte("hello, not an image")))
	assert.Empty(t, added)
	require.Len(t, rejected, 1)
	assert.Contains(t, rejected[0].Reason, "unsupported type")
}

func TestRemovePending_ReleasesPreview(t *testing.T) {
	previews := NewMemoryPreviews()
	m := New(7, newFakeBackend(threeImages()...), WithPreviews(previews))
	require.NoError(t, m.Load(context.Background()))
	added, _ := m.SelectFiles(FromBytes("a.png", pngBytes(64)), FromBytes("b.png", pngBytes(64)))
	require.Len(t, added, 2)

	assert.True(t, m.RemovePending(added[0].LocalID))
	assert.False(t, m.RemovePending(added[0].LocalID))

	pending := m.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, added[1].LocalID, pending[0].LocalID)
	assert.Equal(t, 1, previews.Len())
	_, _, live := previews.Lookup(added[0].PreviewURL)
	assert.False(t, live)
	assert.Len(t, m.Images(), 3)
}

func TestUpload_NothingPending(t *testing.T) {
	be := newFakeBackend()
	m := New(7, be)
	assert.ErrorIs(t, m.Upload(context.Background()), ErrNothingPending)
	assert.Zero(t, be.calls["upload"])
}

func TestUpload_Success(t *testing.T) {
	be := newFakeBackend()
	previews := NewMemoryPreviews()
	m := New(7, be, WithPreviews(previews))
	m.SelectFiles(FromBytes("a.png", pngBytes(64)), FromBytes("b.jpg", jpegBytes(64)))

	require.NoError(t, m.Upload(context.Background()))

	assert.Empty(t, m.Pending())
	assert.Zero(t, previews.Len())
	require.Len(t, be.uploaded, 1)
	assert.Len(t, be.uploaded[0], 2)
	imgs := m.Images()
	require.Len(t, imgs, 2)
	assert.Equal(t, []int64{imgs[0].ID}, mainIDs(imgs), "first image of an empty project becomes main")
	assert.Equal(t, 1, be.calls["list"])
}

func TestUpload_FailureKeepsPendingExactly(t *testing.T) {
	be := newFakeBackend()
	be.uploadErr = &api.StatusError{Code: 500, Message: "disk full"}
	previews := NewMemoryPreviews()
	m := New(7, be, WithPreviews(previews))
	m.SelectFiles(FromBytes("a.png", pngBytes(64)), FromBytes("b.png", pngBytes(64)))
	before := m.Pending()

	err := m.Upload(context.Background())

	require.Error(t, err)
	after := m.Pending()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].LocalID, after[i].LocalID)
		assert.Equal(t, before[i].PreviewURL, after[i].PreviewURL)
		assert.Equal(t, before[i].File.Name, after[i].File.Name)
	}
	assert.Equal(t, 2, previews.Len())
	assert.Error(t, m.Err())
	assert.Zero(t, be.calls["list"])

	be.uploadErr = nil
	require.NoError(t, m.Upload(context.Background()))
	assert.Empty(t, m.Pending())
}

func TestDelete_RequiresConfirmation(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	m := New(7, be)
	require.NoError(t, m.Load(context.Background()))

	assert.ErrorIs(t, m.Delete(context.Background(), 2), ErrNotConfirmed)
	assert.Zero(t, be.calls["delete"])
	assert.Len(t, m.Images(), 3)
}

func TestDelete_UnknownImage(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	m := New(7, be, WithConfirmer(ConfirmFunc(func(context.Context, string) bool { return true })))
	require.NoError(t, m.Load(context.Background()))

	assert.ErrorIs(t, m.Delete(context.Background(), 99), ErrUnknownImage)
	assert.Zero(t, be.calls["delete"])
}

func TestDelete_Success(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	var prompt string
	m := New(7, be, WithConfirmer(ConfirmFunc(func(_ context.Context, p string) bool {
		prompt = p
		return true
	})))
	require.NoError(t, m.Load(context.Background()))

	require.NoError(t, m.Delete(context.Background(), 2))

	assert.Contains(t, prompt, "side.jpg")
	assert.Len(t, m.Images(), 2)
	assert.Equal(t, 1, be.calls["list"], "deleting a non-main image needs no reload")
}

func TestDelete_MainImageReloadsServerChoice(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	m := New(7, be, WithConfirmer(ConfirmFunc(func(context.Context, string) bool { return true })))
	require.NoError(t, m.Load(context.Background()))

	require.NoError(t, m.Delete(context.Background(), 1))

	assert.Equal(t, 2, be.calls["list"])
	assert.Equal(t, []int64{2}, mainIDs(m.Images()))
}

func TestDelete_FailureLeavesState(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	be.deleteErr = errors.New("refused")
	m := New(7, be, WithConfirmer(ConfirmFunc(func(context.Context, string) bool { return true })))
	require.NoError(t, m.Load(context.Background()))

	assert.Error(t, m.Delete(context.Background(), 3))
	assert.Len(t, m.Images(), 3)
}

func TestSetMain_ReloadsToSingleMain(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	m := New(7, be)
	require.NoError(t, m.Load(context.Background()))

	require.NoError(t, m.SetMain(context.Background(), 3))

	assert.Equal(t, []int64{3}, mainIDs(m.Images()))
	main, ok := m.MainImage()
	require.True(t, ok)
	assert.Equal(t, int64(3), main.ID)
}

func TestSetMain_RejectedKeepsFlags(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	be.mainErr = &api.StatusError{Code: 403, Message: "forbidden"}
	m := New(7, be)
	require.NoError(t, m.Load(context.Background()))

	assert.Error(t, m.SetMain(context.Background(), 3))
	assert.Equal(t, []int64{1}, mainIDs(m.Images()))
}

func TestReorder(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	m := New(7, be)
	require.NoError(t, m.Load(context.Background()))

	for _, bad := range [][]int64{{1, 2}, {1, 2, 2}, {1, 2, 9}} {
		assert.ErrorIs(t, m.Reorder(context.Background(), bad), ErrInvalidOrder)
	}
	assert.Zero(t, be.calls["reorder"])

	be.reorderErr = errors.New("nope")
	assert.Error(t, m.Reorder(context.Background(), []int64{3, 1, 2}))
	assert.Equal(t, int64(1), m.Images()[0].ID, "order changes only after acknowledgment")

	be.reorderErr = nil
	require.NoError(t, m.Reorder(context.Background(), []int64{3, 1, 2}))
	assert.Equal(t, []int64{3, 1, 2}, be.order)
	imgs := m.Images()
	for pos, id := range []int64{3, 1, 2} {
		assert.Equal(t, id, imgs[pos].ID)
		assert.Equal(t, pos, imgs[pos].DisplayOrder)
	}
}

func TestClose_DropsLateUpdates(t *testing.T) {
	be := newFakeBackend(threeImages()...)
	previews := NewMemoryPreviews()
	m := New(7, be, WithPreviews(previews))
	m.SelectFiles(FromBytes("a.png", pngBytes(64)))
	be.onList = m.Close

	require.NoError(t, m.Load(context.Background()))

	assert.Empty(t, m.Images())
	assert.Empty(t, m.Pending())
	assert.Zero(t, previews.Len())
}

func TestManagerResolveDisplayURL_UsesProjectDirectory(t *testing.T) {
	m := New(7, newFakeBackend(), WithStorageOrigin("https://cdn.example.com/storage"))
	got := m.ResolveDisplayURL(models.Image{Filename: "x.webp"}, Full)
	assert.Equal(t, "https://cdn.example.com/storage/projects/7/x.webp", got)
}
