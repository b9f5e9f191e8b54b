package gallery

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// MaxFileSize is the largest image accepted for upload.
const MaxFileSize = 10 << 20

// acceptedTypes is the set of image formats the backend stores.
var acceptedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// File is a candidate for upload.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FromPath describes the file at path.
func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// FromMultipart describes a file received in a multipart form.
func FromMultipart(fh *multipart.FileHeader) File {
	return File{
		Name: fh.Filename,
		Size: fh.Size,
		Open: func() (io.ReadCloser, error) { return fh.Open() },
	}
}

// FromBytes describes an in-memory file.
func FromBytes(name string, b []byte) File {
	return File{
		Name: name,
		Size: int64(len(b)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(b)), nil },
	}
}

// detectType sniffs the content type from the file's leading bytes.
func detectType(f File) (string, error) {
	if f.Open == nil {
		return "", fmt.Errorf("%s: no content", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", err
	}
	for _, t := range acceptedTypes {
		if mt.Is(t) {
			return t, nil
		}
	}
	return mt.String(), nil
}

func accepted(contentType string) bool {
	for _, t := range acceptedTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// Previews hands out local preview URLs for pending uploads and releases
// them once the upload resolves or the file is discarded.
type Previews interface {
	Create(f File, contentType string) (string, error)
	Release(url string)
}

// MemoryPreviews keeps preview handles in memory under "blob:" URLs. Safe for
// concurrent use.
type MemoryPreviews struct {
	mu    sync.Mutex
	files map[string]preview
}

type preview struct {
	file        File
	contentType string
}

// NewMemoryPreviews returns an empty registry.
func NewMemoryPreviews() *MemoryPreviews {
	return &MemoryPreviews{files: make(map[string]preview)}
}

// Create registers f and returns its preview URL.
func (p *MemoryPreviews) Create(f File, contentType string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	url := "blob:" + uuid.NewString()
	p.files[url] = preview{file: f, contentType: contentType}
	return url, nil
}

// Release forgets url.
func (p *MemoryPreviews) Release(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.files, url)
}

// Lookup returns the file behind a live preview URL.
func (p *MemoryPreviews) Lookup(url string) (File, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pv, ok := p.files[url]
	return pv.file, pv.contentType, ok
}

// Len reports how many previews are live.
func (p *MemoryPreviews) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}
