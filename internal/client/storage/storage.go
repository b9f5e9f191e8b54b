// Package storage persists the admin client's durable state: a small JSON
// key/value file holding the bearer token under a fixed key.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TokenKey is the fixed key the bearer token is stored under.
const TokenKey = "auth_token"

// DefaultFile is the file name used when no path is configured.
const DefaultFile = "token.json"

// ErrCorrupt is returned by the read that finds the backing file
// undecodable. The store then behaves as empty and the next write replaces
// the file.
var ErrCorrupt = errors.New("corrupt store file")

// FileStore is a JSON-file backed key/value store.
type FileStore struct {
	path    string
	mu      sync.Mutex
	entries map[string]string
	// corrupt is set while the file on disk does not match entries.
	corrupt bool
}

type fileContents struct {
	Entries map[string]string `json:"entries"`
}

// NewFileStore returns a store persisted at path. The file is read lazily.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultFile
	}
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (fs *FileStore) Path() string { return fs.path }

// Load reads the backing file. A missing file yields an empty store, an
// undecodable one an empty store and an error wrapping ErrCorrupt.
func (fs *FileStore) Load() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.load()
}

func (fs *FileStore) load() error {
	f, err := os.Open(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fs.entries = make(map[string]string)
			return nil
		}
		return fmt.Errorf("open %s: %w", fs.path, err)
	}
	defer f.Close()

	var c fileContents
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		fs.entries = make(map[string]string)
		fs.corrupt = true
		return fmt.Errorf("decode %s: %w: %v", fs.path, ErrCorrupt, err)
	}
	if c.Entries == nil {
		c.Entries = make(map[string]string)
	}
	fs.entries = c.Entries
	return nil
}

func (fs *FileStore) save() error {
	if dir := filepath.Dir(fs.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	b, err := json.Marshal(fileContents{Entries: fs.entries})
	if err != nil {
		return err
	}
	if err := os.WriteFile(fs.path, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", fs.path, err)
	}
	fs.corrupt = false
	return nil
}

func (fs *FileStore) ensureLoaded() error {
	if fs.entries != nil {
		return nil
	}
	return fs.load()
}

// Get returns the value for key, or "" when absent.
func (fs *FileStore) Get(key string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.ensureLoaded(); err != nil {
		return "", err
	}
	return fs.entries[key], nil
}

// Set stores value under key and writes the file.
func (fs *FileStore) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.ensureLoaded(); err != nil {
		return err
	}
	fs.entries[key] = value
	return fs.save()
}

// Delete removes key and writes the file. Deleting a missing key is not an
// error and only writes when the file needs replacing.
func (fs *FileStore) Delete(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.ensureLoaded(); err != nil {
		return err
	}
	if _, ok := fs.entries[key]; !ok && !fs.corrupt {
		return nil
	}
	delete(fs.entries, key)
	return fs.save()
}

// Token implements the token source used by the API client.
func (fs *FileStore) Token(context.Context) (string, error) {
	return fs.Get(TokenKey)
}

// SetToken persists the bearer token.
func (fs *FileStore) SetToken(_ context.Context, token string) error {
	return fs.Set(TokenKey, token)
}

// ClearToken removes the bearer token.
func (fs *FileStore) ClearToken(context.Context) error {
	return fs.Delete(TokenKey)
}

// Memory is an in-process token store.
type Memory struct {
	mu    sync.Mutex
	token string
}

// NewMemory returns a store preloaded with token.
func NewMemory(token string) *Memory {
	return &Memory{token: token}
}

// Token returns the held token.
func (m *Memory) Token(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

// SetToken replaces the held token.
func (m *Memory) SetToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// ClearToken forgets the held token.
func (m *Memory) ClearToken(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	return nil
}
