package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/coldstore/coldstore/pkg/storage"
	"github.com/coldstore/coldstore/pkg/types"
	"github.com/google/uuid"
)

// Source is the read interface the sync core consumes. The catalog itself
// (metadata, approval workflow) is owned by the upload/intake subsystem;
// nothing behind this interface is ever mutated by the orchestrator or the
// mirror agent.
type Source interface {
	// ListApproved returns the entries eligible for distribution.
	ListApproved() ([]*types.CatalogEntry, error)
	// Get returns one entry by ID.
	Get(id string) (*types.CatalogEntry, error)
	// Open returns the entry's content for streaming to a mirror.
	Open(id string) (io.ReadCloser, error)
}

// Library implements Source over the origin store plus a content directory
// holding one file per entry, named by entry ID.
type Library struct {
	store      storage.Store
	contentDir string
}

// NewLibrary creates a catalog source. The content directory is created if
// missing; failure to do so is a fatal configuration error.
func NewLibrary(store storage.Store, contentDir string) (*Library, error) {
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}
	return &Library{store: store, contentDir: contentDir}, nil
}

// ListApproved returns all approved catalog entries
func (l *Library) ListApproved() ([]*types.CatalogEntry, error) {
	return l.store.ListApprovedEntries()
}

// Get returns one entry by ID
func (l *Library) Get(id string) (*types.CatalogEntry, error) {
	return l.store.GetCatalogEntry(id)
}

// Open returns the entry's content stream
func (l *Library) Open(id string) (io.ReadCloser, error) {
	entry, err := l.store.GetCatalogEntry(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(l.contentPath(entry.ID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content for entry %s: %w", id, types.ErrNotFound)
		}
		return nil, err
	}
	return f, nil
}

// Import copies a file into the library and records an approved catalog
// entry for it. It backs the seed CLI and tests; production intake lives in
// the upload subsystem.
func (l *Library) Import(path, name string) (*types.CatalogEntry, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	id := uuid.New().String()
	dst, err := os.Create(l.contentPath(id))
	if err != nil {
		return nil, fmt.Errorf("failed to create content file: %w", err)
	}
	defer dst.Close()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hasher), src)
	if err != nil {
		os.Remove(l.contentPath(id))
		return nil, fmt.Errorf("failed to copy content: %w", err)
	}

	if name == "" {
		name = filepath.Base(path)
	}

	entry := &types.CatalogEntry{
		ID:        id,
		Name:      name,
		Hash:      hex.EncodeToString(hasher.Sum(nil)),
		Size:      size,
		Status:    types.EntryStatusApproved,
		CreatedAt: time.Now().UTC(),
	}

	if err := l.store.PutCatalogEntry(entry); err != nil {
		os.Remove(l.contentPath(id))
		return nil, err
	}
	return entry, nil
}

func (l *Library) contentPath(id string) string {
	return filepath.Join(l.contentDir, id)
}
