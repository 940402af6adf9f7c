package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"room-panel/internal/models"
)

// FileStore keeps the document in a JSON file shaped like the GET
// response, {"data": ..., "updatedAt": ...}. Reads are served from memory;
// writes are serialized and land atomically via a temp file and rename.
type FileStore struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	current models.VersionedDocument
}

// NewFileStore loads path. A missing or unreadable file starts the store
// empty.
func NewFileStore(path string) *FileStore {
	s := &FileStore{path: path, now: time.Now}

	current, err := readFile(path)
	switch {
	case err == nil:
		s.current = current
		log.Printf("✓ Loaded document store %s (updatedAt %d)", path, current.UpdatedAt)
	case errors.Is(err, os.ErrNotExist):
		log.Printf("✓ Document store %s not found, starting empty", path)
	default:
		log.Printf("⚠️  Failed to read document store %s, starting empty: %v", path, err)
	}
	return s
}

func readFile(path string) (models.VersionedDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.VersionedDocument{}, err
	}
	var v models.VersionedDocument
	if err := json.Unmarshal(raw, &v); err != nil {
		return models.VersionedDocument{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return v, nil
}

// Get returns the current value, {null, 0} when nothing was written yet.
func (s *FileStore) Get(ctx context.Context) (models.VersionedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.VersionedDocument{Data: s.current.Data.Clone(), UpdatedAt: s.current.UpdatedAt}, nil
}

// Replace stores doc under a new stamp strictly greater than the previous
// one. Last writer wins.
func (s *FileStore) Replace(ctx context.Context, doc models.Document) (models.VersionedDocument, error) {
	if err := ctx.Err(); err != nil {
		return models.VersionedDocument{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := models.VersionedDocument{
		Data:      doc.Clone(),
		UpdatedAt: nextStamp(s.now(), s.current.UpdatedAt),
	}
	if err := s.write(next); err != nil {
		return models.VersionedDocument{}, err
	}
	s.current = next
	return models.VersionedDocument{Data: next.Data.Clone(), UpdatedAt: next.UpdatedAt}, nil
}

func (s *FileStore) write(v models.VersionedDocument) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write document store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write document store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to write document store: %w", err)
	}
	return nil
}
