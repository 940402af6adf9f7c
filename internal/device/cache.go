// Package device holds the per-device pieces of a panel client: the cache
// slot that survives restarts, the bus that carries edits between sessions
// in one process, and the slot signal that carries them between processes
// sharing the cache file.
package device

import (
	"fmt"
	"sync"
	"time"

	"room-panel/internal/models"
	"room-panel/internal/syncengine"

	"go.etcd.io/bbolt"
)

var cacheBucket = []byte("panel")

// BoltCache stores one document slot in a bbolt file. The file is opened
// for each call so several panel processes on one device can share it;
// bbolt's file lock serializes them.
type BoltCache struct {
	path    string
	slot    []byte
	limit   int
	timeout time.Duration
}

// OpenBoltCache checks that path is usable and returns the cache for slot.
// Writes larger than limit bytes fail with ErrQuotaExceeded; limit <= 0
// means unlimited.
func OpenBoltCache(path, slot string, limit int) (*BoltCache, error) {
	c := &BoltCache{
		path:    path,
		slot:    []byte(slot),
		limit:   limit,
		timeout: time.Second,
	}
	err := c.update(func(b *bbolt.Bucket) error { return nil })
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Load returns the cached document, ErrCacheMiss when the slot was never
// written, or an ErrMalformedPayload error when it does not hold JSON.
func (c *BoltCache) Load() (models.Document, error) {
	var doc models.Document
	err := c.view(func(b *bbolt.Bucket) error {
		raw := b.Get(c.slot)
		if raw == nil {
			return syncengine.ErrCacheMiss
		}
		// bbolt memory is only valid inside the transaction
		doc = models.Document(raw).Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if doc.IsEmpty() {
		return nil, syncengine.ErrCacheMiss
	}
	if !doc.Valid() {
		return nil, fmt.Errorf("cache slot %q: %w", c.slot, syncengine.ErrMalformedPayload)
	}
	return doc, nil
}

// Save replaces the slot.
func (c *BoltCache) Save(doc models.Document) error {
	if c.limit > 0 && len(doc) > c.limit {
		return fmt.Errorf("%d bytes over %d byte limit: %w", len(doc), c.limit, syncengine.ErrQuotaExceeded)
	}
	return c.update(func(b *bbolt.Bucket) error {
		return b.Put(c.slot, doc)
	})
}

// Clear removes the slot.
func (c *BoltCache) Clear() error {
	return c.update(func(b *bbolt.Bucket) error {
		return b.Delete(c.slot)
	})
}

func (c *BoltCache) open(readOnly bool) (*bbolt.DB, error) {
	db, err := bbolt.Open(c.path, 0600, &bbolt.Options{Timeout: c.timeout, ReadOnly: readOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache %s: %w", c.path, err)
	}
	return db, nil
}

func (c *BoltCache) update(fn func(*bbolt.Bucket) error) error {
	db, err := c.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(cacheBucket)
		if err != nil {
			return fmt.Errorf("failed to create cache bucket: %w", err)
		}
		return fn(b)
	})
}

// view takes bbolt's shared lock so readers in several processes do not
// wait on each other.
func (c *BoltCache) view(fn func(*bbolt.Bucket) error) error {
	db, err := c.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		if b == nil {
			return syncengine.ErrCacheMiss
		}
		return fn(b)
	})
}

// MemoryCache is a process-local cache slot, used when no cache file is
// configured.
type MemoryCache struct {
	mu    sync.Mutex
	doc   models.Document
	limit int
}

func NewMemoryCache(limit int) *MemoryCache {
	return &MemoryCache{limit: limit}
}

func (c *MemoryCache) Load() (models.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.doc.IsEmpty() {
		return nil, syncengine.ErrCacheMiss
	}
	return c.doc.Clone(), nil
}

func (c *MemoryCache) Save(doc models.Document) error {
	if c.limit > 0 && len(doc) > c.limit {
		return fmt.Errorf("%d bytes over %d byte limit: %w", len(doc), c.limit, syncengine.ErrQuotaExceeded)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc = doc.Clone()
	return nil
}
