package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"room-panel/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps the document in postgres: one current row plus an
// append-only revision log.
// Learning: the row lock taken by SELECT ... FOR UPDATE is what serializes
// writers across server replicas, so stamps stay monotonic without any
// in-process mutex.
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewGormStore wraps an already migrated connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

// Get returns the current row, {null, 0} while it was never written.
func (s *GormStore) Get(ctx context.Context) (models.VersionedDocument, error) {
	var record models.DocumentRecord

	err := s.db.WithContext(ctx).First(&record, "id = ?", models.CurrentDocumentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.VersionedDocument{}, nil
	}
	if err != nil {
		return models.VersionedDocument{}, fmt.Errorf("failed to get document: %w", err)
	}
	if models.Document(record.Data).IsEmpty() {
		return models.VersionedDocument{}, nil
	}

	return models.VersionedDocument{
		Data:      models.Document(record.Data),
		UpdatedAt: record.UpdatedAt,
	}, nil
}

// Replace stamps and stores doc, and appends it to the revision log, in one
// transaction.
func (s *GormStore) Replace(ctx context.Context, doc models.Document) (models.VersionedDocument, error) {
	var result models.VersionedDocument

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record models.DocumentRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&record, "id = ?", models.CurrentDocumentID).Error
		// db.SeedDocument creates the row at migration; not found only
		// happens when someone deleted it by hand
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to lock document: %w", err)
		}

		record.ID = models.CurrentDocumentID
		record.Data = string(doc)
		record.UpdatedAt = nextStamp(s.now(), record.UpdatedAt)

		// Save inserts on first write and updates afterwards
		if err := tx.Save(&record).Error; err != nil {
			return fmt.Errorf("failed to save document: %w", err)
		}

		revision := &models.DocumentRevision{
			Data:      record.Data,
			UpdatedAt: record.UpdatedAt,
		}
		if err := tx.Create(revision).Error; err != nil {
			return fmt.Errorf("failed to store revision: %w", err)
		}

		result = models.VersionedDocument{
			Data:      doc.Clone(),
			UpdatedAt: record.UpdatedAt,
		}
		return nil
	})
	if err != nil {
		return models.VersionedDocument{}, err
	}
	return result, nil
}

// Revisions returns up to limit revisions, newest first.
func (s *GormStore) Revisions(ctx context.Context, limit int) ([]*models.DocumentRevision, error) {
	var revisions []*models.DocumentRevision

	err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Limit(limit).
		Find(&revisions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}

	return revisions, nil
}

// PruneRevisions keeps only the newest keep revisions.
// Call periodically to prevent unbounded growth
func (s *GormStore) PruneRevisions(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.DocumentRevision{}).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count revisions: %w", err)
	}

	if count <= int64(keep) {
		return 0, nil
	}

	// oldest revision that survives
	var cutoff models.DocumentRevision
	if err := s.db.WithContext(ctx).
		Order("updated_at DESC").
		Offset(keep - 1).
		First(&cutoff).Error; err != nil {
		return 0, fmt.Errorf("failed to find revision cutoff: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("updated_at < ?", cutoff.UpdatedAt).
		Delete(&models.DocumentRevision{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old revisions: %w", result.Error)
	}

	return result.RowsAffected, nil
}
