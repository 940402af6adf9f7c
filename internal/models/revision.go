package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// CurrentDocumentID is the primary key of the single room_documents row.
const CurrentDocumentID = 1

// DocumentRecord is the current document as stored by the postgres backend.
type DocumentRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Data      string `gorm:"type:jsonb;not null" json:"data"`
	UpdatedAt int64  `gorm:"not null;autoUpdateTime:false" json:"updatedAt"`
}

func (DocumentRecord) TableName() string {
	return "room_documents"
}

// DocumentRevision is one accepted write, kept so an operator can see what
// the panel showed and when.
type DocumentRevision struct {
	ID        string    `gorm:"type:varchar(27);primaryKey" json:"id"`
	Data      string    `gorm:"type:jsonb;not null" json:"data"`
	UpdatedAt int64     `gorm:"not null;index;autoUpdateTime:false" json:"updatedAt"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate generates KSUID
func (r *DocumentRevision) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}
	return nil
}

func (DocumentRevision) TableName() string {
	return "room_document_revisions"
}
