package db

import (
	"fmt"
	"log"

	"room-panel/internal/config"
	"room-panel/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormDB wraps the GORM database instance
type GormDB struct {
	*gorm.DB
}

// NewGorm opens the postgres connection and migrates the document tables.
func NewGorm(cfg *config.Config) (*GormDB, error) {
	dsn := cfg.DatabaseURL()

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Learning: GORM automatically creates/updates tables based on struct definitions
	if err := db.AutoMigrate(
		&models.DocumentRecord{},
		&models.DocumentRevision{},
	); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := SeedDocument(db); err != nil {
		return nil, err
	}

	log.Println("✓ Database connected and migrated successfully")

	return &GormDB{db}, nil
}

// SeedDocument inserts the empty current-document row if it is missing, so
// the first writers have a row to lock instead of racing on the insert.
func SeedDocument(db *gorm.DB) error {
	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.DocumentRecord{
		ID:        models.CurrentDocumentID,
		Data:      "null",
		UpdatedAt: 0,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to seed document row: %w", err)
	}
	return nil
}

// Close closes the database connection
func (db *GormDB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
