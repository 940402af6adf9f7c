package repository

import (
	"context"
	"os"
	"sync"
	"testing"

	"room-panel/internal/db"
	"room-panel/internal/models"

	"github.com/go-playground/assert/v2"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// openTestDB connects to TEST_DATABASE_URL and resets the panel tables.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, gdb.Migrator().DropTable(&models.DocumentRecord{}, &models.DocumentRevision{}), nil)
	assert.Equal(t, gdb.AutoMigrate(&models.DocumentRecord{}, &models.DocumentRevision{}), nil)
	assert.Equal(t, db.SeedDocument(gdb), nil)
	return gdb
}

func TestGormStoreReplaceAndGet(t *testing.T) {
	s := NewGormStore(openTestDB(t))
	ctx := context.Background()

	v, err := s.Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, v.IsEmpty(), true)

	a, err := s.Replace(ctx, models.Document(`{"status":"red"}`))
	assert.Equal(t, err, nil)
	b, err := s.Replace(ctx, models.Document(`{"status":"green"}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, b.UpdatedAt > a.UpdatedAt, true)

	v, err = s.Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, v.UpdatedAt, b.UpdatedAt)
	assert.Equal(t, v.Data.Equal(models.Document(`{"status":"green"}`)), true)
}

func TestGormStoreConcurrentFirstWrites(t *testing.T) {
	s := NewGormStore(openTestDB(t))
	ctx := context.Background()

	const writers = 8
	stamps := make(chan int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Replace(ctx, models.Document(`{"status":"red"}`))
			assert.Equal(t, err, nil)
			stamps <- v.UpdatedAt
		}()
	}
	wg.Wait()
	close(stamps)

	seen := map[int64]bool{}
	var highest int64
	for at := range stamps {
		assert.Equal(t, seen[at], false)
		seen[at] = true
		if at > highest {
			highest = at
		}
	}
	assert.Equal(t, len(seen), writers)

	v, err := s.Get(ctx)
	assert.Equal(t, err, nil)
	assert.Equal(t, v.UpdatedAt, highest)
}

func TestGormStorePruneRevisions(t *testing.T) {
	s := NewGormStore(openTestDB(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Replace(ctx, models.Document(`{"status":"red"}`))
		assert.Equal(t, err, nil)
	}

	deleted, err := s.PruneRevisions(ctx, 2)
	assert.Equal(t, err, nil)
	assert.Equal(t, deleted, int64(3))

	revisions, err := s.Revisions(ctx, 10)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(revisions), 2)
}
