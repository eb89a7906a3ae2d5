package service

import (
	"testing"

	"github.com/causelab/causescore/internal/domain"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newServiceTestDB creates an isolated in-memory database per test.
func newServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+uuid.New().String()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.TrackedAccount{},
		&domain.SocialPost{},
		&domain.SyncLock{},
		&domain.FetchJob{},
	); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}
