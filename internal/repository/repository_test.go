package repository

import (
	"testing"
	"time"

	"github.com/causelab/causescore/internal/domain"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB creates an isolated in-memory database per test.
func newTestDB(t *testing.T) *gorm.DB {
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

// newTestAccount inserts a tracked account and returns it.
func newTestAccount(t *testing.T, db *gorm.DB, projectID string) *domain.TrackedAccount {
	t.Helper()

	account := &domain.TrackedAccount{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		XHandle:         projectID + "-x",
		FarcasterHandle: projectID + "-fc",
		Metadata:        domain.Metadata{},
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("failed to create test account: %v", err)
	}
	return account
}

func newTestPost(id string, postedAt time.Time) domain.SocialPost {
	return domain.SocialPost{
		PlatformPostID: id,
		Content:        "post " + id,
		URL:            "https://example.com/" + id,
		PostedAt:       postedAt,
	}
}
