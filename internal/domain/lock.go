package domain

import "time"

// SyncLock is a persistence-backed mutual-exclusion record shared across
// process instances. At most one unexpired holder may exist per key; expiry
// is the only recovery path for a holder that crashed without releasing.
type SyncLock struct {
	Key        string    `gorm:"type:text;primaryKey" json:"key"`
	HolderID   string    `gorm:"type:text;not null" json:"holder_id"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
}

// TableName returns the database table name for SyncLock.
func (SyncLock) TableName() string {
	return "sync_locks"
}

// Expired reports whether the lock has passed its expiry at the given time.
func (l *SyncLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
