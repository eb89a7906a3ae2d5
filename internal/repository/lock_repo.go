package repository

import (
	"context"
	"time"

	"github.com/causelab/causescore/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LockRepository implements a persistence-backed distributed lock. Acquisition
// is an insert-if-absent on the key's uniqueness constraint; an expired row
// may be stolen with an atomic conditional update. Contention is reported as
// held=false, never as an error.
type LockRepository struct {
	db *gorm.DB
}

// NewLockRepository creates a new LockRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *LockRepository: repository instance bound to db.
func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

// Acquire attempts to take the lock for key on behalf of holderID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: lock key.
//   - holderID: identifier of the would-be holder.
//   - ttl: lock lifetime; must exceed the guarded operation's worst case.
//
// Returns:
//   - bool: true when the lock is now held by holderID.
//   - error: non-nil only on storage failure, never on contention.
func (r *LockRepository) Acquire(ctx context.Context, key, holderID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	lock := domain.SyncLock{
		Key:        key,
		HolderID:   holderID,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&lock)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// A row exists. Steal it only if it has expired; the WHERE clause makes
	// the steal atomic under concurrent acquirers.
	res = r.db.WithContext(ctx).Model(&domain.SyncLock{}).
		Where("key = ? AND expires_at <= ?", key, now).
		Updates(map[string]interface{}{
			"holder_id":   holderID,
			"acquired_at": now,
			"expires_at":  now.Add(ttl),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release frees the lock if it is still held by holderID. Releasing a lock
// that expired and was reclaimed by someone else is a no-op.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - key: lock key.
//   - holderID: identifier used at acquisition time.
//
// Returns:
//   - error: non-nil if the delete fails.
func (r *LockRepository) Release(ctx context.Context, key, holderID string) error {
	return r.db.WithContext(ctx).
		Where("key = ? AND holder_id = ?", key, holderID).
		Delete(&domain.SyncLock{}).Error
}
