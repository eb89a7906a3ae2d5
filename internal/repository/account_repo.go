package repository

import (
	"context"
	"errors"
	"time"

	"github.com/causelab/causescore/internal/domain"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountRepository handles tracked-account data operations.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *AccountRepository: repository instance bound to db.
func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByProjectID retrieves the tracked account for a project.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - projectID: opaque project identifier.
//
// Returns:
//   - *domain.TrackedAccount: account record if found.
//   - error: gorm.ErrRecordNotFound when absent, other errors on failure.
func (r *AccountRepository) GetByProjectID(ctx context.Context, projectID string) (*domain.TrackedAccount, error) {
	var account domain.TrackedAccount
	if err := r.db.WithContext(ctx).First(&account, "project_id = ?", projectID).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// GetOrCreate returns the tracked account for a project, creating it lazily
// on first sight. Handles are refreshed from the catalog on every call so a
// changed handle takes effect on the next fetch.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - projectID: opaque project identifier.
//   - xHandle: X handle or "" when the project does not track X.
//   - farcasterHandle: Farcaster handle or "" when not tracked.
//
// Returns:
//   - *domain.TrackedAccount: existing or newly created account.
//   - error: non-nil if the lookup or insert fails.
func (r *AccountRepository) GetOrCreate(ctx context.Context, projectID, xHandle, farcasterHandle string) (*domain.TrackedAccount, error) {
	account, err := r.GetByProjectID(ctx, projectID)
	if err == nil {
		if account.XHandle != xHandle || account.FarcasterHandle != farcasterHandle {
			account.XHandle = xHandle
			account.FarcasterHandle = farcasterHandle
			if err := r.Update(ctx, account); err != nil {
				return nil, err
			}
		}
		return account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	account = &domain.TrackedAccount{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		XHandle:         xHandle,
		FarcasterHandle: farcasterHandle,
		Metadata:        domain.Metadata{},
	}
	// Concurrent creators race on project_id; the unique index decides the
	// winner and the loser re-reads.
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "project_id"}},
		DoNothing: true,
	}).Create(account).Error
	if err != nil {
		return nil, err
	}
	return r.GetByProjectID(ctx, projectID)
}

// Update persists the given account record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - account: account record with updated fields.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *AccountRepository) Update(ctx context.Context, account *domain.TrackedAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

// RecordFetchResult updates the last-fetch bookkeeping for one platform after
// a fetch attempt, successful or not.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - accountID: tracked account ID.
//   - platform: platform the fetch targeted.
//   - fetchedAt: time of the attempt.
//   - meta: free-form result metadata (stored count, error info).
//
// Returns:
//   - error: non-nil if the update fails.
func (r *AccountRepository) RecordFetchResult(ctx context.Context, accountID string, platform domain.Platform, fetchedAt time.Time, meta domain.Metadata) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account domain.TrackedAccount
		if err := tx.First(&account, "id = ?", accountID).Error; err != nil {
			return err
		}
		account.SetLastFetchAt(platform, fetchedAt)
		if account.Metadata == nil {
			account.Metadata = domain.Metadata{}
		}
		for k, v := range meta {
			account.Metadata[k] = v
		}
		return tx.Save(&account).Error
	})
}

// ListWithWatermark pages through accounts that carry a non-null watermark
// for the given platform, ordered by ID for stable pagination.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - platform: platform whose watermark must be set.
//   - offset: pagination offset.
//   - limit: maximum accounts to return.
//
// Returns:
//   - []domain.TrackedAccount: page of accounts.
//   - error: non-nil if the query fails.
func (r *AccountRepository) ListWithWatermark(ctx context.Context, platform domain.Platform, offset, limit int) ([]domain.TrackedAccount, error) {
	var accounts []domain.TrackedAccount
	q := r.db.WithContext(ctx).Order("id").Offset(offset).Limit(limit)
	switch platform {
	case domain.PlatformX:
		q = q.Where("latest_x_post_at IS NOT NULL")
	case domain.PlatformFarcaster:
		q = q.Where("latest_farcaster_post_at IS NOT NULL")
	}
	if err := q.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListProjectIDs returns every tracked project ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - []string: project IDs.
//   - error: non-nil if the query fails.
func (r *AccountRepository) ListProjectIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&domain.TrackedAccount{}).Pluck("project_id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
