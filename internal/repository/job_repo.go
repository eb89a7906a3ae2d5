package repository

import (
	"context"
	"time"

	"github.com/causelab/causescore/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles scheduled fetch job records.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateBatch inserts a batch of jobs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobs: jobs to persist.
//
// Returns:
//   - error: non-nil if the insert fails.
func (r *JobRepository) CreateBatch(ctx context.Context, jobs []domain.FetchJob) error {
	if len(jobs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&jobs).Error
}

// PendingProjectIDs returns the project IDs that already have a pending job
// of the given kind. The distributor uses this to keep scheduling idempotent.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: job kind to filter on.
//
// Returns:
//   - map[string]struct{}: set of project IDs with pending work.
//   - error: non-nil if the query fails.
func (r *JobRepository) PendingProjectIDs(ctx context.Context, kind domain.JobKind) (map[string]struct{}, error) {
	var ids []string
	if err := r.db.WithContext(ctx).Model(&domain.FetchJob{}).
		Where("kind = ? AND status = ?", kind, domain.JobStatusPending).
		Pluck("project_id", &ids).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// ClaimDue transitions due pending jobs to processing and returns them. The
// selection takes row locks with SKIP LOCKED where the dialect supports it,
// and every transition is a conditional update re-checking pending status, so
// two executors never pick up the same job even at read committed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - kind: job kind to claim.
//   - limit: maximum jobs to claim.
//   - now: scheduling clock; jobs with scheduled_for <= now are due.
//
// Returns:
//   - []domain.FetchJob: claimed jobs in schedule order.
//   - error: non-nil if the transaction fails.
func (r *JobRepository) ClaimDue(ctx context.Context, kind domain.JobKind, limit int, now time.Time) ([]domain.FetchJob, error) {
	var claimed []domain.FetchJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var jobs []domain.FetchJob
		if err := lockForUpdateSkipLocked(tx).
			Where("kind = ? AND status = ? AND scheduled_for <= ?", kind, domain.JobStatusPending, now).
			Order("scheduled_for").
			Limit(limit).
			Find(&jobs).Error; err != nil {
			return err
		}
		started := now
		for i := range jobs {
			res := tx.Model(&domain.FetchJob{}).
				Where("id = ? AND status = ?", jobs[i].ID, domain.JobStatusPending).
				Updates(map[string]interface{}{
					"status":     domain.JobStatusProcessing,
					"attempts":   gorm.Expr("attempts + 1"),
					"started_at": started,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				// Another executor got there first.
				continue
			}
			jobs[i].Status = domain.JobStatusProcessing
			jobs[i].Attempts++
			jobs[i].StartedAt = &started
			claimed = append(claimed, jobs[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// MarkCompleted transitions a job to completed with result metadata.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job to finish.
//   - result: free-form result metadata.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkCompleted(ctx context.Context, job *domain.FetchJob, result domain.Metadata) error {
	now := time.Now().UTC()
	job.Status = domain.JobStatusCompleted
	job.Result = result
	job.CompletedAt = &now
	return r.db.WithContext(ctx).Save(job).Error
}

// MarkFailed records a failed attempt. The job returns to pending until the
// attempt budget is exhausted, then becomes terminal failed.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job that failed.
//   - jobErr: failure cause, stored for diagnosis.
//   - maxAttempts: attempt budget.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) MarkFailed(ctx context.Context, job *domain.FetchJob, jobErr error, maxAttempts int) error {
	job.LastError = jobErr.Error()
	if job.Attempts >= maxAttempts {
		now := time.Now().UTC()
		job.Status = domain.JobStatusFailed
		job.CompletedAt = &now
	} else {
		job.Status = domain.JobStatusPending
	}
	return r.db.WithContext(ctx).Save(job).Error
}

// Cancel transitions a pending job to cancelled.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job to cancel.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) Cancel(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Model(&domain.FetchJob{}).
		Where("id = ? AND status = ?", jobID, domain.JobStatusPending).
		Update("status", domain.JobStatusCancelled).Error
}
