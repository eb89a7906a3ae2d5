package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/causelab/causescore/internal/domain"
	"github.com/google/uuid"
)

func newTestJob(projectID string, scheduledFor time.Time) domain.FetchJob {
	return domain.FetchJob{
		ID:           uuid.New().String(),
		ProjectID:    projectID,
		Kind:         domain.JobKindSocialFetch,
		Status:       domain.JobStatusPending,
		ScheduledFor: scheduledFor,
	}
}

func TestJobRepository_ClaimDue(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewJobRepository(db)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	jobs := []domain.FetchJob{
		newTestJob("p1", now.Add(-time.Minute)),
		newTestJob("p2", now.Add(-time.Hour)),
		newTestJob("p3", now.Add(time.Hour)), // not due yet
	}
	if err := repo.CreateBatch(ctx, jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claimed, err := repo.ClaimDue(ctx, domain.JobKindSocialFetch, 10, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed = %d, want 2", len(claimed))
	}
	// Schedule order: p2 first.
	if claimed[0].ProjectID != "p2" || claimed[1].ProjectID != "p1" {
		t.Errorf("unexpected claim order: %s, %s", claimed[0].ProjectID, claimed[1].ProjectID)
	}
	for _, job := range claimed {
		if job.Status != domain.JobStatusProcessing {
			t.Errorf("Status = %s, want processing", job.Status)
		}
		if job.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", job.Attempts)
		}
	}

	// A second claim must find nothing due.
	again, err := repo.ClaimDue(ctx, domain.JobKindSocialFetch, 10, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second claim = %d jobs, want 0", len(again))
	}
}

func TestJobRepository_ClaimDueExclusive(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewJobRepository(db)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	jobs := make([]domain.FetchJob, 0, 5)
	for i := 0; i < 5; i++ {
		jobs = append(jobs, newTestJob(uuid.New().String(), now.Add(-time.Minute)))
	}
	if err := repo.CreateBatch(ctx, jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Drain the queue in small claims. Every job must be handed out exactly
	// once, never shared between claims.
	seen := make(map[string]int)
	for i := 0; i < 4; i++ {
		claimed, err := repo.ClaimDue(ctx, domain.JobKindSocialFetch, 2, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, job := range claimed {
			seen[job.ID]++
		}
	}
	if len(seen) != 5 {
		t.Fatalf("distinct claimed jobs = %d, want 5", len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Errorf("job %s claimed %d times, want 1", id, count)
		}
	}

	// The stored rows must reflect a single claim each.
	for _, job := range jobs {
		var stored domain.FetchJob
		if err := db.First(&stored, "id = ?", job.ID).Error; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if stored.Status != domain.JobStatusProcessing {
			t.Errorf("Status = %s, want processing", stored.Status)
		}
		if stored.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", stored.Attempts)
		}
		if stored.StartedAt == nil {
			t.Error("expected StartedAt to be set")
		}
	}
}

func TestJobRepository_MarkFailedRetryBudget(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewJobRepository(db)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.CreateBatch(ctx, []domain.FetchJob{newTestJob("p1", now.Add(-time.Minute))}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	maxAttempts := 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		claimed, err := repo.ClaimDue(ctx, domain.JobKindSocialFetch, 1, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(claimed) != 1 {
			t.Fatalf("attempt %d: claimed = %d, want 1", attempt, len(claimed))
		}
		if err := repo.MarkFailed(ctx, &claimed[0], errors.New("provider down"), maxAttempts); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		var job domain.FetchJob
		if err := db.First(&job, "project_id = ?", "p1").Error; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if attempt < maxAttempts {
			if job.Status != domain.JobStatusPending {
				t.Errorf("attempt %d: Status = %s, want pending", attempt, job.Status)
			}
		} else {
			if job.Status != domain.JobStatusFailed {
				t.Errorf("Status = %s, want failed after attempt budget", job.Status)
			}
			if !job.Terminal() {
				t.Error("expected failed job to be terminal")
			}
		}
		if job.LastError != "provider down" {
			t.Errorf("LastError = %q, want provider down", job.LastError)
		}
	}
}

func TestJobRepository_PendingProjectIDs(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewJobRepository(db)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	jobs := []domain.FetchJob{
		newTestJob("p1", now),
		newTestJob("p2", now),
	}
	if err := repo.CreateBatch(ctx, jobs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Completed jobs must not count as pending.
	done := newTestJob("p3", now)
	done.Status = domain.JobStatusCompleted
	if err := repo.CreateBatch(ctx, []domain.FetchJob{done}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending, err := repo.PendingProjectIDs(ctx, domain.JobKindSocialFetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	if _, ok := pending["p1"]; !ok {
		t.Error("expected p1 to be pending")
	}
	if _, ok := pending["p3"]; ok {
		t.Error("did not expect completed p3 to be pending")
	}
}

func TestJobRepository_MarkCompleted(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewJobRepository(db)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := repo.CreateBatch(ctx, []domain.FetchJob{newTestJob("p1", now)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claimed, err := repo.ClaimDue(ctx, domain.JobKindSocialFetch, 1, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.MarkCompleted(ctx, &claimed[0], domain.Metadata{"stored_x": 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var job domain.FetchJob
	if err := db.First(&job, "project_id = ?", "p1").Error; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %s, want completed", job.Status)
	}
	if job.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJobRepository_Cancel(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewJobRepository(db)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	job := newTestJob("p1", now)
	if err := repo.CreateBatch(ctx, []domain.FetchJob{job}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got domain.FetchJob
	if err := db.First(&got, "id = ?", job.ID).Error; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.JobStatusCancelled {
		t.Errorf("Status = %s, want cancelled", got.Status)
	}
}
