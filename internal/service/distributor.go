package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/logger"
	"github.com/causelab/causescore/internal/repository"
	"github.com/google/uuid"
)

// Distributor converts "which projects need a fetch" into time-jittered jobs
// spread across a rolling window, so a large fleet of fetches never lands on
// the providers at the same instant. Scheduling is idempotent: projects with
// a pending job of the same kind are skipped.
type Distributor struct {
	jobRepo      *repository.JobRepository
	spreadWindow time.Duration

	mu  sync.Mutex
	rnd *rand.Rand

	// now is the scheduling clock, replaceable in tests.
	now func() time.Time
}

// NewDistributor creates a new Distributor.
// Parameters:
//   - jobRepo: job repository used to check and create jobs.
//   - spreadWindow: window the scheduled-for times are spread across.
//
// Returns:
//   - *Distributor: initialized distributor.
func NewDistributor(jobRepo *repository.JobRepository, spreadWindow time.Duration) *Distributor {
	return &Distributor{
		jobRepo:      jobRepo,
		spreadWindow: spreadWindow,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleFetchWindow schedules one job per candidate project, evenly spread
// across the window with per-item jitter.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - projectIDs: candidate projects.
//   - kind: job kind to schedule.
//
// Returns:
//   - []domain.FetchJob: created jobs; projects with pending work are absent.
//   - error: non-nil if the pending check or the insert fails.
func (d *Distributor) ScheduleFetchWindow(ctx context.Context, projectIDs []string, kind domain.JobKind) ([]domain.FetchJob, error) {
	pending, err := d.jobRepo.PendingProjectIDs(ctx, kind)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, id := range projectIDs {
		if _, busy := pending[id]; busy {
			continue
		}
		candidates = append(candidates, id)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	base := d.now()
	step := d.spreadWindow / time.Duration(len(candidates))
	jobs := make([]domain.FetchJob, 0, len(candidates))
	for i, projectID := range candidates {
		jobs = append(jobs, domain.FetchJob{
			ID:           uuid.New().String(),
			ProjectID:    projectID,
			Kind:         kind,
			Status:       domain.JobStatusPending,
			ScheduledFor: base.Add(time.Duration(i)*step + d.jitter(step)),
			Result:       domain.Metadata{},
		})
	}

	if err := d.jobRepo.CreateBatch(ctx, jobs); err != nil {
		return nil, err
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(jobs),
	}).Info(ctx, "scheduled fetch jobs across %s window, %d candidates skipped as already pending",
		d.spreadWindow, len(projectIDs)-len(candidates))
	return jobs, nil
}

// jitter returns a random offset up to one scheduling step, capped at two
// minutes so tight windows stay roughly even.
func (d *Distributor) jitter(step time.Duration) time.Duration {
	max := step
	if max > 2*time.Minute {
		max = 2 * time.Minute
	}
	if max <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.rnd.Int63n(int64(max)))
}
