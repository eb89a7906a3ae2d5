package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/causelab/causescore/internal/catalog"
	"github.com/causelab/causescore/internal/config"
	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/logger"
	"github.com/causelab/causescore/internal/platform"
	"github.com/causelab/causescore/internal/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// catalogSyncLockKey serializes full-catalog syncs cluster-wide.
const catalogSyncLockKey = "catalog-sync"

// SyncService drives incremental post synchronization: per-project fetches,
// the full-catalog sync, and due-job execution. All scheduling state lives in
// the database; the service itself is stateless between invocations and is
// meant to be triggered by an external timer.
type SyncService struct {
	accountRepo *repository.AccountRepository
	postRepo    *repository.PostRepository
	jobRepo     *repository.JobRepository
	lockRepo    *repository.LockRepository
	catalog     *catalog.Client
	distributor *Distributor
	adapters    map[domain.Platform]platform.Adapter
	cfg         config.SyncConfig
	pageSize    int

	// holderID identifies this process instance as a lock holder.
	holderID string
}

// NewSyncService creates a new SyncService.
// Parameters:
//   - accountRepo, postRepo, jobRepo, lockRepo: persistence layers.
//   - catalogClient: project-catalog client.
//   - distributor: fetch-job distributor.
//   - adapters: one adapter per enabled platform.
//   - cfg: sync tuning knobs.
//   - catalogPageSize: page size for catalog paging.
//
// Returns:
//   - *SyncService: initialized service.
func NewSyncService(
	accountRepo *repository.AccountRepository,
	postRepo *repository.PostRepository,
	jobRepo *repository.JobRepository,
	lockRepo *repository.LockRepository,
	catalogClient *catalog.Client,
	distributor *Distributor,
	adapters map[domain.Platform]platform.Adapter,
	cfg config.SyncConfig,
	catalogPageSize int,
) *SyncService {
	return &SyncService{
		accountRepo: accountRepo,
		postRepo:    postRepo,
		jobRepo:     jobRepo,
		lockRepo:    lockRepo,
		catalog:     catalogClient,
		distributor: distributor,
		adapters:    adapters,
		cfg:         cfg,
		pageSize:    catalogPageSize,
		holderID:    uuid.New().String(),
	}
}

// ProjectSyncResult summarizes one project sync across platforms.
type ProjectSyncResult struct {
	ProjectID   string                  `json:"project_id"`
	Stored      map[domain.Platform]int `json:"stored"`
	FailedCount int                     `json:"failed_count"`
}

// SyncProject fetches and stores recent posts for every platform handle the
// project tracks. A failure on one platform is isolated from the other.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - projectID: project to sync.
//
// Returns:
//   - *ProjectSyncResult: per-platform stored counts.
//   - error: non-nil only when the account cannot be loaded or created.
func (s *SyncService) SyncProject(ctx context.Context, projectID string) (*ProjectSyncResult, error) {
	ctx = logger.SetProjectID(ctx, projectID)

	account, err := s.accountRepo.GetByProjectID(ctx, projectID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		account, err = s.createFromCatalog(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tracked account for project %s: %w", projectID, err)
	}

	result := &ProjectSyncResult{
		ProjectID: projectID,
		Stored:    make(map[domain.Platform]int),
	}

	for _, p := range domain.Platforms() {
		adapter, ok := s.adapters[p]
		if !ok || account.Handle(p) == "" {
			continue
		}
		stored, err := s.syncPlatform(ctx, account, adapter)
		if err != nil {
			// Item-level failure: log with enough context to diagnose and
			// keep going with the other platform.
			logger.With(logger.Fields{
				logger.FieldPlatform: string(p),
			}).Error(ctx, "platform sync failed: %v", err)
			result.FailedCount++
			continue
		}
		result.Stored[p] = stored
	}

	return result, nil
}

// createFromCatalog lazily creates the tracked account from catalog facts on
// the first fetch for a project.
func (s *SyncService) createFromCatalog(ctx context.Context, projectID string) (*domain.TrackedAccount, error) {
	projects, err := s.catalog.ProjectsByIDs(ctx, []string{projectID})
	if err != nil {
		return nil, err
	}
	if len(projects) == 0 {
		return nil, fmt.Errorf("project %s not found in catalog", projectID)
	}
	p := projects[0]
	return s.accountRepo.GetOrCreate(ctx, p.ID, p.XHandle, p.FarcasterHandle)
}

// syncPlatform runs one (account, platform) fetch-and-store cycle and records
// the attempt on the account either way.
func (s *SyncService) syncPlatform(ctx context.Context, account *domain.TrackedAccount, adapter platform.Adapter) (int, error) {
	p := adapter.Platform()
	handle := account.Handle(p)
	fetchedAt := time.Now().UTC()

	identity, err := adapter.ResolveIdentity(ctx, handle)
	if err != nil {
		meta := domain.Metadata{
			string(p) + "_last_result": "resolve_failed",
			string(p) + "_last_error":  err.Error(),
		}
		if recErr := s.accountRepo.RecordFetchResult(ctx, account.ID, p, fetchedAt, meta); recErr != nil {
			logger.CtxWarn(ctx, "failed to record fetch metadata: %v", recErr)
		}
		if errors.Is(err, platform.ErrIdentityNotFound) {
			// Terminal for the item this cycle; not an error for the batch.
			logger.CtxInfo(ctx, "handle %q does not resolve on %s, skipping", handle, p)
			return 0, nil
		}
		return 0, err
	}

	since := account.Watermark(p)
	posts, err := adapter.FetchRecent(ctx, identity, since)
	if err != nil {
		return 0, err
	}

	incoming := make([]domain.SocialPost, 0, len(posts))
	for _, post := range posts {
		incoming = append(incoming, domain.SocialPost{
			PlatformPostID: post.PlatformPostID,
			Content:        post.Content,
			URL:            post.URL,
			PostedAt:       post.PostedAt,
			FetchedAt:      fetchedAt,
		})
	}

	storeResult, err := s.postRepo.StoreIncremental(ctx, account.ID, p, incoming)
	if err != nil {
		return 0, fmt.Errorf("incremental store failed: %w", err)
	}

	retention := time.Duration(s.cfg.RetentionDays) * 24 * time.Hour
	if _, err := s.postRepo.CleanupOld(ctx, account.ID, p, retention, s.cfg.MaxPostsPerAccount); err != nil {
		logger.CtxWarn(ctx, "retention cleanup failed for account %s on %s: %v", account.ID, p, err)
	}

	meta := domain.Metadata{
		string(p) + "_last_result": "ok",
		string(p) + "_last_stored": storeResult.StoredCount,
	}
	if err := s.accountRepo.RecordFetchResult(ctx, account.ID, p, fetchedAt, meta); err != nil {
		logger.CtxWarn(ctx, "failed to record fetch metadata: %v", err)
	}

	logger.With(logger.Fields{
		logger.FieldPlatform: string(p),
		logger.FieldCount:    storeResult.StoredCount,
	}).Info(ctx, "platform sync stored %d posts (fetched %d, boundary_hit=%t)",
		storeResult.StoredCount, len(posts), storeResult.BoundaryHit)
	return storeResult.StoredCount, nil
}

// SyncCatalog walks the full catalog, lazily creates tracked accounts, and
// schedules fetch jobs for every project. Guarded by the distributed lock so
// only one instance runs it; contention means skip, not error.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - error: non-nil if catalog paging or scheduling fails mid-run.
func (s *SyncService) SyncCatalog(ctx context.Context) error {
	held, err := s.lockRepo.Acquire(ctx, catalogSyncLockKey, s.holderID, s.cfg.CatalogLockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire catalog sync lock: %w", err)
	}
	if !held {
		logger.CtxInfo(ctx, "catalog sync already running elsewhere, skipping this cycle")
		return nil
	}
	defer func() {
		if err := s.lockRepo.Release(context.WithoutCancel(ctx), catalogSyncLockKey, s.holderID); err != nil {
			logger.CtxWarn(ctx, "failed to release catalog sync lock: %v", err)
		}
	}()

	seen := make(map[string]struct{})
	var projectIDs []string

	for offset := 0; ; offset += s.pageSize {
		causes, err := s.catalog.CausesWithProjects(ctx, s.pageSize, offset)
		if err != nil {
			return fmt.Errorf("failed to page catalog at offset %d: %w", offset, err)
		}
		if len(causes) == 0 {
			break
		}
		for _, cause := range causes {
			for _, project := range cause.Projects {
				if _, dup := seen[project.ID]; dup {
					continue
				}
				seen[project.ID] = struct{}{}
				if _, err := s.accountRepo.GetOrCreate(ctx, project.ID, project.XHandle, project.FarcasterHandle); err != nil {
					logger.CtxWarn(ctx, "failed to ensure tracked account for project %s: %v", project.ID, err)
					continue
				}
				projectIDs = append(projectIDs, project.ID)
			}
		}
	}

	created, err := s.distributor.ScheduleFetchWindow(ctx, projectIDs, domain.JobKindSocialFetch)
	if err != nil {
		return fmt.Errorf("failed to schedule fetch window: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldCount: len(created),
	}).Info(ctx, "catalog sync scheduled %d fetch jobs for %d tracked projects", len(created), len(projectIDs))
	return nil
}

// RunDueJobs claims due fetch jobs and executes them on a bounded worker
// pool. One job's failure never stops its siblings.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - int: number of jobs executed (successfully or not).
//   - error: non-nil only when claiming fails.
func (s *SyncService) RunDueJobs(ctx context.Context) (int, error) {
	jobs, err := s.jobRepo.ClaimDue(ctx, domain.JobKindSocialFetch, s.cfg.JobClaimBatch, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to claim due jobs: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	jobsChan := make(chan domain.FetchJob, len(jobs))
	for _, job := range jobs {
		jobsChan <- job
	}
	close(jobsChan)

	var wg sync.WaitGroup
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				if ctx.Err() != nil {
					return
				}
				s.runJob(ctx, job)
			}
		}()
	}
	wg.Wait()

	return len(jobs), nil
}

func (s *SyncService) runJob(ctx context.Context, job domain.FetchJob) {
	jobCtx := logger.SetJobID(ctx, job.ID)

	result, err := s.SyncProject(jobCtx, job.ProjectID)
	if err != nil {
		logger.CtxError(jobCtx, "fetch job failed (attempt %d): %v", job.Attempts, err)
		if markErr := s.jobRepo.MarkFailed(jobCtx, &job, err, s.cfg.JobMaxAttempts); markErr != nil {
			logger.CtxError(jobCtx, "failed to mark job failed: %v", markErr)
		}
		return
	}

	meta := domain.Metadata{"failed_platforms": result.FailedCount}
	for p, count := range result.Stored {
		meta["stored_"+string(p)] = count
	}
	if err := s.jobRepo.MarkCompleted(jobCtx, &job, meta); err != nil {
		logger.CtxError(jobCtx, "failed to mark job completed: %v", err)
	}
}
