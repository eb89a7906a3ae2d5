package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/causelab/causescore/internal/catalog"
	"github.com/causelab/causescore/internal/config"
	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/logger"
	"github.com/causelab/causescore/internal/repository"
	"golang.org/x/sync/semaphore"
)

// reportTimeout bounds the detached best-effort score report to the catalog.
const reportTimeout = 30 * time.Second

// EvaluationService scores the projects of a cause. It gathers catalog facts
// and stored posts, runs the qualitative assessment, and combines everything
// through the scoring engine. Evaluation never writes to the post store.
type EvaluationService struct {
	catalog     *catalog.Client
	accountRepo *repository.AccountRepository
	postRepo    *repository.PostRepository
	assessment  *AssessmentService
	engine      *ScoringEngine

	maxProjects    int64
	maxCauses      int64
	postsPerSocial int

	// reportWG lets tests wait for the detached score report to finish.
	reportWG sync.WaitGroup
}

// NewEvaluationService creates a new EvaluationService.
// Parameters:
//   - catalogClient: project-catalog client.
//   - accountRepo, postRepo: read access to tracked accounts and stored posts.
//   - assessment: qualitative assessment service.
//   - engine: scoring engine.
//   - cfg: scoring configuration.
//
// Returns:
//   - *EvaluationService: initialized service.
func NewEvaluationService(
	catalogClient *catalog.Client,
	accountRepo *repository.AccountRepository,
	postRepo *repository.PostRepository,
	assessment *AssessmentService,
	engine *ScoringEngine,
	cfg *config.ScoringConfig,
) *EvaluationService {
	maxProjects := cfg.MaxConcurrentProjects
	if maxProjects <= 0 {
		maxProjects = 1
	}
	maxCauses := cfg.MaxConcurrentCauses
	if maxCauses <= 0 {
		maxCauses = 1
	}
	return &EvaluationService{
		catalog:        catalogClient,
		accountRepo:    accountRepo,
		postRepo:       postRepo,
		assessment:     assessment,
		engine:         engine,
		maxProjects:    int64(maxProjects),
		maxCauses:      int64(maxCauses),
		postsPerSocial: cfg.RecentPostsPerPlatform,
	}
}

// EvaluationRequest names one cause and the projects to score within it.
type EvaluationRequest struct {
	CauseID          string   `json:"cause_id" binding:"required"`
	CauseTitle       string   `json:"cause_title"`
	CauseDescription string   `json:"cause_description"`
	ProjectIDs       []string `json:"project_ids" binding:"required,min=1"`
	// TotalProjects is the population size for rank normalization. Zero
	// disables the rank component rather than guessing a denominator.
	TotalProjects int `json:"total_projects"`
}

// EvaluationResult is one cause evaluation: every requested project appears
// exactly once, sorted by total score descending.
type EvaluationResult struct {
	CauseID     string                `json:"cause_id"`
	Scores      []domain.ProjectScore `json:"scores"`
	FailedCount int                   `json:"failed_count"`
	EvaluatedAt time.Time             `json:"evaluated_at"`
}

// BatchResult aggregates several cause evaluations.
type BatchResult struct {
	Results        []*EvaluationResult `json:"results"`
	SucceededCount int                 `json:"succeeded_count"`
	FailedCount    int                 `json:"failed_count"`
}

// Evaluate scores every project in the request. Projects are evaluated
// concurrently under a bounded semaphore; a project whose evaluation fails
// gets a zero-score placeholder so the result always covers the full request.
// Scores are reported back to the catalog best-effort in the background.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - req: cause and project IDs to evaluate.
//
// Returns:
//   - *EvaluationResult: per-project scores sorted descending.
//   - error: non-nil only when catalog facts cannot be fetched at all.
func (s *EvaluationService) Evaluate(ctx context.Context, req *EvaluationRequest) (*EvaluationResult, error) {
	ctx = logger.SetCauseID(ctx, req.CauseID)
	now := time.Now().UTC()

	projects, err := s.catalog.ProjectsByIDs(ctx, req.ProjectIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch project facts for cause %s: %w", req.CauseID, err)
	}
	factsByID := make(map[string]catalog.Project, len(projects))
	for _, p := range projects {
		factsByID[p.ID] = p
	}

	cause := domain.CauseFacts{
		CauseID:     req.CauseID,
		Title:       req.CauseTitle,
		Description: req.CauseDescription,
	}
	rank := domain.RankContext{TotalProjects: req.TotalProjects}

	scores := make([]domain.ProjectScore, len(req.ProjectIDs))
	failed := make([]bool, len(req.ProjectIDs))

	sem := semaphore.NewWeighted(s.maxProjects)
	var wg sync.WaitGroup
	for i, projectID := range req.ProjectIDs {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone: the remaining slots become placeholders below.
			break
		}
		wg.Add(1)
		go func(i int, projectID string) {
			defer wg.Done()
			defer sem.Release(1)

			projCtx := logger.SetProjectID(ctx, projectID)
			score, err := s.evaluateProject(projCtx, now, cause, rank, projectID, factsByID)
			if err != nil {
				logger.CtxError(projCtx, "project evaluation failed, scoring zero: %v", err)
				failed[i] = true
				score = zeroProjectScore(projectID, now)
			}
			scores[i] = *score
		}(i, projectID)
	}
	wg.Wait()

	result := &EvaluationResult{
		CauseID:     req.CauseID,
		EvaluatedAt: now,
		Scores:      make([]domain.ProjectScore, 0, len(req.ProjectIDs)),
	}
	for i := range scores {
		if scores[i].ProjectID == "" {
			// Never entered a worker (context cancelled mid-dispatch).
			scores[i] = *zeroProjectScore(req.ProjectIDs[i], now)
			failed[i] = true
		}
		if failed[i] {
			result.FailedCount++
		}
		result.Scores = append(result.Scores, scores[i])
	}
	sort.SliceStable(result.Scores, func(a, b int) bool {
		return result.Scores[a].TotalScore > result.Scores[b].TotalScore
	})

	s.reportScores(ctx, result)

	logger.With(logger.Fields{
		logger.FieldCauseID: req.CauseID,
		logger.FieldCount:   len(result.Scores),
	}).Info(ctx, "evaluated cause: %d projects, %d failed", len(result.Scores), result.FailedCount)
	return result, nil
}

// EvaluateMany evaluates several causes concurrently under a bounded
// semaphore. One cause failing does not stop the others.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - reqs: cause requests.
//
// Returns:
//   - *BatchResult: results for causes that evaluated, plus failure counts.
func (s *EvaluationService) EvaluateMany(ctx context.Context, reqs []*EvaluationRequest) *BatchResult {
	results := make([]*EvaluationResult, len(reqs))

	sem := semaphore.NewWeighted(s.maxCauses)
	var wg sync.WaitGroup
	for i, req := range reqs {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(i int, req *EvaluationRequest) {
			defer wg.Done()
			defer sem.Release(1)

			result, err := s.Evaluate(ctx, req)
			if err != nil {
				logger.With(logger.Fields{
					logger.FieldCauseID: req.CauseID,
				}).Error(ctx, "cause evaluation failed: %v", err)
				return
			}
			results[i] = result
		}(i, req)
	}
	wg.Wait()

	batch := &BatchResult{}
	for _, result := range results {
		if result == nil {
			batch.FailedCount++
			continue
		}
		batch.SucceededCount++
		batch.Results = append(batch.Results, result)
	}
	return batch
}

// evaluateProject gathers everything one project's score needs and runs the
// engine. Missing catalog facts or a missing tracked account degrade the
// affected components to zero instead of failing the project.
func (s *EvaluationService) evaluateProject(
	ctx context.Context,
	now time.Time,
	cause domain.CauseFacts,
	rank domain.RankContext,
	projectID string,
	factsByID map[string]catalog.Project,
) (*domain.ProjectScore, error) {
	facts := domain.ProjectFacts{ProjectID: projectID}
	if p, ok := factsByID[projectID]; ok {
		facts.Title = p.Title
		facts.Description = p.Description
		facts.LastUpdatedAt = p.LastUpdatedAt
		facts.GivPowerRank = p.GivPowerRank
	} else {
		logger.CtxWarn(ctx, "project %s absent from catalog response, scoring on stored data only", projectID)
	}

	inputs := ScoreInputs{
		Project: facts,
		Rank:    rank,
	}
	hasPosts := false
	assessment := ZeroAssessment()

	account, err := s.accountRepo.GetByProjectID(ctx, projectID)
	if err == nil {
		newest, err := s.postRepo.LatestPostAt(ctx, account.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to read newest post: %w", err)
		}
		inputs.NewestPostAt = newest
		hasPosts = newest != nil

		count, err := s.postRepo.CountSince(ctx, account.ID, now.Add(-s.engine.FrequencyWindow()))
		if err != nil {
			return nil, fmt.Errorf("failed to count posts in window: %w", err)
		}
		inputs.PostsInWindow = int(count)

		if s.assessment != nil && s.assessment.IsEnabled() {
			xPosts, err := s.postRepo.Recent(ctx, account.ID, domain.PlatformX, s.postsPerSocial)
			if err != nil {
				return nil, fmt.Errorf("failed to read recent posts: %w", err)
			}
			fcPosts, err := s.postRepo.Recent(ctx, account.ID, domain.PlatformFarcaster, s.postsPerSocial)
			if err != nil {
				return nil, fmt.Errorf("failed to read recent posts: %w", err)
			}
			assessment = s.assessment.Assess(ctx, cause, facts, xPosts, fcPosts)
		}
	}
	inputs.Assessment = assessment

	total, breakdown := s.engine.Score(now, inputs)
	return &domain.ProjectScore{
		ProjectID:      projectID,
		TotalScore:     total,
		Breakdown:      breakdown,
		HasStoredPosts: hasPosts,
		EvaluatedAt:    now,
	}, nil
}

// reportScores pushes the scores back to the catalog in the background. The
// report is best-effort: failure is logged and never surfaces to the caller.
func (s *EvaluationService) reportScores(ctx context.Context, result *EvaluationResult) {
	updates := make([]catalog.ScoreUpdate, 0, len(result.Scores))
	for _, score := range result.Scores {
		updates = append(updates, catalog.ScoreUpdate{
			CauseID:   result.CauseID,
			ProjectID: score.ProjectID,
			Score:     score.TotalScore,
		})
	}

	detached := context.WithoutCancel(ctx)
	s.reportWG.Add(1)
	go func() {
		defer s.reportWG.Done()
		reportCtx, cancel := context.WithTimeout(detached, reportTimeout)
		defer cancel()
		if err := s.catalog.ReportScores(reportCtx, updates); err != nil {
			logger.With(logger.Fields{
				logger.FieldCauseID: result.CauseID,
			}).Warn(reportCtx, "best-effort score report failed: %v", err)
		}
	}()
}

func zeroProjectScore(projectID string, now time.Time) *domain.ProjectScore {
	return &domain.ProjectScore{
		ProjectID:   projectID,
		TotalScore:  0,
		EvaluatedAt: now,
	}
}
