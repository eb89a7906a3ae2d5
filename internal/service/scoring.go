package service

import (
	"fmt"
	"math"
	"time"

	"github.com/causelab/causescore/internal/config"
	"github.com/causelab/causescore/internal/domain"
)

// ScoringEngine is the pure function from project facts, stored-post facts,
// and a qualitative assessment to a weighted 0-100 CauseScore with its
// component breakdown. It holds no I/O; callers gather the inputs.
type ScoringEngine struct {
	weights              config.ScoreWeights
	updateHalfLifeDays   float64
	postHalfLifeDays     float64
	frequencyWindow      time.Duration
	minPostsForFullScore int
}

// ScoreInputs gathers everything one scoring call consumes.
type ScoreInputs struct {
	Project domain.ProjectFacts
	Rank    domain.RankContext
	// NewestPostAt is the newest stored post timestamp across platforms,
	// nil when the project has no stored posts.
	NewestPostAt  *time.Time
	PostsInWindow int
	Assessment    *Assessment
}

// NewScoringEngine creates a scoring engine from validated configuration.
// Parameters:
//   - cfg: scoring configuration; the weight sum is re-checked here because a
//     bad weight set must never produce a number that looks authoritative.
//
// Returns:
//   - *ScoringEngine: initialized engine.
//   - error: non-nil when the weights do not sum to 1.0.
func NewScoringEngine(cfg *config.ScoringConfig) (*ScoringEngine, error) {
	if sum := cfg.Weights.Sum(); math.Abs(sum-1.0) > 1e-6 {
		return nil, fmt.Errorf("scoring weights must sum to 1.0, got %.6f", sum)
	}
	return &ScoringEngine{
		weights:              cfg.Weights,
		updateHalfLifeDays:   cfg.UpdateHalfLifeDays,
		postHalfLifeDays:     cfg.PostHalfLifeDays,
		frequencyWindow:      time.Duration(cfg.FrequencyWindowDays) * 24 * time.Hour,
		minPostsForFullScore: cfg.MinPostsForFullScore,
	}, nil
}

// FrequencyWindow returns the window the frequency component counts posts in.
func (e *ScoringEngine) FrequencyWindow() time.Duration {
	return e.frequencyWindow
}

// Score computes the total CauseScore and its breakdown at the given clock.
// Parameters:
//   - now: evaluation clock.
//   - in: gathered inputs; a nil Assessment is treated as the zero assessment.
//
// Returns:
//   - int: total score in [0,100].
//   - domain.ScoreBreakdown: the eight component scores, each in [0,100].
func (e *ScoringEngine) Score(now time.Time, in ScoreInputs) (int, domain.ScoreBreakdown) {
	assessment := in.Assessment
	if assessment == nil {
		assessment = ZeroAssessment()
	}

	breakdown := domain.ScoreBreakdown{
		ProjectUpdateRecency: decayScore(now, in.Project.LastUpdatedAt, e.updateHalfLifeDays),
		SocialPostRecency:    decayScore(now, in.NewestPostAt, e.postHalfLifeDays),
		SocialPostFrequency:  e.frequencyScore(in.PostsInWindow),
		GivPowerRank:         rankScore(in.Project.GivPowerRank, in.Rank.TotalProjects),
		SocialContentQuality: blend(assessment.XContentQuality, assessment.FarcasterContentQuality),
		RelevanceToCause:     blend(assessment.SocialRelevance, assessment.ProjectRelevance),
		EvidenceOfImpact:     clampScore(assessment.EvidenceOfImpact),
		ProjectInfoQuality:   clampScore(assessment.ProjectInfoQuality),
	}

	w := e.weights
	total := float64(breakdown.ProjectUpdateRecency)*w.ProjectUpdateRecency +
		float64(breakdown.SocialPostRecency)*w.SocialPostRecency +
		float64(breakdown.SocialPostFrequency)*w.SocialPostFrequency +
		float64(breakdown.GivPowerRank)*w.GivPowerRank +
		float64(breakdown.SocialContentQuality)*w.SocialContentQuality +
		float64(breakdown.RelevanceToCause)*w.RelevanceToCause +
		float64(breakdown.EvidenceOfImpact)*w.EvidenceOfImpact +
		float64(breakdown.ProjectInfoQuality)*w.ProjectInfoQuality

	return clampScore(int(math.Round(total))), breakdown
}

// decayScore is the exponential time-decay component:
// 100 * e^(-ln2/halfLifeDays * daysSince(event)), clamped to [0,100].
// A nil event yields 0.
func decayScore(now time.Time, event *time.Time, halfLifeDays float64) int {
	if event == nil {
		return 0
	}
	days := now.Sub(*event).Hours() / 24
	if days < 0 {
		days = 0
	}
	score := 100 * math.Exp(-math.Ln2/halfLifeDays*days)
	return clampScore(int(math.Round(score)))
}

// frequencyScore is linear in the post count up to the full-score threshold:
// 100 * min(1, postsInWindow / minPostsForFullScore).
func (e *ScoringEngine) frequencyScore(postsInWindow int) int {
	if postsInWindow <= 0 {
		return 0
	}
	ratio := float64(postsInWindow) / float64(e.minPostsForFullScore)
	if ratio > 1 {
		ratio = 1
	}
	return clampScore(int(math.Round(100 * ratio)))
}

// rankScore turns a project's standing in the full population into a
// percentile-derived score: rank 1 of N scores 100, rank N scores near 0.
// The component is disabled (0) when the population size is unavailable —
// a partial denominator would distort results, so it is never defaulted.
func rankScore(rank, total int) int {
	if total <= 0 || rank <= 0 || rank > total {
		return 0
	}
	score := 100 * (1 - float64(rank-1)/float64(total))
	return clampScore(int(math.Round(score)))
}

// blend averages two sub-scores 50/50.
func blend(a, b int) int {
	return clampScore(int(math.Round(float64(clampScore(a)+clampScore(b)) / 2)))
}
