package domain

import "time"

// ProjectFacts holds the catalog-sourced facts about one project that the
// scoring engine consumes.
type ProjectFacts struct {
	ProjectID     string     `json:"project_id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	LastUpdatedAt *time.Time `json:"last_updated_at,omitempty"`
	GivPowerRank  int        `json:"giv_power_rank,omitempty"`
}

// CauseFacts describes the cause a project is evaluated within.
type CauseFacts struct {
	CauseID     string `json:"cause_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// RankContext supplies the population denominator for rank normalization.
// TotalProjects == 0 means the denominator is unavailable and the rank
// component must be disabled, not defaulted.
type RankContext struct {
	TotalProjects int `json:"total_projects"`
}

// ScoreBreakdown carries the eight named component scores, each in [0,100].
type ScoreBreakdown struct {
	ProjectUpdateRecency int `json:"project_update_recency"`
	SocialPostRecency    int `json:"social_post_recency"`
	SocialPostFrequency  int `json:"social_post_frequency"`
	GivPowerRank         int `json:"giv_power_rank"`
	SocialContentQuality int `json:"social_content_quality"`
	RelevanceToCause     int `json:"relevance_to_cause"`
	EvidenceOfImpact     int `json:"evidence_of_impact"`
	ProjectInfoQuality   int `json:"project_info_quality"`
}

// ProjectScore is one evaluation result for a project within a cause.
type ProjectScore struct {
	ProjectID      string         `json:"project_id"`
	TotalScore     int            `json:"total_score"`
	Breakdown      ScoreBreakdown `json:"breakdown"`
	HasStoredPosts bool           `json:"has_stored_posts"`
	EvaluatedAt    time.Time      `json:"evaluated_at"`
}
