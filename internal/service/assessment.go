package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/logger"
	"github.com/causelab/causescore/internal/prompts"
	"github.com/go-resty/resty/v2"
)

// Assessment holds the qualitative sub-scores returned by the provider, each
// clamped to [0,100]. A zero-valued Assessment is the degraded fallback when
// the provider or the parse fails.
type Assessment struct {
	XContentQuality         int               `json:"x_content_quality"`
	FarcasterContentQuality int               `json:"farcaster_content_quality"`
	SocialRelevance         int               `json:"social_relevance"`
	ProjectRelevance        int               `json:"project_relevance"`
	EvidenceOfImpact        int               `json:"evidence_of_impact"`
	ProjectInfoQuality      int               `json:"project_info_quality"`
	Rationales              map[string]string `json:"rationales,omitempty"`
}

// ZeroAssessment returns the all-zero fallback assessment.
func ZeroAssessment() *Assessment {
	return &Assessment{}
}

// AssessmentConfig holds configuration for the assessment service.
type AssessmentConfig struct {
	Enabled     bool
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	HTTPTimeout time.Duration
}

// AssessmentService scores text quality, relevance, and impact evidence via a
// text-generation provider prompted with structured rubrics. Provider or
// parse failures degrade to the zero assessment; an evaluation must never
// fail solely because qualitative assessment failed.
type AssessmentService struct {
	client   *resty.Client
	model    string
	endpoint string
	enabled  bool

	temperature float64
	maxTokens   int
}

// NewAssessmentService creates a new assessment service.
// Parameters:
//   - cfg: assessment configuration; nil or disabled yields a service that
//     always returns the zero assessment.
//
// Returns:
//   - *AssessmentService: initialized service.
func NewAssessmentService(cfg *AssessmentConfig) *AssessmentService {
	if cfg == nil || !cfg.Enabled {
		return &AssessmentService{enabled: false}
	}

	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(cfg.HTTPTimeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &AssessmentService{
		client:      client,
		model:       cfg.Model,
		endpoint:    baseURL + "/chat/completions",
		enabled:     true,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// IsEnabled returns whether the provider is configured.
func (s *AssessmentService) IsEnabled() bool {
	return s.enabled
}

// OpenAI-compatible Chat Completion API request/response structures
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Assess scores one project within a cause from its facts and recent posts.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cause: cause facts for the relevance rubrics.
//   - project: project facts for the info-quality rubric.
//   - xPosts: recent stored X posts, newest first.
//   - fcPosts: recent stored Farcaster posts, newest first.
//
// Returns:
//   - *Assessment: provider scores, or the zero assessment on any failure.
func (s *AssessmentService) Assess(ctx context.Context, cause domain.CauseFacts, project domain.ProjectFacts, xPosts, fcPosts []domain.SocialPost) *Assessment {
	if !s.enabled {
		return ZeroAssessment()
	}

	userPrompt := fmt.Sprintf(prompts.AssessmentUserPromptTemplate,
		cause.Title, cause.Description,
		project.Title, project.Description,
		formatPosts(xPosts), formatPosts(fcPosts))

	req := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompts.AssessmentSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    s.temperature,
		MaxTokens:      s.maxTokens,
		ResponseFormat: &chatFormat{Type: "json_object"},
	}

	var resp chatResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(s.endpoint)
	if err != nil {
		logger.CtxWarn(ctx, "assessment call failed, degrading to zero scores: project=%s err=%v", project.ProjectID, err)
		return ZeroAssessment()
	}
	if httpResp.IsError() {
		msg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			msg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		}
		logger.CtxWarn(ctx, "assessment provider returned error, degrading to zero scores: project=%s %s", project.ProjectID, msg)
		return ZeroAssessment()
	}
	if len(resp.Choices) == 0 {
		logger.CtxWarn(ctx, "assessment response had no choices, degrading to zero scores: project=%s", project.ProjectID)
		return ZeroAssessment()
	}

	assessment, err := parseAssessment(resp.Choices[0].Message.Content)
	if err != nil {
		logger.CtxWarn(ctx, "assessment response unparseable, degrading to zero scores: project=%s err=%v", project.ProjectID, err)
		return ZeroAssessment()
	}
	return assessment
}

// parseAssessment parses the provider's JSON, tolerating markdown fences,
// and clamps every sub-score to [0,100].
func parseAssessment(raw string) (*Assessment, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
		cleaned = strings.TrimSpace(cleaned)
	}

	var a Assessment
	if err := json.Unmarshal([]byte(cleaned), &a); err != nil {
		return nil, fmt.Errorf("failed to parse assessment JSON: %w", err)
	}

	a.XContentQuality = clampScore(a.XContentQuality)
	a.FarcasterContentQuality = clampScore(a.FarcasterContentQuality)
	a.SocialRelevance = clampScore(a.SocialRelevance)
	a.ProjectRelevance = clampScore(a.ProjectRelevance)
	a.EvidenceOfImpact = clampScore(a.EvidenceOfImpact)
	a.ProjectInfoQuality = clampScore(a.ProjectInfoQuality)
	return &a, nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// formatPosts renders posts for the user prompt, newest first, trimming very
// long posts so a single verbose account cannot blow the token budget.
func formatPosts(posts []domain.SocialPost) string {
	if len(posts) == 0 {
		return prompts.NoPostsPlaceholder
	}
	var b strings.Builder
	for i, p := range posts {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, p.PostedAt.Format("2006-01-02"), truncateContent(p.Content, 500))
	}
	return b.String()
}

// truncateContent cuts content to at most max bytes without splitting a
// multi-byte rune.
func truncateContent(content string, max int) string {
	if len(content) <= max {
		return content
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "…"
}
