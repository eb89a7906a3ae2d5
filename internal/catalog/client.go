// Package catalog is the client for the external project-catalog GraphQL API.
// Only typed records leave this package; payloads are validated on ingress.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Project is the catalog's view of one project, trimmed to the fields the
// sync and scoring engines consume.
type Project struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	XHandle         string     `json:"xHandle"`
	FarcasterHandle string     `json:"farcasterHandle"`
	LastUpdatedAt   *time.Time `json:"lastUpdatedAt,omitempty"`
	GivPowerRank    int        `json:"givPowerRank,omitempty"`
}

// Cause is one cause with its member projects.
type Cause struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Projects    []Project `json:"projects"`
}

// ScoreUpdate is one (cause, project, score) triple reported back to the
// catalog after evaluation.
type ScoreUpdate struct {
	CauseID   string `json:"causeId"`
	ProjectID string `json:"projectId"`
	Score     int    `json:"score"`
}

// Config holds configuration for the catalog client.
type Config struct {
	Endpoint    string
	AuthToken   string
	HTTPTimeout time.Duration
}

// Client talks GraphQL to the catalog service.
type Client struct {
	client   *resty.Client
	endpoint string
}

// NewClient creates a new catalog client.
// Parameters:
//   - cfg: client configuration.
//
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	if cfg.AuthToken != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.AuthToken)
	}
	// Catalog calls carry a generous ceiling; paging a large catalog is slow
	// but must not hang forever.
	client.SetTimeout(cfg.HTTPTimeout)

	return &Client{
		client:   client,
		endpoint: cfg.Endpoint,
	}
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type gqlErrors struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

func (e *gqlErrors) err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("graphql error: %s", e.Errors[0].Message)
}

func (c *Client) post(ctx context.Context, req gqlRequest, result interface{}) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(result).
		Post(c.endpoint)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("catalog returned HTTP %d: %s", resp.StatusCode(), resp.Body())
	}
	return nil
}

const projectFields = `
		id
		title
		description
		xHandle
		farcasterHandle
		lastUpdatedAt
		givPowerRank`

// ProjectsByIDs fetches project facts for the given IDs.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ids: project IDs to fetch.
//
// Returns:
//   - []Project: matching projects; missing IDs are simply absent.
//   - error: non-nil if the request or the GraphQL layer fails.
func (c *Client) ProjectsByIDs(ctx context.Context, ids []string) ([]Project, error) {
	var out struct {
		gqlErrors
		Data struct {
			ProjectsByIds []Project `json:"projectsByIds"`
		} `json:"data"`
	}
	req := gqlRequest{
		Query: `query ProjectsByIds($ids: [ID!]!) {
	projectsByIds(ids: $ids) {` + projectFields + `
	}
}`,
		Variables: map[string]interface{}{"ids": ids},
	}
	if err := c.post(ctx, req, &out); err != nil {
		return nil, err
	}
	if err := out.err(); err != nil {
		return nil, err
	}
	return out.Data.ProjectsByIds, nil
}

// CausesWithProjects fetches one page of causes with their member projects.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - limit: page size.
//   - offset: page offset.
//
// Returns:
//   - []Cause: page of causes; empty when the catalog is exhausted.
//   - error: non-nil if the request or the GraphQL layer fails.
func (c *Client) CausesWithProjects(ctx context.Context, limit, offset int) ([]Cause, error) {
	var out struct {
		gqlErrors
		Data struct {
			Causes []Cause `json:"causes"`
		} `json:"data"`
	}
	req := gqlRequest{
		Query: `query CausesWithProjects($limit: Int!, $offset: Int!) {
	causes(limit: $limit, offset: $offset) {
		id
		title
		description
		projects {` + projectFields + `
		}
	}
}`,
		Variables: map[string]interface{}{"limit": limit, "offset": offset},
	}
	if err := c.post(ctx, req, &out); err != nil {
		return nil, err
	}
	if err := out.err(); err != nil {
		return nil, err
	}
	return out.Data.Causes, nil
}

// ReportScores pushes evaluated scores back to the catalog.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - updates: score triples to report.
//
// Returns:
//   - error: non-nil if the request fails or the catalog rejects the batch.
func (c *Client) ReportScores(ctx context.Context, updates []ScoreUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	var out struct {
		gqlErrors
		Data struct {
			UpdateCauseProjectScores struct {
				Success bool `json:"success"`
			} `json:"updateCauseProjectScores"`
		} `json:"data"`
	}
	req := gqlRequest{
		Query: `mutation ReportScores($updates: [CauseProjectScoreInput!]!) {
	updateCauseProjectScores(updates: $updates) {
		success
	}
}`,
		Variables: map[string]interface{}{"updates": updates},
	}
	if err := c.post(ctx, req, &out); err != nil {
		return err
	}
	if err := out.err(); err != nil {
		return err
	}
	if !out.Data.UpdateCauseProjectScores.Success {
		return fmt.Errorf("catalog rejected score updates")
	}
	return nil
}
