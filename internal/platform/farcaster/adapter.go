package farcaster

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/logger"
	"github.com/causelab/causescore/internal/platform"
	"github.com/go-resty/resty/v2"
)

// Config holds configuration for the Farcaster adapter.
type Config struct {
	BaseURL     string
	APIKey      string
	HTTPTimeout time.Duration

	Limits          platform.FetchLimits
	MinRequestDelay time.Duration
	MaxRequestDelay time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// Adapter implements the platform.Adapter interface for Farcaster. The public
// API needs no login; a handle (fname) resolves to a numeric fid which is the
// stable identity casts are fetched for.
type Adapter struct {
	client   *resty.Client
	limits   platform.FetchLimits
	throttle *platform.Throttle
	retry    platform.RetryPolicy
	cache    *platform.IdentityCache
}

const (
	identityCacheTTL        = 24 * time.Hour
	identityFailureCacheTTL = 30 * time.Minute
	castsPageSize           = 50
)

// NewAdapter creates a new Farcaster adapter.
// Parameters:
//   - cfg: adapter configuration.
//
// Returns:
//   - *Adapter: initialized adapter.
func NewAdapter(cfg *Config) *Adapter {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.HTTPTimeout)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Adapter{
		client:   client,
		limits:   cfg.Limits,
		throttle: platform.NewThrottle(cfg.MinRequestDelay, cfg.MaxRequestDelay),
		retry: platform.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
		},
		cache: platform.NewIdentityCache(identityCacheTTL, identityFailureCacheTTL),
	}
}

// Platform returns the platform this adapter serves.
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformFarcaster
}

type userByUsernameResponse struct {
	Result struct {
		User struct {
			FID      int64  `json:"fid"`
			Username string `json:"username"`
		} `json:"user"`
	} `json:"result"`
}

type castsResponse struct {
	Result struct {
		Casts []castItem `json:"casts"`
	} `json:"result"`
	Next struct {
		Cursor string `json:"cursor"`
	} `json:"next"`
}

type castItem struct {
	Hash      string `json:"hash"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Author    struct {
		FID      int64  `json:"fid"`
		Username string `json:"username"`
	} `json:"author"`
	// ParentAuthor and Recast mark reposted content: a recast without text is
	// pure reshare noise and is excluded.
	Recast bool `json:"recast"`
}

// ResolveIdentity resolves a Farcaster fname to its numeric fid.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - handle: fname without any @ prefix.
//
// Returns:
//   - *platform.Identity: resolved identity with the fid as ID.
//   - error: platform.ErrIdentityNotFound for unknown fnames.
func (a *Adapter) ResolveIdentity(ctx context.Context, handle string) (*platform.Identity, error) {
	if identity, cachedErr, ok := a.cache.Get(handle); ok {
		return identity, cachedErr
	}

	var identity *platform.Identity
	err := a.retry.Do(ctx, "farcaster resolve", func() error {
		if err := a.throttle.Wait(ctx); err != nil {
			return err
		}
		var out userByUsernameResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParam("username", handle).
			SetResult(&out).
			Get("/v2/user-by-username")
		if err != nil {
			return fmt.Errorf("failed to resolve fname %q: %w", handle, err)
		}
		if resp.StatusCode() == http.StatusNotFound {
			return platform.ErrIdentityNotFound
		}
		if resp.IsError() {
			return fmt.Errorf("fname lookup returned HTTP %d: %s", resp.StatusCode(), resp.Body())
		}
		if out.Result.User.FID == 0 {
			return platform.ErrIdentityNotFound
		}
		identity = &platform.Identity{
			ID:     fmt.Sprintf("%d", out.Result.User.FID),
			Handle: out.Result.User.Username,
		}
		return nil
	})
	if err != nil {
		// Only a confirmed not-found is cached; a transient provider failure
		// must not mislabel a live handle as dead for the failure TTL.
		if errors.Is(err, platform.ErrIdentityNotFound) {
			a.cache.PutFailure(handle, platform.ErrIdentityNotFound)
			return nil, platform.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("farcaster identity resolution exhausted retries: %w", err)
	}

	a.cache.PutSuccess(handle, identity)
	return identity, nil
}

// FetchRecent fetches casts for a fid, newest first, honoring the incremental
// stop rule and the recast noise filter.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - identity: resolved identity (fid in ID).
//   - since: incremental watermark; scanning stops strictly below it.
//
// Returns:
//   - []platform.Post: normalized casts, newest first; empty on exhausted retries.
//   - error: non-nil only for cancellation.
func (a *Adapter) FetchRecent(ctx context.Context, identity *platform.Identity, since *time.Time) ([]platform.Post, error) {
	cutoff := platform.EffectiveCutoff(time.Now().UTC(), a.limits.MaxLookback, since)

	var posts []platform.Post
	cursor := ""
	scanned := 0

scan:
	for scanned < a.limits.MaxScanPosts {
		var page castsResponse
		err := a.retry.Do(ctx, "farcaster casts", func() error {
			if err := a.throttle.Wait(ctx); err != nil {
				return err
			}
			req := a.client.R().
				SetContext(ctx).
				SetQueryParam("fid", identity.ID).
				SetQueryParam("limit", fmt.Sprintf("%d", castsPageSize)).
				SetResult(&page)
			if cursor != "" {
				req.SetQueryParam("cursor", cursor)
			}
			resp, err := req.Get("/v2/casts")
			if err != nil {
				return fmt.Errorf("failed to fetch casts for fid %s: %w", identity.ID, err)
			}
			if resp.IsError() {
				return fmt.Errorf("casts fetch returned HTTP %d: %s", resp.StatusCode(), resp.Body())
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Exhausted retries: one account's trouble must not abort the
			// sync batch. Return what we have (possibly nothing) and log.
			logger.CtxWarn(ctx, "farcaster fetch gave up after retries: fid=%s err=%v", identity.ID, err)
			return posts, nil
		}

		if len(page.Result.Casts) == 0 {
			break
		}

		for _, cast := range page.Result.Casts {
			scanned++
			postedAt := time.UnixMilli(cast.Timestamp).UTC()

			// Incremental stop rule: the timeline is newest-first, so the
			// first item strictly older than the watermark ends the walk.
			if since != nil && postedAt.Before(*since) {
				break scan
			}
			if postedAt.Before(cutoff) {
				break scan
			}
			// Pure recasts carry no commentary of the account's own.
			if cast.Recast && cast.Text == "" {
				continue
			}
			posts = append(posts, platform.Post{
				PlatformPostID: cast.Hash,
				Content:        cast.Text,
				URL:            castURL(identity.Handle, cast.Hash),
				PostedAt:       postedAt,
			})
			if scanned >= a.limits.MaxScanPosts {
				break scan
			}
		}

		if page.Next.Cursor == "" {
			break
		}
		cursor = page.Next.Cursor
	}

	return posts, nil
}

// castURL builds the public web URL for a cast. Cast URLs use the short hash
// prefix, not the full hash.
func castURL(handle, hash string) string {
	short := hash
	if len(short) > 10 {
		short = short[:10]
	}
	return fmt.Sprintf("https://farcaster.xyz/%s/%s", handle, short)
}
