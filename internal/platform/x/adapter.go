package x

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/causelab/causescore/internal/config"
	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/logger"
	"github.com/causelab/causescore/internal/platform"
	"github.com/go-resty/resty/v2"
)

// Config holds configuration for the X adapter.
type Config struct {
	BaseURL     string
	SessionDir  string
	Primary     config.XCredentials
	Secondary   config.XCredentials
	HTTPTimeout time.Duration

	Limits          platform.FetchLimits
	MinRequestDelay time.Duration
	MaxRequestDelay time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
}

// Adapter implements the platform.Adapter interface for X. Usernames resolve
// to stable numeric user IDs; pure retweets are filtered out, quote tweets
// and the pinned tweet are kept as long as they fall inside the date window.
//
// Authentication is a dual strategy: a saved session is tried first, then a
// fresh credential login that persists the new session. Two credential sets
// are supported, with a randomized primary and fallback to the alternate.
type Adapter struct {
	client      *resty.Client
	sessionDir  string
	credentials []config.XCredentials
	limits      platform.FetchLimits
	throttle    *platform.Throttle
	retry       platform.RetryPolicy
	cache       *platform.IdentityCache

	mu       sync.Mutex
	session  *Session
	pinnedBy map[string]string // user ID -> pinned tweet ID, filled at resolve time
}

const (
	identityCacheTTL        = 24 * time.Hour
	identityFailureCacheTTL = 30 * time.Minute
	timelinePageSize        = 100
)

// NewAdapter creates a new X adapter.
// Parameters:
//   - cfg: adapter configuration including both credential sets.
//
// Returns:
//   - *Adapter: initialized adapter; no network call is made yet.
func NewAdapter(cfg *Config) *Adapter {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.HTTPTimeout)

	// Randomized primary selection spreads login load across the two sets.
	credentials := []config.XCredentials{cfg.Primary, cfg.Secondary}
	if cfg.Secondary.Username != "" && rand.Intn(2) == 1 {
		credentials[0], credentials[1] = credentials[1], credentials[0]
	}

	return &Adapter{
		client:      client,
		sessionDir:  cfg.SessionDir,
		credentials: credentials,
		limits:      cfg.Limits,
		throttle:    platform.NewThrottle(cfg.MinRequestDelay, cfg.MaxRequestDelay),
		retry: platform.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBaseDelay,
		},
		cache:    platform.NewIdentityCache(identityCacheTTL, identityFailureCacheTTL),
		pinnedBy: make(map[string]string),
	}
}

// Platform returns the platform this adapter serves.
func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformX
}

type loginResponse struct {
	AuthToken string `json:"auth_token"`
	CSRFToken string `json:"csrf_token"`
	Error     string `json:"error,omitempty"`
}

type userLookupResponse struct {
	Data struct {
		ID            string `json:"id"`
		Username      string `json:"username"`
		PinnedTweetID string `json:"pinned_tweet_id,omitempty"`
	} `json:"data"`
	Errors []struct {
		Title string `json:"title"`
	} `json:"errors,omitempty"`
}

type timelineResponse struct {
	Data []tweetItem `json:"data"`
	Meta struct {
		NextToken string `json:"next_token,omitempty"`
	} `json:"meta"`
}

type tweetItem struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	CreatedAt        string `json:"created_at"` // RFC3339
	ReferencedTweets []struct {
		Type string `json:"type"` // retweeted, quoted, replied_to
		ID   string `json:"id"`
	} `json:"referenced_tweets,omitempty"`
}

func (t *tweetItem) isPureRetweet() bool {
	for _, ref := range t.ReferencedTweets {
		if ref.Type == "retweeted" {
			return true
		}
	}
	return false
}

// ensureSession returns a live session, trying in order: the in-memory
// session, a saved session from disk, then a fresh credential login for each
// credential set. A fresh login persists the new session for next time.
func (a *Adapter) ensureSession(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.session != nil {
		return a.session, nil
	}

	var lastErr error
	for _, creds := range a.credentials {
		if creds.Username == "" {
			continue
		}

		if saved, err := LoadSession(a.sessionDir, creds.Username); err == nil {
			if err := a.verifySession(ctx, saved); err == nil {
				a.session = saved
				return saved, nil
			}
			logger.CtxInfo(ctx, "saved X session for %s is stale, logging in fresh", creds.Username)
		}

		session, err := a.login(ctx, creds)
		if err != nil {
			lastErr = err
			logger.CtxWarn(ctx, "X login failed for %s, trying alternate credentials: %v", creds.Username, err)
			continue
		}
		if err := session.Save(a.sessionDir); err != nil {
			logger.CtxWarn(ctx, "failed to persist X session for %s: %v", creds.Username, err)
		}
		a.session = session
		return session, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no X credentials configured")
	}
	return nil, fmt.Errorf("all X login strategies failed: %w", lastErr)
}

func (a *Adapter) verifySession(ctx context.Context, s *Session) error {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.AuthToken).
		SetHeader("x-csrf-token", s.CSRFToken).
		Get("/2/users/me")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("session check returned HTTP %d", resp.StatusCode())
	}
	return nil
}

func (a *Adapter) login(ctx context.Context, creds config.XCredentials) (*Session, error) {
	var out loginResponse
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"username": creds.Username,
			"password": creds.Password,
			"email":    creds.Email,
		}).
		SetResult(&out).
		Post("/auth/login")
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	if resp.IsError() || out.AuthToken == "" {
		msg := out.Error
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d", resp.StatusCode())
		}
		return nil, fmt.Errorf("login rejected: %s", msg)
	}
	return &Session{
		Username:  creds.Username,
		AuthToken: out.AuthToken,
		CSRFToken: out.CSRFToken,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// invalidateSession drops the in-memory session so the next call re-runs the
// full auth strategy.
func (a *Adapter) invalidateSession() {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
}

func (a *Adapter) authedRequest(ctx context.Context, s *Session) *resty.Request {
	return a.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+s.AuthToken).
		SetHeader("x-csrf-token", s.CSRFToken)
}

// ResolveIdentity resolves an X username to its stable numeric user ID. The
// user's pinned tweet ID is captured alongside for the fetch-time pin rule.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - handle: username without any @ prefix.
//
// Returns:
//   - *platform.Identity: resolved identity with the user ID as ID.
//   - error: platform.ErrIdentityNotFound for dead or transferred handles.
func (a *Adapter) ResolveIdentity(ctx context.Context, handle string) (*platform.Identity, error) {
	if identity, cachedErr, ok := a.cache.Get(handle); ok {
		return identity, cachedErr
	}

	var identity *platform.Identity
	err := a.retry.Do(ctx, "x resolve", func() error {
		session, err := a.ensureSession(ctx)
		if err != nil {
			return err
		}
		if err := a.throttle.Wait(ctx); err != nil {
			return err
		}

		var out userLookupResponse
		resp, err := a.authedRequest(ctx, session).
			SetQueryParam("expansions", "pinned_tweet_id").
			SetResult(&out).
			Get("/2/users/by/username/" + handle)
		if err != nil {
			return fmt.Errorf("failed to resolve username %q: %w", handle, err)
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			a.invalidateSession()
			return fmt.Errorf("session expired mid-resolve")
		}
		if resp.StatusCode() == http.StatusNotFound || len(out.Errors) > 0 || out.Data.ID == "" {
			return platform.ErrIdentityNotFound
		}
		if resp.IsError() {
			return fmt.Errorf("username lookup returned HTTP %d: %s", resp.StatusCode(), resp.Body())
		}

		identity = &platform.Identity{ID: out.Data.ID, Handle: out.Data.Username}
		if out.Data.PinnedTweetID != "" {
			a.mu.Lock()
			a.pinnedBy[out.Data.ID] = out.Data.PinnedTweetID
			a.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		if err == platform.ErrIdentityNotFound {
			a.cache.PutFailure(handle, platform.ErrIdentityNotFound)
			return nil, err
		}
		return nil, fmt.Errorf("x identity resolution exhausted retries: %w", err)
	}

	a.cache.PutSuccess(handle, identity)
	return identity, nil
}

// FetchRecent fetches tweets for a user ID, newest first. Pure retweets are
// excluded; quote tweets are kept; the pinned tweet may break chronological
// order but still has to pass the date filter, so pinning cannot resurrect
// arbitrarily old content every cycle.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - identity: resolved identity (user ID in ID).
//   - since: incremental watermark; scanning stops strictly below it.
//
// Returns:
//   - []platform.Post: normalized tweets, newest first; empty on exhausted retries.
//   - error: non-nil only for cancellation.
func (a *Adapter) FetchRecent(ctx context.Context, identity *platform.Identity, since *time.Time) ([]platform.Post, error) {
	cutoff := platform.EffectiveCutoff(time.Now().UTC(), a.limits.MaxLookback, since)

	a.mu.Lock()
	pinnedID := a.pinnedBy[identity.ID]
	a.mu.Unlock()

	var posts []platform.Post
	nextToken := ""
	scanned := 0

scan:
	for scanned < a.limits.MaxScanPosts {
		var page timelineResponse
		err := a.retry.Do(ctx, "x timeline", func() error {
			session, err := a.ensureSession(ctx)
			if err != nil {
				return err
			}
			if err := a.throttle.Wait(ctx); err != nil {
				return err
			}

			req := a.authedRequest(ctx, session).
				SetQueryParam("max_results", fmt.Sprintf("%d", timelinePageSize)).
				SetQueryParam("tweet.fields", "created_at,referenced_tweets").
				SetQueryParam("exclude", "replies").
				SetResult(&page)
			if nextToken != "" {
				req.SetQueryParam("pagination_token", nextToken)
			}
			resp, err := req.Get("/2/users/" + identity.ID + "/tweets")
			if err != nil {
				return fmt.Errorf("failed to fetch timeline for user %s: %w", identity.ID, err)
			}
			if resp.StatusCode() == http.StatusUnauthorized {
				a.invalidateSession()
				return fmt.Errorf("session expired mid-fetch")
			}
			if resp.IsError() {
				return fmt.Errorf("timeline fetch returned HTTP %d: %s", resp.StatusCode(), resp.Body())
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.CtxWarn(ctx, "x fetch gave up after retries: user=%s err=%v", identity.ID, err)
			return posts, nil
		}

		if len(page.Data) == 0 {
			break
		}

		for _, tweet := range page.Data {
			scanned++
			postedAt, err := time.Parse(time.RFC3339, tweet.CreatedAt)
			if err != nil {
				logger.CtxWarn(ctx, "skipping tweet %s with malformed created_at %q", tweet.ID, tweet.CreatedAt)
				continue
			}
			postedAt = postedAt.UTC()

			if tweet.ID == pinnedID {
				// Pinned tweets float to the top out of order. They never end
				// the walk, and the date filter still applies.
				if !postedAt.Before(cutoff) && !tweet.isPureRetweet() {
					posts = append(posts, platform.Post{
						PlatformPostID: tweet.ID,
						Content:        tweet.Text,
						URL:            tweetURL(identity.Handle, tweet.ID),
						PostedAt:       postedAt,
					})
				}
				continue
			}

			if since != nil && postedAt.Before(*since) {
				break scan
			}
			if postedAt.Before(cutoff) {
				break scan
			}
			if tweet.isPureRetweet() {
				continue
			}

			posts = append(posts, platform.Post{
				PlatformPostID: tweet.ID,
				Content:        tweet.Text,
				URL:            tweetURL(identity.Handle, tweet.ID),
				PostedAt:       postedAt,
			})
			if scanned >= a.limits.MaxScanPosts {
				break scan
			}
		}

		if page.Meta.NextToken == "" {
			break
		}
		nextToken = page.Meta.NextToken
	}

	return posts, nil
}

func tweetURL(handle, id string) string {
	return fmt.Sprintf("https://x.com/%s/status/%s", handle, id)
}
