package platform

import (
	"context"
	"errors"
	"time"

	"github.com/causelab/causescore/internal/domain"
)

// ErrIdentityNotFound is returned when a handle does not resolve to any
// identity on the platform: it never existed, or it has been released or
// transferred away. Terminal for the item, not retryable.
var ErrIdentityNotFound = errors.New("identity not found")

// Identity is a resolved, stable platform identity for a handle.
type Identity struct {
	ID     string // platform-native numeric identifier, string-encoded
	Handle string
}

// Post is a platform-agnostic normalized post record. Adapters only emit
// posts that already passed the platform's noise filtering and date window.
type Post struct {
	PlatformPostID string
	Content        string
	URL            string
	PostedAt       time.Time
}

// Adapter is the per-platform client contract.
//
// FetchRecent walks the provider's timeline newest-first, bounded by the
// adapter's scan-count and lookback limits. When since is non-nil, scanning
// stops at the first item strictly older than it, so steady-state polling
// costs "new activity only". Pinned items may break chronological order but
// must still satisfy the date filter.
type Adapter interface {
	// Platform returns the platform this adapter serves.
	Platform() domain.Platform

	// ResolveIdentity resolves a human handle to a stable identity.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - handle: platform handle, without any @ prefix.
	// Returns:
	//   - *Identity: resolved identity.
	//   - error: ErrIdentityNotFound for dead handles, other errors on failure.
	ResolveIdentity(ctx context.Context, handle string) (*Identity, error)

	// FetchRecent fetches recent posts for an identity, newest first.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - identity: resolved identity to fetch for.
	//   - since: incremental watermark; nil fetches the full lookback window.
	// Returns:
	//   - []Post: normalized posts, newest first; empty on exhausted retries.
	//   - error: non-nil only for non-retryable failures.
	FetchRecent(ctx context.Context, identity *Identity, since *time.Time) ([]Post, error)
}

// FetchLimits bounds a single timeline walk.
type FetchLimits struct {
	MaxScanPosts int           // safety valve against huge histories
	MaxLookback  time.Duration // maximum post age considered
}

// EffectiveCutoff combines the lookback cutoff with the incremental
// watermark: items at or after the later of the two are collected.
// Parameters:
//   - now: clock reading for the lookback calculation.
//   - lookback: maximum post age.
//   - since: incremental watermark, may be nil.
//
// Returns:
//   - time.Time: the effective collection cutoff.
func EffectiveCutoff(now time.Time, lookback time.Duration, since *time.Time) time.Time {
	cutoff := now.Add(-lookback)
	if since != nil && since.After(cutoff) {
		return *since
	}
	return cutoff
}
