package farcaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/causelab/causescore/internal/platform"
)

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewAdapter(&Config{
		BaseURL:     server.URL,
		HTTPTimeout: 5 * time.Second,
		Limits: platform.FetchLimits{
			MaxScanPosts: 200,
			MaxLookback:  90 * 24 * time.Hour,
		},
		// Keep the tests fast: no throttling, no backoff.
		MinRequestDelay: 0,
		MaxRequestDelay: 0,
		MaxRetries:      0,
		RetryBaseDelay:  time.Millisecond,
	})
}

func castJSON(hash, text string, postedAt time.Time, recast bool) map[string]interface{} {
	return map[string]interface{}{
		"hash":      hash,
		"text":      text,
		"timestamp": postedAt.UnixMilli(),
		"recast":    recast,
	}
}

func writeCastsPage(w http.ResponseWriter, casts []map[string]interface{}, cursor string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"result": map[string]interface{}{"casts": casts},
		"next":   map[string]interface{}{"cursor": cursor},
	})
}

func TestFarcasterAdapter_ResolveIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves fname to fid", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/v2/user-by-username" {
				http.NotFound(w, r)
				return
			}
			if got := r.URL.Query().Get("username"); got != "alice" {
				t.Errorf("username = %q, want alice", got)
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"result":{"user":{"fid":4256,"username":"alice"}}}`)
		}))

		identity, err := adapter.ResolveIdentity(ctx, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if identity.ID != "4256" {
			t.Errorf("ID = %s, want 4256", identity.ID)
		}
		if identity.Handle != "alice" {
			t.Errorf("Handle = %s, want alice", identity.Handle)
		}
	})

	t.Run("unknown fname is not found", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := adapter.ResolveIdentity(ctx, "ghost")
		if !errors.Is(err, platform.ErrIdentityNotFound) {
			t.Errorf("error = %v, want ErrIdentityNotFound", err)
		}
	})

	t.Run("zero fid is not found", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"result":{"user":{"fid":0,"username":""}}}`)
		}))

		_, err := adapter.ResolveIdentity(ctx, "ghost")
		if !errors.Is(err, platform.ErrIdentityNotFound) {
			t.Errorf("error = %v, want ErrIdentityNotFound", err)
		}
	})

	t.Run("transient failure is not cached as not-found", func(t *testing.T) {
		calls := 0
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls <= 2 {
				http.Error(w, "upstream down", http.StatusBadGateway)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"result":{"user":{"fid":4256,"username":"alice"}}}`)
		}))
		adapter.retry.MaxRetries = 1

		if _, err := adapter.ResolveIdentity(ctx, "alice"); err == nil {
			t.Fatal("expected an error while the provider is down")
		} else if errors.Is(err, platform.ErrIdentityNotFound) {
			t.Fatalf("transient failure reported as not-found: %v", err)
		}

		// The provider recovers; the next resolve must reach it.
		identity, err := adapter.ResolveIdentity(ctx, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if identity.ID != "4256" {
			t.Errorf("ID = %s, want 4256", identity.ID)
		}
		if calls != 3 {
			t.Errorf("provider calls = %d, want 3 (2 failures + 1 recovery)", calls)
		}
	})

	t.Run("not-found is terminal, not retried", func(t *testing.T) {
		calls := 0
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusNotFound)
		}))
		adapter.retry.MaxRetries = 3

		if _, err := adapter.ResolveIdentity(ctx, "ghost"); !errors.Is(err, platform.ErrIdentityNotFound) {
			t.Fatalf("error = %v, want ErrIdentityNotFound", err)
		}
		if calls != 1 {
			t.Errorf("provider calls = %d, want 1", calls)
		}
	})

	t.Run("successful resolution is cached", func(t *testing.T) {
		calls := 0
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"result":{"user":{"fid":4256,"username":"alice"}}}`)
		}))

		for i := 0; i < 3; i++ {
			if _, err := adapter.ResolveIdentity(ctx, "alice"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if calls != 1 {
			t.Errorf("upstream calls = %d, want 1", calls)
		}
	})
}

func TestFarcasterAdapter_FetchRecent(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	identity := &platform.Identity{ID: "4256", Handle: "alice"}

	t.Run("collects casts and filters pure recasts", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeCastsPage(w, []map[string]interface{}{
				castJSON("0xaaa", "shipping update", now.Add(-time.Hour), false),
				castJSON("0xbbb", "", now.Add(-2*time.Hour), true),                     // pure recast, dropped
				castJSON("0xccc", "quoting with comment", now.Add(-3*time.Hour), true), // recast with text, kept
			}, "")
		}))

		posts, err := adapter.FetchRecent(ctx, identity, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(posts) != 2 {
			t.Fatalf("posts = %d, want 2", len(posts))
		}
		if posts[0].PlatformPostID != "0xaaa" || posts[1].PlatformPostID != "0xccc" {
			t.Errorf("unexpected posts: %s, %s", posts[0].PlatformPostID, posts[1].PlatformPostID)
		}
	})

	t.Run("watermark stops the walk without paging further", func(t *testing.T) {
		pages := 0
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pages++
			writeCastsPage(w, []map[string]interface{}{
				castJSON("0xaaa", "new", now.Add(-time.Hour), false),
				castJSON("0xbbb", "already stored", now.Add(-48*time.Hour), false),
				castJSON("0xccc", "never reached", now.Add(-72*time.Hour), false),
			}, "cursor-2")
		}))

		since := now.Add(-24 * time.Hour)
		posts, err := adapter.FetchRecent(ctx, identity, &since)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(posts) != 1 {
			t.Fatalf("posts = %d, want 1", len(posts))
		}
		if posts[0].PlatformPostID != "0xaaa" {
			t.Errorf("post = %s, want 0xaaa", posts[0].PlatformPostID)
		}
		if pages != 1 {
			t.Errorf("pages fetched = %d, want 1", pages)
		}
	})

	t.Run("lookback cutoff applies without a watermark", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeCastsPage(w, []map[string]interface{}{
				castJSON("0xaaa", "recent", now.Add(-24*time.Hour), false),
				castJSON("0xbbb", "ancient", now.Add(-120*24*time.Hour), false),
			}, "")
		}))

		posts, err := adapter.FetchRecent(ctx, identity, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(posts) != 1 {
			t.Fatalf("posts = %d, want 1", len(posts))
		}
	})

	t.Run("follows the cursor across pages", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("cursor") == "" {
				writeCastsPage(w, []map[string]interface{}{
					castJSON("0xaaa", "page one", now.Add(-time.Hour), false),
				}, "cursor-2")
				return
			}
			writeCastsPage(w, []map[string]interface{}{
				castJSON("0xbbb", "page two", now.Add(-2*time.Hour), false),
			}, "")
		}))

		posts, err := adapter.FetchRecent(ctx, identity, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(posts) != 2 {
			t.Fatalf("posts = %d, want 2", len(posts))
		}
	})

	t.Run("scan limit bounds the walk", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			casts := make([]map[string]interface{}, 50)
			for i := range casts {
				casts[i] = castJSON(fmt.Sprintf("0x%03d", i), "post", now.Add(-time.Duration(i)*time.Minute), false)
			}
			writeCastsPage(w, casts, "more")
		}))
		t.Cleanup(server.Close)

		adapter := NewAdapter(&Config{
			BaseURL:     server.URL,
			HTTPTimeout: 5 * time.Second,
			Limits: platform.FetchLimits{
				MaxScanPosts: 10,
				MaxLookback:  90 * 24 * time.Hour,
			},
		})

		posts, err := adapter.FetchRecent(ctx, identity, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(posts) != 10 {
			t.Fatalf("posts = %d, want 10", len(posts))
		}
	})

	t.Run("exhausted retries yield empty, not error", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}))

		posts, err := adapter.FetchRecent(ctx, identity, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(posts) != 0 {
			t.Errorf("posts = %d, want 0", len(posts))
		}
	})

	t.Run("cast URLs use the short hash", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeCastsPage(w, []map[string]interface{}{
				castJSON("0x1234567890abcdef", "hello", now.Add(-time.Hour), false),
			}, "")
		}))

		posts, err := adapter.FetchRecent(ctx, identity, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want := "https://farcaster.xyz/alice/0x12345678"; posts[0].URL != want {
			t.Errorf("URL = %s, want %s", posts[0].URL, want)
		}
	})
}
