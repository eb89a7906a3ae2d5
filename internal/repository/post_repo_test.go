package repository

import (
	"context"
	"testing"
	"time"

	"github.com/causelab/causescore/internal/domain"
)

func TestPostRepository_StoreIncremental(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("first write stores everything and sets watermark", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		posts := []domain.SocialPost{
			newTestPost("a", t0),
			newTestPost("b", t0.AddDate(0, 0, 1)),
			newTestPost("c", t0.AddDate(0, 0, 2)),
		}
		result, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, posts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.StoredCount != 3 {
			t.Errorf("StoredCount = %d, want 3", result.StoredCount)
		}
		if result.BoundaryHit {
			t.Error("expected no boundary on an empty store")
		}
		if result.Watermark == nil || !result.Watermark.Equal(t0.AddDate(0, 0, 2)) {
			t.Errorf("Watermark = %v, want %v", result.Watermark, t0.AddDate(0, 0, 2))
		}
	})

	t.Run("repeat write is idempotent", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		posts := []domain.SocialPost{
			newTestPost("a", t0),
			newTestPost("b", t0.AddDate(0, 0, 1)),
		}
		if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, posts); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		result, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, posts)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.StoredCount != 0 {
			t.Errorf("StoredCount = %d, want 0", result.StoredCount)
		}
		if !result.BoundaryHit {
			t.Error("expected boundary hit on repeat write")
		}

		var count int64
		db.Model(&domain.SocialPost{}).Count(&count)
		if count != 2 {
			t.Errorf("stored posts = %d, want 2", count)
		}
	})

	t.Run("overlapping batch stores only newer posts", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		first := []domain.SocialPost{
			newTestPost("a", t0),
			newTestPost("b", t0.AddDate(0, 0, 1)),
		}
		if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, first); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		second := []domain.SocialPost{
			newTestPost("b", t0.AddDate(0, 0, 1)),
			newTestPost("c", t0.AddDate(0, 0, 2)),
			newTestPost("d", t0.AddDate(0, 0, 3)),
		}
		result, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.StoredCount != 2 {
			t.Errorf("StoredCount = %d, want 2", result.StoredCount)
		}
		if !result.BoundaryHit {
			t.Error("expected boundary hit at the overlapping post")
		}
		if result.Watermark == nil || !result.Watermark.Equal(t0.AddDate(0, 0, 3)) {
			t.Errorf("Watermark = %v, want %v", result.Watermark, t0.AddDate(0, 0, 3))
		}
	})

	t.Run("timestamp collision with different native ID halts", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, []domain.SocialPost{
			newTestPost("a", t0),
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		result, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, []domain.SocialPost{
			newTestPost("z", t0), // same instant, different ID
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.StoredCount != 0 {
			t.Errorf("StoredCount = %d, want 0", result.StoredCount)
		}
		if !result.BoundaryHit {
			t.Error("expected boundary hit on timestamp collision")
		}
	})

	t.Run("same native ID on the other platform is stored", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, []domain.SocialPost{
			newTestPost("a", t0),
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		result, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformFarcaster, []domain.SocialPost{
			newTestPost("a", t0),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.StoredCount != 1 {
			t.Errorf("StoredCount = %d, want 1", result.StoredCount)
		}
	})

	t.Run("watermark never regresses", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, []domain.SocialPost{
			newTestPost("new", t0.AddDate(0, 0, 10)),
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// An older post alone must not move the watermark back.
		result, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, []domain.SocialPost{
			newTestPost("old", t0),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Watermark == nil || !result.Watermark.Equal(t0.AddDate(0, 0, 10)) {
			t.Errorf("Watermark = %v, want %v", result.Watermark, t0.AddDate(0, 0, 10))
		}
	})

	t.Run("empty batch returns current watermark", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		result, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.StoredCount != 0 || result.BoundaryHit {
			t.Errorf("unexpected result: %+v", result)
		}
		if result.Watermark != nil {
			t.Errorf("Watermark = %v, want nil", result.Watermark)
		}
	})
}

func TestPostRepository_CleanupOld(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewPostRepository(db)
	account := newTestAccount(t, db, "p1")
	now := time.Now().UTC()

	posts := []domain.SocialPost{
		newTestPost("ancient", now.AddDate(0, 0, -200)),
		newTestPost("old", now.AddDate(0, 0, -40)),
		newTestPost("mid", now.AddDate(0, 0, -10)),
		newTestPost("new", now.AddDate(0, 0, -1)),
	}
	if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, posts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 90-day retention drops "ancient"; maxCount 2 then drops "old".
	deleted, err := repo.CleanupOld(ctx, account.ID, domain.PlatformX, 90*24*time.Hour, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	remaining, err := repo.Recent(ctx, account.ID, domain.PlatformX, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("remaining = %d, want 2", len(remaining))
	}
	if remaining[0].PlatformPostID != "new" || remaining[1].PlatformPostID != "mid" {
		t.Errorf("unexpected survivors: %s, %s", remaining[0].PlatformPostID, remaining[1].PlatformPostID)
	}
}

func TestPostRepository_RepairWatermark(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("clears watermark with no posts behind it", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		account.SetWatermark(domain.PlatformX, &t0)
		if err := db.Save(account).Error; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		repaired, err := repo.RepairWatermark(ctx, account.ID, domain.PlatformX)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !repaired {
			t.Error("expected watermark to be repaired")
		}

		wm, err := repo.LatestWatermark(ctx, account.ID, domain.PlatformX)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if wm != nil {
			t.Errorf("Watermark = %v, want nil", wm)
		}
	})

	t.Run("keeps watermark backed by posts", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, []domain.SocialPost{
			newTestPost("a", t0),
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		repaired, err := repo.RepairWatermark(ctx, account.ID, domain.PlatformX)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repaired {
			t.Error("expected no repair for a healthy watermark")
		}
	})

	t.Run("nil watermark is a no-op", func(t *testing.T) {
		db := newTestDB(t)
		repo := NewPostRepository(db)
		account := newTestAccount(t, db, "p1")

		repaired, err := repo.RepairWatermark(ctx, account.ID, domain.PlatformX)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if repaired {
			t.Error("expected no repair for a nil watermark")
		}
	})
}

func TestPostRepository_CountSinceAndLatest(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewPostRepository(db)
	account := newTestAccount(t, db, "p1")
	t0 := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformX, []domain.SocialPost{
		newTestPost("a", t0),
		newTestPost("b", t0.AddDate(0, 0, 5)),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.StoreIncremental(ctx, account.ID, domain.PlatformFarcaster, []domain.SocialPost{
		newTestPost("c", t0.AddDate(0, 0, 9)),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	count, err := repo.CountSince(ctx, account.ID, t0.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 2 {
		t.Errorf("CountSince = %d, want 2", count)
	}

	latest, err := repo.LatestPostAt(ctx, account.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest == nil || !latest.Equal(t0.AddDate(0, 0, 9)) {
		t.Errorf("LatestPostAt = %v, want %v", latest, t0.AddDate(0, 0, 9))
	}
}
