package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/causelab/causescore/internal/catalog"
	"github.com/causelab/causescore/internal/domain"
	"github.com/causelab/causescore/internal/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// fakeCatalog is an httptest GraphQL server covering the queries the
// evaluator issues.
type fakeCatalog struct {
	server *httptest.Server

	mu       sync.Mutex
	reported []catalog.ScoreUpdate
}

func newFakeCatalog(t *testing.T, projects map[string]map[string]interface{}) *fakeCatalog {
	t.Helper()
	fc := &fakeCatalog{}

	fc.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Query     string                 `json:"query"`
			Variables map[string]interface{} `json:"variables"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(req.Query, "projectsByIds"):
			ids, _ := req.Variables["ids"].([]interface{})
			var out []map[string]interface{}
			for _, raw := range ids {
				id, _ := raw.(string)
				if id == "boom" {
					fmt.Fprint(w, `{"errors":[{"message":"catalog unavailable"}]}`)
					return
				}
				if p, ok := projects[id]; ok {
					out = append(out, p)
				}
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{"projectsByIds": out},
			})

		case strings.Contains(req.Query, "updateCauseProjectScores"):
			raw, _ := json.Marshal(req.Variables["updates"])
			var updates []catalog.ScoreUpdate
			json.Unmarshal(raw, &updates)
			fc.mu.Lock()
			fc.reported = append(fc.reported, updates...)
			fc.mu.Unlock()
			fmt.Fprint(w, `{"data":{"updateCauseProjectScores":{"success":true}}}`)

		default:
			http.Error(w, "unknown query", http.StatusBadRequest)
		}
	}))
	t.Cleanup(fc.server.Close)
	return fc
}

func (fc *fakeCatalog) reportedUpdates() []catalog.ScoreUpdate {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return append([]catalog.ScoreUpdate(nil), fc.reported...)
}

func newEvaluationFixture(t *testing.T, db *gorm.DB, fc *fakeCatalog) *EvaluationService {
	t.Helper()

	cfg := validScoringConfig()
	cfg.MaxConcurrentProjects = 3
	cfg.MaxConcurrentCauses = 2
	cfg.RecentPostsPerPlatform = 10

	engine, err := NewScoringEngine(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	client := catalog.NewClient(&catalog.Config{
		Endpoint:    fc.server.URL,
		HTTPTimeout: 5 * time.Second,
	})

	return NewEvaluationService(
		client,
		repository.NewAccountRepository(db),
		repository.NewPostRepository(db),
		NewAssessmentService(nil),
		engine,
		cfg,
	)
}

func catalogProject(id string, lastUpdated *time.Time) map[string]interface{} {
	p := map[string]interface{}{
		"id":          id,
		"title":       "Project " + id,
		"description": "about " + id,
	}
	if lastUpdated != nil {
		p["lastUpdatedAt"] = lastUpdated.Format(time.RFC3339)
	}
	return p
}

func TestEvaluationService_Evaluate(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	monthAgo := now.AddDate(0, 0, -30)

	t.Run("every requested project appears once, sorted by score", func(t *testing.T) {
		db := newServiceTestDB(t)
		fc := newFakeCatalog(t, map[string]map[string]interface{}{
			"p1": catalogProject("p1", &now),
			"p2": catalogProject("p2", &monthAgo),
			"p3": catalogProject("p3", nil),
			"p4": catalogProject("p4", nil),
			"p5": catalogProject("p5", nil),
		})
		svc := newEvaluationFixture(t, db, fc)

		// p3 has a tracked account but the posts table is gone, so its
		// evaluation fails while the others proceed.
		account := &domain.TrackedAccount{ID: uuid.New().String(), ProjectID: "p3", Metadata: domain.Metadata{}}
		if err := db.Create(account).Error; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := db.Migrator().DropTable(&domain.SocialPost{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		result, err := svc.Evaluate(ctx, &EvaluationRequest{
			CauseID:    "c1",
			CauseTitle: "Clean water",
			ProjectIDs: []string{"p1", "p2", "p3", "p4", "p5"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		svc.reportWG.Wait()

		if len(result.Scores) != 5 {
			t.Fatalf("scores = %d, want 5", len(result.Scores))
		}
		if result.FailedCount != 1 {
			t.Errorf("FailedCount = %d, want 1", result.FailedCount)
		}

		seen := make(map[string]domain.ProjectScore)
		for _, s := range result.Scores {
			if _, dup := seen[s.ProjectID]; dup {
				t.Errorf("project %s appears twice", s.ProjectID)
			}
			seen[s.ProjectID] = s
		}
		if seen["p3"].TotalScore != 0 {
			t.Errorf("failed project score = %d, want 0", seen["p3"].TotalScore)
		}

		// Fresh update beats month-old update beats no update.
		if result.Scores[0].ProjectID != "p1" {
			t.Errorf("top score = %s, want p1", result.Scores[0].ProjectID)
		}
		if result.Scores[1].ProjectID != "p2" {
			t.Errorf("second score = %s, want p2", result.Scores[1].ProjectID)
		}
		for i := 1; i < len(result.Scores); i++ {
			if result.Scores[i].TotalScore > result.Scores[i-1].TotalScore {
				t.Errorf("scores not sorted descending at index %d", i)
			}
		}

		// Best-effort report covers the full result set.
		updates := fc.reportedUpdates()
		if len(updates) != 5 {
			t.Errorf("reported updates = %d, want 5", len(updates))
		}
		for _, u := range updates {
			if u.CauseID != "c1" {
				t.Errorf("reported CauseID = %s, want c1", u.CauseID)
			}
		}
	})

	t.Run("stored posts raise the score and set HasStoredPosts", func(t *testing.T) {
		db := newServiceTestDB(t)
		fc := newFakeCatalog(t, map[string]map[string]interface{}{
			"p1": catalogProject("p1", nil),
		})
		svc := newEvaluationFixture(t, db, fc)

		account := &domain.TrackedAccount{ID: uuid.New().String(), ProjectID: "p1", Metadata: domain.Metadata{}}
		if err := db.Create(account).Error; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		posts := repository.NewPostRepository(db)
		if _, err := posts.StoreIncremental(ctx, account.ID, domain.PlatformX, []domain.SocialPost{
			{PlatformPostID: "a", Content: "update", PostedAt: now.Add(-time.Hour)},
			{PlatformPostID: "b", Content: "more", PostedAt: now.Add(-2 * time.Hour)},
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		result, err := svc.Evaluate(ctx, &EvaluationRequest{
			CauseID:    "c1",
			ProjectIDs: []string{"p1"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		svc.reportWG.Wait()

		score := result.Scores[0]
		if !score.HasStoredPosts {
			t.Error("expected HasStoredPosts to be true")
		}
		if score.Breakdown.SocialPostRecency == 0 {
			t.Error("expected non-zero post recency for an hour-old post")
		}
		if score.Breakdown.SocialPostFrequency != 50 {
			t.Errorf("SocialPostFrequency = %d, want 50 (2 of 4 posts)", score.Breakdown.SocialPostFrequency)
		}
		if score.TotalScore <= 0 {
			t.Errorf("TotalScore = %d, want > 0", score.TotalScore)
		}
	})

	t.Run("catalog failure fails the evaluation", func(t *testing.T) {
		db := newServiceTestDB(t)
		fc := newFakeCatalog(t, nil)
		svc := newEvaluationFixture(t, db, fc)

		_, err := svc.Evaluate(ctx, &EvaluationRequest{
			CauseID:    "c1",
			ProjectIDs: []string{"boom"},
		})
		if err == nil {
			t.Fatal("expected error when catalog facts are unavailable")
		}
	})
}

func TestEvaluationService_EvaluateMany(t *testing.T) {
	ctx := context.Background()
	db := newServiceTestDB(t)
	fc := newFakeCatalog(t, map[string]map[string]interface{}{
		"p1": catalogProject("p1", nil),
		"p2": catalogProject("p2", nil),
	})
	svc := newEvaluationFixture(t, db, fc)

	reqs := []*EvaluationRequest{
		{CauseID: "c1", ProjectIDs: []string{"p1"}},
		{CauseID: "c2", ProjectIDs: []string{"p2"}},
		{CauseID: "c3", ProjectIDs: []string{"boom"}}, // catalog failure
	}

	batch := svc.EvaluateMany(ctx, reqs)
	svc.reportWG.Wait()

	if batch.SucceededCount != 2 {
		t.Errorf("SucceededCount = %d, want 2", batch.SucceededCount)
	}
	if batch.FailedCount != 1 {
		t.Errorf("FailedCount = %d, want 1", batch.FailedCount)
	}
	if len(batch.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(batch.Results))
	}
	for _, result := range batch.Results {
		if len(result.Scores) != 1 {
			t.Errorf("cause %s scores = %d, want 1", result.CauseID, len(result.Scores))
		}
	}
}
