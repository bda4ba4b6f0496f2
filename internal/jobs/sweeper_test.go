package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sharegate/sharegate/internal/models"
	"github.com/sharegate/sharegate/internal/repository"
	"github.com/sharegate/sharegate/pkg/testutil"
)

func TestNewSweeper_RejectsBadSchedule(t *testing.T) {
	if _, err := NewSweeper("every tuesday"); err == nil {
		t.Fatal("expected an error for an unparseable schedule")
	}
}

func TestSweeper_RunOnceReportsEveryTask(t *testing.T) {
	var seen []time.Time
	s, err := NewSweeper("@every 1h",
		Task{Name: "ok", Run: func(_ context.Context, now time.Time) (int64, error) {
			seen = append(seen, now)
			return 3, nil
		}},
		Task{Name: "broken", Run: func(context.Context, time.Time) (int64, error) {
			return 0, errors.New("database is locked")
		}},
		Task{Name: "after-failure", Run: func(_ context.Context, now time.Time) (int64, error) {
			seen = append(seen, now)
			return 0, nil
		}},
	)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	results := s.RunOnce(context.Background())
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Removed != 3 || results[0].Error != "" {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	if results[1].Error != "database is locked" {
		t.Fatalf("expected the failure to be reported, got %+v", results[1])
	}
	if len(seen) != 2 || !seen[0].Equal(fixed) || !seen[1].Equal(fixed) {
		t.Fatalf("expected both healthy tasks to run with the sweep time, got %v", seen)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	s, err := NewSweeper("@every 1h")
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSweeper_ExpiresStaleMappings(t *testing.T) {
	db, _, cleanup := testutil.SetupTest(t)
	defer cleanup()

	mappings := repository.NewLinkMappingRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	for code, expires := range map[string]time.Time{
		"Stale001": now.Add(-time.Minute),
		"Fresh001": now.Add(time.Hour),
	} {
		if err := mappings.Create(ctx, &models.LinkMapping{
			ShortCode:        code,
			BlobPath:         "users/alice/" + code,
			OwnerID:          "alice",
			Status:           models.LinkStatusActive,
			OriginalFilename: code,
			MimeType:         "text/plain",
			CreatedAt:        now.Add(-2 * time.Hour),
			ExpiresAt:        expires,
		}); err != nil {
			t.Fatalf("create mapping %s: %v", code, err)
		}
	}

	s, err := NewSweeper("@every 1h", Task{Name: "expire_short_links", Run: mappings.ExpireStale})
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	results := s.RunOnce(ctx)
	if results[0].Removed != 1 || results[0].Error != "" {
		t.Fatalf("expected one expired mapping, got %+v", results[0])
	}

	stale, err := mappings.GetByCode(ctx, "Stale001")
	if err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	if stale.Status != models.LinkStatusExpired {
		t.Fatalf("expected stale mapping to be expired, got %q", stale.Status)
	}
	fresh, err := mappings.GetByCode(ctx, "Fresh001")
	if err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	if fresh.Status != models.LinkStatusActive {
		t.Fatalf("expected fresh mapping to stay active, got %q", fresh.Status)
	}
}
