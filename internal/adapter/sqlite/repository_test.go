package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"vidbot/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestEnsure_CreatesNeverRunRowOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Ensure(ctx, "VideoBot", "PostNewVideos"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	rec, err := repo.Get(ctx, "VideoBot", "PostNewVideos")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !rec.LastRunAt.Equal(domain.Epoch) {
		t.Errorf("LastRunAt = %v, want epoch", rec.LastRunAt)
	}

	// Second Ensure after a run must not reset the timestamp.
	ranAt := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.MarkRun(ctx, "VideoBot", "PostNewVideos", ranAt); err != nil {
		t.Fatal(err)
	}
	if err := repo.Ensure(ctx, "VideoBot", "PostNewVideos"); err != nil {
		t.Fatal(err)
	}
	rec, err = repo.Get(ctx, "VideoBot", "PostNewVideos")
	if err != nil {
		t.Fatal(err)
	}
	if !rec.LastRunAt.Equal(ranAt) {
		t.Errorf("LastRunAt = %v, want %v after re-Ensure", rec.LastRunAt, ranAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.Get(context.Background(), "Nobody", "Nothing")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want ErrJobNotFound", err)
	}
}

func TestMarkRun_UnknownKey(t *testing.T) {
	repo := newTestRepo(t)
	err := repo.MarkRun(context.Background(), "Nobody", "Nothing", time.Now())
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("MarkRun() error = %v, want ErrJobNotFound", err)
	}
}

func TestShouldPostAndRecord_FirstSeen(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	ok, err := repo.ShouldPostAndRecord(ctx, "sm100", 1, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("ShouldPostAndRecord() error = %v", err)
	}
	if !ok {
		t.Error("first-seen item must be postable")
	}

	item, err := repo.PostedItem(ctx, "sm100")
	if err != nil {
		t.Fatal(err)
	}
	if item == nil || item.PostCount != 1 {
		t.Errorf("item = %+v, want post_count 1", item)
	}
	if !item.LastPostAt.Equal(now) {
		t.Errorf("LastPostAt = %v, want %v", item.LastPostAt, now)
	}
}

func TestShouldPostAndRecord_SuppressedInsideWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	if _, err := repo.ShouldPostAndRecord(ctx, "sm100", 1, 30*24*time.Hour); err != nil {
		t.Fatal(err)
	}

	repo.now = func() time.Time { return now.Add(24 * time.Hour) }
	ok, err := repo.ShouldPostAndRecord(ctx, "sm100", 1, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("item at repeat ceiling inside expiry window must be suppressed")
	}

	// Suppression must not mutate the record.
	item, err := repo.PostedItem(ctx, "sm100")
	if err != nil {
		t.Fatal(err)
	}
	if item.PostCount != 1 || !item.LastPostAt.Equal(now) {
		t.Errorf("suppressed check mutated record: %+v", item)
	}
}

func TestShouldPostAndRecord_RepostableAfterExpiry(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	day := 24 * time.Hour
	first := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	repo.now = func() time.Time { return first }
	if _, err := repo.ShouldPostAndRecord(ctx, "sm100", 1, 30*day); err != nil {
		t.Fatal(err)
	}

	// 40 days later, expiry (30 days) has elapsed: postable again,
	// count increments and the cooldown clock resets.
	later := first.Add(40 * day)
	repo.now = func() time.Time { return later }
	ok, err := repo.ShouldPostAndRecord(ctx, "sm100", 1, 30*day)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("item past expiry must be postable again")
	}
	item, err := repo.PostedItem(ctx, "sm100")
	if err != nil {
		t.Fatal(err)
	}
	if item.PostCount != 2 {
		t.Errorf("PostCount = %d, want 2", item.PostCount)
	}
	if !item.LastPostAt.Equal(later) {
		t.Errorf("LastPostAt = %v, want %v", item.LastPostAt, later)
	}
}

func TestShouldPostAndRecord_UnderCeilingIncrementsCount(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	for i := 1; i <= 3; i++ {
		ok, err := repo.ShouldPostAndRecord(ctx, "sm200", 3, 30*24*time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatalf("post %d: suppressed below ceiling", i)
		}
	}
	ok, err := repo.ShouldPostAndRecord(ctx, "sm200", 3, 30*24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("post 4: must be suppressed at ceiling")
	}
}

func TestPostedItem_NeverPosted(t *testing.T) {
	repo := newTestRepo(t)
	item, err := repo.PostedItem(context.Background(), "sm999")
	if err != nil {
		t.Fatalf("PostedItem() error = %v", err)
	}
	if item != nil {
		t.Errorf("item = %+v, want nil", item)
	}
}
