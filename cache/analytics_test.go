package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ory/dockertest/v3"
	"github.com/redis/go-redis/v9"

	"github.com/irsalhamdi/coursestream/config"
	"github.com/irsalhamdi/coursestream/stream/progress"
)

func startRedis(t *testing.T) config.Redis {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker unavailable: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker unavailable: %v", err)
	}

	res, err := pool.Run("redis", "7-alpine", nil)
	if err != nil {
		t.Fatalf("starting redis: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Purge(res); err != nil {
			t.Logf("purging redis: %v", err)
		}
	})

	cfg := config.Redis{
		Address: fmt.Sprintf("localhost:%s", res.GetPort("6379/tcp")),
		TTL:     time.Minute,
	}

	pool.MaxWait = 30 * time.Second
	if err := pool.Retry(func() error {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Address})
		defer rdb.Close()
		return rdb.Ping(context.Background()).Err()
	}); err != nil {
		t.Fatalf("waiting for redis: %v", err)
	}

	return cfg
}

func TestKey(t *testing.T) {
	if got := Key("u1", "c1"); got != "analytics:u1:c1" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestMirror(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	m, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("opening mirror: %v", err)
	}
	defer m.Close()

	if _, err := m.Analytics(ctx, "u1", "c1"); !errors.Is(err, ErrNotCached) {
		t.Fatalf("expected ErrNotCached, got %v", err)
	}

	exp := progress.Analytics{
		TotalWatchTime:   600,
		AverageWatchTime: 300,
		InteractionCount: 4,
		BookmarkCount:    1,
		QuizAttempts:     2,
		QuizSuccessRate:  50,
		EngagementScore:  19,
		LearningVelocity: 1.5,
		ConsistencyScore: 100,
	}
	if err := m.MirrorAnalytics(ctx, "u1", "c1", exp); err != nil {
		t.Fatalf("mirroring: %v", err)
	}

	got, err := m.Analytics(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatalf("analytics mismatch (-want +got):\n%s", diff)
	}

	ttl, err := m.rdb.TTL(ctx, Key("u1", "c1")).Result()
	if err != nil {
		t.Fatalf("reading ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

func TestManagerMirrorsOnFlush(t *testing.T) {
	cfg := startRedis(t)
	ctx := context.Background()

	m, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("opening mirror: %v", err)
	}
	defer m.Close()

	mgr := progress.New(progress.Config{
		UserID:   "u2",
		CourseID: "c9",
		Store:    emptyStore{},
		Mirror:   m,
	})
	if err := mgr.Initialize(ctx); err != nil {
		t.Fatalf("initializing: %v", err)
	}
	defer mgr.Destroy()

	if err := mgr.TrackInteraction(progress.InteractionSample{Kind: progress.InteractionNote}); err != nil {
		t.Fatalf("tracking: %v", err)
	}
	if err := mgr.ForceSync(ctx); err != nil {
		t.Fatalf("syncing: %v", err)
	}

	got, err := m.Analytics(ctx, "u2", "c9")
	if err != nil {
		t.Fatalf("reading mirror: %v", err)
	}
	if got.NoteCount != 1 || got.InteractionCount != 1 {
		t.Fatalf("unexpected mirrored analytics %+v", got)
	}
}

type emptyStore struct{}

func (emptyStore) FetchProgress(context.Context, string, string) (progress.Record, error) {
	return progress.Record{}, progress.ErrRecordNotFound
}

func (emptyStore) UpdateCompletionRate(context.Context, string, string, float64, *time.Time) error {
	return nil
}

func (emptyStore) UpdateCurrentSection(context.Context, string, string, int) error { return nil }

func (emptyStore) AddStudyMinutes(context.Context, string, string, int) error { return nil }

func (emptyStore) AddTestScore(context.Context, string, string, progress.TestScore) error {
	return nil
}
