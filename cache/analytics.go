// Package cache mirrors analytics snapshots to Redis so readers outside
// the owning process can see them.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/irsalhamdi/coursestream/config"
	"github.com/irsalhamdi/coursestream/stream/progress"
)

const DefaultTTL = 24 * time.Hour

// ErrNotCached is returned by Analytics when no snapshot is stored.
var ErrNotCached = errors.New("analytics not cached")

type Mirror struct {
	rdb *redis.Client
	ttl time.Duration
}

// Open connects to Redis and checks the connection.
func Open(ctx context.Context, cfg config.Redis) (*Mirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return New(rdb, cfg.TTL), nil
}

func New(rdb *redis.Client, ttl time.Duration) *Mirror {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mirror{rdb: rdb, ttl: ttl}
}

func Key(userID, courseID string) string {
	return "analytics:" + userID + ":" + courseID
}

// MirrorAnalytics overwrites the stored snapshot and refreshes its TTL.
func (m *Mirror) MirrorAnalytics(ctx context.Context, userID, courseID string, a progress.Analytics) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal analytics: %w", err)
	}

	if err := m.rdb.Set(ctx, Key(userID, courseID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("mirroring analytics: %w", err)
	}
	return nil
}

func (m *Mirror) Analytics(ctx context.Context, userID, courseID string) (progress.Analytics, error) {
	data, err := m.rdb.Get(ctx, Key(userID, courseID)).Bytes()
	if err == redis.Nil {
		return progress.Analytics{}, ErrNotCached
	}
	if err != nil {
		return progress.Analytics{}, fmt.Errorf("reading analytics: %w", err)
	}

	var a progress.Analytics
	if err := json.Unmarshal(data, &a); err != nil {
		return progress.Analytics{}, fmt.Errorf("failed to unmarshal analytics: %w", err)
	}
	return a, nil
}

func (m *Mirror) Close() error {
	return m.rdb.Close()
}
