package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	UserKeyPrefix = "user:%d"
	// ReviewableCountVersionKey is bumped on every reviewable lifecycle event;
	// count keys embed it so a bump orphans every cached count at once.
	ReviewableCountVersionKey = "reviewables:count:version"
	ReviewableCountKeyPrefix  = "reviewables:count:v%d:user:%d"
)

const (
	UserTTL            = 5 * time.Minute
	ReviewableCountTTL = 30 * time.Second
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

// ReviewableCountKey returns the cache key of a user's pending count under
// the current version.
func ReviewableCountKey(ctx context.Context, userID uint) string {
	return fmt.Sprintf(ReviewableCountKeyPrefix, reviewableVersion(ctx), userID)
}

func reviewableVersion(ctx context.Context) int64 {
	if client == nil {
		return 0
	}
	v, err := client.Get(ctx, ReviewableCountVersionKey).Int64()
	if err != nil {
		return 0
	}
	return v
}

// BumpReviewableVersion invalidates every cached pending count.
func BumpReviewableVersion(ctx context.Context) {
	if client == nil {
		return
	}
	if err := client.Incr(ctx, ReviewableCountVersionKey).Err(); err != nil {
		slog.WarnContext(ctx, "failed to bump reviewable count version", "err", err)
	}
}

// Aside reads key into dest, or calls fetch to fill dest and stores the
// result for ttl. Without a client it only calls fetch.
func Aside(ctx context.Context, key string, dest any, ttl time.Duration, fetch func() error) error {
	if client == nil {
		return fetch()
	}

	raw, err := client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, dest); jsonErr == nil {
			return nil
		}
		Invalidate(ctx, key)
	case err != redis.Nil:
		slog.WarnContext(ctx, "cache read failed, falling back to source", "key", key, "err", err)
	}

	if err := fetch(); err != nil {
		return err
	}

	encoded, err := json.Marshal(dest)
	if err != nil {
		return nil
	}
	if err := client.Set(ctx, key, encoded, ttl).Err(); err != nil {
		slog.WarnContext(ctx, "cache write failed", "key", key, "err", err)
	}
	return nil
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, UserKey(userID))
}
