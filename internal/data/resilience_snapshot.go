package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"

	"Wayfarer/internal/model"
)

// BreakerSnapshotRepo stores breaker snapshots in redis under
// resilience:breaker:{target} so operators can inspect them across restarts.
type BreakerSnapshotRepo struct {
	rdb    *redis.Client
	logger *log.Helper
}

// NewBreakerSnapshotRepo creates a new breaker snapshot repository.
func NewBreakerSnapshotRepo(rdb *redis.Client, logger log.Logger) *BreakerSnapshotRepo {
	return &BreakerSnapshotRepo{
		rdb:    rdb,
		logger: log.NewHelper(logger),
	}
}

// SaveSnapshots writes every snapshot in one pipeline.
func (r *BreakerSnapshotRepo) SaveSnapshots(ctx context.Context, snapshots []*model.BreakerSnapshot, ttl time.Duration) error {
	if r.rdb == nil {
		return ErrCacheUnavailable
	}
	if len(snapshots) == 0 {
		return nil
	}

	pipe := r.rdb.Pipeline()
	for _, s := range snapshots {
		payload, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot for %s: %w", s.Target, err)
		}
		pipe.Set(ctx, BuildCacheKey(CacheKeyBreakerSnapshot, s.Target), payload, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save breaker snapshots: %w", err)
	}

	r.logger.WithContext(ctx).Debugw("msg", "breaker snapshots saved", "count", len(snapshots), "type", "breaker")
	return nil
}

// ListSnapshots returns every stored snapshot ordered by target. Entries that
// expire between the scan and the read are skipped.
func (r *BreakerSnapshotRepo) ListSnapshots(ctx context.Context) ([]*model.BreakerSnapshot, error) {
	if r.rdb == nil {
		return nil, ErrCacheUnavailable
	}

	var keys []string
	iter := r.rdb.Scan(ctx, 0, CacheKeyBreakerSnapshot+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan breaker snapshots: %w", err)
	}
	if len(keys) == 0 {
		return []*model.BreakerSnapshot{}, nil
	}

	values, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read breaker snapshots: %w", err)
	}

	out := make([]*model.BreakerSnapshot, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var s model.BreakerSnapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			r.logger.WithContext(ctx).Warnw("msg", "skipping corrupt breaker snapshot", "key", keys[i], "error", err.Error(), "type", "breaker")
			continue
		}
		out = append(out, &s)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, nil
}
