package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "wallet:v1:"

// CachedRepository is a read-through Redis cache in front of another
// repository. Writes go to the inner repository first and then drop the cached
// entry. Redis failures degrade to the inner repository.
type CachedRepository struct {
	inner  Repository
	redis  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedRepository wraps inner with a cache whose entries live for ttl.
func NewCachedRepository(inner Repository, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedRepository {
	return &CachedRepository{inner: inner, redis: client, ttl: ttl, logger: logger}
}

func cacheKey(identity string) string {
	return fmt.Sprintf("%s%s", cacheKeyPrefix, identity)
}

func (r *CachedRepository) Get(ctx context.Context, identity string) (Record, error) {
	key := cacheKey(identity)
	raw, err := r.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var rec Record
		if jsonErr := json.Unmarshal(raw, &rec); jsonErr == nil {
			return rec, nil
		}
		r.logger.Warn("discarding corrupt wallet cache entry", slog.String("identity", identity))
	case !errors.Is(err, redis.Nil):
		r.logger.Warn("wallet cache read failed", slog.String("identity", identity), slog.Any("error", err))
	}

	rec, err := r.inner.Get(ctx, identity)
	if err != nil {
		return Record{}, err
	}
	if data, err := json.Marshal(rec); err == nil {
		if err := r.redis.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.logger.Warn("wallet cache write failed", slog.String("identity", identity), slog.Any("error", err))
		}
	}
	return rec, nil
}

func (r *CachedRepository) Create(ctx context.Context, rec Record) error {
	if err := r.inner.Create(ctx, rec); err != nil {
		return err
	}
	r.invalidate(ctx, rec.Identity)
	return nil
}

func (r *CachedRepository) SetDeployed(ctx context.Context, identity string, deployed bool) error {
	if err := r.inner.SetDeployed(ctx, identity, deployed); err != nil {
		return err
	}
	r.invalidate(ctx, identity)
	return nil
}

func (r *CachedRepository) Delete(ctx context.Context, identity string) (bool, error) {
	removed, err := r.inner.Delete(ctx, identity)
	if err != nil {
		return false, err
	}
	r.invalidate(ctx, identity)
	return removed, nil
}

func (r *CachedRepository) List(ctx context.Context) ([]string, error) {
	return r.inner.List(ctx)
}

func (r *CachedRepository) invalidate(ctx context.Context, identity string) {
	if err := r.redis.Del(ctx, cacheKey(identity)).Err(); err != nil {
		r.logger.Warn("wallet cache invalidation failed", slog.String("identity", identity), slog.Any("error", err))
	}
}
