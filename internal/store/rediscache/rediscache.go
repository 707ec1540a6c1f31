// Package rediscache adds a read-through Redis cache in front of a store.Store.
// Only build results are cached; every upsert invalidates the package's entry.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"zigcheck/internal/store"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

// Store decorates a store.Store. Redis failures are logged and the call
// falls through to the wrapped store.
type Store struct {
	store.Store
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func New(inner store.Store, client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{Store: inner, client: client, prefix: "zigcheck:builds:", ttl: ttl, logger: logger}
}

func (s *Store) GetBuildResults(ctx context.Context, packageID int64) ([]store.BuildResult, error) {
	key := s.key(packageID)

	raw, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var results []store.BuildResult
		if err := json.Unmarshal(raw, &results); err == nil {
			return results, nil
		}
		s.logger.Warn("discarding corrupt cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("redis get failed", "key", key, "error", err)
	}

	results, err := s.Store.GetBuildResults(ctx, packageID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(results); err == nil {
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Warn("redis set failed", "key", key, "error", err)
		}
	}
	return results, nil
}

func (s *Store) UpsertBuildResult(ctx context.Context, r *store.BuildResult) error {
	if err := s.Store.UpsertBuildResult(ctx, r); err != nil {
		return err
	}
	s.invalidate(ctx, r.PackageID)
	return nil
}

func (s *Store) DeletePackage(ctx context.Context, id int64) error {
	if err := s.Store.DeletePackage(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, packageID int64) {
	if err := s.client.Del(ctx, s.key(packageID)).Err(); err != nil {
		s.logger.Warn("redis invalidate failed", "package_id", packageID, "error", err)
	}
}

func (s *Store) key(packageID int64) string {
	return s.prefix + strconv.FormatInt(packageID, 10)
}
