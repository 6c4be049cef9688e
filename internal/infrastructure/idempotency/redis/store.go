package redisidempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shiro-wallet/shirod/internal/core/ports"
)

const (
	keyPrefix       = "idempotency:"
	inProgressValue = "in_progress"
)

type store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) ports.IdempotencyStore {
	return &store{rdb}
}

func (s *store) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, keyPrefix+key, inProgressValue, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *store) Get(ctx context.Context, key string) (*ports.StoredResponse, error) {
	value, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	if value == inProgressValue {
		return nil, ports.ErrRequestInProgress
	}

	var resp ports.StoredResponse
	if err := json.Unmarshal([]byte(value), &resp); err != nil {
		return nil, fmt.Errorf("malformed stored response: %w", err)
	}
	return &resp, nil
}

func (s *store) Store(
	ctx context.Context, key string, resp ports.StoredResponse, ttl time.Duration,
) error {
	buf, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	if err := s.rdb.Set(ctx, keyPrefix+key, buf, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store response: %w", err)
	}
	return nil
}

func (s *store) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, keyPrefix+key).Err()
}

func (s *store) Close() {
	// nolint:all
	s.rdb.Close()
}
