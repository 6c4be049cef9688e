package redisdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shiro-wallet/shirod/internal/core/ports"
)

const seedKey = "wallet:seed"

type seedRepository struct {
	rdb *redis.Client
}

func NewSeedRepository(config ...interface{}) (ports.SeedRepository, error) {
	rdb, _, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}
	return &seedRepository{rdb}, nil
}

func (r *seedRepository) IsInitialized(ctx context.Context) bool {
	n, err := r.rdb.Exists(ctx, seedKey).Result()
	return err == nil && n > 0
}

func (r *seedRepository) GetEncryptedSeed(ctx context.Context) ([]byte, error) {
	seed, err := r.rdb.Get(ctx, seedKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("encrypted seed not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get encrypted seed: %w", err)
	}
	return seed, nil
}

func (r *seedRepository) SetEncryptedSeed(ctx context.Context, seed []byte) error {
	if err := r.rdb.Set(ctx, seedKey, seed, 0).Err(); err != nil {
		return fmt.Errorf("failed to set encrypted seed: %w", err)
	}
	return nil
}

func (r *seedRepository) Close() {
	// nolint:all
	r.rdb.Close()
}
