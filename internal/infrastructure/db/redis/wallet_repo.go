package redisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shiro-wallet/shirod/internal/core/domain"
)

const (
	walletSnapshotKey = "wallet:snapshot"
	walletVersionKey  = "wallet:version"
)

type walletRepository struct {
	rdb          *redis.Client
	numOfRetries int
	retryDelay   time.Duration
}

func NewWalletRepository(config ...interface{}) (domain.WalletRepository, error) {
	rdb, numOfRetries, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}
	return &walletRepository{
		rdb:          rdb,
		numOfRetries: numOfRetries,
		retryDelay:   10 * time.Millisecond,
	}, nil
}

func (r *walletRepository) Get(ctx context.Context) (*domain.WalletSnapshot, error) {
	buf, err := r.rdb.Get(ctx, walletSnapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet snapshot: %w", err)
	}

	var snapshot domain.WalletSnapshot
	if err := json.Unmarshal(buf, &snapshot); err != nil {
		return nil, fmt.Errorf("malformed wallet snapshot in storage: %w", err)
	}
	return &snapshot, nil
}

// Save stores the snapshot and bumps its version atomically, retrying if a concurrent
// writer touched the keys in the meantime.
func (r *walletRepository) Save(ctx context.Context, snapshot domain.WalletSnapshot) error {
	buf, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal wallet snapshot: %w", err)
	}

	for range r.numOfRetries {
		if err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, walletSnapshotKey, buf, 0)
				pipe.Incr(ctx, walletVersionKey)
				return nil
			})
			return err
		}, walletSnapshotKey, walletVersionKey); err == nil {
			return nil
		}
		time.Sleep(r.retryDelay)
	}
	return fmt.Errorf("failed to save wallet snapshot after max number of retries: %v", err)
}

func (r *walletRepository) Clear(ctx context.Context) error {
	var err error
	for range r.numOfRetries {
		if err = r.rdb.Watch(ctx, func(tx *redis.Tx) error {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, walletSnapshotKey)
				pipe.Del(ctx, walletVersionKey)
				return nil
			})
			return err
		}, walletSnapshotKey, walletVersionKey); err == nil {
			return nil
		}
		time.Sleep(r.retryDelay)
	}
	return fmt.Errorf("failed to clear wallet snapshot after max number of retries: %v", err)
}

func (r *walletRepository) Close() {
	// nolint:all
	r.rdb.Close()
}
