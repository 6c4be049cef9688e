package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const (
	seedStoreDir = "seed"
	seedKey      = "encrypted_seed"
)

type encryptedSeed struct {
	Data []byte
}

type seedRepository struct {
	store *badgerhold.Store
}

func NewSeedRepository(config ...interface{}) (ports.SeedRepository, error) {
	baseDir, logger, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, seedStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed store: %w", err)
	}

	return &seedRepository{store: store}, nil
}

func (r *seedRepository) IsInitialized(ctx context.Context) bool {
	seed, err := r.GetEncryptedSeed(ctx)
	return err == nil && len(seed) > 0
}

func (r *seedRepository) GetEncryptedSeed(ctx context.Context) ([]byte, error) {
	var seed encryptedSeed
	if err := r.store.Get(seedKey, &seed); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("encrypted seed not found")
		}
		return nil, fmt.Errorf("failed to get encrypted seed: %w", err)
	}
	return seed.Data, nil
}

func (r *seedRepository) SetEncryptedSeed(ctx context.Context, seed []byte) error {
	if err := upsertWithRetry(r.store, seedKey, &encryptedSeed{seed}); err != nil {
		return fmt.Errorf("failed to set encrypted seed: %w", err)
	}
	return nil
}

func (r *seedRepository) Close() {
	// nolint:all
	r.store.Close()
}
