package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/timshannon/badgerhold/v4"
)

const (
	walletStoreDir = "wallet"
	walletKey      = "wallet_snapshot"
)

type walletRepository struct {
	store *badgerhold.Store
}

func NewWalletRepository(config ...interface{}) (domain.WalletRepository, error) {
	baseDir, logger, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}

	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, walletStoreDir)
	}
	store, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet store: %s", err)
	}

	return &walletRepository{store}, nil
}

func (r *walletRepository) Get(ctx context.Context) (*domain.WalletSnapshot, error) {
	var snapshot domain.WalletSnapshot
	err := r.store.Get(walletKey, &snapshot)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet snapshot: %w", err)
	}
	return &snapshot, nil
}

func (r *walletRepository) Save(ctx context.Context, snapshot domain.WalletSnapshot) error {
	if err := upsertWithRetry(r.store, walletKey, &snapshot); err != nil {
		return fmt.Errorf("failed to save wallet snapshot: %w", err)
	}
	return nil
}

func (r *walletRepository) Clear(ctx context.Context) error {
	var snapshot domain.WalletSnapshot
	if err := r.store.Delete(walletKey, &snapshot); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (r *walletRepository) Close() {
	// nolint:all
	r.store.Close()
}
