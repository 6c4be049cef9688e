package sqlitedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shiro-wallet/shirod/internal/core/ports"
)

type seedRepository struct {
	db *sql.DB
}

func NewSeedRepository(config ...interface{}) (ports.SeedRepository, error) {
	db, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}
	return &seedRepository{db}, nil
}

func (r *seedRepository) IsInitialized(ctx context.Context) bool {
	seed, err := r.GetEncryptedSeed(ctx)
	return err == nil && len(seed) > 0
}

func (r *seedRepository) GetEncryptedSeed(ctx context.Context) ([]byte, error) {
	var seed []byte
	err := r.db.QueryRowContext(ctx, "SELECT encrypted FROM seed WHERE id = 1").Scan(&seed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("encrypted seed not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get encrypted seed: %w", err)
	}
	return seed, nil
}

func (r *seedRepository) SetEncryptedSeed(ctx context.Context, seed []byte) error {
	if _, err := r.db.ExecContext(
		ctx,
		`INSERT INTO seed (id, encrypted) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET encrypted = excluded.encrypted`,
		seed,
	); err != nil {
		return fmt.Errorf("failed to set encrypted seed: %w", err)
	}
	return nil
}

func (r *seedRepository) Close() {
	// nolint:all
	r.db.Close()
}
