package domain

import "context"

type WalletRepository interface {
	// Get returns nil without error when no snapshot was saved yet.
	Get(ctx context.Context) (*WalletSnapshot, error)
	Save(ctx context.Context, snapshot WalletSnapshot) error
	Clear(ctx context.Context) error
	Close()
}
