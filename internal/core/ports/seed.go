package ports

import "context"

type SeedRepository interface {
	IsInitialized(ctx context.Context) bool
	GetEncryptedSeed(ctx context.Context) ([]byte, error)
	SetEncryptedSeed(ctx context.Context, seed []byte) error
	Close()
}

type Crypto interface {
	Encrypt(ctx context.Context, seed []byte, password string) (encryptedSeed []byte, err error)
	Decrypt(ctx context.Context, encryptedSeed []byte, password string) (seed []byte, err error)
}
