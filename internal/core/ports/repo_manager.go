package ports

import "github.com/shiro-wallet/shirod/internal/core/domain"

type RepoManager interface {
	Wallet() domain.WalletRepository
	Seed() SeedRepository
	Close()
}
