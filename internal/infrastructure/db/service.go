package db

import (
	"embed"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/redis/go-redis/v9"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	badgerdb "github.com/shiro-wallet/shirod/internal/infrastructure/db/badger"
	redisdb "github.com/shiro-wallet/shirod/internal/infrastructure/db/redis"
	sqlitedb "github.com/shiro-wallet/shirod/internal/infrastructure/db/sqlite"
	log "github.com/sirupsen/logrus"
)

//go:embed sqlite/migration/*
var migrations embed.FS

var (
	walletStoreTypes = map[string]func(...interface{}) (domain.WalletRepository, error){
		"badger": badgerdb.NewWalletRepository,
		"sqlite": sqlitedb.NewWalletRepository,
		"redis":  redisdb.NewWalletRepository,
	}
	seedStoreTypes = map[string]func(...interface{}) (ports.SeedRepository, error){
		"badger": badgerdb.NewSeedRepository,
		"sqlite": sqlitedb.NewSeedRepository,
		"redis":  redisdb.NewSeedRepository,
	}
)

const (
	sqliteDbFile = "sqlite.db"
)

type ServiceConfig struct {
	DataStoreType string

	// badger: base dir (empty for in-memory) and logger; sqlite: base dir; redis: url and
	// optional number of retries.
	DataStoreConfig []interface{}
}

type service struct {
	walletStore domain.WalletRepository
	seedStore   ports.SeedRepository
}

func NewService(config ServiceConfig) (ports.RepoManager, error) {
	walletStoreFactory, ok := walletStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}
	seedStoreFactory, ok := seedStoreTypes[config.DataStoreType]
	if !ok {
		return nil, fmt.Errorf("invalid data store type: %s", config.DataStoreType)
	}

	var storeConfig []interface{}
	switch config.DataStoreType {
	case "badger":
		storeConfig = config.DataStoreConfig

	case "sqlite":
		if len(config.DataStoreConfig) != 1 {
			return nil, fmt.Errorf("invalid data store config")
		}
		baseDir, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid base directory")
		}

		db, err := sqlitedb.OpenDb(filepath.Join(baseDir, sqliteDbFile))
		if err != nil {
			return nil, fmt.Errorf("failed to open db: %s", err)
		}

		driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to init driver: %s", err)
		}

		source, err := iofs.New(migrations, "sqlite/migration")
		if err != nil {
			return nil, fmt.Errorf("failed to embed migrations: %s", err)
		}

		m, err := migrate.NewWithInstance("iofs", source, "shirodb", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migration instance: %s", err)
		}

		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, fmt.Errorf("failed to run migrations: %s", err)
		}
		storeConfig = []interface{}{db}

	case "redis":
		if len(config.DataStoreConfig) < 1 {
			return nil, fmt.Errorf("invalid data store config")
		}
		redisURL, ok := config.DataStoreConfig[0].(string)
		if !ok {
			return nil, fmt.Errorf("invalid redis url")
		}
		redisOpts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %s", err)
		}
		storeConfig = append([]interface{}{redis.NewClient(redisOpts)}, config.DataStoreConfig[1:]...)
	}

	walletStore, err := walletStoreFactory(storeConfig...)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet store: %s", err)
	}
	seedStore, err := seedStoreFactory(storeConfig...)
	if err != nil {
		walletStore.Close()
		return nil, fmt.Errorf("failed to open seed store: %s", err)
	}

	log.Debugf("opened %s data store", config.DataStoreType)

	return &service{walletStore, seedStore}, nil
}

func (s *service) Wallet() domain.WalletRepository {
	return s.walletStore
}

func (s *service) Seed() ports.SeedRepository {
	return s.seedStore
}

func (s *service) Close() {
	s.walletStore.Close()
	s.seedStore.Close()
}
