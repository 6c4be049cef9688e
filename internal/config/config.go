package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/redis/go-redis/v9"
	"github.com/shiro-wallet/shirod/internal/core/application"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/shiro-wallet/shirod/internal/infrastructure/chain/esplora"
	"github.com/shiro-wallet/shirod/internal/infrastructure/cypher"
	"github.com/shiro-wallet/shirod/internal/infrastructure/db"
	"github.com/shiro-wallet/shirod/internal/infrastructure/dialer"
	inmemoryidempotency "github.com/shiro-wallet/shirod/internal/infrastructure/idempotency/inmemory"
	redisidempotency "github.com/shiro-wallet/shirod/internal/infrastructure/idempotency/redis"
	"github.com/shiro-wallet/shirod/internal/infrastructure/relay/jsonrpc"
	blockscheduler "github.com/shiro-wallet/shirod/internal/infrastructure/scheduler/block"
	timescheduler "github.com/shiro-wallet/shirod/internal/infrastructure/scheduler/gocron"
	envunlocker "github.com/shiro-wallet/shirod/internal/infrastructure/unlocker/env"
	fileunlocker "github.com/shiro-wallet/shirod/internal/infrastructure/unlocker/file"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var (
	supportedDbs = supportedType{
		"badger": {},
		"sqlite": {},
		"redis":  {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
		"block":  {},
	}
	supportedUnlockers = supportedType{
		"env":  {},
		"file": {},
	}
	supportedIdempotencyStores = supportedType{
		"inmemory": {},
		"redis":    {},
	}
	supportedNetworks = supportedType{
		"bitcoin": {},
		"testnet": {},
		"signet":  {},
		"regtest": {},
	}
)

type Config struct {
	Datadir  string
	Port     uint32
	LogLevel int
	Network  string

	DbType              string
	DbDir               string
	RedisUrl            string
	RedisTxNumOfRetries int

	SchedulerType   string
	RefreshInterval int64
	EsploraURL      string

	ChainMaxRetries int
	ChainConfTarget int

	ConfirmationDepth uint32
	InvoiceExpiry     int64
	SendExpiry        int64
	NetworkTimeout    int64
	AllocationSats    uint64

	IdempotencyStoreType string
	IdempotencyTTL       int64
	HeartbeatInterval    int64

	OtelCollectorEndpoint string
	OtelPushInterval      int64

	UnlockerType     string
	UnlockerFilePath string // file unlocker
	UnlockerPassword string // env unlocker

	repo        ports.RepoManager
	svc         application.Service
	dialer      ports.LinkDialer
	scheduler   ports.SchedulerService
	unlocker    ports.Unlocker
	idempotency ports.IdempotencyStore
}

func (c *Config) String() string {
	clone := *c
	if clone.UnlockerPassword != "" {
		clone.UnlockerPassword = "••••••"
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	Datadir              = "DATADIR"
	Port                 = "PORT"
	LogLevel             = "LOG_LEVEL"
	Network              = "NETWORK"
	DbType               = "DB_TYPE"
	RedisUrl             = "REDIS_URL"
	RedisTxNumOfRetries  = "REDIS_NUM_OF_RETRIES"
	SchedulerType        = "SCHEDULER_TYPE"
	RefreshInterval      = "REFRESH_INTERVAL"
	EsploraURL           = "ESPLORA_URL"
	ChainMaxRetries      = "CHAIN_MAX_RETRIES"
	ChainConfTarget      = "CHAIN_CONF_TARGET"
	ConfirmationDepth    = "CONFIRMATION_DEPTH"
	InvoiceExpiry        = "INVOICE_EXPIRY"
	SendExpiry           = "SEND_EXPIRY"
	NetworkTimeout       = "NETWORK_TIMEOUT"
	AllocationSats       = "ALLOCATION_SATS"
	IdempotencyStoreType = "IDEMPOTENCY_STORE_TYPE"
	IdempotencyTTL       = "IDEMPOTENCY_TTL"
	HeartbeatInterval    = "HEARTBEAT_INTERVAL"
	UnlockerType         = "UNLOCKER_TYPE"
	UnlockerFilePath     = "UNLOCKER_FILE_PATH"
	UnlockerPassword     = "UNLOCKER_PASSWORD"

	OtelCollectorEndpoint = "OTEL_COLLECTOR_ENDPOINT"
	OtelPushInterval      = "OTEL_PUSH_INTERVAL"

	defaultDatadir              = btcutil.AppDataDir("shirod", false)
	DefaultPort                 = 8080
	defaultLogLevel             = 4
	defaultNetwork              = "testnet"
	defaultDbType               = "badger"
	defaultRedisTxNumOfRetries  = 10
	defaultSchedulerType        = "gocron"
	defaultRefreshInterval      = 60 // seconds
	defaultEsploraURL           = "https://blockstream.info/testnet/api"
	defaultChainMaxRetries      = 3
	defaultChainConfTarget      = 2
	defaultConfirmationDepth    = 1
	defaultInvoiceExpiry        = 86400 // 24 hours
	defaultSendExpiry           = 86400 // 24 hours
	defaultNetworkTimeout       = 30    // seconds
	defaultAllocationSats       = 1000
	defaultIdempotencyStoreType = "inmemory"
	defaultIdempotencyTTL       = 86400 // 24 hours
	defaultHeartbeatInterval    = 15    // seconds
	defaultOtelPushInterval     = 10    // seconds
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("SHIROD")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(Port, DefaultPort)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(Network, defaultNetwork)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(RedisTxNumOfRetries, defaultRedisTxNumOfRetries)
	viper.SetDefault(SchedulerType, defaultSchedulerType)
	viper.SetDefault(RefreshInterval, defaultRefreshInterval)
	viper.SetDefault(EsploraURL, defaultEsploraURL)
	viper.SetDefault(ChainMaxRetries, defaultChainMaxRetries)
	viper.SetDefault(ChainConfTarget, defaultChainConfTarget)
	viper.SetDefault(ConfirmationDepth, defaultConfirmationDepth)
	viper.SetDefault(InvoiceExpiry, defaultInvoiceExpiry)
	viper.SetDefault(SendExpiry, defaultSendExpiry)
	viper.SetDefault(NetworkTimeout, defaultNetworkTimeout)
	viper.SetDefault(AllocationSats, defaultAllocationSats)
	viper.SetDefault(IdempotencyStoreType, defaultIdempotencyStoreType)
	viper.SetDefault(IdempotencyTTL, defaultIdempotencyTTL)
	viper.SetDefault(HeartbeatInterval, defaultHeartbeatInterval)
	viper.SetDefault(OtelPushInterval, defaultOtelPushInterval)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(viper.GetString(Datadir), "db")
	if err := makeDirectoryIfNotExists(dbPath); err != nil {
		return nil, fmt.Errorf("failed to create db dir: %s", err)
	}

	var redisUrl string
	if viper.GetString(DbType) == "redis" ||
		viper.GetString(IdempotencyStoreType) == "redis" {
		redisUrl = viper.GetString(RedisUrl)
		if redisUrl == "" {
			return nil, fmt.Errorf("redis store selected but redis url is missing")
		}
	}

	return &Config{
		Datadir:              viper.GetString(Datadir),
		Port:                 viper.GetUint32(Port),
		LogLevel:             viper.GetInt(LogLevel),
		Network:              strings.ToLower(viper.GetString(Network)),
		DbType:               viper.GetString(DbType),
		DbDir:                dbPath,
		RedisUrl:             redisUrl,
		RedisTxNumOfRetries:  viper.GetInt(RedisTxNumOfRetries),
		SchedulerType:        viper.GetString(SchedulerType),
		RefreshInterval:      viper.GetInt64(RefreshInterval),
		EsploraURL:           viper.GetString(EsploraURL),
		ChainMaxRetries:      viper.GetInt(ChainMaxRetries),
		ChainConfTarget:      viper.GetInt(ChainConfTarget),
		ConfirmationDepth:    viper.GetUint32(ConfirmationDepth),
		InvoiceExpiry:        viper.GetInt64(InvoiceExpiry),
		SendExpiry:           viper.GetInt64(SendExpiry),
		NetworkTimeout:       viper.GetInt64(NetworkTimeout),
		AllocationSats:       viper.GetUint64(AllocationSats),
		IdempotencyStoreType: viper.GetString(IdempotencyStoreType),
		IdempotencyTTL:       viper.GetInt64(IdempotencyTTL),
		HeartbeatInterval:    viper.GetInt64(HeartbeatInterval),
		UnlockerType:         viper.GetString(UnlockerType),
		UnlockerFilePath:     viper.GetString(UnlockerFilePath),
		UnlockerPassword:     viper.GetString(UnlockerPassword),

		OtelCollectorEndpoint: viper.GetString(OtelCollectorEndpoint),
		OtelPushInterval:      viper.GetInt64(OtelPushInterval),
	}, nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func (c *Config) Validate() error {
	if !supportedNetworks.supports(c.Network) {
		return fmt.Errorf("network not supported, please select one of: %s", supportedNetworks)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf(
			"scheduler type not supported, please select one of: %s",
			supportedSchedulers,
		)
	}
	if len(c.UnlockerType) > 0 && !supportedUnlockers.supports(c.UnlockerType) {
		return fmt.Errorf(
			"unlocker type not supported, please select one of: %s",
			supportedUnlockers,
		)
	}
	if !supportedIdempotencyStores.supports(c.IdempotencyStoreType) {
		return fmt.Errorf(
			"idempotency store type not supported, please select one of: %s",
			supportedIdempotencyStores,
		)
	}
	if c.Port == 0 {
		return fmt.Errorf("invalid port, must be greater than 0")
	}
	if c.RefreshInterval < 1 {
		return fmt.Errorf("invalid refresh interval, must be at least 1 second")
	}
	if c.NetworkTimeout < 1 {
		return fmt.Errorf("invalid network timeout, must be at least 1 second")
	}
	if c.InvoiceExpiry < 1 {
		return fmt.Errorf("invalid invoice expiry, must be at least 1 second")
	}
	if c.SendExpiry < 1 {
		return fmt.Errorf("invalid send expiry, must be at least 1 second")
	}
	if c.ConfirmationDepth < 1 {
		return fmt.Errorf("invalid confirmation depth, must be at least 1")
	}
	if c.IdempotencyTTL < 1 {
		return fmt.Errorf("invalid idempotency ttl, must be at least 1 second")
	}
	if c.OtelCollectorEndpoint != "" && c.OtelPushInterval < 1 {
		return fmt.Errorf("invalid otel push interval, must be at least 1 second")
	}
	if c.SchedulerType == "block" && c.EsploraURL == "" {
		return fmt.Errorf("block scheduler requires an esplora url")
	}

	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.dialerService(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.unlockerService(); err != nil {
		return err
	}
	if err := c.idempotencyStore(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) LinkDialer() ports.LinkDialer {
	return c.dialer
}

func (c *Config) UnlockerService() ports.Unlocker {
	return c.unlocker
}

func (c *Config) IdempotencyStore() ports.IdempotencyStore {
	return c.idempotency
}

func (c *Config) IdempotencyTTLDuration() time.Duration {
	return time.Duration(c.IdempotencyTTL) * time.Second
}

func (c *Config) OtelPushIntervalDuration() time.Duration {
	return time.Duration(c.OtelPushInterval) * time.Second
}

func (c *Config) HeartbeatDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

func (c *Config) repoManager() error {
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	case "redis":
		dataStoreConfig = []interface{}{c.RedisUrl, c.RedisTxNumOfRetries}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err := db.NewService(db.ServiceConfig{
		DataStoreType:   c.DbType,
		DataStoreConfig: dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) dialerService() error {
	timeout := time.Duration(c.NetworkTimeout) * time.Second
	chainOpts := []esplora.Option{
		esplora.WithMaxRetries(c.ChainMaxRetries),
		esplora.WithConfTarget(c.ChainConfTarget),
		esplora.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	relayOpts := []jsonrpc.Option{
		jsonrpc.WithHTTPClient(&http.Client{Timeout: timeout}),
	}
	c.dialer = dialer.New(chainOpts, relayOpts)
	return nil
}

func (c *Config) schedulerService() error {
	var svc ports.SchedulerService
	var err error
	interval := time.Duration(c.RefreshInterval) * time.Second
	switch c.SchedulerType {
	case "gocron":
		svc = timescheduler.NewScheduler(timescheduler.WithInterval(interval))
	case "block":
		svc, err = blockscheduler.NewScheduler(
			c.EsploraURL, blockscheduler.WithTickerInterval(interval),
		)
	default:
		err = fmt.Errorf("unknown scheduler type")
	}
	if err != nil {
		return err
	}

	c.scheduler = svc
	return nil
}

func (c *Config) unlockerService() error {
	if len(c.UnlockerType) <= 0 {
		return nil
	}

	var svc ports.Unlocker
	var err error
	switch c.UnlockerType {
	case "file":
		svc, err = fileunlocker.NewService(c.UnlockerFilePath)
	case "env":
		svc, err = envunlocker.NewService(c.UnlockerPassword)
	default:
		err = fmt.Errorf("unknown unlocker type")
	}
	if err != nil {
		return err
	}
	c.unlocker = svc
	return nil
}

func (c *Config) idempotencyStore() error {
	var store ports.IdempotencyStore
	switch c.IdempotencyStoreType {
	case "inmemory":
		store = inmemoryidempotency.NewStore(nil)
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		store = redisidempotency.NewStore(redis.NewClient(redisOpts))
	default:
		return fmt.Errorf("unknown idempotency store type")
	}

	c.idempotency = store
	return nil
}

func (c *Config) appService() error {
	if c.repo == nil {
		return fmt.Errorf("repo manager not set")
	}

	svc, err := application.NewService(
		application.Config{
			Network:           c.Network,
			Datadir:           c.Datadir,
			ConfirmationDepth: c.ConfirmationDepth,
			InvoiceExpiry:     time.Duration(c.InvoiceExpiry) * time.Second,
			SendExpiry:        time.Duration(c.SendExpiry) * time.Second,
			NetworkTimeout:    time.Duration(c.NetworkTimeout) * time.Second,
			AllocationSats:    c.AllocationSats,
		},
		c.repo.Seed(), c.repo.Wallet(), cypher.New(), c.dialer, c.scheduler,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
