package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/shiro-wallet/shirod/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultConfirmationDepth = 1
	defaultInvoiceExpiry     = 24 * time.Hour
	defaultSendExpiry        = 24 * time.Hour
	defaultNetworkTimeout    = 30 * time.Second
	defaultAllocationSats    = 1000
	defaultUtxosCount        = 5
	transferEventsBuffer     = 64
)

type service struct {
	// services
	seedRepo   ports.SeedRepository
	walletRepo domain.WalletRepository
	crypto     ports.Crypto
	dialer     ports.LinkDialer
	scheduler  ports.SchedulerService
	clock      clock.Clock

	// config
	cfg     Config
	network *chaincfg.Params

	// wallet state, guarded by lock
	lock            sync.Mutex
	vault           *keyVault
	identity        domain.WalletIdentity
	indexes         domain.KeyIndexes
	ledger          *utxoLedger
	registry        *assetRegistry
	transfers       map[string]*domain.Transfer
	conn            *connectivity
	recoveryPending bool
	stopped         bool

	transferEventsCh chan TransferEvent

	tracer      trace.Tracer
	meter       metric.Meter
	transitions metric.Int64Counter
}

type Option func(*service)

// WithClock replaces the wall clock used for timestamps and expiries.
func WithClock(c clock.Clock) Option {
	return func(s *service) {
		s.clock = c
	}
}

func NewService(
	cfg Config,
	seedRepo ports.SeedRepository,
	walletRepo domain.WalletRepository,
	crypto ports.Crypto,
	dialer ports.LinkDialer,
	scheduler ports.SchedulerService,
	opts ...Option,
) (Service, error) {
	network, err := networkParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.ConfirmationDepth == 0 {
		cfg.ConfirmationDepth = defaultConfirmationDepth
	}
	if cfg.InvoiceExpiry <= 0 {
		cfg.InvoiceExpiry = defaultInvoiceExpiry
	}
	if cfg.SendExpiry <= 0 {
		cfg.SendExpiry = defaultSendExpiry
	}
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = defaultNetworkTimeout
	}
	if cfg.AllocationSats == 0 {
		cfg.AllocationSats = defaultAllocationSats
	}

	svc := &service{
		seedRepo:         seedRepo,
		walletRepo:       walletRepo,
		crypto:           crypto,
		dialer:           dialer,
		scheduler:        scheduler,
		clock:            clock.NewDefaultClock(),
		cfg:              cfg,
		network:          network,
		conn:             newConnectivity(),
		transferEventsCh: make(chan TransferEvent, transferEventsBuffer),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.initInstruments()
	svc.resetState()
	return svc, nil
}

func (s *service) Start() error {
	if s.scheduler == nil {
		return nil
	}

	log.Debug("starting refresh scheduler...")
	s.scheduler.Start()
	return s.scheduler.ScheduleRecurring(s.scheduledRefresh)
}

func (s *service) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
		log.Debug("stopped refresh scheduler")
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.conn.disconnect()
	s.vault = nil
	s.walletRepo.Close()
	log.Debug("closed connection to wallet db")
	s.seedRepo.Close()
	log.Debug("closed connection to seed db")
	if !s.stopped {
		s.stopped = true
		close(s.transferEventsCh)
	}
}

func (s *service) GenerateKeys(ctx context.Context) (*KeysInfo, error) {
	mnemonic, err := generateMnemonic()
	if err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to generate mnemonic: %w", err)
	}
	return s.keysInfo(mnemonic)
}

func (s *service) RestoreKeys(ctx context.Context, mnemonic string) (*KeysInfo, error) {
	return s.keysInfo(mnemonic)
}

func (s *service) Initialize(
	ctx context.Context, mnemonic, password string,
) (_ *domain.WalletIdentity, err error) {
	ctx, end := s.startSpan(ctx, "wallet.Initialize")
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.seedRepo.IsInitialized(ctx) || s.vault != nil {
		return nil, errors.ALREADY_INITIALIZED.New("wallet is already initialized")
	}
	if len(password) == 0 {
		return nil, errors.INVALID_ARGUMENT.New("missing password").
			WithMetadata(map[string]any{"field": "password"})
	}

	seed, err := mnemonicToSeed(mnemonic)
	if err != nil {
		return nil, errors.INVALID_ARGUMENT.New("%s", err).
			WithMetadata(map[string]any{"field": "mnemonic"})
	}
	vault, err := newKeyVault(seed, s.network)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to create key vault: %w", err)
	}
	identity, err := vault.identity()
	if err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to derive wallet identity: %w", err)
	}

	encryptedSeed, err := s.crypto.Encrypt(ctx, seed, password)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to encrypt seed: %w", err)
	}
	if err := s.seedRepo.SetEncryptedSeed(ctx, encryptedSeed); err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to store seed: %w", err)
	}
	if err := s.walletRepo.Clear(ctx); err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to clear wallet db: %w", err)
	}

	s.resetState()
	s.vault = vault
	s.identity = identity
	if err := s.commit(ctx); err != nil {
		return nil, err
	}

	log.WithField("fingerprint", identity.Fingerprint).
		WithField("network", identity.Network).
		Info("wallet initialized")
	return &identity, nil
}

func (s *service) Unlock(ctx context.Context, password string) (err error) {
	ctx, end := s.startSpan(ctx, "wallet.Unlock")
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.seedRepo.IsInitialized(ctx) {
		return errors.WALLET_NOT_INITIALIZED.New("wallet is not initialized")
	}
	if s.vault != nil {
		return nil
	}

	encryptedSeed, err := s.seedRepo.GetEncryptedSeed(ctx)
	if err != nil {
		return errors.INTERNAL_ERROR.New("failed to get seed: %w", err)
	}
	seed, err := s.crypto.Decrypt(ctx, encryptedSeed, password)
	if err != nil {
		return errors.INVALID_ARGUMENT.New("invalid password").
			WithMetadata(map[string]any{"field": "password"})
	}
	vault, err := newKeyVault(seed, s.network)
	if err != nil {
		return errors.INTERNAL_ERROR.New("failed to create key vault: %w", err)
	}
	identity, err := vault.identity()
	if err != nil {
		return errors.INTERNAL_ERROR.New("failed to derive wallet identity: %w", err)
	}

	snapshot, err := s.walletRepo.Get(ctx)
	if err != nil {
		return errors.INTERNAL_ERROR.New("failed to load wallet state: %w", err)
	}
	s.resetState()
	if snapshot != nil {
		if snapshot.Identity.Fingerprint != identity.Fingerprint {
			return errors.INTERNAL_ERROR.New(
				"wallet state belongs to key %s, unlocked key is %s",
				snapshot.Identity.Fingerprint, identity.Fingerprint,
			)
		}
		s.loadSnapshot(*snapshot)
	}
	s.vault = vault
	s.identity = identity

	pending := len(s.pendingTransfers())
	s.recoveryPending = pending > 0
	if err := s.reconcile(); err != nil {
		log.WithError(err).Error("wallet state is inconsistent after load")
	}

	log.WithField("pending_transfers", pending).Info("wallet unlocked")
	return nil
}

func (s *service) GetStatus(ctx context.Context) WalletStatus {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.status(ctx)
}

func (s *service) GetData(ctx context.Context) (*WalletData, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}

	var handle *domain.ConnectivityHandle
	if s.conn.handle != nil {
		h := *s.conn.handle
		handle = &h
	}
	return &WalletData{
		Datadir:          s.cfg.Datadir,
		Identity:         s.identity,
		Status:           s.status(ctx),
		Handle:           handle,
		UtxoCount:        len(s.ledger.list(false)),
		AssetCount:       len(s.registry.listContracts()),
		PendingTransfers: len(s.pendingTransfers()),
	}, nil
}

// GoOnline releases the lock while dialing so that concurrent callers observe the
// connecting state.
func (s *service) GoOnline(
	ctx context.Context, chainURL, relayURL string,
) (_ *domain.ConnectivityHandle, err error) {
	ctx, end := s.startSpan(ctx, "wallet.GoOnline",
		attribute.String("chain_url", chainURL), attribute.String("relay_url", relayURL),
	)
	defer func() { end(err) }()

	s.lock.Lock()
	if err := s.requireUnlocked(ctx); err != nil {
		s.lock.Unlock()
		return nil, err
	}
	if chainURL == "" || relayURL == "" {
		s.lock.Unlock()
		return nil, errors.INVALID_ARGUMENT.New("missing chain or relay endpoint").
			WithMetadata(map[string]any{"chain_url": chainURL, "relay_url": relayURL})
	}
	attempt, handle, err := s.conn.beginConnect()
	s.lock.Unlock()
	if err != nil {
		return nil, err
	}
	if handle != nil {
		h := *handle
		return &h, nil
	}

	dialCtx, cancel := s.withTimeout(ctx)
	chain, relay, dialErr := s.dialer.Dial(dialCtx, chainURL, relayURL)
	cancel()

	s.lock.Lock()
	defer s.lock.Unlock()

	if dialErr != nil {
		s.conn.abortConnect(attempt)
		return nil, errors.LINK_UNAVAILABLE.New("failed to go online: %w", dialErr).
			WithMetadata(errors.LinkMetadata{Endpoint: fmt.Sprintf("%s %s", chainURL, relayURL)})
	}

	handle = &domain.ConnectivityHandle{
		ID:          uuid.New().String(),
		ChainURL:    chainURL,
		RelayURL:    relayURL,
		ConnectedAt: s.clock.Now(),
	}
	if err := s.conn.completeConnect(attempt, handle, chain, relay); err != nil {
		return nil, err
	}
	log.WithField("handle", handle.ID).
		WithField("chain", chainURL).
		WithField("relay", relayURL).
		Info("wallet is online")

	if _, err := s.refreshAndCommit(ctx); err != nil {
		log.WithError(err).Warn("failed to refresh wallet after going online")
	}

	h := *handle
	return &h, nil
}

func (s *service) GoOffline(ctx context.Context) (err error) {
	ctx, end := s.startSpan(ctx, "wallet.GoOffline")
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return err
	}
	s.conn.disconnect()
	log.Info("wallet is offline")
	return nil
}

func (s *service) GetAddress(ctx context.Context) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return "", err
	}

	addr, _, _, err := s.peekAddress(receiveChain, 0)
	if err != nil {
		return "", errors.INTERNAL_ERROR.New("failed to derive address: %w", err)
	}
	s.commitAddresses(receiveChain, 1)
	if err := s.commit(ctx); err != nil {
		return "", err
	}
	return addr, nil
}

func (s *service) ListUnspents(ctx context.Context, includeSpent bool) ([]Unspent, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}

	utxos := s.ledger.list(includeSpent)
	unspents := make([]Unspent, 0, len(utxos))
	for _, u := range utxos {
		unspents = append(unspents, Unspent{
			Utxo:        u,
			Allocations: s.registry.allocationsAt(u.Outpoint),
		})
	}
	return unspents, nil
}

func (s *service) Issue(
	ctx context.Context, req IssueRequest,
) (_ *domain.AssetContract, err error) {
	ctx, end := s.startSpan(ctx, "wallet.Issue", attribute.String("ticker", req.Ticker))
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}
	_, relay, err := s.conn.links()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	candidates, _ := s.ledger.selectLargestFirst(
		1, s.isBitcoinOnly, func(u domain.Utxo) uint64 { return u.Amount },
	)
	if len(candidates) == 0 {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"no bitcoin-only utxo available to carry the issuance",
		).WithMetadata(errors.InsufficientFundsMetadata{Requested: 1})
	}
	genesis := candidates[0]

	assetID := computeAssetID(
		s.identity.IssuerKey, genesis.Outpoint, req.Ticker, req.TotalSupply, req.Precision,
	)
	contract, err := domain.NewAssetContract(
		assetID, req.Ticker, req.Name, req.TotalSupply, req.Precision, s.identity.IssuerKey,
		now.Unix(),
	)
	if err != nil {
		return nil, errors.INVALID_ARGUMENT.New("%s", err).
			WithMetadata(map[string]any{"ticker": req.Ticker})
	}
	sig, err := s.vault.signDigest(keyPurpose{issuerChain, 0}, contractDigest(*contract))
	if err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to sign contract: %w", err)
	}
	contract.Signature = hex.EncodeToString(sig)

	issuanceID := uuid.New().String()
	if err := s.ledger.reserve(issuanceID, []domain.Utxo{genesis}); err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to reserve issuance utxo: %w", err)
	}
	defer s.ledger.releaseTransfer(issuanceID)

	rctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := relay.RegisterAsset(rctx, *contractInfo(*contract)); err != nil {
		if isTimeout(err) {
			return nil, s.networkError("asset registration", err)
		}
		return nil, errors.RELAY_REJECTED.New("failed to register asset: %w", err).
			WithMetadata(errors.RelayRejectedMetadata{Reason: err.Error()})
	}

	s.registry.register(*contract)
	s.registry.recordAllocation(domain.AssetAllocation{
		AssetID:  assetID,
		Outpoint: genesis.Outpoint,
		Amount:   req.TotalSupply,
	})
	s.ledger.releaseTransfer(issuanceID)
	if err := s.commit(ctx); err != nil {
		return nil, err
	}

	log.WithField("asset_id", assetID).
		WithField("ticker", contract.Ticker).
		WithField("supply", contract.TotalSupply).
		Info("issued asset")
	return contract, nil
}

func (s *service) ListAssets(ctx context.Context) ([]AssetInfo, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}

	transfers := s.pendingTransfers()
	contracts := s.registry.listContracts()
	assets := make([]AssetInfo, 0, len(contracts))
	for _, c := range contracts {
		balance, err := s.registry.balance(c.AssetID, s.ledger, transfers)
		if err != nil {
			return nil, err
		}
		assets = append(assets, AssetInfo{AssetContract: c, Balance: *balance})
	}
	return assets, nil
}

func (s *service) GetAssetBalance(ctx context.Context, assetID string) (*domain.Balance, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}
	return s.registry.balance(assetID, s.ledger, s.pendingTransfers())
}

func (s *service) CreateInvoice(
	ctx context.Context, assetID string, amount uint64,
) (_ *InvoiceInfo, err error) {
	ctx, end := s.startSpan(ctx, "wallet.CreateInvoice", attribute.String("asset_id", assetID))
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}
	if _, _, err := s.conn.links(); err != nil {
		return nil, err
	}
	return s.createInvoice(ctx, assetID, amount)
}

func (s *service) Send(ctx context.Context, req SendRequest) (_ *domain.Transfer, err error) {
	ctx, end := s.startSpan(ctx, "wallet.Send", attribute.String("asset_id", req.AssetID))
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireSpendable(ctx); err != nil {
		return nil, err
	}
	chain, relay, err := s.conn.links()
	if err != nil {
		return nil, err
	}
	return s.send(ctx, chain, relay, req)
}

func (s *service) DrainTo(
	ctx context.Context, address string, feeRate uint64,
) (_ *domain.Transfer, err error) {
	ctx, end := s.startSpan(ctx, "wallet.DrainTo")
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireSpendable(ctx); err != nil {
		return nil, err
	}
	chain, _, err := s.conn.links()
	if err != nil {
		return nil, err
	}
	return s.drainTo(ctx, chain, address, feeRate)
}

func (s *service) CreateUtxos(
	ctx context.Context, req CreateUtxosRequest,
) (_ *domain.Transfer, err error) {
	ctx, end := s.startSpan(ctx, "wallet.CreateUtxos")
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireSpendable(ctx); err != nil {
		return nil, err
	}
	chain, _, err := s.conn.links()
	if err != nil {
		return nil, err
	}
	return s.createUtxos(ctx, chain, req)
}

func (s *service) Refresh(ctx context.Context) (_ *RefreshReport, err error) {
	ctx, end := s.startSpan(ctx, "wallet.Refresh")
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}
	return s.refreshAndCommit(ctx)
}

func (s *service) ListTransfers(ctx context.Context, assetID string) ([]domain.Transfer, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}

	transfers := make([]domain.Transfer, 0)
	for _, t := range s.sortedTransfers() {
		if assetID != "" && t.AssetID != assetID {
			continue
		}
		transfers = append(transfers, *t)
	}
	if assetID != "" && len(transfers) == 0 {
		if _, err := s.registry.contract(assetID); err != nil {
			return nil, err
		}
	}
	return transfers, nil
}

func (s *service) GetTransfer(ctx context.Context, transferID string) (*domain.Transfer, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}
	t, err := s.getTransfer(transferID)
	if err != nil {
		return nil, err
	}
	transfer := *t
	return &transfer, nil
}

func (s *service) CancelTransfer(
	ctx context.Context, transferID string,
) (_ *domain.Transfer, err error) {
	ctx, end := s.startSpan(
		ctx, "wallet.CancelTransfer", attribute.String("transfer_id", transferID),
	)
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return nil, err
	}
	return s.cancelTransfer(ctx, transferID)
}

func (s *service) DeleteTransfers(
	ctx context.Context, transferIDs []string,
) (_ int, err error) {
	ctx, end := s.startSpan(ctx, "wallet.DeleteTransfers")
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return 0, err
	}
	return s.deleteTransfers(ctx, transferIDs)
}

func (s *service) Reconcile(ctx context.Context) (err error) {
	ctx, end := s.startSpan(ctx, "wallet.Reconcile")
	defer func() { end(err) }()

	s.lock.Lock()
	defer s.lock.Unlock()

	if err := s.requireUnlocked(ctx); err != nil {
		return err
	}
	return s.reconcile()
}

func (s *service) GetTransferEventsChannel(ctx context.Context) <-chan TransferEvent {
	return s.transferEventsCh
}

func (s *service) keysInfo(mnemonic string) (*KeysInfo, error) {
	seed, err := mnemonicToSeed(mnemonic)
	if err != nil {
		return nil, errors.INVALID_ARGUMENT.New("%s", err).
			WithMetadata(map[string]any{"field": "mnemonic"})
	}
	vault, err := newKeyVault(seed, s.network)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to create key vault: %w", err)
	}
	return &KeysInfo{
		Mnemonic:    mnemonic,
		AccountXpub: vault.accountXpub(),
		Fingerprint: vault.fingerprint,
	}, nil
}

func (s *service) status(ctx context.Context) WalletStatus {
	return WalletStatus{
		IsInitialized:   s.seedRepo.IsInitialized(ctx),
		IsUnlocked:      s.vault != nil,
		Connectivity:    s.conn.state,
		RecoveryPending: s.recoveryPending,
	}
}

func (s *service) requireUnlocked(ctx context.Context) error {
	if s.vault != nil {
		return nil
	}
	if !s.seedRepo.IsInitialized(ctx) {
		return errors.WALLET_NOT_INITIALIZED.New("wallet is not initialized")
	}
	return errors.WALLET_LOCKED.New("wallet is locked")
}

// requireSpendable refuses operations spending wallet outputs until in-flight transfers
// loaded from the db went through a refresh.
func (s *service) requireSpendable(ctx context.Context) error {
	if err := s.requireUnlocked(ctx); err != nil {
		return err
	}
	if s.recoveryPending {
		return errors.RECOVERY_PENDING.New(
			"in-flight transfers must be refreshed before spending",
		)
	}
	return nil
}

// scheduledRefresh is the task run by the scheduler, errors are logged only.
func (s *service) scheduledRefresh() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.vault == nil || !s.conn.isOnline() {
		return
	}
	if !s.checkLinks(context.Background()) {
		return
	}
	report, err := s.refreshAndCommit(context.Background())
	if err != nil {
		log.WithError(err).Warn("scheduled refresh failed")
		return
	}
	if len(report.Updates) > 0 || report.NewUtxos > 0 || report.Spent > 0 {
		log.WithField("updates", len(report.Updates)).
			WithField("new_utxos", report.NewUtxos).
			WithField("spent", report.Spent).
			Debug("scheduled refresh")
	}
}

// checkLinks pings both backends. After maxLinkFailures consecutive failures the
// wallet goes offline and must be brought online again explicitly.
func (s *service) checkLinks(ctx context.Context) bool {
	chain, relay, err := s.conn.links()
	if err != nil {
		return false
	}
	checkCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = chain.TipHeight(checkCtx)
	if err == nil {
		_, err = relay.Info(checkCtx)
	}
	if err == nil {
		s.conn.linkHealthy()
		return true
	}
	if s.conn.linkFailed() {
		log.WithError(err).Error("links lost, wallet is offline")
		return false
	}
	log.WithError(err).Warn("link health check failed")
	return false
}

func (s *service) refreshAndCommit(ctx context.Context) (*RefreshReport, error) {
	chain, relay, err := s.conn.links()
	if err != nil {
		return nil, err
	}
	report := s.refresh(ctx, chain, relay)
	if s.recoveryPending && !report.Incomplete {
		s.recoveryPending = false
		log.Info("in-flight transfers recovered")
	}
	if err := s.commit(ctx); err != nil {
		return nil, err
	}
	return report, nil
}

// commit persists the wallet state and verifies the cross ledger invariant.
func (s *service) commit(ctx context.Context) error {
	if err := s.walletRepo.Save(ctx, s.snapshot()); err != nil {
		return errors.INTERNAL_ERROR.New("failed to persist wallet state: %w", err)
	}
	if err := s.reconcile(); err != nil {
		log.WithError(err).Error("wallet state is inconsistent")
		return err
	}
	return nil
}

// reconcile checks that allocations match the settled counters and that every
// reservation belongs to an in-flight transfer.
func (s *service) reconcile() error {
	if err := s.registry.reconcile(s.ledger); err != nil {
		return errors.INTERNAL_ERROR.New("asset registry out of sync: %w", err)
	}
	for _, u := range s.ledger.list(false) {
		if !u.IsReserved() {
			continue
		}
		t, ok := s.transfers[u.ReservedFor]
		if !ok || t.IsTerminal() {
			return errors.INTERNAL_ERROR.New(
				"utxo %s is reserved by %s which is not in flight", u.Outpoint, u.ReservedFor,
			)
		}
	}
	return nil
}

func (s *service) resetState() {
	s.identity = domain.WalletIdentity{}
	s.indexes = domain.KeyIndexes{}
	s.ledger = newUtxoLedger(nil)
	s.registry = newAssetRegistry(nil, nil)
	s.transfers = make(map[string]*domain.Transfer)
	s.recoveryPending = false
}

func (s *service) loadSnapshot(snapshot domain.WalletSnapshot) {
	s.identity = snapshot.Identity
	s.indexes = snapshot.Indexes
	s.ledger = newUtxoLedger(snapshot.Utxos)
	s.registry = newAssetRegistry(snapshot.Contracts, snapshot.Allocations)
	s.transfers = make(map[string]*domain.Transfer, len(snapshot.Transfers))
	for i := range snapshot.Transfers {
		t := snapshot.Transfers[i]
		s.transfers[t.ID] = &t
	}
}

func (s *service) snapshot() domain.WalletSnapshot {
	contracts, allocations := s.registry.snapshot()
	transfers := make([]domain.Transfer, 0, len(s.transfers))
	for _, t := range s.sortedTransfers() {
		transfers = append(transfers, *t)
	}
	return domain.WalletSnapshot{
		Identity:    s.identity,
		Indexes:     s.indexes,
		Utxos:       s.ledger.snapshot(),
		Contracts:   contracts,
		Allocations: allocations,
		Transfers:   transfers,
		UpdatedAt:   s.clock.Now().Unix(),
	}
}

func (s *service) getTransfer(transferID string) (*domain.Transfer, error) {
	t, ok := s.transfers[transferID]
	if !ok {
		return nil, errors.UNKNOWN_TRANSFER.New("transfer %s not found", transferID).
			WithMetadata(errors.TransferMetadata{TransferID: transferID})
	}
	return t, nil
}

func (s *service) sortedTransfers() []*domain.Transfer {
	transfers := make([]*domain.Transfer, 0, len(s.transfers))
	for _, t := range s.transfers {
		transfers = append(transfers, t)
	}
	sort.SliceStable(transfers, func(i, j int) bool {
		if transfers[i].CreatedAt != transfers[j].CreatedAt {
			return transfers[i].CreatedAt < transfers[j].CreatedAt
		}
		return transfers[i].ID < transfers[j].ID
	})
	return transfers
}

func (s *service) pendingTransfers() []*domain.Transfer {
	pending := make([]*domain.Transfer, 0)
	for _, t := range s.sortedTransfers() {
		if !t.IsTerminal() {
			pending = append(pending, t)
		}
	}
	return pending
}

// publish must be called with the lock held.
func (s *service) publish(t *domain.Transfer, from domain.TransferStatus) {
	s.recordTransition(t)
	if s.stopped {
		return
	}
	select {
	case s.transferEventsCh <- TransferEvent{Transfer: *t, From: from}:
	default:
		log.WithField("transfer", t.ID).Warn("transfer events channel is full, dropping event")
	}
}
