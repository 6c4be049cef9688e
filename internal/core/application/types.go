package application

import (
	"context"
	"time"

	"github.com/shiro-wallet/shirod/internal/core/domain"
)

type Service interface {
	Start() error
	Stop()

	GenerateKeys(ctx context.Context) (*KeysInfo, error)
	RestoreKeys(ctx context.Context, mnemonic string) (*KeysInfo, error)
	Initialize(ctx context.Context, mnemonic, password string) (*domain.WalletIdentity, error)
	Unlock(ctx context.Context, password string) error
	GetStatus(ctx context.Context) WalletStatus
	GetData(ctx context.Context) (*WalletData, error)

	GoOnline(ctx context.Context, chainURL, relayURL string) (*domain.ConnectivityHandle, error)
	GoOffline(ctx context.Context) error

	GetAddress(ctx context.Context) (string, error)
	CreateUtxos(ctx context.Context, req CreateUtxosRequest) (*domain.Transfer, error)
	ListUnspents(ctx context.Context, includeSpent bool) ([]Unspent, error)

	Issue(ctx context.Context, req IssueRequest) (*domain.AssetContract, error)
	ListAssets(ctx context.Context) ([]AssetInfo, error)
	GetAssetBalance(ctx context.Context, assetID string) (*domain.Balance, error)

	CreateInvoice(ctx context.Context, assetID string, amount uint64) (*InvoiceInfo, error)
	Send(ctx context.Context, req SendRequest) (*domain.Transfer, error)
	DrainTo(ctx context.Context, address string, feeRate uint64) (*domain.Transfer, error)
	Refresh(ctx context.Context) (*RefreshReport, error)
	ListTransfers(ctx context.Context, assetID string) ([]domain.Transfer, error)
	GetTransfer(ctx context.Context, transferID string) (*domain.Transfer, error)
	CancelTransfer(ctx context.Context, transferID string) (*domain.Transfer, error)
	DeleteTransfers(ctx context.Context, transferIDs []string) (int, error)

	// Reconcile verifies that asset balances match the allocations on unspent outputs.
	Reconcile(ctx context.Context) error
	GetTransferEventsChannel(ctx context.Context) <-chan TransferEvent
}

type Config struct {
	Network           string
	Datadir           string
	ConfirmationDepth uint32
	InvoiceExpiry     time.Duration
	SendExpiry        time.Duration
	NetworkTimeout    time.Duration
	AllocationSats    uint64
}

type KeysInfo struct {
	Mnemonic    string
	AccountXpub string
	Fingerprint string
}

type WalletStatus struct {
	IsInitialized   bool
	IsUnlocked      bool
	Connectivity    domain.ConnectivityState
	RecoveryPending bool
}

type WalletData struct {
	Datadir          string
	Identity         domain.WalletIdentity
	Status           WalletStatus
	Handle           *domain.ConnectivityHandle
	UtxoCount        int
	AssetCount       int
	PendingTransfers int
}

type CreateUtxosRequest struct {
	Count   uint32
	Size    uint64
	FeeRate uint64
}

type IssueRequest struct {
	Ticker      string
	Name        string
	TotalSupply uint64
	Precision   uint8
}

type SendRequest struct {
	AssetID string
	Amount  uint64
	Invoice string
	// FeeRate in sat/vbyte, zero means estimate.
	FeeRate uint64
}

type Unspent struct {
	domain.Utxo
	Allocations []domain.AssetAllocation
}

type AssetInfo struct {
	domain.AssetContract
	Balance domain.Balance
}

type InvoiceInfo struct {
	Invoice     string
	TransferID  string
	RecipientID string
	Address     string
	ExpiresAt   int64
}

type TransferUpdate struct {
	TransferID string
	From       domain.TransferStatus
	To         domain.TransferStatus
}

type RefreshReport struct {
	Updates  []TransferUpdate
	NewUtxos int
	Spent    int
	// Incomplete is set when a transient failure left some work for the next refresh.
	Incomplete bool
}

type TransferEvent struct {
	Transfer domain.Transfer
	From     domain.TransferStatus
}
