package ports

import (
	"context"
	"errors"
)

var ErrRelayRejected = errors.New("relay rejected request")

type RelayInfo struct {
	Protocol string
	Version  string
}

// ContractInfo travels with a commitment so the recipient can register an unknown asset.
type ContractInfo struct {
	AssetID     string
	Ticker      string
	Name        string
	TotalSupply uint64
	Precision   uint8
	IssuedBy    string
	IssuedAt    int64
	Signature   string
}

// Commitment is the blinded transfer data posted by a sender for a recipient.
type Commitment struct {
	TransferID  string
	RecipientID string
	AssetID     string
	Amount      uint64
	Txid        string
	TxHex       string
	VOut        uint32
	Commitment  string
	Contract    ContractInfo
}

type RelayService interface {
	Info(ctx context.Context) (*RelayInfo, error)
	RegisterAsset(ctx context.Context, contract ContractInfo) error
	PostCommitment(ctx context.Context, commitment Commitment) error
	// QueryIncoming returns nil without error when nothing was posted for the recipient.
	QueryIncoming(ctx context.Context, recipientID string) (*Commitment, error)
	// GetTransfer returns nil without error when the relay does not know the transfer.
	GetTransfer(ctx context.Context, transferID string) (*Commitment, error)
	Ack(ctx context.Context, recipientID string, accepted bool) error
}
