package ports

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
)

var ErrTxNotFound = errors.New("transaction not found")

type ChainUtxo struct {
	Txid        string
	VOut        uint32
	Amount      uint64
	Confirmed   bool
	BlockHeight int64
}

type ChainService interface {
	GetUtxos(ctx context.Context, address string) ([]ChainUtxo, error)
	// GetConfirmations returns ErrTxNotFound if the tx is unknown to the chain backend.
	GetConfirmations(ctx context.Context, txid string) (uint32, error)
	Broadcast(ctx context.Context, txHex string) (string, error)
	FeeRate(ctx context.Context) (chainfee.SatPerKVByte, error)
	TipHeight(ctx context.Context) (int64, error)
}
