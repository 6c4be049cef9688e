package domain

import (
	"encoding/json"
	"time"

	"github.com/shiro-wallet/shirod/pkg/errors"
)

type TransferKind string

const (
	TransferKindAsset       TransferKind = "asset"
	TransferKindDrain       TransferKind = "drain"
	TransferKindCreateUtxos TransferKind = "create_utxos"
)

type TransferDirection string

const (
	Incoming TransferDirection = "incoming"
	Outgoing TransferDirection = "outgoing"
)

type TransferStatus string

const (
	TransferCreated    TransferStatus = "created"
	TransferBlinded    TransferStatus = "blinded"
	TransferBroadcast  TransferStatus = "broadcast"
	TransferConfirming TransferStatus = "confirming"
	TransferSettled    TransferStatus = "settled"
	TransferFailed     TransferStatus = "failed"
	TransferExpired    TransferStatus = "expired"
)

var allowedTransitions = map[TransferStatus][]TransferStatus{
	TransferCreated:    {TransferBlinded, TransferFailed, TransferExpired},
	TransferBlinded:    {TransferBroadcast, TransferFailed, TransferExpired},
	TransferBroadcast:  {TransferConfirming, TransferFailed, TransferExpired},
	TransferConfirming: {TransferSettled, TransferFailed, TransferExpired},
}

func (s TransferStatus) IsTerminal() bool {
	return s == TransferSettled || s == TransferFailed || s == TransferExpired
}

func (s TransferStatus) canMoveTo(to TransferStatus) bool {
	for _, allowed := range allowedTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TransferOutput is an output created by a transfer tx that returns to the wallet.
type TransferOutput struct {
	VOut        uint32
	Amount      uint64
	PkScript    string
	KeyIndex    uint32
	Change      bool
	Allocations []AssetAllocation
}

// Transfer tracks one movement of assets or bitcoin in or out of the wallet.
type Transfer struct {
	ID        string
	Kind      TransferKind
	Direction TransferDirection
	AssetID   string
	Amount    uint64
	Status    TransferStatus

	// Incoming only.
	RecipientID   string
	Address       string
	BlindingIndex uint32
	Invoice       string

	// Outgoing only.
	RecipientInvoice string
	Destination      string
	Inputs           []Outpoint
	Outputs          []TransferOutput
	Fee              uint64

	Txid          string
	TxHex         string
	Commitment    string
	RelayAccepted bool
	FailReason    string

	ExpiresAt int64
	CreatedAt int64
	UpdatedAt int64
}

func NewIncomingTransfer(
	id, assetID string, amount uint64, recipientID, address string, blindingIndex uint32,
	createdAt, expiresAt time.Time,
) *Transfer {
	return &Transfer{
		ID:            id,
		Kind:          TransferKindAsset,
		Direction:     Incoming,
		AssetID:       assetID,
		Amount:        amount,
		Status:        TransferCreated,
		RecipientID:   recipientID,
		Address:       address,
		BlindingIndex: blindingIndex,
		ExpiresAt:     expiresAt.Unix(),
		CreatedAt:     createdAt.Unix(),
		UpdatedAt:     createdAt.Unix(),
	}
}

func NewOutgoingTransfer(
	id string, kind TransferKind, assetID string, amount uint64, createdAt, expiresAt time.Time,
) *Transfer {
	return &Transfer{
		ID:        id,
		Kind:      kind,
		Direction: Outgoing,
		AssetID:   assetID,
		Amount:    amount,
		Status:    TransferCreated,
		ExpiresAt: expiresAt.Unix(),
		CreatedAt: createdAt.Unix(),
		UpdatedAt: createdAt.Unix(),
	}
}

func (t Transfer) String() string {
	// nolint
	b, _ := json.MarshalIndent(t, "", "  ")
	return string(b)
}

func (t *Transfer) IsTerminal() bool {
	return t.Status.IsTerminal()
}

func (t *Transfer) IsExpired(now time.Time) bool {
	return t.ExpiresAt > 0 && now.Unix() >= t.ExpiresAt
}

// OnChain reports whether the transfer tx may already be known to the network.
func (t *Transfer) OnChain() bool {
	return t.Status == TransferBroadcast || t.Status == TransferConfirming
}

// ChangeOutput returns the output carrying the change allocations, if any.
func (t *Transfer) ChangeOutput() *TransferOutput {
	for i := range t.Outputs {
		if t.Outputs[i].Change {
			return &t.Outputs[i]
		}
	}
	return nil
}

func (t *Transfer) Blind(txid, txHex, commitment string, now time.Time) error {
	if err := t.moveTo(TransferBlinded, now); err != nil {
		return err
	}
	t.Txid = txid
	t.TxHex = txHex
	t.Commitment = commitment
	return nil
}

func (t *Transfer) MarkBroadcast(txid string, now time.Time) error {
	if err := t.moveTo(TransferBroadcast, now); err != nil {
		return err
	}
	if txid != "" {
		t.Txid = txid
	}
	return nil
}

func (t *Transfer) MarkConfirming(now time.Time) error {
	return t.moveTo(TransferConfirming, now)
}

func (t *Transfer) Settle(now time.Time) error {
	return t.moveTo(TransferSettled, now)
}

func (t *Transfer) Fail(reason string, now time.Time) error {
	if err := t.moveTo(TransferFailed, now); err != nil {
		return err
	}
	t.FailReason = reason
	return nil
}

func (t *Transfer) Expire(now time.Time) error {
	return t.moveTo(TransferExpired, now)
}

func (t *Transfer) moveTo(to TransferStatus, now time.Time) error {
	if !t.Status.canMoveTo(to) {
		return errors.INVALID_TRANSFER_STATE.New(
			"transfer %s cannot move from %s to %s", t.ID, t.Status, to,
		).WithMetadata(errors.TransferStateMetadata{
			TransferID: t.ID,
			From:       string(t.Status),
			To:         string(to),
		})
	}
	t.Status = to
	t.UpdatedAt = now.Unix()
	return nil
}
