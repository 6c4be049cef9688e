package domain

import "time"

// WalletIdentity is the public metadata of the wallet keys.
type WalletIdentity struct {
	AccountXpub string
	Fingerprint string
	IssuerKey   string
	Network     string
}

// KeyIndexes tracks the next unused derivation index for each key chain.
type KeyIndexes struct {
	Receive  uint32
	Change   uint32
	Blinding uint32
}

// WalletSnapshot is the persisted form of the wallet state. It never holds key material.
type WalletSnapshot struct {
	Identity    WalletIdentity
	Indexes     KeyIndexes
	Utxos       []Utxo
	Contracts   []AssetContract
	Allocations []AssetAllocation
	Transfers   []Transfer
	UpdatedAt   int64
}

type ConnectivityState string

const (
	Offline    ConnectivityState = "offline"
	Connecting ConnectivityState = "connecting"
	Online     ConnectivityState = "online"
)

// ConnectivityHandle identifies one online session. It is never persisted.
type ConnectivityHandle struct {
	ID          string
	ChainURL    string
	RelayURL    string
	ConnectedAt time.Time
}

// Invoice is what a recipient hands to a sender.
type Invoice struct {
	RecipientID string
	AssetID     string
	Amount      uint64
	Address     string
	Network     string
	ExpiresAt   int64
	RelayURL    string
}
