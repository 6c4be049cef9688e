package domain

import (
	"encoding/json"
)

// Utxo is a bitcoin output controlled by the wallet.
type Utxo struct {
	Outpoint
	Amount      uint64
	PkScript    string
	KeyIndex    uint32
	Change      bool
	ReservedFor string
	Spent       bool
	Confirmed   bool
	CreatedAt   int64
}

func (u Utxo) String() string {
	// nolint
	b, _ := json.MarshalIndent(u, "", "  ")
	return string(b)
}

func (u Utxo) IsReserved() bool {
	return u.ReservedFor != ""
}

func (u Utxo) IsSpendable() bool {
	return !u.Spent && !u.IsReserved()
}
