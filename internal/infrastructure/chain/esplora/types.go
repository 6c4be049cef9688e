package esplora

// txStatus is the confirmation status of a tx as reported by the explorer.
type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

type utxo struct {
	TxID   string   `json:"txid"`
	Vout   uint32   `json:"vout"`
	Status txStatus `json:"status"`
	Value  int64    `json:"value"`
}

// feeEstimates maps a confirmation target in blocks to a fee rate in sat/vB.
type feeEstimates map[string]float64
