package jsonrpc

import "encoding/json"

const (
	jsonrpcVersion = "2.0"

	methodServerInfo      = "server.info"
	methodAssetRegister   = "asset.register"
	methodConsignmentPost = "consignment.post"
	methodConsignmentGet  = "consignment.get"
	methodTransferGet     = "transfer.get"
	methodAckPost         = "ack.post"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type infoResult struct {
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
}

type contract struct {
	AssetID     string `json:"asset_id"`
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	TotalSupply uint64 `json:"total_supply"`
	Precision   uint8  `json:"precision"`
	IssuedBy    string `json:"issued_by"`
	IssuedAt    int64  `json:"issued_at"`
	Signature   string `json:"signature"`
}

type consignment struct {
	TransferID  string   `json:"transfer_id"`
	RecipientID string   `json:"recipient_id"`
	AssetID     string   `json:"asset_id"`
	Amount      uint64   `json:"amount"`
	Txid        string   `json:"txid"`
	TxHex       string   `json:"tx_hex"`
	Vout        uint32   `json:"vout"`
	Commitment  string   `json:"commitment"`
	Contract    contract `json:"contract"`
}

type recipientParams struct {
	RecipientID string `json:"recipient_id"`
}

type transferParams struct {
	TransferID string `json:"transfer_id"`
}

type ackParams struct {
	RecipientID string `json:"recipient_id"`
	Accepted    bool   `json:"accepted"`
}
