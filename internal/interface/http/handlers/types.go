package handlers

import (
	"github.com/shiro-wallet/shirod/internal/core/application"
	"github.com/shiro-wallet/shirod/internal/core/domain"
)

type restoreKeysRequest struct {
	Mnemonic string `json:"mnemonic"`
}

type initWalletRequest struct {
	Mnemonic string `json:"mnemonic"`
	Password string `json:"password"`
}

type unlockRequest struct {
	Password string `json:"password"`
}

type goOnlineRequest struct {
	ChainURL string `json:"chain_url"`
	RelayURL string `json:"relay_url"`
}

type invoiceRequest struct {
	AssetID string `json:"asset_id"`
	Amount  uint64 `json:"amount"`
}

type issueRequest struct {
	Ticker      string `json:"ticker"`
	Name        string `json:"name"`
	TotalSupply uint64 `json:"total_supply"`
	Precision   uint8  `json:"precision"`
}

type sendRequest struct {
	AssetID string `json:"asset_id"`
	Amount  uint64 `json:"amount"`
	Invoice string `json:"invoice"`
	FeeRate uint64 `json:"fee_rate"`
}

type drainToRequest struct {
	Address string `json:"address"`
	FeeRate uint64 `json:"fee_rate"`
}

type createUtxosRequest struct {
	Count   uint32 `json:"count"`
	Size    uint64 `json:"size"`
	FeeRate uint64 `json:"fee_rate"`
}

type deleteTransfersRequest struct {
	TransferIDs []string `json:"transfer_ids"`
}

type keysResponse struct {
	Mnemonic    string `json:"mnemonic"`
	AccountXpub string `json:"account_xpub"`
	Fingerprint string `json:"fingerprint"`
}

type identity struct {
	AccountXpub string `json:"account_xpub"`
	Fingerprint string `json:"fingerprint"`
	IssuerKey   string `json:"issuer_key"`
	Network     string `json:"network"`
}

type statusResponse struct {
	Initialized     bool   `json:"initialized"`
	Unlocked        bool   `json:"unlocked"`
	Connectivity    string `json:"connectivity"`
	RecoveryPending bool   `json:"recovery_pending"`
}

type onlineResponse struct {
	ID          string `json:"id"`
	ChainURL    string `json:"chain_url"`
	RelayURL    string `json:"relay_url"`
	ConnectedAt int64  `json:"connected_at"`
}

type dataResponse struct {
	Datadir          string          `json:"datadir"`
	Identity         identity        `json:"identity"`
	Status           statusResponse  `json:"status"`
	Online           *onlineResponse `json:"online,omitempty"`
	UtxoCount        int             `json:"utxo_count"`
	AssetCount       int             `json:"asset_count"`
	PendingTransfers int             `json:"pending_transfers"`
}

type balance struct {
	Settled   uint64 `json:"settled"`
	Pending   uint64 `json:"pending"`
	Spendable uint64 `json:"spendable"`
	Future    uint64 `json:"future"`
}

type asset struct {
	AssetID     string   `json:"asset_id"`
	Ticker      string   `json:"ticker"`
	Name        string   `json:"name"`
	TotalSupply uint64   `json:"total_supply"`
	Precision   uint8    `json:"precision"`
	IssuedBy    string   `json:"issued_by"`
	IssuedAt    int64    `json:"issued_at"`
	Signature   string   `json:"signature,omitempty"`
	Balance     *balance `json:"balance,omitempty"`
}

type allocation struct {
	AssetID string `json:"asset_id"`
	Amount  uint64 `json:"amount"`
}

type unspent struct {
	Outpoint    string       `json:"outpoint"`
	Amount      uint64       `json:"amount"`
	Change      bool         `json:"change"`
	Confirmed   bool         `json:"confirmed"`
	Spent       bool         `json:"spent"`
	ReservedFor string       `json:"reserved_for,omitempty"`
	Allocations []allocation `json:"allocations"`
}

type invoiceResponse struct {
	Invoice     string `json:"invoice"`
	TransferID  string `json:"transfer_id"`
	RecipientID string `json:"recipient_id"`
	Address     string `json:"address"`
	ExpiresAt   int64  `json:"expires_at"`
}

type transfer struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Direction     string   `json:"direction"`
	AssetID       string   `json:"asset_id,omitempty"`
	Amount        uint64   `json:"amount"`
	Status        string   `json:"status"`
	RecipientID   string   `json:"recipient_id,omitempty"`
	Invoice       string   `json:"invoice,omitempty"`
	Destination   string   `json:"destination,omitempty"`
	Inputs        []string `json:"inputs,omitempty"`
	Fee           uint64   `json:"fee,omitempty"`
	Txid          string   `json:"txid,omitempty"`
	RelayAccepted bool     `json:"relay_accepted"`
	FailReason    string   `json:"fail_reason,omitempty"`
	ExpiresAt     int64    `json:"expires_at,omitempty"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
}

type transferUpdate struct {
	TransferID string `json:"transfer_id"`
	From       string `json:"from"`
	To         string `json:"to"`
}

type refreshResponse struct {
	Updates    []transferUpdate `json:"updates"`
	NewUtxos   int              `json:"new_utxos"`
	Spent      int              `json:"spent"`
	Incomplete bool             `json:"incomplete"`
}

type transferEvent struct {
	Transfer transfer `json:"transfer"`
	From     string   `json:"from"`
}

type errorResponse struct {
	Code     uint16            `json:"code"`
	Name     string            `json:"name"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func toKeys(info *application.KeysInfo) keysResponse {
	return keysResponse{
		Mnemonic:    info.Mnemonic,
		AccountXpub: info.AccountXpub,
		Fingerprint: info.Fingerprint,
	}
}

func toIdentity(id domain.WalletIdentity) identity {
	return identity{
		AccountXpub: id.AccountXpub,
		Fingerprint: id.Fingerprint,
		IssuerKey:   id.IssuerKey,
		Network:     id.Network,
	}
}

func toStatus(s application.WalletStatus) statusResponse {
	return statusResponse{
		Initialized:     s.IsInitialized,
		Unlocked:        s.IsUnlocked,
		Connectivity:    string(s.Connectivity),
		RecoveryPending: s.RecoveryPending,
	}
}

func toOnline(h *domain.ConnectivityHandle) *onlineResponse {
	if h == nil {
		return nil
	}
	return &onlineResponse{
		ID:          h.ID,
		ChainURL:    h.ChainURL,
		RelayURL:    h.RelayURL,
		ConnectedAt: h.ConnectedAt.Unix(),
	}
}

func toData(d *application.WalletData) dataResponse {
	return dataResponse{
		Datadir:          d.Datadir,
		Identity:         toIdentity(d.Identity),
		Status:           toStatus(d.Status),
		Online:           toOnline(d.Handle),
		UtxoCount:        d.UtxoCount,
		AssetCount:       d.AssetCount,
		PendingTransfers: d.PendingTransfers,
	}
}

func toBalance(b domain.Balance) *balance {
	return &balance{
		Settled:   b.Settled,
		Pending:   b.Pending,
		Spendable: b.Spendable,
		Future:    b.Future,
	}
}

func toAsset(c domain.AssetContract) asset {
	return asset{
		AssetID:     c.AssetID,
		Ticker:      c.Ticker,
		Name:        c.Name,
		TotalSupply: c.TotalSupply,
		Precision:   c.Precision,
		IssuedBy:    c.IssuedBy,
		IssuedAt:    c.IssuedAt,
		Signature:   c.Signature,
	}
}

func toAssets(list []application.AssetInfo) []asset {
	assets := make([]asset, 0, len(list))
	for _, info := range list {
		a := toAsset(info.AssetContract)
		a.Balance = toBalance(info.Balance)
		assets = append(assets, a)
	}
	return assets
}

func toUnspents(list []application.Unspent) []unspent {
	unspents := make([]unspent, 0, len(list))
	for _, u := range list {
		allocations := make([]allocation, 0, len(u.Allocations))
		for _, a := range u.Allocations {
			allocations = append(allocations, allocation{AssetID: a.AssetID, Amount: a.Amount})
		}
		unspents = append(unspents, unspent{
			Outpoint:    u.Outpoint.String(),
			Amount:      u.Amount,
			Change:      u.Change,
			Confirmed:   u.Confirmed,
			Spent:       u.Spent,
			ReservedFor: u.ReservedFor,
			Allocations: allocations,
		})
	}
	return unspents
}

func toInvoice(info *application.InvoiceInfo) invoiceResponse {
	return invoiceResponse{
		Invoice:     info.Invoice,
		TransferID:  info.TransferID,
		RecipientID: info.RecipientID,
		Address:     info.Address,
		ExpiresAt:   info.ExpiresAt,
	}
}

func toTransfer(t domain.Transfer) transfer {
	var inputs []string
	for _, in := range t.Inputs {
		inputs = append(inputs, in.String())
	}
	invoice := t.Invoice
	if t.Direction == domain.Outgoing {
		invoice = t.RecipientInvoice
	}
	return transfer{
		ID:            t.ID,
		Kind:          string(t.Kind),
		Direction:     string(t.Direction),
		AssetID:       t.AssetID,
		Amount:        t.Amount,
		Status:        string(t.Status),
		RecipientID:   t.RecipientID,
		Invoice:       invoice,
		Destination:   t.Destination,
		Inputs:        inputs,
		Fee:           t.Fee,
		Txid:          t.Txid,
		RelayAccepted: t.RelayAccepted,
		FailReason:    t.FailReason,
		ExpiresAt:     t.ExpiresAt,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func toTransfers(list []domain.Transfer) []transfer {
	transfers := make([]transfer, 0, len(list))
	for _, t := range list {
		transfers = append(transfers, toTransfer(t))
	}
	return transfers
}

func toRefresh(r *application.RefreshReport) refreshResponse {
	updates := make([]transferUpdate, 0, len(r.Updates))
	for _, u := range r.Updates {
		updates = append(updates, transferUpdate{
			TransferID: u.TransferID,
			From:       string(u.From),
			To:         string(u.To),
		})
	}
	return refreshResponse{
		Updates:    updates,
		NewUtxos:   r.NewUtxos,
		Spent:      r.Spent,
		Incomplete: r.Incomplete,
	}
}
