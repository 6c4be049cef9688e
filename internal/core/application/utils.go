package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/shiro-wallet/shirod/pkg/errors"
)

var supportedNetworks = map[string]*chaincfg.Params{
	chaincfg.MainNetParams.Name:       &chaincfg.MainNetParams,
	chaincfg.TestNet3Params.Name:      &chaincfg.TestNet3Params,
	chaincfg.SigNetParams.Name:        &chaincfg.SigNetParams,
	chaincfg.RegressionNetParams.Name: &chaincfg.RegressionNetParams,
	"bitcoin":                         &chaincfg.MainNetParams,
	"testnet":                         &chaincfg.TestNet3Params,
}

func networkParams(name string) (*chaincfg.Params, error) {
	params, ok := supportedNetworks[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported network %s", name)
	}
	return params, nil
}

func (s *service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.NetworkTimeout)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// networkError maps a failure of the chain or relay link to a typed error.
func (s *service) networkError(operation string, err error) error {
	if isTimeout(err) {
		return errors.NETWORK_TIMEOUT.New("%s timed out: %w", operation, err).
			WithMetadata(errors.TimeoutMetadata{Operation: operation})
	}
	return errors.LINK_UNAVAILABLE.New("%s failed: %w", operation, err).
		WithMetadata(errors.LinkMetadata{Endpoint: s.endpoint()})
}

// broadcastError maps a failure of a send broadcast step.
func broadcastError(transferID, operation string, err error) error {
	if isTimeout(err) {
		return errors.NETWORK_TIMEOUT.New(
			"%s of transfer %s timed out: %w", operation, transferID, err,
		).WithMetadata(errors.TimeoutMetadata{Operation: operation})
	}
	return errors.RELAY_REJECTED.New(
		"%s of transfer %s rejected: %w", operation, transferID, err,
	).WithMetadata(errors.RelayRejectedMetadata{TransferID: transferID, Reason: err.Error()})
}

func (s *service) endpoint() string {
	if s.conn.handle == nil {
		return ""
	}
	return s.conn.handle.RelayURL
}

func decodeTxHex(txHex string) (*wire.MsgTx, error) {
	buf, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(buf)); err != nil {
		return nil, err
	}
	return tx, nil
}

func contractInfo(c domain.AssetContract) *ports.ContractInfo {
	return &ports.ContractInfo{
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

func contractFromInfo(info *ports.ContractInfo) domain.AssetContract {
	return domain.AssetContract{
		AssetID:     info.AssetID,
		Ticker:      info.Ticker,
		Name:        info.Name,
		TotalSupply: info.TotalSupply,
		Precision:   info.Precision,
		IssuedBy:    info.IssuedBy,
		IssuedAt:    info.IssuedAt,
		Signature:   info.Signature,
	}
}

func unixToTime(ts int64) time.Time {
	return time.Unix(ts, 0)
}
