package application

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/pkg/errors"
)

const invoiceScheme = "shiro"

// recipientID hides the receive script behind the blinding factor.
func recipientID(blindingFactor, pkScript []byte) string {
	h := sha256.New()
	h.Write(blindingFactor)
	h.Write(pkScript)
	return hex.EncodeToString(h.Sum(nil))
}

// transferCommitment is the hash embedded in the OP_RETURN output of an asset transfer tx.
func transferCommitment(
	transferID, recipientID, assetID string, amount uint64, vout uint32,
) []byte {
	h := sha256.New()
	h.Write([]byte(transferID))
	h.Write([]byte(recipientID))
	h.Write([]byte(assetID))
	// nolint:errcheck
	binary.Write(h, binary.BigEndian, amount)
	// nolint:errcheck
	binary.Write(h, binary.BigEndian, vout)
	return h.Sum(nil)
}

func encodeInvoice(inv domain.Invoice) string {
	values := url.Values{}
	values.Set("address", inv.Address)
	values.Set("network", inv.Network)
	values.Set("expiry", strconv.FormatInt(inv.ExpiresAt, 10))
	if inv.AssetID != "" {
		values.Set("asset", inv.AssetID)
	}
	if inv.Amount > 0 {
		values.Set("amount", strconv.FormatUint(inv.Amount, 10))
	}
	if inv.RelayURL != "" {
		values.Set("relay", inv.RelayURL)
	}
	return fmt.Sprintf("%s:%s?%s", invoiceScheme, inv.RecipientID, values.Encode())
}

func decodeInvoice(invoice string, network *chaincfg.Params) (*domain.Invoice, error) {
	invalid := func(format string, args ...any) error {
		return errors.INVALID_INVOICE.New(format, args...).
			WithMetadata(errors.InvoiceMetadata{Invoice: invoice})
	}

	prefix := invoiceScheme + ":"
	if !strings.HasPrefix(invoice, prefix) {
		return nil, invalid("invoice must start with %s", prefix)
	}
	body := strings.TrimPrefix(invoice, prefix)
	id, query, ok := strings.Cut(body, "?")
	if !ok {
		return nil, invalid("missing invoice parameters")
	}
	if decoded, err := hex.DecodeString(id); err != nil || len(decoded) != sha256.Size {
		return nil, invalid("invalid recipient id")
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return nil, invalid("invalid invoice parameters: %s", err)
	}

	inv := &domain.Invoice{
		RecipientID: id,
		AssetID:     values.Get("asset"),
		Address:     values.Get("address"),
		Network:     values.Get("network"),
		RelayURL:    values.Get("relay"),
	}
	if inv.Network != network.Name {
		return nil, invalid("invoice is for network %s, wallet is on %s", inv.Network, network.Name)
	}
	addr, err := btcutil.DecodeAddress(inv.Address, network)
	if err != nil || !addr.IsForNet(network) {
		return nil, invalid("invalid invoice address %s", inv.Address)
	}
	if expiry := values.Get("expiry"); expiry != "" {
		if inv.ExpiresAt, err = strconv.ParseInt(expiry, 10, 64); err != nil {
			return nil, invalid("invalid expiry %s", expiry)
		}
	}
	if amount := values.Get("amount"); amount != "" {
		if inv.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
			return nil, invalid("invalid amount %s", amount)
		}
	}
	return inv, nil
}
