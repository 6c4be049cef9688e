package application

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testInvoice(t *testing.T) domain.Invoice {
	vault := newTestVault(t, nil)
	addr, script, err := vault.address(keyPurpose{receiveChain, 0})
	require.NoError(t, err)
	factor, err := vault.blindingFactor(0)
	require.NoError(t, err)

	return domain.Invoice{
		RecipientID: recipientID(factor, script),
		AssetID:     "asset1" + strings.Repeat("ab", 20),
		Amount:      300,
		Address:     addr,
		Network:     chaincfg.RegressionNetParams.Name,
		ExpiresAt:   testStartTime.Unix(),
		RelayURL:    "http://relay.local:3000/json-rpc",
	}
}

func TestInvoiceEncoding(t *testing.T) {
	inv := testInvoice(t)

	t.Run("valid", func(t *testing.T) {
		encoded := encodeInvoice(inv)
		require.True(t, strings.HasPrefix(encoded, "shiro:"+inv.RecipientID+"?"))

		decoded, err := decodeInvoice(encoded, &chaincfg.RegressionNetParams)
		require.NoError(t, err)
		require.Equal(t, inv, *decoded)
	})

	t.Run("any amount", func(t *testing.T) {
		open := inv
		open.Amount = 0
		open.AssetID = ""
		decoded, err := decodeInvoice(encodeInvoice(open), &chaincfg.RegressionNetParams)
		require.NoError(t, err)
		require.Zero(t, decoded.Amount)
		require.Empty(t, decoded.AssetID)
	})

	t.Run("invalid", func(t *testing.T) {
		otherNetwork := inv
		otherNetwork.Network = chaincfg.TestNet3Params.Name
		badAddress := inv
		badAddress.Address = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
		badRecipient := inv
		badRecipient.RecipientID = "abcd"
		noAmount := inv
		noAmount.Amount = 0

		fixtures := []struct {
			name    string
			invoice string
		}{
			{"wrong scheme", strings.Replace(encodeInvoice(inv), "shiro:", "rgb:", 1)},
			{"missing params", "shiro:" + inv.RecipientID},
			{"short recipient id", encodeInvoice(badRecipient)},
			{"other network", encodeInvoice(otherNetwork)},
			{"address on other network", encodeInvoice(badAddress)},
			{"bad amount", encodeInvoice(noAmount) + "&amount=x"},
			{"bad expiry", strings.Replace(encodeInvoice(inv), "expiry=", "expiry=x", 1)},
		}
		for _, f := range fixtures {
			t.Run(f.name, func(t *testing.T) {
				_, err := decodeInvoice(f.invoice, &chaincfg.RegressionNetParams)
				require.Error(t, err)
				require.True(t, errors.INVALID_INVOICE.Is(err))
			})
		}
	})
}

func TestTransferCommitment(t *testing.T) {
	a := transferCommitment("id", "recipient", "asset", 300, 0)
	require.Len(t, a, 32)
	require.Equal(t, a, transferCommitment("id", "recipient", "asset", 300, 0))
	require.NotEqual(t, a, transferCommitment("id", "recipient", "asset", 301, 0))
	require.NotEqual(t, a, transferCommitment("id", "recipient", "asset", 300, 1))
	require.NotEqual(t, a, transferCommitment("other", "recipient", "asset", 300, 0))
	require.NotEqual(t, a, transferCommitment("id", "other", "asset", 300, 0))

	preimage := []byte("idrecipientasset")
	preimage = binary.BigEndian.AppendUint64(preimage, 300)
	preimage = binary.BigEndian.AppendUint32(preimage, 0)
	digest := sha256.Sum256(preimage)
	require.Equal(t, digest[:], a)
}
