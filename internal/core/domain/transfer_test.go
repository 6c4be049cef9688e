package domain_test

import (
	"testing"
	"time"

	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/pkg/errors"
	"github.com/stretchr/testify/require"
)

var now = time.Unix(1_700_000_000, 0)

func TestTransferLifecycle(t *testing.T) {
	t.Run("settle", func(t *testing.T) {
		transfer := domain.NewOutgoingTransfer(
			"id", domain.TransferKindAsset, "asset1", 300, now, now.Add(time.Hour),
		)
		require.Equal(t, domain.TransferCreated, transfer.Status)
		require.False(t, transfer.OnChain())

		require.NoError(t, transfer.Blind("txid", "00", "commitment", now))
		require.Equal(t, "txid", transfer.Txid)
		require.NoError(t, transfer.MarkBroadcast("", now))
		require.Equal(t, "txid", transfer.Txid)
		require.True(t, transfer.OnChain())
		require.NoError(t, transfer.MarkConfirming(now.Add(time.Minute)))
		require.NoError(t, transfer.Settle(now.Add(2*time.Minute)))
		require.True(t, transfer.IsTerminal())
		require.Equal(t, now.Add(2*time.Minute).Unix(), transfer.UpdatedAt)
	})

	t.Run("fail", func(t *testing.T) {
		transfer := domain.NewIncomingTransfer(
			"id", "asset1", 300, "recipient", "address", 0, now, now.Add(time.Hour),
		)
		require.NoError(t, transfer.Fail("rejected", now))
		require.Equal(t, "rejected", transfer.FailReason)
		require.True(t, transfer.IsTerminal())
	})

	t.Run("expire", func(t *testing.T) {
		transfer := domain.NewIncomingTransfer(
			"id", "asset1", 300, "recipient", "address", 0, now, now.Add(time.Hour),
		)
		require.False(t, transfer.IsExpired(now))
		require.True(t, transfer.IsExpired(now.Add(time.Hour)))
		require.NoError(t, transfer.Expire(now.Add(time.Hour)))
		require.Equal(t, domain.TransferExpired, transfer.Status)
	})

	t.Run("expire while confirming", func(t *testing.T) {
		transfer := domain.NewOutgoingTransfer(
			"id", domain.TransferKindAsset, "asset1", 300, now, now.Add(time.Hour),
		)
		require.NoError(t, transfer.Blind("txid", "00", "", now))
		require.NoError(t, transfer.MarkBroadcast("txid", now))
		require.NoError(t, transfer.MarkConfirming(now))
		require.NoError(t, transfer.Expire(now.Add(time.Hour)))
		require.Equal(t, domain.TransferExpired, transfer.Status)
		require.True(t, transfer.IsTerminal())
	})
}

func TestTransferInvalidTransitions(t *testing.T) {
	fixtures := []struct {
		name string
		from domain.TransferStatus
		move func(*domain.Transfer) error
	}{
		{"created to confirming", domain.TransferCreated, func(t *domain.Transfer) error {
			return t.MarkConfirming(now)
		}},
		{"created to settled", domain.TransferCreated, func(t *domain.Transfer) error {
			return t.Settle(now)
		}},
		{"settled to expired", domain.TransferSettled, func(t *domain.Transfer) error {
			return t.Expire(now)
		}},
		{"settled to failed", domain.TransferSettled, func(t *domain.Transfer) error {
			return t.Fail("late", now)
		}},
		{"failed to broadcast", domain.TransferFailed, func(t *domain.Transfer) error {
			return t.MarkBroadcast("txid", now)
		}},
		{"expired to blinded", domain.TransferExpired, func(t *domain.Transfer) error {
			return t.Blind("txid", "00", "", now)
		}},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			transfer := domain.NewOutgoingTransfer(
				"id", domain.TransferKindDrain, "", 0, now, now.Add(time.Hour),
			)
			transfer.Status = f.from

			err := f.move(transfer)
			require.Error(t, err)
			require.True(t, errors.INVALID_TRANSFER_STATE.Is(err))
			require.Equal(t, f.from, transfer.Status)
			require.Empty(t, transfer.Txid)
		})
	}
}

func TestTransferChangeOutput(t *testing.T) {
	transfer := domain.NewOutgoingTransfer(
		"id", domain.TransferKindAsset, "asset1", 300, now, time.Time{},
	)
	require.Nil(t, transfer.ChangeOutput())
	require.False(t, transfer.IsExpired(now))

	transfer.Outputs = []domain.TransferOutput{{VOut: 0}, {VOut: 2, Change: true}}
	change := transfer.ChangeOutput()
	require.NotNil(t, change)
	require.Equal(t, uint32(2), change.VOut)
}
