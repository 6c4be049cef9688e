package application

import (
	"encoding/hex"
	"testing"

	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/pkg/errors"
	"github.com/stretchr/testify/require"
)

func testContract(t *testing.T, vault *keyVault, ticker string, supply uint64) domain.AssetContract {
	identity, err := vault.identity()
	require.NoError(t, err)

	genesis := testUtxo(1, 0).Outpoint
	assetID := computeAssetID(identity.IssuerKey, genesis, ticker, supply, 0)
	contract, err := domain.NewAssetContract(
		assetID, ticker, ticker, supply, 0, identity.IssuerKey, testStartTime.Unix(),
	)
	require.NoError(t, err)
	sig, err := vault.signDigest(keyPurpose{issuerChain, 0}, contractDigest(*contract))
	require.NoError(t, err)
	contract.Signature = hex.EncodeToString(sig)
	return *contract
}

func TestAssetRegistryBalance(t *testing.T) {
	vault := newTestVault(t, nil)
	gold := testContract(t, vault, "GOLD", 1000)

	ledger := newUtxoLedger([]domain.Utxo{testUtxo(1, 5000), testUtxo(2, 5000)})
	registry := newAssetRegistry([]domain.AssetContract{gold}, nil)
	require.False(t, registry.register(gold))

	registry.recordAllocation(domain.AssetAllocation{
		AssetID: gold.AssetID, Outpoint: testUtxo(1, 0).Outpoint, Amount: 600,
	})
	registry.recordAllocation(domain.AssetAllocation{
		AssetID: gold.AssetID, Outpoint: testUtxo(1, 0).Outpoint, Amount: 100,
	})
	registry.recordAllocation(domain.AssetAllocation{
		AssetID: gold.AssetID, Outpoint: testUtxo(2, 0).Outpoint, Amount: 300,
	})
	require.Len(t, registry.allocationsAt(testUtxo(1, 0).Outpoint), 1)
	require.Equal(t, uint64(700), registry.allocationAmount(testUtxo(1, 0).Outpoint, gold.AssetID))
	require.NoError(t, registry.reconcile(ledger))

	u, _ := ledger.get(testUtxo(1, 0).Outpoint)
	require.NoError(t, ledger.reserve("send", []domain.Utxo{u}))

	incoming := &domain.Transfer{
		Kind: domain.TransferKindAsset, Direction: domain.Incoming, AssetID: gold.AssetID,
		Amount: 50, Status: domain.TransferConfirming,
	}
	outgoing := &domain.Transfer{
		Kind: domain.TransferKindAsset, Direction: domain.Outgoing, AssetID: gold.AssetID,
		Amount: 200, Status: domain.TransferBroadcast,
	}
	invoice := &domain.Transfer{
		Kind: domain.TransferKindAsset, Direction: domain.Incoming, AssetID: gold.AssetID,
		Amount: 10, Status: domain.TransferCreated,
	}

	balance, err := registry.balance(
		gold.AssetID, ledger, []*domain.Transfer{incoming, outgoing, invoice},
	)
	require.NoError(t, err)
	require.Equal(t, domain.Balance{
		Settled:   1000,
		Pending:   50,
		Spendable: 300,
		Future:    850,
	}, *balance)

	_, err = registry.balance("asset1unknown", ledger, nil)
	require.True(t, errors.UNKNOWN_ASSET.Is(err))
}

func TestAssetRegistryReconcile(t *testing.T) {
	vault := newTestVault(t, nil)
	gold := testContract(t, vault, "GOLD", 1000)
	outpoint := testUtxo(1, 0).Outpoint

	t.Run("spent utxo", func(t *testing.T) {
		ledger := newUtxoLedger([]domain.Utxo{testUtxo(1, 5000)})
		registry := newAssetRegistry([]domain.AssetContract{gold}, []domain.AssetAllocation{
			{AssetID: gold.AssetID, Outpoint: outpoint, Amount: 1000},
		})
		ledger.markSpent(outpoint)
		require.Error(t, registry.reconcile(ledger))

		removed := registry.removeAllocations(outpoint)
		require.Len(t, removed, 1)
		require.NoError(t, registry.reconcile(ledger))
		require.Zero(t, registry.settledBalance(gold.AssetID))
	})

	t.Run("unknown utxo", func(t *testing.T) {
		registry := newAssetRegistry([]domain.AssetContract{gold}, []domain.AssetAllocation{
			{AssetID: gold.AssetID, Outpoint: outpoint, Amount: 1000},
		})
		require.Error(t, registry.reconcile(newUtxoLedger(nil)))
	})

	t.Run("drift", func(t *testing.T) {
		ledger := newUtxoLedger([]domain.Utxo{testUtxo(1, 5000)})
		registry := newAssetRegistry([]domain.AssetContract{gold}, []domain.AssetAllocation{
			{AssetID: gold.AssetID, Outpoint: outpoint, Amount: 1000},
		})
		registry.settled[gold.AssetID] = 999
		require.Error(t, registry.reconcile(ledger))
	})

	t.Run("unregistered asset", func(t *testing.T) {
		ledger := newUtxoLedger([]domain.Utxo{testUtxo(1, 5000)})
		registry := newAssetRegistry(nil, []domain.AssetAllocation{
			{AssetID: gold.AssetID, Outpoint: outpoint, Amount: 1000},
		})
		require.Error(t, registry.reconcile(ledger))
	})
}

func TestContractVerification(t *testing.T) {
	vault := newTestVault(t, nil)
	gold := testContract(t, vault, "GOLD", 1000)
	require.NoError(t, verifyContract(gold))

	tampered := gold
	tampered.TotalSupply = 2000
	require.Error(t, verifyContract(tampered))

	unsigned := gold
	unsigned.Signature = ""
	require.Error(t, verifyContract(unsigned))

	invalid := gold
	invalid.Ticker = "gold"
	require.Error(t, verifyContract(invalid))

	require.NotEqual(t, gold.AssetID, computeAssetID(gold.IssuedBy, testUtxo(2, 0).Outpoint, "GOLD", 1000, 0))
}
