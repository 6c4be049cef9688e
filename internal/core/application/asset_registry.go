package application

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/pkg/errors"
)

const assetIDPrefix = "asset1"

// computeAssetID binds the asset id to the issuer key, the genesis outpoint and the contract terms.
func computeAssetID(
	issuerKey string, genesis domain.Outpoint, ticker string, totalSupply uint64, precision uint8,
) string {
	h := sha256.New()
	h.Write([]byte(issuerKey))
	h.Write([]byte(genesis.String()))
	h.Write([]byte(ticker))
	// nolint:errcheck
	binary.Write(h, binary.BigEndian, totalSupply)
	h.Write([]byte{precision})
	return assetIDPrefix + hex.EncodeToString(h.Sum(nil))[:40]
}

// contractDigest is the message signed by the issuer key.
func contractDigest(c domain.AssetContract) []byte {
	h := sha256.New()
	h.Write([]byte(c.AssetID))
	h.Write([]byte(c.Ticker))
	h.Write([]byte(c.Name))
	// nolint:errcheck
	binary.Write(h, binary.BigEndian, c.TotalSupply)
	h.Write([]byte{c.Precision})
	h.Write([]byte(c.IssuedBy))
	// nolint:errcheck
	binary.Write(h, binary.BigEndian, c.IssuedAt)
	return h.Sum(nil)
}

func verifyContract(c domain.AssetContract) error {
	if err := c.Validate(); err != nil {
		return err
	}
	buf, err := hex.DecodeString(c.IssuedBy)
	if err != nil {
		return fmt.Errorf("invalid issuer key: %s", err)
	}
	issuerKey, err := schnorr.ParsePubKey(buf)
	if err != nil {
		return fmt.Errorf("invalid issuer key: %s", err)
	}
	buf, err = hex.DecodeString(c.Signature)
	if err != nil {
		return fmt.Errorf("invalid contract signature: %s", err)
	}
	sig, err := schnorr.ParseSignature(buf)
	if err != nil {
		return fmt.Errorf("invalid contract signature: %s", err)
	}
	if !sig.Verify(contractDigest(c), issuerKey) {
		return fmt.Errorf("contract signature does not match issuer key")
	}
	return nil
}

// assetRegistry tracks contracts and their allocations on wallet outputs. The settled
// counters are kept alongside the allocations so that reconcile can detect drift.
type assetRegistry struct {
	contracts   map[string]domain.AssetContract
	allocations map[domain.Outpoint][]domain.AssetAllocation
	settled     map[string]uint64
}

func newAssetRegistry(
	contracts []domain.AssetContract, allocations []domain.AssetAllocation,
) *assetRegistry {
	r := &assetRegistry{
		contracts:   make(map[string]domain.AssetContract, len(contracts)),
		allocations: make(map[domain.Outpoint][]domain.AssetAllocation),
		settled:     make(map[string]uint64),
	}
	for _, c := range contracts {
		r.contracts[c.AssetID] = c
	}
	for _, a := range allocations {
		r.recordAllocation(a)
	}
	return r
}

// register adds a contract. Contracts are immutable, registering a known id is a no-op.
func (r *assetRegistry) register(contract domain.AssetContract) bool {
	if _, ok := r.contracts[contract.AssetID]; ok {
		return false
	}
	r.contracts[contract.AssetID] = contract
	return true
}

func (r *assetRegistry) contract(assetID string) (domain.AssetContract, error) {
	c, ok := r.contracts[assetID]
	if !ok {
		return domain.AssetContract{}, errors.UNKNOWN_ASSET.New(
			"asset %s not found", assetID,
		).WithMetadata(errors.AssetMetadata{AssetID: assetID})
	}
	return c, nil
}

func (r *assetRegistry) listContracts() []domain.AssetContract {
	contracts := make([]domain.AssetContract, 0, len(r.contracts))
	for _, c := range r.contracts {
		contracts = append(contracts, c)
	}
	sort.Slice(contracts, func(i, j int) bool {
		if contracts[i].Ticker != contracts[j].Ticker {
			return contracts[i].Ticker < contracts[j].Ticker
		}
		return contracts[i].AssetID < contracts[j].AssetID
	})
	return contracts
}

func (r *assetRegistry) recordAllocation(a domain.AssetAllocation) {
	if a.Amount == 0 {
		return
	}
	allocs := r.allocations[a.Outpoint]
	for i := range allocs {
		if allocs[i].AssetID == a.AssetID {
			allocs[i].Amount += a.Amount
			r.settled[a.AssetID] += a.Amount
			return
		}
	}
	r.allocations[a.Outpoint] = append(allocs, a)
	r.settled[a.AssetID] += a.Amount
}

// removeAllocations deletes every allocation bound to the outpoint and returns them.
func (r *assetRegistry) removeAllocations(outpoint domain.Outpoint) []domain.AssetAllocation {
	allocs, ok := r.allocations[outpoint]
	if !ok {
		return nil
	}
	delete(r.allocations, outpoint)
	for _, a := range allocs {
		r.settled[a.AssetID] -= a.Amount
	}
	return allocs
}

func (r *assetRegistry) allocationsAt(outpoint domain.Outpoint) []domain.AssetAllocation {
	allocs := r.allocations[outpoint]
	out := make([]domain.AssetAllocation, len(allocs))
	copy(out, allocs)
	return out
}

func (r *assetRegistry) allocationAmount(outpoint domain.Outpoint, assetID string) uint64 {
	for _, a := range r.allocations[outpoint] {
		if a.AssetID == assetID {
			return a.Amount
		}
	}
	return 0
}

func (r *assetRegistry) hasAllocations(outpoint domain.Outpoint) bool {
	return len(r.allocations[outpoint]) > 0
}

func (r *assetRegistry) settledBalance(assetID string) uint64 {
	return r.settled[assetID]
}

// balance computes the balance of a registered asset given the ledger and the live transfers.
func (r *assetRegistry) balance(
	assetID string, ledger *utxoLedger, transfers []*domain.Transfer,
) (*domain.Balance, error) {
	if _, err := r.contract(assetID); err != nil {
		return nil, err
	}

	settled := r.settled[assetID]
	reserved := uint64(0)
	for outpoint, allocs := range r.allocations {
		u, ok := ledger.get(outpoint)
		if !ok || !u.IsReserved() {
			continue
		}
		for _, a := range allocs {
			if a.AssetID == assetID {
				reserved += a.Amount
			}
		}
	}

	pending, outgoing := uint64(0), uint64(0)
	for _, t := range transfers {
		if t.IsTerminal() || t.AssetID != assetID || t.Kind != domain.TransferKindAsset {
			continue
		}
		if t.Status == domain.TransferCreated {
			continue
		}
		if t.Direction == domain.Incoming {
			pending += t.Amount
			continue
		}
		outgoing += t.Amount
	}

	spendable := uint64(0)
	if settled > reserved {
		spendable = settled - reserved
	}
	// Inputs of in-flight sends are still settled until the send settles, so the
	// outgoing amount never exceeds what is settled.
	future := settled + pending
	if future > outgoing {
		future -= outgoing
	} else {
		future = 0
	}

	return &domain.Balance{
		Settled:   settled,
		Pending:   pending,
		Spendable: spendable,
		Future:    future,
	}, nil
}

// reconcile recomputes every settled counter from the allocations bound to unspent outputs.
func (r *assetRegistry) reconcile(ledger *utxoLedger) error {
	recomputed := make(map[string]uint64)
	for outpoint, allocs := range r.allocations {
		u, ok := ledger.get(outpoint)
		if !ok {
			return fmt.Errorf("allocation bound to unknown utxo %s", outpoint)
		}
		if u.Spent {
			return fmt.Errorf("allocation bound to spent utxo %s", outpoint)
		}
		for _, a := range allocs {
			recomputed[a.AssetID] += a.Amount
		}
	}
	for assetID := range r.contracts {
		if recomputed[assetID] != r.settled[assetID] {
			return fmt.Errorf(
				"asset %s settled balance %d does not match allocations sum %d",
				assetID, r.settled[assetID], recomputed[assetID],
			)
		}
	}
	for assetID, amount := range recomputed {
		if _, ok := r.contracts[assetID]; !ok && amount > 0 {
			return fmt.Errorf("allocations found for unregistered asset %s", assetID)
		}
	}
	return nil
}

func (r *assetRegistry) snapshot() ([]domain.AssetContract, []domain.AssetAllocation) {
	allocations := make([]domain.AssetAllocation, 0)
	for _, allocs := range r.allocations {
		allocations = append(allocations, allocs...)
	}
	sort.Slice(allocations, func(i, j int) bool {
		if allocations[i].Outpoint != allocations[j].Outpoint {
			return allocations[i].Outpoint.Less(allocations[j].Outpoint)
		}
		return allocations[i].AssetID < allocations[j].AssetID
	})
	return r.listContracts(), allocations
}
