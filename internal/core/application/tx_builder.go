package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/mempool"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/shiro-wallet/shirod/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	txVersion       = 2
	maxFundAttempts = 3
	// vbytes added by one taproot key-spend input
	taprootInputVSize = 58
)

// txDraft is a signed transaction together with the wallet side effects it implies.
type txDraft struct {
	tx      *wire.MsgTx
	inputs  []domain.Utxo
	outputs []domain.TransferOutput
	fee     uint64
	amount  uint64
}

func (d *txDraft) txid() string {
	return d.tx.TxHash().String()
}

func (d *txDraft) hex() (string, error) {
	var buf bytes.Buffer
	if err := d.tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

func (d *txDraft) outpoints() []domain.Outpoint {
	outpoints := make([]domain.Outpoint, 0, len(d.inputs))
	for _, in := range d.inputs {
		outpoints = append(outpoints, in.Outpoint)
	}
	return outpoints
}

func (s *service) feeRate(
	ctx context.Context, chain ports.ChainService, satPerVByte uint64,
) (chainfee.SatPerKVByte, error) {
	floor := chainfee.FeePerKwFloor.FeePerKVByte()
	if satPerVByte > 0 {
		rate := chainfee.SatPerKVByte(satPerVByte * 1000)
		if rate < floor {
			return floor, nil
		}
		return rate, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	rate, err := chain.FeeRate(ctx)
	if err != nil {
		if s.network.Name == chaincfg.RegressionNetParams.Name {
			// fee estimation often fails on regtest for lack of txs
			return floor, nil
		}
		return 0, s.networkError("fee estimation", err)
	}
	if rate < floor {
		return floor, nil
	}
	return rate, nil
}

func estimateFee(feeRate chainfee.SatPerKVByte, numInputs int, outputScripts [][]byte) uint64 {
	weightEstimator := &input.TxWeightEstimator{}
	for i := 0; i < numInputs; i++ {
		weightEstimator.AddTaprootKeySpendInput(txscript.SigHashDefault)
	}
	for _, script := range outputScripts {
		weightEstimator.AddOutput(script)
	}
	fee := feeRate.FeeForVSize(lntypes.VByte(weightEstimator.VSize()))
	return uint64(math.Ceil(fee.ToUnit(btcutil.AmountSatoshi)))
}

func dustAmount(pkScript []byte) uint64 {
	return uint64(mempool.GetDustThreshold(&wire.TxOut{PkScript: pkScript}))
}

func (s *service) addressScript(address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, s.network)
	if err != nil || !addr.IsForNet(s.network) {
		return nil, errors.INVALID_ARGUMENT.New("invalid address %s", address).
			WithMetadata(map[string]any{"address": address})
	}
	return txscript.PayToAddrScript(addr)
}

// peekAddress derives the address offset positions past the next unused index of the chain.
func (s *service) peekAddress(chain keyChain, offset uint32) (string, []byte, uint32, error) {
	index := s.indexes.Receive + offset
	if chain == changeChain {
		index = s.indexes.Change + offset
	}
	addr, script, err := s.vault.address(keyPurpose{chain, index})
	if err != nil {
		return "", nil, 0, err
	}
	return addr, script, index, nil
}

func (s *service) commitAddresses(chain keyChain, count uint32) {
	if chain == changeChain {
		s.indexes.Change += count
		return
	}
	s.indexes.Receive += count
}

func (s *service) isBitcoinOnly(u domain.Utxo) bool {
	return !s.registry.hasAllocations(u.Outpoint)
}

func sumAmounts(utxos []domain.Utxo) uint64 {
	total := uint64(0)
	for _, u := range utxos {
		total += u.Amount
	}
	return total
}

// fund tops up base with bitcoin-only outputs until they cover fixed sats plus the fee of
// a tx with the given output scripts.
func (s *service) fund(
	base []domain.Utxo, fixed uint64, outputScripts [][]byte, feeRate chainfee.SatPerKVByte,
) ([]domain.Utxo, uint64, error) {
	baseTotal := sumAmounts(base)
	inputs := base
	var fee uint64
	for attempt := 0; attempt < maxFundAttempts; attempt++ {
		fee = estimateFee(feeRate, len(inputs), outputScripts)
		if sumAmounts(inputs) >= fixed+fee && len(inputs) > 0 {
			return inputs, fee, nil
		}

		perInput := uint64(feeRate.FeeForVSize(lntypes.VByte(taprootInputVSize)))
		target := fixed + fee + perInput*uint64(len(inputs)-len(base)+1)
		if target > baseTotal {
			target -= baseTotal
		}
		extra, err := s.ledger.selectCoins(target, s.isBitcoinOnly)
		if err != nil {
			return nil, 0, err
		}
		inputs = append(append([]domain.Utxo{}, base...), extra...)
	}

	fee = estimateFee(feeRate, len(inputs), outputScripts)
	available := sumAmounts(inputs)
	if available < fixed+fee {
		return nil, 0, errors.INSUFFICIENT_FUNDS.New(
			"not enough bitcoin to cover %d sats plus %d fee", fixed, fee,
		).WithMetadata(errors.InsufficientFundsMetadata{
			Requested: fixed + fee,
			Available: available,
		})
	}
	return inputs, fee, nil
}

// buildAssetTransfer selects, reserves nothing, and signs the tx moving amount of the
// transfer asset to the invoice address. Every other allocation found on the inputs moves
// to the change output.
func (s *service) buildAssetTransfer(
	t *domain.Transfer, inv *domain.Invoice, feeRate chainfee.SatPerKVByte,
) (*txDraft, error) {
	assetInputs, assetTotal := s.ledger.selectLargestFirst(
		t.Amount,
		func(u domain.Utxo) bool { return s.registry.allocationAmount(u.Outpoint, t.AssetID) > 0 },
		func(u domain.Utxo) uint64 { return s.registry.allocationAmount(u.Outpoint, t.AssetID) },
	)
	if assetTotal < t.Amount {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"requested %d of asset %s, only %d spendable", t.Amount, t.AssetID, assetTotal,
		).WithMetadata(errors.InsufficientFundsMetadata{
			AssetID:   t.AssetID,
			Requested: t.Amount,
			Available: assetTotal,
		})
	}

	recipientScript, err := s.addressScript(inv.Address)
	if err != nil {
		return nil, err
	}
	_, changeScript, changeIndex, err := s.peekAddress(changeChain, 0)
	if err != nil {
		return nil, err
	}
	commitment := transferCommitment(t.ID, inv.RecipientID, t.AssetID, t.Amount, 0)
	opReturnScript, err := txscript.NullDataScript(commitment)
	if err != nil {
		return nil, err
	}

	changeAllocations := make([]domain.AssetAllocation, 0)
	carried := make(map[string]uint64)
	for _, in := range assetInputs {
		for _, a := range s.registry.allocationsAt(in.Outpoint) {
			if a.AssetID == t.AssetID {
				continue
			}
			carried[a.AssetID] += a.Amount
		}
	}
	if change := assetTotal - t.Amount; change > 0 {
		carried[t.AssetID] += change
	}
	for _, c := range s.registry.listContracts() {
		if amount := carried[c.AssetID]; amount > 0 {
			changeAllocations = append(changeAllocations, domain.AssetAllocation{
				AssetID: c.AssetID,
				Amount:  amount,
			})
		}
	}

	recipientSats := s.cfg.AllocationSats
	changeDust := dustAmount(changeScript)
	minChange := uint64(0)
	if len(changeAllocations) > 0 {
		minChange = max(s.cfg.AllocationSats, changeDust)
	}
	outputScripts := [][]byte{recipientScript, opReturnScript, changeScript}

	inputs, fee, err := s.fund(assetInputs, recipientSats+minChange, outputScripts, feeRate)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	tx.AddTxOut(wire.NewTxOut(int64(recipientSats), recipientScript))
	tx.AddTxOut(wire.NewTxOut(0, opReturnScript))

	changeSats := sumAmounts(inputs) - recipientSats - fee
	outputs := make([]domain.TransferOutput, 0, 1)
	if len(changeAllocations) > 0 || changeSats >= changeDust {
		tx.AddTxOut(wire.NewTxOut(int64(changeSats), changeScript))
		outputs = append(outputs, domain.TransferOutput{
			VOut:        2,
			Amount:      changeSats,
			PkScript:    hex.EncodeToString(changeScript),
			KeyIndex:    changeIndex,
			Change:      true,
			Allocations: changeAllocations,
		})
	} else {
		fee += changeSats
	}

	draft, err := s.signDraft(tx, inputs, outputs, fee)
	if err != nil {
		return nil, err
	}
	draft.amount = t.Amount
	if len(outputs) > 0 {
		s.commitAddresses(changeChain, 1)
	}
	return draft, nil
}

// buildDrain sweeps every spendable bitcoin-only output to the destination.
func (s *service) buildDrain(destination string, feeRate chainfee.SatPerKVByte) (*txDraft, error) {
	destScript, err := s.addressScript(destination)
	if err != nil {
		return nil, err
	}

	inputs := make([]domain.Utxo, 0)
	for _, u := range s.ledger.listSpendable() {
		if s.isBitcoinOnly(u) {
			inputs = append(inputs, u)
		}
	}
	total := sumAmounts(inputs)
	fee := estimateFee(feeRate, len(inputs), [][]byte{destScript})
	if len(inputs) == 0 || total < fee+dustAmount(destScript) {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"not enough bitcoin to drain, %d sats available", total,
		).WithMetadata(errors.InsufficientFundsMetadata{
			Requested: fee + dustAmount(destScript),
			Available: total,
		})
	}

	amount := total - fee
	tx := wire.NewMsgTx(txVersion)
	tx.AddTxOut(wire.NewTxOut(int64(amount), destScript))

	draft, err := s.signDraft(tx, inputs, nil, fee)
	if err != nil {
		return nil, err
	}
	draft.amount = amount
	return draft, nil
}

// buildCreateUtxos splits bitcoin into count fresh outputs of size sats each.
func (s *service) buildCreateUtxos(
	count uint32, size uint64, feeRate chainfee.SatPerKVByte,
) (*txDraft, error) {
	outputScripts := make([][]byte, 0, count+1)
	outputs := make([]domain.TransferOutput, 0, count+1)
	for i := uint32(0); i < count; i++ {
		_, script, index, err := s.peekAddress(receiveChain, i)
		if err != nil {
			return nil, err
		}
		if size < dustAmount(script) {
			return nil, errors.INVALID_ARGUMENT.New("utxo size %d is below dust", size).
				WithMetadata(map[string]any{"size": size})
		}
		outputScripts = append(outputScripts, script)
		outputs = append(outputs, domain.TransferOutput{
			VOut:     i,
			Amount:   size,
			PkScript: hex.EncodeToString(script),
			KeyIndex: index,
		})
	}
	_, changeScript, changeIndex, err := s.peekAddress(changeChain, 0)
	if err != nil {
		return nil, err
	}

	inputs, fee, err := s.fund(
		nil, uint64(count)*size, append(outputScripts, changeScript), feeRate,
	)
	if err != nil {
		return nil, err
	}

	tx := wire.NewMsgTx(txVersion)
	for _, script := range outputScripts {
		tx.AddTxOut(wire.NewTxOut(int64(size), script))
	}
	changeSats := sumAmounts(inputs) - uint64(count)*size - fee
	if changeSats >= dustAmount(changeScript) {
		tx.AddTxOut(wire.NewTxOut(int64(changeSats), changeScript))
		outputs = append(outputs, domain.TransferOutput{
			VOut:     count,
			Amount:   changeSats,
			PkScript: hex.EncodeToString(changeScript),
			KeyIndex: changeIndex,
			Change:   true,
		})
	} else {
		fee += changeSats
	}

	draft, err := s.signDraft(tx, inputs, outputs, fee)
	if err != nil {
		return nil, err
	}
	draft.amount = uint64(count) * size
	s.commitAddresses(receiveChain, count)
	if changeSats >= dustAmount(changeScript) {
		s.commitAddresses(changeChain, 1)
	}
	return draft, nil
}

func (s *service) signDraft(
	tx *wire.MsgTx, inputs []domain.Utxo, outputs []domain.TransferOutput, fee uint64,
) (*txDraft, error) {
	prevouts := make([]*wire.TxOut, 0, len(inputs))
	purposes := make([]keyPurpose, 0, len(inputs))
	for _, in := range inputs {
		hash, err := chainhash.NewHashFromStr(in.Txid)
		if err != nil {
			return nil, err
		}
		pkScript, err := hex.DecodeString(in.PkScript)
		if err != nil {
			return nil, err
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.VOut), nil, nil)
		txIn.Sequence = wire.MaxTxInSequenceNum - 2
		tx.AddTxIn(txIn)
		prevouts = append(prevouts, wire.NewTxOut(int64(in.Amount), pkScript))
		purposes = append(purposes, purposeForUtxo(in))
	}

	if err := s.vault.signTaprootInputs(tx, prevouts, purposes); err != nil {
		return nil, err
	}

	txid := tx.TxHash().String()
	for i := range outputs {
		for j := range outputs[i].Allocations {
			outputs[i].Allocations[j].Outpoint = domain.Outpoint{Txid: txid, VOut: outputs[i].VOut}
		}
	}

	log.WithField("txid", txid).
		WithField("inputs", len(inputs)).
		WithField("fee", fee).
		Debug("signed transaction")

	return &txDraft{tx: tx, inputs: inputs, outputs: outputs, fee: fee}, nil
}
