package application

import (
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/coinset"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/pkg/errors"
)

var coinSelector = coinset.MinNumberCoinSelector{
	MaxInputs:       20,
	MinChangeAmount: 1000,
}

// selectable implements coinset.Coin interface
type selectable struct {
	utxo domain.Utxo
	hash *chainhash.Hash
}

func newSelectable(u domain.Utxo) (selectable, error) {
	hash, err := chainhash.NewHashFromStr(u.Txid)
	if err != nil {
		return selectable{}, err
	}
	return selectable{u, hash}, nil
}

func (u selectable) Value() btcutil.Amount {
	return btcutil.Amount(u.utxo.Amount)
}

func (u selectable) ValueAge() int64 {
	return int64(u.utxo.Amount)
}

func (u selectable) PkScript() []byte {
	script, err := hex.DecodeString(u.utxo.PkScript)
	if err != nil {
		return nil
	}
	return script
}

func (u selectable) Hash() *chainhash.Hash {
	return u.hash
}

func (u selectable) Index() uint32 {
	return u.utxo.VOut
}

func (u selectable) NumConfs() int64 {
	if u.utxo.Confirmed {
		return 1
	}
	return 0
}

// utxoLedger is the set of wallet outputs and their reservations.
type utxoLedger struct {
	utxos map[domain.Outpoint]*domain.Utxo
}

func newUtxoLedger(utxos []domain.Utxo) *utxoLedger {
	l := &utxoLedger{utxos: make(map[domain.Outpoint]*domain.Utxo, len(utxos))}
	for _, u := range utxos {
		l.add(u)
	}
	return l
}

// add records a new output, returns false if the outpoint is already known.
func (l *utxoLedger) add(u domain.Utxo) bool {
	if _, ok := l.utxos[u.Outpoint]; ok {
		return false
	}
	utxo := u
	l.utxos[u.Outpoint] = &utxo
	return true
}

func (l *utxoLedger) get(outpoint domain.Outpoint) (domain.Utxo, bool) {
	u, ok := l.utxos[outpoint]
	if !ok {
		return domain.Utxo{}, false
	}
	return *u, true
}

func (l *utxoLedger) markConfirmed(outpoint domain.Outpoint) {
	if u, ok := l.utxos[outpoint]; ok {
		u.Confirmed = true
	}
}

// markSpent flags the output as spent and drops its reservation.
func (l *utxoLedger) markSpent(outpoint domain.Outpoint) {
	if u, ok := l.utxos[outpoint]; ok {
		u.Spent = true
		u.ReservedFor = ""
	}
}

// list returns the outputs ordered largest first, ties broken by outpoint.
func (l *utxoLedger) list(includeSpent bool) []domain.Utxo {
	utxos := make([]domain.Utxo, 0, len(l.utxos))
	for _, u := range l.utxos {
		if u.Spent && !includeSpent {
			continue
		}
		utxos = append(utxos, *u)
	}
	sortLargestFirst(utxos, func(u domain.Utxo) uint64 { return u.Amount })
	return utxos
}

func (l *utxoLedger) listSpendable() []domain.Utxo {
	utxos := make([]domain.Utxo, 0, len(l.utxos))
	for _, u := range l.list(false) {
		if u.IsSpendable() {
			utxos = append(utxos, u)
		}
	}
	return utxos
}

func (l *utxoLedger) reservedBy(transferID string) []domain.Utxo {
	utxos := make([]domain.Utxo, 0)
	for _, u := range l.list(false) {
		if u.ReservedFor == transferID {
			utxos = append(utxos, u)
		}
	}
	return utxos
}

// selectLargestFirst picks spendable outputs accepted by the filter, largest value first,
// until target is reached. It returns the picked outputs and the total value they carry,
// it never mutates the ledger.
func (l *utxoLedger) selectLargestFirst(
	target uint64, accept func(domain.Utxo) bool, value func(domain.Utxo) uint64,
) ([]domain.Utxo, uint64) {
	candidates := make([]domain.Utxo, 0)
	for _, u := range l.utxos {
		if !u.IsSpendable() || !accept(*u) {
			continue
		}
		candidates = append(candidates, *u)
	}
	sortLargestFirst(candidates, value)

	selected := make([]domain.Utxo, 0)
	total := uint64(0)
	for _, u := range candidates {
		if total >= target && len(selected) > 0 {
			break
		}
		selected = append(selected, u)
		total += value(u)
	}
	return selected, total
}

// selectCoins funds target sats out of the spendable outputs accepted by the filter.
func (l *utxoLedger) selectCoins(
	target uint64, accept func(domain.Utxo) bool,
) ([]domain.Utxo, error) {
	available := make([]coinset.Coin, 0)
	availableAmount := uint64(0)
	for _, u := range l.listSpendable() {
		if !accept(u) {
			continue
		}
		coin, err := newSelectable(u)
		if err != nil {
			return nil, err
		}
		available = append(available, coin)
		availableAmount += u.Amount
	}

	coins, err := coinSelector.CoinSelect(btcutil.Amount(target), available)
	if err != nil {
		return nil, errors.INSUFFICIENT_FUNDS.New(
			"not enough bitcoin to fund %d sats: %s", target, err,
		).WithMetadata(errors.InsufficientFundsMetadata{
			Requested: target,
			Available: availableAmount,
		})
	}

	selected := make([]domain.Utxo, 0, len(coins.Coins()))
	for _, coin := range coins.Coins() {
		selected = append(selected, coin.(selectable).utxo)
	}
	return selected, nil
}

// reserve marks every given output as reserved for the transfer, all or nothing.
func (l *utxoLedger) reserve(transferID string, utxos []domain.Utxo) error {
	for _, u := range utxos {
		stored, ok := l.utxos[u.Outpoint]
		if !ok {
			return fmt.Errorf("unknown utxo %s", u.Outpoint)
		}
		if stored.Spent {
			return fmt.Errorf("utxo %s is already spent", u.Outpoint)
		}
		if stored.IsReserved() {
			return fmt.Errorf("utxo %s is already reserved by %s", u.Outpoint, stored.ReservedFor)
		}
	}
	for _, u := range utxos {
		l.utxos[u.Outpoint].ReservedFor = transferID
	}
	return nil
}

func (l *utxoLedger) release(outpoint domain.Outpoint) {
	if u, ok := l.utxos[outpoint]; ok {
		u.ReservedFor = ""
	}
}

func (l *utxoLedger) releaseTransfer(transferID string) int {
	count := 0
	for _, u := range l.utxos {
		if u.ReservedFor == transferID {
			u.ReservedFor = ""
			count++
		}
	}
	return count
}

func (l *utxoLedger) snapshot() []domain.Utxo {
	return l.list(true)
}

func sortLargestFirst(utxos []domain.Utxo, value func(domain.Utxo) uint64) {
	sort.SliceStable(utxos, func(i, j int) bool {
		vi, vj := value(utxos[i]), value(utxos[j])
		if vi != vj {
			return vi > vj
		}
		return utxos[i].Outpoint.Less(utxos[j].Outpoint)
	})
}
