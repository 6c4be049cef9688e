package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/google/uuid"
	"github.com/shiro-wallet/shirod/internal/core/domain"
	"github.com/shiro-wallet/shirod/internal/core/ports"
	"github.com/shiro-wallet/shirod/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// number of unused addresses per chain checked for deposits beyond the next index
const scanGap = 10

func (s *service) createInvoice(
	ctx context.Context, assetID string, amount uint64,
) (*InvoiceInfo, error) {
	now := s.clock.Now()
	expiresAt := now.Add(s.cfg.InvoiceExpiry)

	addr, pkScript, keyIndex, err := s.peekAddress(receiveChain, 0)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to derive address: %w", err)
	}
	blindingIndex := s.indexes.Blinding
	blindingFactor, err := s.vault.blindingFactor(blindingIndex)
	if err != nil {
		return nil, errors.INTERNAL_ERROR.New("failed to derive blinding factor: %w", err)
	}
	rid := recipientID(blindingFactor, pkScript)

	t := domain.NewIncomingTransfer(
		uuid.New().String(), assetID, amount, rid, addr, blindingIndex, now, expiresAt,
	)
	t.Outputs = []domain.TransferOutput{{
		PkScript: hex.EncodeToString(pkScript),
		KeyIndex: keyIndex,
	}}
	t.Invoice = encodeInvoice(domain.Invoice{
		RecipientID: rid,
		AssetID:     assetID,
		Amount:      amount,
		Address:     addr,
		Network:     s.network.Name,
		ExpiresAt:   expiresAt.Unix(),
		RelayURL:    s.endpoint(),
	})

	s.commitAddresses(receiveChain, 1)
	s.indexes.Blinding++
	s.transfers[t.ID] = t
	if err := s.commit(ctx); err != nil {
		return nil, err
	}
	s.publish(t, "")

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleTaskOnce(expiresAt, s.scheduledRefresh); err != nil {
			log.WithError(err).Warn("failed to schedule invoice expiry check")
		}
	}

	log.WithField("transfer", t.ID).
		WithField("asset_id", assetID).
		WithField("amount", amount).
		Debug("created invoice")
	return &InvoiceInfo{
		Invoice:     t.Invoice,
		TransferID:  t.ID,
		RecipientID: rid,
		Address:     addr,
		ExpiresAt:   t.ExpiresAt,
	}, nil
}

func (s *service) send(
	ctx context.Context, chain ports.ChainService, relay ports.RelayService, req SendRequest,
) (*domain.Transfer, error) {
	now := s.clock.Now()

	if req.Amount == 0 {
		return nil, errors.INVALID_ARGUMENT.New("amount must be greater than 0").
			WithMetadata(map[string]any{"amount": req.Amount})
	}
	inv, err := decodeInvoice(req.Invoice, s.network)
	if err != nil {
		return nil, err
	}
	if inv.ExpiresAt > 0 && now.Unix() >= inv.ExpiresAt {
		return nil, errors.INVALID_INVOICE.New("invoice expired at %s", unixToTime(inv.ExpiresAt)).
			WithMetadata(errors.InvoiceMetadata{Invoice: req.Invoice})
	}
	if inv.AssetID != "" && inv.AssetID != req.AssetID {
		return nil, errors.INVALID_INVOICE.New("invoice requests asset %s", inv.AssetID).
			WithMetadata(errors.InvoiceMetadata{Invoice: req.Invoice})
	}
	if inv.Amount > 0 && inv.Amount != req.Amount {
		return nil, errors.INVALID_INVOICE.New("invoice requests amount %d", inv.Amount).
			WithMetadata(errors.InvoiceMetadata{Invoice: req.Invoice})
	}
	contract, err := s.registry.contract(req.AssetID)
	if err != nil {
		return nil, err
	}

	feeRate, err := s.feeRate(ctx, chain, req.FeeRate)
	if err != nil {
		return nil, err
	}

	t := domain.NewOutgoingTransfer(
		uuid.New().String(), domain.TransferKindAsset, req.AssetID, req.Amount,
		now, now.Add(s.cfg.SendExpiry),
	)
	t.RecipientInvoice = req.Invoice
	t.RecipientID = inv.RecipientID

	draft, err := s.buildAssetTransfer(t, inv, feeRate)
	if err != nil {
		return nil, err
	}
	commitment := transferCommitment(t.ID, inv.RecipientID, t.AssetID, t.Amount, 0)
	if err := s.prepare(t, draft, hex.EncodeToString(commitment)); err != nil {
		return nil, err
	}
	if err := s.commit(ctx); err != nil {
		return nil, err
	}
	s.publish(t, domain.TransferCreated)

	rctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := relay.PostCommitment(rctx, s.commitmentFor(t, contract)); err != nil {
		s.failTransfer(t, fmt.Sprintf("relay rejected commitment: %s", err))
		return nil, s.commitAfterFailure(ctx, t, broadcastError(t.ID, "relay post", err))
	}
	t.RelayAccepted = true

	return s.broadcast(ctx, chain, t)
}

func (s *service) drainTo(
	ctx context.Context, chain ports.ChainService, address string, satPerVByte uint64,
) (*domain.Transfer, error) {
	feeRate, err := s.feeRate(ctx, chain, satPerVByte)
	if err != nil {
		return nil, err
	}
	draft, err := s.buildDrain(address, feeRate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	t := domain.NewOutgoingTransfer(
		uuid.New().String(), domain.TransferKindDrain, "", draft.amount,
		now, now.Add(s.cfg.SendExpiry),
	)
	t.Destination = address
	if err := s.prepare(t, draft, ""); err != nil {
		return nil, err
	}
	if err := s.commit(ctx); err != nil {
		return nil, err
	}
	s.publish(t, domain.TransferCreated)

	return s.broadcast(ctx, chain, t)
}

func (s *service) createUtxos(
	ctx context.Context, chain ports.ChainService, req CreateUtxosRequest,
) (*domain.Transfer, error) {
	if req.Count == 0 {
		req.Count = defaultUtxosCount
	}
	if req.Size == 0 {
		req.Size = s.cfg.AllocationSats
	}
	feeRate, err := s.feeRate(ctx, chain, req.FeeRate)
	if err != nil {
		return nil, err
	}
	draft, err := s.buildCreateUtxos(req.Count, req.Size, feeRate)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	t := domain.NewOutgoingTransfer(
		uuid.New().String(), domain.TransferKindCreateUtxos, "", draft.amount,
		now, now.Add(s.cfg.SendExpiry),
	)
	if err := s.prepare(t, draft, ""); err != nil {
		return nil, err
	}
	if err := s.commit(ctx); err != nil {
		return nil, err
	}
	s.publish(t, domain.TransferCreated)

	return s.broadcast(ctx, chain, t)
}

// prepare reserves the draft inputs for the transfer and moves it to Blinded.
func (s *service) prepare(t *domain.Transfer, draft *txDraft, commitment string) error {
	txHex, err := draft.hex()
	if err != nil {
		return errors.INTERNAL_ERROR.New("failed to serialize tx: %w", err)
	}
	if err := s.ledger.reserve(t.ID, draft.inputs); err != nil {
		return errors.INTERNAL_ERROR.New("failed to reserve inputs: %w", err)
	}
	t.Inputs = draft.outpoints()
	t.Outputs = draft.outputs
	t.Fee = draft.fee
	if err := t.Blind(draft.txid(), txHex, commitment, s.clock.Now()); err != nil {
		s.ledger.releaseTransfer(t.ID)
		return err
	}
	s.transfers[t.ID] = t
	return nil
}

// broadcast publishes the signed tx of a Blinded transfer. On failure the
// transfer fails and its reservation is released.
func (s *service) broadcast(
	ctx context.Context, chain ports.ChainService, t *domain.Transfer,
) (*domain.Transfer, error) {
	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	txid, err := chain.Broadcast(cctx, t.TxHex)
	if err != nil {
		s.failTransfer(t, fmt.Sprintf("broadcast failed: %s", err))
		return nil, s.commitAfterFailure(ctx, t, broadcastError(t.ID, "chain broadcast", err))
	}

	from := t.Status
	if err := t.MarkBroadcast(txid, s.clock.Now()); err != nil {
		return nil, err
	}
	if err := s.commit(ctx); err != nil {
		return nil, err
	}
	s.publish(t, from)

	log.WithField("transfer", t.ID).
		WithField("kind", t.Kind).
		WithField("txid", t.Txid).
		Info("broadcasted transfer")
	transfer := *t
	return &transfer, nil
}

func (s *service) commitAfterFailure(ctx context.Context, t *domain.Transfer, err error) error {
	if commitErr := s.commit(ctx); commitErr != nil {
		log.WithError(commitErr).WithField("transfer", t.ID).Error("failed to persist failed transfer")
	}
	log.WithError(err).WithField("transfer", t.ID).Warn("transfer failed")
	return err
}

func (s *service) failTransfer(t *domain.Transfer, reason string) {
	from := t.Status
	if err := t.Fail(reason, s.clock.Now()); err != nil {
		log.WithError(err).WithField("transfer", t.ID).Warn("failed to fail transfer")
		return
	}
	released := s.ledger.releaseTransfer(t.ID)
	s.publish(t, from)
	log.WithField("transfer", t.ID).
		WithField("reason", reason).
		WithField("released", released).
		Debug("transfer failed")
}

func (s *service) commitmentFor(t *domain.Transfer, contract domain.AssetContract) ports.Commitment {
	return ports.Commitment{
		TransferID:  t.ID,
		RecipientID: t.RecipientID,
		AssetID:     t.AssetID,
		Amount:      t.Amount,
		Txid:        t.Txid,
		TxHex:       t.TxHex,
		VOut:        0,
		Commitment:  t.Commitment,
		Contract:    *contractInfo(contract),
	}
}

func (s *service) cancelTransfer(ctx context.Context, transferID string) (*domain.Transfer, error) {
	t, err := s.getTransfer(transferID)
	if err != nil {
		return nil, err
	}
	cancellable := t.Status == domain.TransferCreated || t.Status == domain.TransferBlinded
	if !cancellable || t.RelayAccepted {
		return nil, errors.INVALID_TRANSFER_STATE.New(
			"transfer %s is %s and can no longer be cancelled", t.ID, t.Status,
		).WithMetadata(errors.TransferStateMetadata{
			TransferID: t.ID,
			From:       string(t.Status),
			To:         string(domain.TransferFailed),
		})
	}

	s.failTransfer(t, "cancelled")
	if err := s.commit(ctx); err != nil {
		return nil, err
	}
	transfer := *t
	return &transfer, nil
}

// deleteTransfers purges Failed and Expired transfers. With no ids, every such transfer
// is deleted.
func (s *service) deleteTransfers(ctx context.Context, transferIDs []string) (int, error) {
	purgeable := func(t *domain.Transfer) bool {
		return t.Status == domain.TransferFailed || t.Status == domain.TransferExpired
	}

	toDelete := make([]string, 0)
	if len(transferIDs) == 0 {
		for _, t := range s.transfers {
			if purgeable(t) {
				toDelete = append(toDelete, t.ID)
			}
		}
	}
	for _, id := range transferIDs {
		t, err := s.getTransfer(id)
		if err != nil {
			return 0, err
		}
		if !purgeable(t) {
			return 0, errors.INVALID_TRANSFER_STATE.New(
				"transfer %s is %s, only failed or expired transfers can be deleted", t.ID, t.Status,
			).WithMetadata(errors.TransferStateMetadata{
				TransferID: t.ID,
				From:       string(t.Status),
			})
		}
		toDelete = append(toDelete, t.ID)
	}

	for _, id := range toDelete {
		delete(s.transfers, id)
	}
	if len(toDelete) > 0 {
		if err := s.commit(ctx); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}

// refresh advances every in-flight transfer from what the relay and the chain report,
// then scans the wallet addresses. Network failures are logged and left for the next call.
func (s *service) refresh(
	ctx context.Context, chain ports.ChainService, relay ports.RelayService,
) *RefreshReport {
	report := &RefreshReport{Updates: make([]TransferUpdate, 0)}

	for _, t := range s.pendingTransfers() {
		from := t.Status
		var err error
		if t.Direction == domain.Incoming {
			err = s.refreshIncoming(ctx, chain, relay, t)
		} else {
			err = s.refreshOutgoing(ctx, chain, relay, t)
		}
		if err != nil {
			report.Incomplete = true
			log.WithError(err).WithField("transfer", t.ID).Warn("failed to refresh transfer")
		}
		if t.Status != from {
			report.Updates = append(report.Updates, TransferUpdate{
				TransferID: t.ID,
				From:       from,
				To:         t.Status,
			})
			s.publish(t, from)
		}
	}

	newUtxos, spent, err := s.scanChain(ctx, chain)
	if err != nil {
		report.Incomplete = true
		log.WithError(err).Warn("failed to scan wallet addresses")
	}
	report.NewUtxos = newUtxos
	report.Spent = spent
	return report
}

func (s *service) refreshIncoming(
	ctx context.Context, chain ports.ChainService, relay ports.RelayService, t *domain.Transfer,
) error {
	now := s.clock.Now()

	if t.Status == domain.TransferCreated {
		rctx, cancel := s.withTimeout(ctx)
		defer cancel()
		commitment, err := relay.QueryIncoming(rctx, t.RecipientID)
		if err != nil {
			return err
		}
		if commitment == nil {
			if t.IsExpired(now) {
				return t.Expire(now)
			}
			return nil
		}

		if reason := s.validateIncoming(t, commitment); reason != "" {
			if err := relay.Ack(rctx, t.RecipientID, false); err != nil {
				log.WithError(err).WithField("transfer", t.ID).Warn("failed to nack commitment")
			}
			return t.Fail(reason, now)
		}
		if err := relay.Ack(rctx, t.RecipientID, true); err != nil {
			return err
		}

		if s.registry.register(contractFromInfo(&commitment.Contract)) {
			log.WithField("asset_id", commitment.AssetID).Info("registered incoming asset")
		}
		tx, _ := decodeTxHex(commitment.TxHex)
		out := &t.Outputs[0]
		out.VOut = commitment.VOut
		out.Amount = uint64(tx.TxOut[commitment.VOut].Value)
		out.Allocations = []domain.AssetAllocation{{
			AssetID:  commitment.AssetID,
			Outpoint: domain.Outpoint{Txid: commitment.Txid, VOut: commitment.VOut},
			Amount:   commitment.Amount,
		}}
		t.AssetID = commitment.AssetID
		t.Amount = commitment.Amount
		t.RelayAccepted = true
		// the sender may need a while to get the tx mined
		t.ExpiresAt = now.Add(s.cfg.SendExpiry).Unix()
		if err := t.Blind(commitment.Txid, commitment.TxHex, commitment.Commitment, now); err != nil {
			return err
		}
		if err := t.MarkBroadcast(commitment.Txid, now); err != nil {
			return err
		}
	}

	if t.OnChain() {
		return s.checkConfirmations(ctx, chain, t)
	}
	return nil
}

// validateIncoming returns the reason why a commitment posted for us cannot be accepted.
func (s *service) validateIncoming(t *domain.Transfer, c *ports.Commitment) string {
	if c.RecipientID != t.RecipientID {
		return "recipient id mismatch"
	}
	if c.Amount == 0 {
		return "zero amount"
	}
	if t.AssetID != "" && c.AssetID != t.AssetID {
		return fmt.Sprintf("expected asset %s, got %s", t.AssetID, c.AssetID)
	}
	if t.Amount > 0 && c.Amount != t.Amount {
		return fmt.Sprintf("expected amount %d, got %d", t.Amount, c.Amount)
	}

	tx, err := decodeTxHex(c.TxHex)
	if err != nil {
		return fmt.Sprintf("invalid tx: %s", err)
	}
	if tx.TxHash().String() != c.Txid {
		return "txid does not match tx"
	}
	if int(c.VOut) >= len(tx.TxOut) {
		return fmt.Sprintf("tx has no output %d", c.VOut)
	}
	if hex.EncodeToString(tx.TxOut[c.VOut].PkScript) != t.Outputs[0].PkScript {
		return "tx does not pay to the invoice address"
	}

	expected := transferCommitment(c.TransferID, t.RecipientID, c.AssetID, c.Amount, c.VOut)
	if hex.EncodeToString(expected) != c.Commitment {
		return "commitment mismatch"
	}
	opReturn, err := txscript.NullDataScript(expected)
	if err != nil {
		return fmt.Sprintf("invalid commitment: %s", err)
	}
	committed := false
	for _, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, opReturn) {
			committed = true
			break
		}
	}
	if !committed {
		return "commitment not found in tx"
	}

	contract := contractFromInfo(&c.Contract)
	if contract.AssetID != c.AssetID {
		return "contract does not match asset"
	}
	if err := verifyContract(contract); err != nil {
		return fmt.Sprintf("invalid contract: %s", err)
	}
	if c.Amount > contract.TotalSupply {
		return "amount exceeds total supply"
	}
	return ""
}

func (s *service) refreshOutgoing(
	ctx context.Context, chain ports.ChainService, relay ports.RelayService, t *domain.Transfer,
) error {
	now := s.clock.Now()

	switch t.Status {
	case domain.TransferCreated:
		// nothing was signed, there is nothing to recover
		s.failTransfer(t, "interrupted before signing")
		return nil
	case domain.TransferBlinded:
		if t.Kind == domain.TransferKindAsset && !t.RelayAccepted {
			rctx, cancel := s.withTimeout(ctx)
			defer cancel()
			posted, err := relay.GetTransfer(rctx, t.ID)
			if err != nil {
				return err
			}
			if posted == nil {
				if t.IsExpired(now) {
					s.failTransfer(t, "expired before reaching the relay")
					return nil
				}
				contract, err := s.registry.contract(t.AssetID)
				if err != nil {
					return err
				}
				if err := relay.PostCommitment(rctx, s.commitmentFor(t, contract)); err != nil {
					if isTimeout(err) {
						return err
					}
					s.failTransfer(t, fmt.Sprintf("relay rejected commitment: %s", err))
					return nil
				}
			}
			t.RelayAccepted = true
		}

		cctx, cancel := s.withTimeout(ctx)
		defer cancel()
		if _, err := chain.GetConfirmations(cctx, t.Txid); err != nil {
			if !errors.Is(err, ports.ErrTxNotFound) {
				return err
			}
			if _, err := chain.Broadcast(cctx, t.TxHex); err != nil {
				if t.IsExpired(now) {
					s.failTransfer(t, fmt.Sprintf("broadcast failed: %s", err))
					return nil
				}
				return err
			}
		}
		if err := t.MarkBroadcast("", now); err != nil {
			return err
		}
		log.WithField("transfer", t.ID).Info("recovered blinded transfer")
	}

	if t.OnChain() {
		return s.checkConfirmations(ctx, chain, t)
	}
	return nil
}

func (s *service) checkConfirmations(
	ctx context.Context, chain ports.ChainService, t *domain.Transfer,
) error {
	now := s.clock.Now()

	cctx, cancel := s.withTimeout(ctx)
	defer cancel()
	confs, err := chain.GetConfirmations(cctx, t.Txid)
	if err != nil {
		if !errors.Is(err, ports.ErrTxNotFound) {
			return err
		}
		if t.Status == domain.TransferBroadcast && t.IsExpired(now) {
			s.failTransfer(t, "transaction not found on chain")
		}
		return nil
	}
	if confs == 0 {
		return nil
	}
	if t.Status == domain.TransferBroadcast {
		if err := t.MarkConfirming(now); err != nil {
			return err
		}
	}
	if confs < s.cfg.ConfirmationDepth {
		return nil
	}
	return s.settle(t, now)
}

// settle applies a confirmed transfer to both ledgers.
// An output already known to the ledger as spent or reserved cannot take the allocations anymore,
// the transfer fails instead of leaving allocations bound to it.
func (s *service) settle(t *domain.Transfer, now time.Time) error {
	for _, out := range t.Outputs {
		outpoint := domain.Outpoint{Txid: t.Txid, VOut: out.VOut}
		u, ok := s.ledger.get(outpoint)
		if !ok || len(out.Allocations) <= 0 {
			continue
		}
		if u.Spent || (u.IsReserved() && u.ReservedFor != t.ID) {
			log.WithField("transfer", t.ID).
				WithField("outpoint", outpoint).
				Error("asset output already used as plain bitcoin")
			s.failTransfer(t, fmt.Sprintf("output %s already spent or reserved", outpoint))
			return nil
		}
	}

	if err := t.Settle(now); err != nil {
		return err
	}

	for _, in := range t.Inputs {
		s.registry.removeAllocations(in)
		s.ledger.markSpent(in)
	}
	for _, out := range t.Outputs {
		outpoint := domain.Outpoint{Txid: t.Txid, VOut: out.VOut}
		s.ledger.add(domain.Utxo{
			Outpoint:  outpoint,
			Amount:    out.Amount,
			PkScript:  out.PkScript,
			KeyIndex:  out.KeyIndex,
			Change:    out.Change,
			Confirmed: true,
			CreatedAt: now.Unix(),
		})
		s.ledger.markConfirmed(outpoint)
		for _, a := range out.Allocations {
			a.Outpoint = outpoint
			s.registry.recordAllocation(a)
		}
	}

	log.WithField("transfer", t.ID).
		WithField("direction", t.Direction).
		WithField("kind", t.Kind).
		WithField("txid", t.Txid).
		Info("transfer settled")
	return nil
}

// scanChain adds confirmed deposits to wallet addresses and marks as spent the unreserved
// outputs the chain no longer reports.
func (s *service) scanChain(ctx context.Context, chain ports.ChainService) (int, int, error) {
	inFlight := make(map[string]struct{})
	// addresses of open invoices, whatever pays to them is an asset transfer until it settles
	awaited := make(map[string]struct{})
	for _, t := range s.pendingTransfers() {
		if t.Txid != "" {
			inFlight[t.Txid] = struct{}{}
		}
		if t.Direction == domain.Incoming && len(t.Outputs) > 0 {
			awaited[t.Outputs[0].PkScript] = struct{}{}
		}
	}

	now := s.clock.Now()
	seen := make(map[domain.Outpoint]struct{})
	newUtxos := 0
	for _, chainType := range []keyChain{receiveChain, changeChain} {
		next := s.indexes.Receive
		if chainType == changeChain {
			next = s.indexes.Change
		}
		highest := int64(-1)

		for index := uint32(0); index < next+scanGap; index++ {
			addr, pkScript, err := s.vault.address(keyPurpose{chainType, index})
			if err != nil {
				return newUtxos, 0, err
			}
			cctx, cancel := s.withTimeout(ctx)
			utxos, err := chain.GetUtxos(cctx, addr)
			cancel()
			if err != nil {
				return newUtxos, 0, err
			}

			for _, cu := range utxos {
				outpoint := domain.Outpoint{Txid: cu.Txid, VOut: cu.VOut}
				seen[outpoint] = struct{}{}
				highest = max(highest, int64(index))
				if _, ok := inFlight[cu.Txid]; ok {
					continue
				}
				if _, ok := awaited[hex.EncodeToString(pkScript)]; ok {
					continue
				}
				if _, ok := s.ledger.get(outpoint); ok {
					if cu.Confirmed {
						s.ledger.markConfirmed(outpoint)
					}
					continue
				}
				if !cu.Confirmed {
					continue
				}
				s.ledger.add(domain.Utxo{
					Outpoint:  outpoint,
					Amount:    cu.Amount,
					PkScript:  hex.EncodeToString(pkScript),
					KeyIndex:  index,
					Change:    chainType == changeChain,
					Confirmed: true,
					CreatedAt: now.Unix(),
				})
				newUtxos++
				log.WithField("outpoint", outpoint).
					WithField("amount", cu.Amount).
					Info("found new deposit")
			}
		}

		if highest >= int64(next) {
			s.commitAddresses(chainType, uint32(highest)+1-next)
		}
	}

	spent := 0
	for _, u := range s.ledger.list(false) {
		if _, ok := seen[u.Outpoint]; ok || u.IsReserved() || !u.Confirmed {
			continue
		}
		if _, ok := inFlight[u.Txid]; ok {
			continue
		}
		removed := s.registry.removeAllocations(u.Outpoint)
		s.ledger.markSpent(u.Outpoint)
		spent++
		log.WithField("outpoint", u.Outpoint).
			WithField("allocations", len(removed)).
			Warn("utxo spent outside of the wallet")
	}
	return newUtxos, spent, nil
}
