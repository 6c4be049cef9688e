package sqlitedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shiro-wallet/shirod/internal/core/domain"
)

type walletRepository struct {
	db *sql.DB
}

func NewWalletRepository(config ...interface{}) (domain.WalletRepository, error) {
	db, err := parseConfig(config...)
	if err != nil {
		return nil, err
	}
	return &walletRepository{db}, nil
}

func (r *walletRepository) Get(ctx context.Context) (*domain.WalletSnapshot, error) {
	snapshot := &domain.WalletSnapshot{}
	err := r.db.QueryRowContext(
		ctx,
		`SELECT account_xpub, fingerprint, issuer_key, network,
		receive_index, change_index, blinding_index, updated_at
		FROM wallet WHERE id = 1`,
	).Scan(
		&snapshot.Identity.AccountXpub, &snapshot.Identity.Fingerprint,
		&snapshot.Identity.IssuerKey, &snapshot.Identity.Network,
		&snapshot.Indexes.Receive, &snapshot.Indexes.Change, &snapshot.Indexes.Blinding,
		&snapshot.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}

	if snapshot.Utxos, err = r.selectUtxos(ctx); err != nil {
		return nil, err
	}
	if snapshot.Contracts, err = r.selectContracts(ctx); err != nil {
		return nil, err
	}
	if snapshot.Allocations, err = r.selectAllocations(ctx); err != nil {
		return nil, err
	}
	if snapshot.Transfers, err = r.selectTransfers(ctx); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Save replaces the whole stored state with the given snapshot in a single transaction.
func (r *walletRepository) Save(ctx context.Context, snapshot domain.WalletSnapshot) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := clearTables(ctx, tx); err != nil {
			return err
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO wallet (id, account_xpub, fingerprint, issuer_key, network,
			receive_index, change_index, blinding_index, updated_at)
			VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snapshot.Identity.AccountXpub, snapshot.Identity.Fingerprint,
			snapshot.Identity.IssuerKey, snapshot.Identity.Network,
			snapshot.Indexes.Receive, snapshot.Indexes.Change, snapshot.Indexes.Blinding,
			snapshot.UpdatedAt,
		); err != nil {
			return fmt.Errorf("failed to insert wallet: %w", err)
		}

		for _, u := range snapshot.Utxos {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO utxo (txid, vout, amount, pk_script, key_index, change,
				reserved_for, spent, confirmed, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				u.Txid, u.VOut, int64(u.Amount), u.PkScript, u.KeyIndex, u.Change,
				u.ReservedFor, u.Spent, u.Confirmed, u.CreatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert utxo %s: %w", u.Outpoint, err)
			}
		}

		for _, c := range snapshot.Contracts {
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO asset_contract (asset_id, ticker, name, total_supply, precision,
				issued_by, issued_at, signature)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				c.AssetID, c.Ticker, c.Name, int64(c.TotalSupply), c.Precision,
				c.IssuedBy, c.IssuedAt, c.Signature,
			); err != nil {
				return fmt.Errorf("failed to insert contract %s: %w", c.AssetID, err)
			}
		}

		for _, a := range snapshot.Allocations {
			if _, err := tx.ExecContext(
				ctx,
				"INSERT INTO asset_allocation (asset_id, txid, vout, amount) VALUES (?, ?, ?, ?)",
				a.AssetID, a.Outpoint.Txid, a.Outpoint.VOut, int64(a.Amount),
			); err != nil {
				return fmt.Errorf("failed to insert allocation on %s: %w", a.Outpoint, err)
			}
		}

		for _, t := range snapshot.Transfers {
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to marshal transfer %s: %w", t.ID, err)
			}
			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO transfer (id, kind, direction, asset_id, status, data,
				created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, string(t.Kind), string(t.Direction), t.AssetID, string(t.Status),
				string(data), t.CreatedAt, t.UpdatedAt,
			); err != nil {
				return fmt.Errorf("failed to insert transfer %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (r *walletRepository) Clear(ctx context.Context) error {
	return execTx(ctx, r.db, func(tx *sql.Tx) error {
		return clearTables(ctx, tx)
	})
}

func (r *walletRepository) Close() {
	// nolint:all
	r.db.Close()
}

func (r *walletRepository) selectUtxos(ctx context.Context) ([]domain.Utxo, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT txid, vout, amount, pk_script, key_index, change, reserved_for, spent,
		confirmed, created_at FROM utxo ORDER BY txid, vout`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select utxos: %w", err)
	}
	// nolint:all
	defer rows.Close()

	utxos := make([]domain.Utxo, 0)
	for rows.Next() {
		var (
			u      domain.Utxo
			amount int64
		)
		if err := rows.Scan(
			&u.Txid, &u.VOut, &amount, &u.PkScript, &u.KeyIndex, &u.Change, &u.ReservedFor,
			&u.Spent, &u.Confirmed, &u.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan utxo: %w", err)
		}
		u.Amount = uint64(amount)
		utxos = append(utxos, u)
	}
	return utxos, rows.Err()
}

func (r *walletRepository) selectContracts(ctx context.Context) ([]domain.AssetContract, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT asset_id, ticker, name, total_supply, precision, issued_by, issued_at, signature
		FROM asset_contract ORDER BY ticker, asset_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select contracts: %w", err)
	}
	// nolint:all
	defer rows.Close()

	contracts := make([]domain.AssetContract, 0)
	for rows.Next() {
		var (
			c      domain.AssetContract
			supply int64
		)
		if err := rows.Scan(
			&c.AssetID, &c.Ticker, &c.Name, &supply, &c.Precision, &c.IssuedBy, &c.IssuedAt,
			&c.Signature,
		); err != nil {
			return nil, fmt.Errorf("failed to scan contract: %w", err)
		}
		c.TotalSupply = uint64(supply)
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

func (r *walletRepository) selectAllocations(
	ctx context.Context,
) ([]domain.AssetAllocation, error) {
	rows, err := r.db.QueryContext(
		ctx, "SELECT asset_id, txid, vout, amount FROM asset_allocation ORDER BY txid, vout, asset_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to select allocations: %w", err)
	}
	// nolint:all
	defer rows.Close()

	allocations := make([]domain.AssetAllocation, 0)
	for rows.Next() {
		var (
			a      domain.AssetAllocation
			amount int64
		)
		if err := rows.Scan(&a.AssetID, &a.Outpoint.Txid, &a.Outpoint.VOut, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		a.Amount = uint64(amount)
		allocations = append(allocations, a)
	}
	return allocations, rows.Err()
}

func (r *walletRepository) selectTransfers(ctx context.Context) ([]domain.Transfer, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT data FROM transfer ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to select transfers: %w", err)
	}
	// nolint:all
	defer rows.Close()

	transfers := make([]domain.Transfer, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		var t domain.Transfer
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("malformed transfer in storage: %w", err)
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

func clearTables(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{"asset_allocation", "transfer", "utxo", "asset_contract", "wallet"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}
