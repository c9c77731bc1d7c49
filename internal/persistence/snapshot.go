package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"LendLedger/internal/state"
)

// SnapshotManager persists full-ledger snapshots and projects them
// into the relational tables the query service reads. Snapshots are
// taken periodically and on graceful shutdown; recovery restores the
// newest one and compares its sequence against the operation log.
type SnapshotManager struct {
	db *sql.DB
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot writes the snapshot blob and rewrites the state tables
// from it, all in one transaction.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, sequence int64, snap *state.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := sm.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO lending.snapshots (snapshot_id, sequence, data, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, size_bytes = $4
	`, uuid.New(), sequence, data, len(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := sm.projectState(ctx, tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

// projectState replaces the relational view of the ledger with the
// snapshot's contents. The snapshot is the full state, so rewrite is
// simpler and safer than diffing.
func (sm *SnapshotManager) projectState(ctx context.Context, tx *sql.Tx, snap *state.Snapshot) error {
	for _, table := range []string{
		"lending.reserves",
		"lending.user_reserves",
		"lending.user_configs",
		"lending.market_rules",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, r := range snap.Reserves {
		params, err := json.Marshal(r.Parameters)
		if err != nil {
			return fmt.Errorf("marshal parameters for %s: %w", r.Asset, err)
		}
		restrictions, err := json.Marshal(r.Restrictions)
		if err != nil {
			return fmt.Errorf("marshal restrictions for %s: %w", r.Asset, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lending.reserves
				(reserve_id, asset, decimals,
				 total_supplied, total_variable_borrowed, sum_stable_debt, average_stable_rate,
				 deposit_index, debt_index,
				 deposit_rate, variable_borrow_rate, stable_borrow_rate,
				 active, frozen, protocol_income,
				 parameters, restrictions, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		`,
			int16(r.ID), r.Asset, int16(r.Decimals),
			numericArg(r.TotalSupplied), numericArg(r.TotalVariableBorrowed),
			numericArg(r.SumStableDebt), numericArg(r.AverageStableRate),
			numericArg(r.CumulativeDepositIndex), numericArg(r.CumulativeDebtIndex),
			numericArg(r.CurrentDepositRate), numericArg(r.CurrentVariableBorrowRate),
			numericArg(r.CurrentStableBorrowRate),
			r.Active, r.Frozen, numericArg(r.ProtocolIncome),
			params, restrictions, r.LastUpdateTimestamp,
		)
		if err != nil {
			return fmt.Errorf("project reserve %s: %w", r.Asset, err)
		}
	}

	for _, p := range snap.Positions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lending.user_reserves
				(reserve_id, user_id, supplied, variable_borrowed, stable_borrowed, stable_rate, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			int16(p.ReserveID), p.User,
			numericArg(p.Data.Supplied), numericArg(p.Data.VariableBorrowed),
			numericArg(p.Data.StableBorrowed), numericArg(p.Data.StableBorrowRate),
			p.Data.UpdateTimestamp,
		)
		if err != nil {
			return fmt.Errorf("project position %d/%s: %w", p.ReserveID, p.User, err)
		}
	}

	for _, c := range snap.Configs {
		cfg, err := json.Marshal(c.Config)
		if err != nil {
			return fmt.Errorf("marshal config for %s: %w", c.User, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lending.user_configs (user_id, market_rule_id, config)
			VALUES ($1, $2, $3)
		`, c.User, int64(c.Config.MarketRuleID), cfg)
		if err != nil {
			return fmt.Errorf("project config for %s: %w", c.User, err)
		}
	}

	for _, r := range snap.Rules {
		rule, err := json.Marshal(r.Rule)
		if err != nil {
			return fmt.Errorf("marshal rule %d: %w", r.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO lending.market_rules (rule_id, rule)
			VALUES ($1, $2)
		`, int64(r.ID), rule)
		if err != nil {
			return fmt.Errorf("project rule %d: %w", r.ID, err)
		}
	}

	return nil
}

// LoadLatest returns the newest snapshot and its sequence, or nil and
// zero when the table is empty (cold start).
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*state.Snapshot, int64, error) {
	var (
		data     []byte
		sequence int64
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT data, sequence FROM lending.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data, &sequence)
	if err == sql.ErrNoRows {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load snapshot: %w", err)
	}

	var snap state.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, 0, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, sequence, nil
}
