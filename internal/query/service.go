package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the projection tables.
// The projection is rewritten from the latest snapshot, so every
// response carries as_of_sequence: the operation sequence the
// projection reflects.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetReserves returns the projected state of every reserve.
func (qs *QueryService) GetReserves(ctx context.Context) ([]ReserveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT reserve_id, asset, decimals,
		       total_supplied, total_variable_borrowed, sum_stable_debt, average_stable_rate,
		       deposit_index, debt_index,
		       deposit_rate, variable_borrow_rate, stable_borrow_rate,
		       active, frozen, protocol_income,
		       parameters, restrictions, updated_at
		FROM lending.reserves
		ORDER BY reserve_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reserves []ReserveResponse
	for rows.Next() {
		r, err := scanReserve(rows)
		if err != nil {
			return nil, err
		}
		r.AsOfSequence = asOfSeq
		reserves = append(reserves, *r)
	}
	return reserves, rows.Err()
}

// GetReserve returns one reserve by asset symbol, or nil when the
// asset is not projected.
func (qs *QueryService) GetReserve(ctx context.Context, asset string) (*ReserveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT reserve_id, asset, decimals,
		       total_supplied, total_variable_borrowed, sum_stable_debt, average_stable_rate,
		       deposit_index, debt_index,
		       deposit_rate, variable_borrow_rate, stable_borrow_rate,
		       active, frozen, protocol_income,
		       parameters, restrictions, updated_at
		FROM lending.reserves
		WHERE asset = $1
	`, asset)

	r, err := scanReserve(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.AsOfSequence = asOfSeq
	return r, nil
}

// GetUserReserves returns all of a user's projected positions.
func (qs *QueryService) GetUserReserves(ctx context.Context, userID uuid.UUID) ([]UserReserveResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT reserve_id, supplied, variable_borrowed, stable_borrowed, stable_rate, updated_at
		FROM lending.user_reserves
		WHERE user_id = $1
		ORDER BY reserve_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []UserReserveResponse
	for rows.Next() {
		var p UserReserveResponse
		p.UserID = userID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.ReserveID, &p.Supplied, &p.VariableBorrowed,
			&p.StableBorrowed, &p.StableRate, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// GetUserConfig returns a user's membership sets and market rule, or
// nil when the user has no projected configuration.
func (qs *QueryService) GetUserConfig(ctx context.Context, userID uuid.UUID) (*UserConfigResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var cfg UserConfigResponse
	cfg.UserID = userID
	cfg.AsOfSequence = asOfSeq
	err = qs.db.QueryRowContext(ctx, `
		SELECT market_rule_id, config FROM lending.user_configs WHERE user_id = $1
	`, userID).Scan(&cfg.MarketRuleID, &cfg.Config)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetMarketRules returns every projected coefficient set.
func (qs *QueryService) GetMarketRules(ctx context.Context) ([]MarketRuleResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT rule_id, rule FROM lending.market_rules ORDER BY rule_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []MarketRuleResponse
	for rows.Next() {
		var r MarketRuleResponse
		r.AsOfSequence = asOfSeq
		if err := rows.Scan(&r.RuleID, &r.Rule); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetOperationHistory returns the user's slice of the operation log,
// newest first, with cursor-based pagination on sequence.
func (qs *QueryService) GetOperationHistory(
	ctx context.Context,
	userID uuid.UUID,
	asset *string,
	limit int,
	afterSequence *int64,
) ([]OperationResponse, error) {
	query := `
		SELECT sequence, operation, asset, caller, on_behalf_of, target, amount, mode, rule_id, created_at
		FROM lending.operations
		WHERE (caller = $1 OR on_behalf_of = $1 OR target = $1)
	`
	args := []interface{}{userID}
	argIdx := 2

	if asset != nil {
		query += fmt.Sprintf(" AND asset = $%d", argIdx)
		args = append(args, *asset)
		argIdx++
	}

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []OperationResponse
	for rows.Next() {
		var (
			op OperationResponse
			ts time.Time
		)
		if err := rows.Scan(
			&op.Sequence, &op.Operation, &op.Asset, &op.Caller, &op.OnBehalfOf,
			&op.Target, &op.Amount, &op.Mode, &op.RuleID, &ts,
		); err != nil {
			return nil, err
		}
		op.CreatedAt = ts.UnixMicro()
		history = append(history, op)
	}
	return history, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the operation log for sequence gaps and
// reports how far the projection lags behind it.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM lending.operations o1
		LEFT JOIN lending.operations o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.sequence > 1 AND o2.sequence IS NULL
		ORDER BY o1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.SequenceGaps = append(report.SequenceGaps, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var logSeq, snapSeq sql.NullInt64
	if err := qs.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM lending.operations`).Scan(&logSeq); err != nil {
		return nil, err
	}
	if err := qs.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM lending.snapshots`).Scan(&snapSeq); err != nil {
		return nil, err
	}
	if logSeq.Valid {
		report.SnapshotLag = logSeq.Int64 - snapSeq.Int64
	}

	report.IsHealthy = len(report.SequenceGaps) == 0
	return report, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReserve(row rowScanner) (*ReserveResponse, error) {
	var r ReserveResponse
	err := row.Scan(
		&r.ReserveID, &r.Asset, &r.Decimals,
		&r.TotalSupplied, &r.TotalVariableBorrowed, &r.SumStableDebt, &r.AverageStableRate,
		&r.DepositIndex, &r.DebtIndex,
		&r.DepositRate, &r.VariableBorrowRate, &r.StableBorrowRate,
		&r.Active, &r.Frozen, &r.ProtocolIncome,
		&r.Parameters, &r.Restrictions, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// getWatermark returns the sequence of the newest snapshot backing
// the projection tables; zero when no snapshot exists yet.
func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := qs.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM lending.snapshots`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
