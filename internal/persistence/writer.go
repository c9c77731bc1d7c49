package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"

	"LendLedger/internal/event"
)

// RecordWriter writes operation records to Postgres using multi-row
// INSERT. Inserts are keyed on sequence so a retried batch is a no-op
// for rows already committed.
type RecordWriter struct {
	db *sql.DB
}

func NewRecordWriter(db *sql.DB) *RecordWriter {
	return &RecordWriter{db: db}
}

// WriteBatch appends a batch of records to lending.operations inside
// the given transaction.
func (w *RecordWriter) WriteBatch(ctx context.Context, tx *sql.Tx, records []*event.OperationRecord) error {
	if len(records) == 0 {
		return nil
	}

	query := `INSERT INTO lending.operations
		(sequence, operation, asset, caller, on_behalf_of, target, amount, mode, rule_id, created_at)
		VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*10)

	for i, r := range records {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			r.Sequence, r.TypeName(), r.Asset, r.Caller, r.OnBehalfOf, r.Target,
			numericArg(r.Amount), r.Mode, int64(r.RuleID), r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// LatestSequence returns the highest sequence in the operation log,
// or zero when the log is empty.
func (w *RecordWriter) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := w.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM lending.operations`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// numericArg renders a big integer for a NUMERIC column; nil maps to
// SQL NULL.
func numericArg(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}
