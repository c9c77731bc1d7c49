package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"
)

// Worker drains the persist channel and batch-writes operation records
// to Postgres. The pool sends on the channel with a BLOCKING send, so
// if this worker falls behind, operations stall rather than losing
// their audit trail.
type Worker struct {
	writer       *RecordWriter
	input        <-chan *event.OperationRecord
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	input <-chan *event.OperationRecord,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewRecordWriter(db),
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

// Run batches incoming records and flushes either when the batch is
// full or the flush timeout expires. Blocks until ctx is cancelled or
// the input channel is closed; remaining records are flushed on the
// way out.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]*event.OperationRecord, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("records", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case record, ok := <-w.input:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("records", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, record)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops records: it retries until the write succeeds or the context is
// cancelled, in which case it attempts one final flush with a
// background context so the batch survives a graceful shutdown.
func (w *Worker) flushWithRetry(ctx context.Context, batch []*event.OperationRecord) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("records", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("flush").Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []*event.OperationRecord) error {
	start := time.Now()

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_begin").Inc()
		}
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, batch); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("write_records").Inc()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if w.metrics != nil {
			w.metrics.PersistErrors.WithLabelValues("tx_commit").Inc()
		}
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistRecordsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Sequence))
	}

	return nil
}

// Writer exposes the underlying record writer, used by recovery to
// inspect the operation log.
func (w *Worker) Writer() *RecordWriter {
	return w.writer
}
