package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"
)

// OutboundPublisher publishes applied operation records to NATS for
// downstream consumers. Subjects follow the pattern
// lend.ledger.operations.{operation}.{asset}; publishing is best
// effort, the operation log in Postgres stays the source of truth.
type OutboundPublisher struct {
	js    jetstream.JetStream
	input <-chan *event.OperationRecord
	log   zerolog.Logger
}

func NewOutboundPublisher(js jetstream.JetStream, input <-chan *event.OperationRecord) *OutboundPublisher {
	return &OutboundPublisher{
		js:    js,
		input: input,
		log:   observability.NewLogger("publisher"),
	}
}

// Run drains the publish channel until ctx is cancelled or the channel
// closes.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case record, ok := <-op.input:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, record); err != nil {
				op.log.Warn().Err(err).Int64("sequence", record.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, record *event.OperationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	subject := fmt.Sprintf("lend.ledger.operations.%s", record.TypeName())
	if record.Asset != "" {
		subject = fmt.Sprintf("%s.%s", subject, record.Asset)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound operations stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEND_LEDGER_OPERATIONS",
		Subjects:  []string{"lend.ledger.operations.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	logger := observability.NewLogger("publisher")
	logger.Info().Msg("ensured outbound stream LEND_LEDGER_OPERATIONS")
	return nil
}
