package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/core"
	"LendLedger/internal/observability"
)

// TransferBridge is the production asset-transfer and token-notifier
// backend. The ledger only accounts; the actual token moves happen in
// the custody service, which consumes these instructions. Transfer
// instructions are published synchronously with JetStream acks so a
// broker outage fails the ledger operation instead of stranding funds.
type TransferBridge struct {
	js  jetstream.JetStream
	log zerolog.Logger
}

func NewTransferBridge(js jetstream.JetStream) *TransferBridge {
	return &TransferBridge{
		js:  js,
		log: observability.NewLogger("transfer"),
	}
}

type transferInstruction struct {
	Asset       string    `json:"asset"`
	From        uuid.UUID `json:"from,omitempty"`
	To          uuid.UUID `json:"to"`
	Amount      string    `json:"amount"`
	Pull        bool      `json:"pull"`
	TimestampUs int64     `json:"timestamp_us"`
}

type balanceDelta struct {
	Token       uuid.UUID `json:"token"`
	Kind        string    `json:"kind"`
	User        uuid.UUID `json:"user"`
	Delta       string    `json:"delta"`
	TimestampUs int64     `json:"timestamp_us"`
}

// Transfer publishes a pool-to-user payout instruction.
func (b *TransferBridge) Transfer(ctx context.Context, asset string, to uuid.UUID, amount *big.Int) error {
	return b.publishTransfer(ctx, transferInstruction{
		Asset:       asset,
		To:          to,
		Amount:      amount.String(),
		TimestampUs: time.Now().UnixMicro(),
	})
}

// TransferFrom publishes a pull instruction moving funds into the pool
// or between users.
func (b *TransferBridge) TransferFrom(ctx context.Context, asset string, from, to uuid.UUID, amount *big.Int) error {
	return b.publishTransfer(ctx, transferInstruction{
		Asset:       asset,
		From:        from,
		To:          to,
		Amount:      amount.String(),
		Pull:        true,
		TimestampUs: time.Now().UnixMicro(),
	})
}

func (b *TransferBridge) publishTransfer(ctx context.Context, ins transferInstruction) error {
	data, err := json.Marshal(ins)
	if err != nil {
		return fmt.Errorf("marshal transfer: %w", err)
	}
	subject := fmt.Sprintf("lend.ledger.transfers.%s", ins.Asset)
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish transfer: %w", err)
	}
	return nil
}

// NotifyBalanceDelta publishes a wrapper-token balance change. The
// ledger has already committed when this runs, so failures are logged
// and the token service reconciles from the operation stream.
func (b *TransferBridge) NotifyBalanceDelta(token uuid.UUID, kind core.TokenKind, user uuid.UUID, delta *big.Int) {
	data, err := json.Marshal(balanceDelta{
		Token:       token,
		Kind:        string(kind),
		User:        user,
		Delta:       delta.String(),
		TimestampUs: time.Now().UnixMicro(),
	})
	if err != nil {
		b.log.Error().Err(err).Msg("marshal balance delta")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	subject := fmt.Sprintf("lend.ledger.tokens.%s", kind)
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		b.log.Warn().Err(err).Str("kind", string(kind)).Msg("balance delta publish failed")
	}
}

// EnsureTransferStream creates the stream carrying transfer
// instructions and token balance deltas.
func EnsureTransferStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEND_LEDGER_TRANSFERS",
		Subjects:  []string{"lend.ledger.transfers.>", "lend.ledger.tokens.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create transfer stream: %w", err)
	}
	return nil
}
