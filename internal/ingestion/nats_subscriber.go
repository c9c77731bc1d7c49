package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LendLedger/internal/observability"
)

const (
	// PriceSubject is the oracle feed: one message per quote, asset in
	// the payload, producer id in the subject tail.
	PriceSubject = "lend.prices.>"

	priceStream   = "LEND_PRICES"
	priceConsumer = "ledger-prices"
)

// PriceSubscriber consumes the oracle feed from NATS JetStream and
// keeps the price cache current.
type PriceSubscriber struct {
	js       jetstream.JetStream
	cache    *PriceCache
	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, cache *PriceCache, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		cache:   cache,
		metrics: metrics,
		log:     observability.NewLogger("ingestion"),
	}
}

// Subscribe creates the durable JetStream consumer and starts pumping
// quotes into the cache. Malformed messages are acked and dropped; a
// bad quote will never become good on redelivery.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, priceStream, jetstream.ConsumerConfig{
		Durable:       priceConsumer,
		FilterSubject: PriceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", priceConsumer, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		update, err := ParsePriceUpdate(msg.Data())
		if err != nil {
			ps.log.Warn().Err(err).Str("subject", msg.Subject()).Msg("discarding price message")
			if ps.metrics != nil {
				ps.metrics.PriceParseErrors.Inc()
			}
			msg.Ack()
			return
		}

		if ps.cache.SetPrice(update.Asset, update.Price, update.Sequence, update.Timestamp) {
			if ps.metrics != nil {
				ps.metrics.PriceUpdates.WithLabelValues(update.Asset).Inc()
				ps.metrics.PriceAge.WithLabelValues(update.Asset).Set(0)
			}
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", priceConsumer, err)
	}

	ps.consumer = consumeCtx
	ps.log.Info().Str("subject", PriceSubject).Str("consumer", priceConsumer).Msg("subscribed")
	return nil
}

// Stop gracefully stops the consumer.
func (ps *PriceSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	ps.log.Info().Msg("price subscriber stopped")
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	log := observability.NewLogger("ingestion")

	streams := []jetstream.StreamConfig{
		{
			Name:      priceStream,
			Subjects:  []string{"lend.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
