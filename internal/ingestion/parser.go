package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// PriceUpdate is a parsed oracle quote. Price is in e8 units of the
// base currency per whole token.
type PriceUpdate struct {
	Asset     string
	Price     *big.Int
	Sequence  int64
	Timestamp time.Time
}

// priceJSON is the wire format received from NATS. The price travels
// as a decimal string so arbitrary magnitudes survive the trip.
type priceJSON struct {
	Asset       string `json:"asset"`
	Price       string `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParsePriceUpdate validates and converts a raw price message.
func ParsePriceUpdate(data []byte) (*PriceUpdate, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse price update: %w", err)
	}
	if j.Asset == "" {
		return nil, fmt.Errorf("parse price update: missing asset")
	}

	price, ok := new(big.Int).SetString(j.Price, 10)
	if !ok {
		return nil, fmt.Errorf("parse price update: bad price %q", j.Price)
	}
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("parse price update: non-positive price %s", price)
	}

	return &PriceUpdate{
		Asset:     j.Asset,
		Price:     price,
		Sequence:  j.Sequence,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}
