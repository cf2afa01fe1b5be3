// Package oracle defines the protocol's external price-feed collaborator
// and the freshness guardrail every consumer of a quote must apply.
package oracle

import (
	"context"
	"fmt"
	"time"

	"nhbvault/numeric"
)

// MaxAge is the freshness bound on an oracle quote before it must be
// rejected as too old to act on (spec PRICE_MAX_AGE).
const MaxAge = 10 * time.Minute

// marginBehind is how far behind "now" the query timestamp is pinned, since
// the exchange-rate provider only has confirmed quotes shortly in the past.
const marginBehind = 60 * time.Second

// Quote is a single oracle reading for CT priced in USD.
type Quote struct {
	Rate      uint64
	Decimals  uint32
	Timestamp time.Time
}

// Price converts the quote into the protocol's fixed-point Price type.
func (q Quote) Price() numeric.Price {
	return numeric.PriceFromUnits(q.Rate, q.Decimals)
}

// RateProvider is the external exchange-rate collaborator. Implementations
// query for the rate as of roughly marginBehind before now, mirroring the
// original canister's practice of asking the rate oracle for a timestamp
// slightly in the past so the query lands on a settled observation.
type RateProvider interface {
	FetchRate(ctx context.Context, asOf time.Time) (Quote, error)
}

// QueryTime returns the timestamp a RateProvider should be queried with for
// a refresh initiated at now.
func QueryTime(now time.Time) time.Time {
	return now.Add(-marginBehind)
}

// ErrStale is returned by CheckFresh when a quote exceeds MaxAge.
var ErrStale = fmt.Errorf("oracle: price older than %s", MaxAge)

// CheckFresh validates that a quote observed at q.Timestamp is still usable
// as of now.
func CheckFresh(q Quote, now time.Time) error {
	if q.Timestamp.IsZero() {
		return ErrStale
	}
	if now.Sub(q.Timestamp) > MaxAge {
		return ErrStale
	}
	return nil
}
