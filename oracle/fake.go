package oracle

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-memory RateProvider for tests and local development,
// mirroring the teacher's pattern of a mock collaborator behind the
// production interface (e.g. mockEngineState in native/lending).
type Fake struct {
	mu    sync.Mutex
	quote Quote
	err   error
}

// NewFake constructs a Fake seeded with an initial quote.
func NewFake(rate uint64, decimals uint32, ts time.Time) *Fake {
	return &Fake{quote: Quote{Rate: rate, Decimals: decimals, Timestamp: ts}}
}

// Set updates the quote the Fake will return.
func (f *Fake) Set(rate uint64, decimals uint32, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quote = Quote{Rate: rate, Decimals: decimals, Timestamp: ts}
	f.err = nil
}

// SetError forces the next FetchRate calls to fail with err.
func (f *Fake) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// FetchRate implements RateProvider.
func (f *Fake) FetchRate(ctx context.Context, asOf time.Time) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Quote{}, f.err
	}
	return f.quote, nil
}
