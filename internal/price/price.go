// Package price supplies the current reference price and historical series
// for the traded asset. Quotes come from the CoinGecko public API and are
// cached with a TTL; when the upstream call fails the source degrades to a
// fixed placeholder price rather than failing the caller.
package price

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// FallbackPrice is returned when no live quote is available. Trade opens
// and closes proceed against it rather than erroring out.
var FallbackPrice = decimal.NewFromFloat(0.50)

// Quote is one point-in-time reference price.
type Quote struct {
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
	MarketCap decimal.Decimal `json:"market_cap"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Point is one entry of a historical price series.
type Point struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// Source supplies reference prices. Current never fails: implementations
// fall back to a placeholder quote when the upstream is unavailable.
type Source interface {
	Current(ctx context.Context) Quote
	History(ctx context.Context, days int) ([]Point, error)
}

// Static is a fixed-price Source for tests.
type Static struct {
	mu    sync.Mutex
	quote Quote
}

// NewStatic creates a Static source at the given price.
func NewStatic(p decimal.Decimal) *Static {
	return &Static{quote: Quote{Price: p, FetchedAt: time.Now().UTC()}}
}

// SetPrice changes the price returned by Current.
func (s *Static) SetPrice(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quote.Price = p
}

func (s *Static) Current(_ context.Context) Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quote
}

func (s *Static) History(_ context.Context, days int) ([]Point, error) {
	s.mu.Lock()
	p := s.quote.Price
	s.mu.Unlock()

	now := time.Now().UTC()
	points := make([]Point, 0, days+1)
	for i := days; i >= 0; i-- {
		points = append(points, Point{
			Timestamp: now.AddDate(0, 0, -i),
			Price:     p,
		})
	}
	return points, nil
}
