package price

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	coinID         = "ripple"
	vsCurrency     = "usd"
)

// CoinGecko fetches XRP quotes from the CoinGecko API. Responses are cached
// in-process for the configured TTL so the dashboard does not hammer the
// upstream on every trade.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	ttl     time.Duration

	mu        sync.Mutex
	quote     Quote
	histories map[int]historyEntry
}

type historyEntry struct {
	points    []Point
	fetchedAt time.Time
}

// NewCoinGecko creates a CoinGecko price source. An empty baseURL selects
// the public API endpoint.
func NewCoinGecko(baseURL string, ttl time.Duration) *CoinGecko {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &CoinGecko{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		ttl:       ttl,
		histories: make(map[int]historyEntry),
	}
}

// Current returns the cached quote when fresh, otherwise refetches. On
// upstream failure it returns the fallback quote so trade opens and closes
// keep working while the API is down.
func (c *CoinGecko) Current(ctx context.Context) Quote {
	c.mu.Lock()
	if !c.quote.FetchedAt.IsZero() && time.Since(c.quote.FetchedAt) < c.ttl {
		q := c.quote
		c.mu.Unlock()
		return q
	}
	c.mu.Unlock()

	q, err := c.fetchCurrent(ctx)
	if err != nil {
		slog.Warn("price fetch failed, using fallback", "err", err)
		return Quote{Price: FallbackPrice, FetchedAt: time.Now().UTC()}
	}

	c.mu.Lock()
	c.quote = q
	c.mu.Unlock()
	return q
}

func (c *CoinGecko) fetchCurrent(ctx context.Context) (Quote, error) {
	url := fmt.Sprintf(
		"%s/simple/price?ids=%s&vs_currencies=%s&include_24hr_change=true&include_market_cap=true",
		c.baseURL, coinID, vsCurrency,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, err
	}
	req.Header.Set("User-Agent", "community-engine/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("coingecko: unexpected status %d", resp.StatusCode)
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}

	fields, ok := payload[coinID]
	if !ok {
		return Quote{}, fmt.Errorf("coingecko: coin %s missing from response", coinID)
	}

	return Quote{
		Price:     decimal.NewFromFloat(fields[vsCurrency]),
		Change24h: decimal.NewFromFloat(fields[vsCurrency+"_24h_change"]),
		MarketCap: decimal.NewFromFloat(fields[vsCurrency+"_market_cap"]),
		FetchedAt: time.Now().UTC(),
	}, nil
}

// History returns the daily price series for the given window, cached with
// the same TTL. On upstream failure a synthetic series around the fallback
// price is returned.
func (c *CoinGecko) History(ctx context.Context, days int) ([]Point, error) {
	c.mu.Lock()
	if entry, ok := c.histories[days]; ok && time.Since(entry.fetchedAt) < c.ttl {
		points := entry.points
		c.mu.Unlock()
		return points, nil
	}
	c.mu.Unlock()

	points, err := c.fetchHistory(ctx, days)
	if err != nil {
		slog.Warn("price history fetch failed, using synthetic series", "err", err, "days", days)
		return syntheticHistory(days), nil
	}

	c.mu.Lock()
	c.histories[days] = historyEntry{points: points, fetchedAt: time.Now().UTC()}
	c.mu.Unlock()
	return points, nil
}

func (c *CoinGecko) fetchHistory(ctx context.Context, days int) ([]Point, error) {
	url := fmt.Sprintf("%s/coins/%s/market_chart?vs_currency=%s&days=%d",
		c.baseURL, coinID, vsCurrency, days)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "community-engine/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		Prices [][2]float64 `json:"prices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("coingecko: decode: %w", err)
	}

	points := make([]Point, 0, len(payload.Prices))
	for _, p := range payload.Prices {
		points = append(points, Point{
			Timestamp: time.UnixMilli(int64(p[0])).UTC(),
			Price:     decimal.NewFromFloat(p[1]),
		})
	}
	return points, nil
}

// syntheticHistory fabricates a plausible daily series around the fallback
// price, ±10% per day.
func syntheticHistory(days int) []Point {
	now := time.Now().UTC()
	points := make([]Point, 0, days+1)
	for i := days; i >= 0; i-- {
		variation := decimal.NewFromInt(int64(rand.Intn(21) - 10)).Div(decimal.NewFromInt(100))
		p := FallbackPrice.Mul(decimal.NewFromInt(1).Add(variation)).Round(6)
		points = append(points, Point{
			Timestamp: now.AddDate(0, 0, -i),
			Price:     p,
		})
	}
	return points
}
