package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCurrent_FetchesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ripple":{"usd":0.62,"usd_24h_change":1.5,"usd_market_cap":34000000000}}`))
	}))
	defer srv.Close()

	src := NewCoinGecko(srv.URL, time.Minute)
	ctx := context.Background()

	q := src.Current(ctx)
	if q.Price.String() != "0.62" {
		t.Errorf("expected price 0.62, got %s", q.Price)
	}

	// Second call within the TTL must hit the cache.
	src.Current(ctx)
	if calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", calls)
	}
}

func TestCurrent_FallsBackOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	src := NewCoinGecko(srv.URL, time.Minute)

	q := src.Current(context.Background())
	if !q.Price.Equal(FallbackPrice) {
		t.Errorf("expected fallback price %s, got %s", FallbackPrice, q.Price)
	}
	if q.FetchedAt.IsZero() {
		t.Error("fallback quote must carry a timestamp")
	}
}

func TestHistory_ParsesSeries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"prices":[[1717200000000,0.51],[1717286400000,0.53]]}`))
	}))
	defer srv.Close()

	src := NewCoinGecko(srv.URL, time.Minute)

	points, err := src.History(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if points[1].Price.String() != "0.53" {
		t.Errorf("expected 0.53, got %s", points[1].Price)
	}
}

func TestHistory_SyntheticOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	src := NewCoinGecko(srv.URL, time.Minute)

	points, err := src.History(context.Background(), 7)
	if err != nil {
		t.Fatalf("synthetic fallback must not error, got %v", err)
	}
	if len(points) != 8 {
		t.Fatalf("expected 8 points for a 7-day window, got %d", len(points))
	}
	for _, p := range points {
		if !p.Price.IsPositive() {
			t.Errorf("synthetic price must be positive, got %s", p.Price)
		}
	}
}
