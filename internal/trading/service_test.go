package trading_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/notify"
	"github.com/specter/community-engine/internal/price"
	"github.com/specter/community-engine/internal/store"
	"github.com/specter/community-engine/internal/trading"
	"github.com/specter/community-engine/internal/xp"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a trading engine over an in-memory store with a fixed
// reference price, plus a chi router for handler tests.
func newTestEnv(t *testing.T) (*trading.Engine, *store.MemoryStore, *price.Static, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	src := price.NewStatic(d(0.50))
	center := notify.NewCenter(ms, nil)
	xpEngine := xp.NewEngine(ms, center)
	engine := trading.NewEngine(ms, src, xpEngine, center)

	r := chi.NewRouter()
	r.Post("/api/v1/trades", engine.HandleOpen)
	r.Post("/api/v1/trades/{tradeID}/close", engine.HandleClose)
	r.Get("/api/v1/trades", engine.HandleList)
	r.Get("/api/v1/trades/stats", engine.HandleStats)

	return engine, ms, src, r
}

func seedTrader(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	err := ms.CreateAccount(context.Background(), &model.Account{
		ID:        id,
		Username:  "trader-" + id,
		Role:      "member",
		Level:     1,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

// --- Open tests ---

func TestOpen_BuySizesFromAmount(t *testing.T) {
	engine, ms, _, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")

	trade, err := engine.Open(context.Background(), "u1", d(100), model.SideBuy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !trade.EntryPrice.Equal(d(0.50)) {
		t.Errorf("expected entry price 0.50, got %s", trade.EntryPrice)
	}
	if !trade.Size.Equal(d(200)) {
		t.Errorf("expected size 200 for 100 at 0.50, got %s", trade.Size)
	}
	if trade.Status != model.TradeOpen {
		t.Errorf("expected status open, got %s", trade.Status)
	}

	// Opening is XP-neutral.
	account, _ := ms.GetAccount(context.Background(), "u1")
	if account.XP != 0 {
		t.Errorf("open must not award XP, got %d", account.XP)
	}
}

func TestOpen_InvalidAmount(t *testing.T) {
	engine, ms, _, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")

	for _, amount := range []decimal.Decimal{d(0), d(-50)} {
		if _, err := engine.Open(context.Background(), "u1", amount, model.SideBuy); err != trading.ErrInvalidAmount {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestOpen_InvalidSide(t *testing.T) {
	engine, ms, _, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")

	if _, err := engine.Open(context.Background(), "u1", d(100), "short"); err != trading.ErrInvalidSide {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
}

// --- Close tests ---

func TestClose_ProfitableBuy(t *testing.T) {
	engine, ms, src, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")
	ctx := context.Background()

	trade, err := engine.Open(ctx, "u1", d(100), model.SideBuy)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	src.SetPrice(d(0.55))
	closed, err := engine.Close(ctx, trade.ID, "u1")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// (0.55 − 0.50) × 200 = 10.
	if !closed.ProfitLoss.Equal(d(10)) {
		t.Errorf("expected P/L 10, got %s", closed.ProfitLoss)
	}
	if closed.Status != model.TradeClosed {
		t.Errorf("expected status closed, got %s", closed.Status)
	}
	if closed.ClosedAt == nil {
		t.Error("expected closed_at to be set")
	}

	// Profitable close: 10 XP + first_trade (25) + profitable_trader (50).
	account, _ := ms.GetAccount(ctx, "u1")
	if account.XP != 85 {
		t.Errorf("expected 85 XP after profitable close, got %d", account.XP)
	}

	notifications, _ := ms.ListNotifications(ctx, "u1", 10)
	found := false
	for _, n := range notifications {
		if n.Title == "Trade Closed" && n.Type == "success" {
			found = true
		}
	}
	if !found {
		t.Error("expected a success Trade Closed notification")
	}
}

func TestClose_LosingSell(t *testing.T) {
	engine, ms, src, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")
	ctx := context.Background()

	trade, err := engine.Open(ctx, "u1", d(100), model.SideSell)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	// Price rises: a sell loses.
	src.SetPrice(d(0.55))
	closed, err := engine.Close(ctx, trade.ID, "u1")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if !closed.ProfitLoss.Equal(d(-10)) {
		t.Errorf("expected P/L -10 for sell into rising price, got %s", closed.ProfitLoss)
	}

	// Non-profitable close still pays the base reward (5) + first_trade (25).
	account, _ := ms.GetAccount(ctx, "u1")
	if account.XP != 30 {
		t.Errorf("expected 30 XP after losing close, got %d", account.XP)
	}
}

func TestClose_FlatPriceIsNotProfit(t *testing.T) {
	engine, ms, _, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")
	ctx := context.Background()

	trade, _ := engine.Open(ctx, "u1", d(100), model.SideBuy)
	closed, err := engine.Close(ctx, trade.ID, "u1")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if !closed.ProfitLoss.IsZero() {
		t.Errorf("expected zero P/L, got %s", closed.ProfitLoss)
	}

	// Zero P/L pays the base reward, not the profitable one.
	account, _ := ms.GetAccount(ctx, "u1")
	if account.XP != 30 {
		t.Errorf("expected 30 XP (5 close + 25 first_trade), got %d", account.XP)
	}
}

func TestClose_AlreadyClosed(t *testing.T) {
	engine, ms, _, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")
	ctx := context.Background()

	trade, _ := engine.Open(ctx, "u1", d(100), model.SideBuy)
	if _, err := engine.Close(ctx, trade.ID, "u1"); err != nil {
		t.Fatalf("first close failed: %v", err)
	}

	if _, err := engine.Close(ctx, trade.ID, "u1"); err != trading.ErrTradeNotFound {
		t.Errorf("second close: expected ErrTradeNotFound, got %v", err)
	}
}

func TestClose_WrongAccount(t *testing.T) {
	engine, ms, _, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")
	seedTrader(t, ms, "u2")
	ctx := context.Background()

	trade, _ := engine.Open(ctx, "u1", d(100), model.SideBuy)

	if _, err := engine.Close(ctx, trade.ID, "u2"); err != trading.ErrTradeNotFound {
		t.Errorf("expected ErrTradeNotFound for foreign trade, got %v", err)
	}
}

// --- Stats tests ---

func TestStats_Aggregates(t *testing.T) {
	engine, ms, src, _ := newTestEnv(t)
	seedTrader(t, ms, "u1")
	ctx := context.Background()

	t1, _ := engine.Open(ctx, "u1", d(100), model.SideBuy)
	t2, _ := engine.Open(ctx, "u1", d(100), model.SideBuy)
	_, _ = engine.Open(ctx, "u1", d(100), model.SideBuy)

	src.SetPrice(d(0.55))
	if _, err := engine.Close(ctx, t1.ID, "u1"); err != nil {
		t.Fatalf("close t1: %v", err)
	}
	src.SetPrice(d(0.45))
	if _, err := engine.Close(ctx, t2.ID, "u1"); err != nil {
		t.Fatalf("close t2: %v", err)
	}

	stats, err := engine.Stats(ctx, "u1")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	if stats.TotalTrades != 3 {
		t.Errorf("expected 3 total trades, got %d", stats.TotalTrades)
	}
	if stats.CompletedTrades != 2 {
		t.Errorf("expected 2 completed trades, got %d", stats.CompletedTrades)
	}
	if stats.ProfitableTrades != 1 {
		t.Errorf("expected 1 profitable trade, got %d", stats.ProfitableTrades)
	}
	// +10 − 10 = 0.
	if !stats.TotalProfitLoss.IsZero() {
		t.Errorf("expected net zero P/L, got %s", stats.TotalProfitLoss)
	}
}

// --- Handler tests ---

func TestHandleOpen_RoundTrip(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	seedTrader(t, ms, "u1")

	body, _ := json.Marshal(trading.OpenRequest{
		AccountID: "u1",
		Amount:    d(100),
		Side:      model.SideBuy,
	})
	req := httptest.NewRequest("POST", "/api/v1/trades", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var trade model.Trade
	json.Unmarshal(w.Body.Bytes(), &trade)
	if trade.ID == "" {
		t.Error("expected non-empty trade id")
	}
	if !trade.Size.Equal(d(200)) {
		t.Errorf("expected size 200, got %s", trade.Size)
	}
}

func TestHandleOpen_BadSide(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	seedTrader(t, ms, "u1")

	body, _ := json.Marshal(trading.OpenRequest{AccountID: "u1", Amount: d(100), Side: "short"})
	req := httptest.NewRequest("POST", "/api/v1/trades", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleClose_NotFound(t *testing.T) {
	_, ms, _, router := newTestEnv(t)
	seedTrader(t, ms, "u1")

	body, _ := json.Marshal(trading.CloseRequest{AccountID: "u1"})
	req := httptest.NewRequest("POST", "/api/v1/trades/nope/close", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
