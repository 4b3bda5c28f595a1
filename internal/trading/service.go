// Package trading implements the simulated trading ledger: positions are
// opened and closed against the fetched reference price, with realized
// profit/loss feeding the XP engine on close.
//
// All monetary values use shopspring/decimal — never float64 for money.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/specter/community-engine/internal/metrics"
	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/notify"
	"github.com/specter/community-engine/internal/price"
	"github.com/specter/community-engine/internal/store"
	"github.com/specter/community-engine/internal/xp"
)

// XP rewards on trade close. Profitable closes pay strictly more.
const (
	RewardProfitableClose = 10
	RewardClose           = 5
)

var (
	// ErrInvalidAmount is returned when the trade amount is not positive.
	ErrInvalidAmount = errors.New("trading: amount must be positive")

	// ErrInvalidSide is returned when the side is neither buy nor sell.
	ErrInvalidSide = errors.New("trading: side must be buy or sell")

	// ErrTradeNotFound is returned when the trade does not exist, belongs
	// to another account, or is already closed. The cases are deliberately
	// indistinguishable so trade existence never leaks across accounts.
	ErrTradeNotFound = errors.New("trading: trade not found or already closed")
)

// Engine opens and closes simulated positions. XP for a trade is granted
// only at close; open is XP-neutral.
type Engine struct {
	store  store.Store
	prices price.Source
	xp     *xp.Engine
	center *notify.Center
}

// NewEngine creates a simulated trading engine.
func NewEngine(st store.Store, prices price.Source, xpEngine *xp.Engine, center *notify.Center) *Engine {
	return &Engine{
		store:  st,
		prices: prices,
		xp:     xpEngine,
		center: center,
	}
}

// Open creates a position at the current reference price. The amount is in
// quote currency for both sides; position size is amount / entry price.
func (e *Engine) Open(ctx context.Context, accountID string, amount decimal.Decimal, side string) (*model.Trade, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if side != model.SideBuy && side != model.SideSell {
		return nil, ErrInvalidSide
	}

	quote := e.prices.Current(ctx)
	if !quote.Price.IsPositive() {
		return nil, fmt.Errorf("trading: non-positive reference price %s", quote.Price)
	}

	trade := &model.Trade{
		ID:         uuid.New().String(),
		AccountID:  accountID,
		Side:       side,
		Amount:     amount,
		EntryPrice: quote.Price,
		Size:       amount.Div(quote.Price),
		Status:     model.TradeOpen,
		OpenedAt:   time.Now().UTC(),
	}

	if err := e.store.InsertTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("insert trade: %w", err)
	}

	metrics.TradesOpenedTotal.WithLabelValues(side).Inc()
	slog.Info("trade opened",
		"trade_id", trade.ID,
		"account", accountID,
		"side", side,
		"amount", amount.String(),
		"entry_price", quote.Price.String(),
		"size", trade.Size.String(),
	)
	return trade, nil
}

// Close transitions the trade open → closed at the current reference price
// and realizes profit/loss:
//
//	buy:  (exit − entry) × size
//	sell: (entry − exit) × size
//
// The status transition, P/L, XP reward, and outcome notification commit as
// one transaction; of two racing closes exactly one succeeds and the other
// observes ErrTradeNotFound.
func (e *Engine) Close(ctx context.Context, tradeID, accountID string) (*model.Trade, error) {
	quote := e.prices.Current(ctx)
	closedAt := time.Now().UTC()

	var closed *model.Trade
	err := e.store.InTx(ctx, func(st store.Store) error {
		trade, err := st.GetTrade(ctx, tradeID, accountID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTradeNotFound
			}
			return err
		}
		if trade.Status != model.TradeOpen {
			return ErrTradeNotFound
		}

		pnl := quote.Price.Sub(trade.EntryPrice).Mul(trade.Size)
		if trade.Side == model.SideSell {
			pnl = pnl.Neg()
		}

		// The conditional update is the race guard; the read above is
		// only for computing P/L.
		if err := st.CloseTrade(ctx, tradeID, accountID, quote.Price, pnl, closedAt); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrTradeNotFound
			}
			return err
		}

		reward := int64(RewardClose)
		outcome := "loss"
		if pnl.IsPositive() {
			reward = RewardProfitableClose
			outcome = "profit"
		}
		if _, _, err := e.xp.AwardTx(ctx, st, accountID, reward, "trade_completed", "Completed trading simulation"); err != nil {
			return err
		}

		notifType := "error"
		if pnl.IsPositive() {
			notifType = "success"
		}
		if _, err := e.center.AppendTx(ctx, st, accountID, notifType, "Trade Closed",
			fmt.Sprintf("Your trade was closed with %s: %s USD", outcome, pnl.StringFixed(2))); err != nil {
			return err
		}

		metrics.TradesClosedTotal.WithLabelValues(outcome).Inc()

		trade.Status = model.TradeClosed
		trade.ExitPrice = quote.Price
		trade.ProfitLoss = pnl
		trade.ClosedAt = &closedAt
		closed = trade
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("trade closed",
		"trade_id", closed.ID,
		"account", accountID,
		"exit_price", closed.ExitPrice.String(),
		"profit_loss", closed.ProfitLoss.String(),
	)
	return closed, nil
}

// Stats aggregates the account's trading record. Pure read.
func (e *Engine) Stats(ctx context.Context, accountID string) (*model.TradeStats, error) {
	return e.store.TradeStats(ctx, accountID)
}

// List returns the account's trades, most recently opened first.
func (e *Engine) List(ctx context.Context, accountID string) ([]model.Trade, error) {
	return e.store.ListTrades(ctx, accountID)
}
