package trading

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/specter/community-engine/internal/model"
)

// OpenRequest is the JSON body for POST /api/v1/trades.
type OpenRequest struct {
	AccountID string          `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"` // quote currency
	Side      string          `json:"side"`   // "buy" or "sell"
}

// CloseRequest is the JSON body for POST /api/v1/trades/{tradeID}/close.
type CloseRequest struct {
	AccountID string `json:"account_id"`
}

// CloseResponse is returned from a successful close.
type CloseResponse struct {
	Trade      *model.Trade    `json:"trade"`
	ProfitLoss decimal.Decimal `json:"profit_loss"`
}

// HandleOpen handles POST /api/v1/trades
func (e *Engine) HandleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	trade, err := e.Open(r.Context(), req.AccountID, req.Amount, req.Side)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidSide):
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			writeError(w, "failed to open trade", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(trade)
}

// HandleClose handles POST /api/v1/trades/{tradeID}/close
func (e *Engine) HandleClose(w http.ResponseWriter, r *http.Request) {
	tradeID := chi.URLParam(r, "tradeID")

	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AccountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	trade, err := e.Close(r.Context(), tradeID, req.AccountID)
	if err != nil {
		if errors.Is(err, ErrTradeNotFound) {
			writeError(w, "trade not found or already closed", http.StatusNotFound)
			return
		}
		writeError(w, "failed to close trade", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(CloseResponse{Trade: trade, ProfitLoss: trade.ProfitLoss})
}

// HandleList handles GET /api/v1/trades?account_id=...
func (e *Engine) HandleList(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	trades, err := e.List(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to list trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(trades)
}

// HandleStats handles GET /api/v1/trades/stats?account_id=...
func (e *Engine) HandleStats(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, "account_id is required", http.StatusBadRequest)
		return
	}

	stats, err := e.Stats(r.Context(), accountID)
	if err != nil {
		writeError(w, "failed to load stats", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// HandlePrice handles GET /api/v1/price
func (e *Engine) HandlePrice(w http.ResponseWriter, r *http.Request) {
	quote := e.prices.Current(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(quote)
}

// HandlePriceHistory handles GET /api/v1/price/history?days=7
func (e *Engine) HandlePriceHistory(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 365 {
			days = n
		}
	}

	points, err := e.prices.History(r.Context(), days)
	if err != nil {
		writeError(w, "failed to load price history", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(points)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
