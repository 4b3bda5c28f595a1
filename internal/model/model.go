// Package model defines the core domain types shared across the community
// engine. All monetary values use shopspring/decimal — never float64 for money.
// XP amounts are plain integers.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Trade statuses.
const (
	TradeOpen   = "open"
	TradeClosed = "closed"
)

// Account is a registered community member. XP and Level are mutated only
// through the XP engine; Level is always the level formula applied to XP.
type Account struct {
	ID          string    `json:"id" db:"id"`
	Username    string    `json:"username" db:"username"`
	Role        string    `json:"role" db:"role"` // "member", "moderator", "admin"
	XP          int64     `json:"xp" db:"xp"`
	Level       int       `json:"level" db:"level"`
	DailyStreak int       `json:"daily_streak" db:"daily_streak"`
	LastLoginAt time.Time `json:"last_login_at" db:"last_login_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// XPEvent is an immutable record of one XP change. The sum of all amounts
// for an account equals that account's current XP.
type XPEvent struct {
	ID          string    `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	Amount      int64     `json:"amount" db:"amount"` // signed
	Reason      string    `json:"reason" db:"reason"` // "registration", "daily_login", "trade_completed", ...
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// AchievementUnlock records that an account earned an achievement.
// At most one unlock per (account, achievement) pair; never updated.
type AchievementUnlock struct {
	AccountID     string    `json:"account_id" db:"account_id"`
	AchievementID string    `json:"achievement_id" db:"achievement_id"`
	EarnedAt      time.Time `json:"earned_at" db:"earned_at"`
}

// Trade is one simulated position against the reference price.
// Lifecycle: open → closed, exactly once, never revisited.
type Trade struct {
	ID         string          `json:"id" db:"id"`
	AccountID  string          `json:"account_id" db:"account_id"`
	Side       string          `json:"side" db:"side"`     // buy or sell
	Amount     decimal.Decimal `json:"amount" db:"amount"` // quote currency, positive
	EntryPrice decimal.Decimal `json:"entry_price" db:"entry_price"`
	Size       decimal.Decimal `json:"size" db:"size"` // base-asset units = amount / entry price
	Status     string          `json:"status" db:"status"`
	ExitPrice  decimal.Decimal `json:"exit_price" db:"exit_price"`   // set on close
	ProfitLoss decimal.Decimal `json:"profit_loss" db:"profit_loss"` // set on close, signed
	OpenedAt   time.Time       `json:"opened_at" db:"opened_at"`
	ClosedAt   *time.Time      `json:"closed_at,omitempty" db:"closed_at"`
}

// TradeStats aggregates an account's simulated trading record.
type TradeStats struct {
	TotalTrades      int             `json:"total_trades"`
	CompletedTrades  int             `json:"completed_trades"`
	ProfitableTrades int             `json:"profitable_trades"`
	TotalProfitLoss  decimal.Decimal `json:"total_profit_loss"`
}

// Poll is a community question with 2-10 distinct options.
type Poll struct {
	ID        string     `json:"id" db:"id"`
	Question  string     `json:"question" db:"question"`
	Options   []string   `json:"options" db:"options"`
	Active    bool       `json:"active" db:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedBy string     `json:"created_by" db:"created_by"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

// Vote is one account's choice in one poll. At most one per (account, poll).
type Vote struct {
	AccountID string    `json:"account_id" db:"account_id"`
	PollID    string    `json:"poll_id" db:"poll_id"`
	Option    string    `json:"option" db:"option"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// OptionResult is the tally for one poll option.
type OptionResult struct {
	Option     string  `json:"option"`
	Votes      int     `json:"votes"`
	Percentage float64 `json:"percentage"` // rounded to one decimal place
}

// PollResults is the full tally for a poll.
type PollResults struct {
	PollID     string         `json:"poll_id"`
	Results    []OptionResult `json:"results"`
	TotalVotes int            `json:"total_votes"`
}

// Notification is one entry in an account's append-only inbox.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	AccountID string    `json:"account_id" db:"account_id"`
	Type      string    `json:"type" db:"type"` // "success", "error", "achievement", "info"
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// AccountStats are the derived usage counters achievement predicates
// evaluate against, alongside the account's XP and level.
type AccountStats struct {
	LoginCount       int `json:"login_count"`
	DailyStreak      int `json:"daily_streak"`
	TradesCount      int `json:"trades_count"`
	CompletedTrades  int `json:"completed_trades"`
	ProfitableTrades int `json:"profitable_trades"`
	NewsRead         int `json:"news_read"`
	VoteCount        int `json:"vote_count"`
}

// LeaderboardEntry is one row of the XP leaderboard.
type LeaderboardEntry struct {
	Username string `json:"username"`
	XP       int64  `json:"xp"`
	Level    int    `json:"level"`
}

// PasswordResetToken is a dedicated single-use reset credential with an
// explicit expiry. Consumed at most once.
type PasswordResetToken struct {
	Token     string     `json:"token" db:"token"`
	AccountID string     `json:"account_id" db:"account_id"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
}

// RememberToken is a dedicated long-lived login token with an explicit
// expiry. Consumed at most once; a fresh token is issued on use.
type RememberToken struct {
	Token     string     `json:"token" db:"token"`
	AccountID string     `json:"account_id" db:"account_id"`
	ExpiresAt time.Time  `json:"expires_at" db:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty" db:"used_at"`
}
