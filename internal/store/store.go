// Package store defines the persistence interface for the community engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/specter/community-engine/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist, or when a
	// conditional update matched no row (e.g. closing an already-closed
	// trade).
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness
	// invariant (double vote, duplicate username).
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. The increment and conditional
// update methods are atomic at the storage layer so concurrent callers
// never lose updates.
type Store interface {
	// InTx runs fn against a transaction-backed Store. Every write fn
	// performs commits or rolls back as one unit. Implementations without
	// transactions run fn directly.
	InTx(ctx context.Context, fn func(Store) error) error

	// --- Accounts ---

	CreateAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// AddXP atomically increments the account's cached XP by delta
	// (server-side, read-modify-write safe) and returns the new total.
	AddXP(ctx context.Context, accountID string, delta int64) (int64, error)

	// SetLevelIfHigher raises the account's level to level only if it is
	// currently lower. Level never decreases.
	SetLevelIfHigher(ctx context.Context, accountID string, level int) error

	// UpdateLoginStreak stamps the last login and sets the streak counter.
	UpdateLoginStreak(ctx context.Context, accountID string, streak int, at time.Time) error

	// Leaderboard returns the top accounts ordered by XP descending.
	Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)

	// --- XP ledger (append-only) ---

	InsertXPEvent(ctx context.Context, e *model.XPEvent) error
	GetXPEvents(ctx context.Context, accountID string) ([]model.XPEvent, error)

	// AccountStats derives the usage counters achievement predicates
	// evaluate against.
	AccountStats(ctx context.Context, accountID string) (*model.AccountStats, error)

	// --- Achievements ---

	// InsertUnlock records an unlock. Returns false without error when the
	// (account, achievement) pair is already unlocked.
	InsertUnlock(ctx context.Context, u *model.AchievementUnlock) (bool, error)
	GetUnlocks(ctx context.Context, accountID string) ([]model.AchievementUnlock, error)

	// --- Trades ---

	InsertTrade(ctx context.Context, t *model.Trade) error
	GetTrade(ctx context.Context, id, accountID string) (*model.Trade, error)

	// CloseTrade transitions a trade open → closed. The update is
	// conditional on status still being open; returns ErrNotFound when the
	// trade does not exist, belongs to another account, or is already
	// closed, so exactly one of two racing closes succeeds.
	CloseTrade(ctx context.Context, id, accountID string, exitPrice, profitLoss decimal.Decimal, closedAt time.Time) error

	ListTrades(ctx context.Context, accountID string) ([]model.Trade, error)
	TradeStats(ctx context.Context, accountID string) (*model.TradeStats, error)

	// --- Polls ---

	InsertPoll(ctx context.Context, p *model.Poll) error
	GetPoll(ctx context.Context, id string) (*model.Poll, error)
	ListActivePolls(ctx context.Context, now time.Time) ([]model.Poll, error)

	// DeactivatePollsExpiredBefore flips active off for polls whose expiry
	// has passed. Returns the number of polls deactivated.
	DeactivatePollsExpiredBefore(ctx context.Context, now time.Time) (int, error)

	// InsertVote records a vote. Returns ErrDuplicate when the account has
	// already voted in this poll; the check and insert are one atomic unit.
	InsertVote(ctx context.Context, v *model.Vote) error
	CountVotes(ctx context.Context, pollID string) (map[string]int, error)

	// --- Notifications ---

	InsertNotification(ctx context.Context, n *model.Notification) error
	ListNotifications(ctx context.Context, accountID string, limit int) ([]model.Notification, error)
	UnreadNotificationCount(ctx context.Context, accountID string) (int, error)

	// MarkNotificationRead sets the read flag. Returns false without error
	// when the notification does not exist or belongs to another account.
	MarkNotificationRead(ctx context.Context, id, accountID string) (bool, error)

	// --- Auth tokens (dedicated tables, single-use) ---

	InsertResetToken(ctx context.Context, t *model.PasswordResetToken) error

	// ConsumeResetToken marks the token used and returns it. ErrNotFound
	// when missing, expired, or already used; consumption is atomic so a
	// token is redeemed at most once.
	ConsumeResetToken(ctx context.Context, token string, now time.Time) (*model.PasswordResetToken, error)

	InsertRememberToken(ctx context.Context, t *model.RememberToken) error
	ConsumeRememberToken(ctx context.Context, token string, now time.Time) (*model.RememberToken, error)

	// PurgeDeadTokens deletes expired and consumed tokens.
	PurgeDeadTokens(ctx context.Context, now time.Time) (int, error)
}
