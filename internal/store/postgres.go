package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/specter/community-engine/internal/model"
)

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// query methods serve pooled and transactional execution.
type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	db   pgxQuerier
	pool *pgxpool.Pool // nil inside a transaction
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool, pool: pool}
}

// InTx runs fn against a transaction-backed store. Nested calls reuse the
// enclosing transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// mapErr translates pgx errors into store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO accounts (id, username, role, xp, level, daily_streak, last_login_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Username, a.Role, a.XP, a.Level, a.DailyStreak, a.LastLoginAt, a.CreatedAt,
	)
	return mapErr(err)
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.db.QueryRow(ctx,
		`SELECT id, username, role, xp, level, daily_streak, last_login_at, created_at
		 FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Username, &a.Role, &a.XP, &a.Level, &a.DailyStreak, &a.LastLoginAt, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (s *PostgresStore) AddXP(ctx context.Context, accountID string, delta int64) (int64, error) {
	// Server-side increment: concurrent awards never lose updates.
	var total int64
	err := s.db.QueryRow(ctx,
		`UPDATE accounts SET xp = xp + $2 WHERE id = $1 RETURNING xp`,
		accountID, delta).Scan(&total)
	if err != nil {
		return 0, mapErr(err)
	}
	return total, nil
}

func (s *PostgresStore) SetLevelIfHigher(ctx context.Context, accountID string, level int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE accounts SET level = $2 WHERE id = $1 AND level < $2`,
		accountID, level)
	return mapErr(err)
}

func (s *PostgresStore) UpdateLoginStreak(ctx context.Context, accountID string, streak int, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE accounts SET daily_streak = $2, last_login_at = $3 WHERE id = $1`,
		accountID, streak, at)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT username, xp, level FROM accounts
		 ORDER BY xp DESC, level DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.XP, &e.Level); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- XP ledger ---

func (s *PostgresStore) InsertXPEvent(ctx context.Context, e *model.XPEvent) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO xp_events (id, account_id, amount, reason, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.AccountID, e.Amount, e.Reason, e.Description, e.CreatedAt,
	)
	return mapErr(err)
}

func (s *PostgresStore) GetXPEvents(ctx context.Context, accountID string) ([]model.XPEvent, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, amount, reason, description, created_at
		 FROM xp_events WHERE account_id = $1 ORDER BY created_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.XPEvent
	for rows.Next() {
		var e model.XPEvent
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Reason, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) AccountStats(ctx context.Context, accountID string) (*model.AccountStats, error) {
	stats := &model.AccountStats{}

	err := s.db.QueryRow(ctx,
		`SELECT
			(SELECT daily_streak FROM accounts WHERE id = $1),
			(SELECT COUNT(*) FROM xp_events WHERE account_id = $1 AND reason = 'daily_login'),
			(SELECT COUNT(*) FROM xp_events WHERE account_id = $1 AND reason = 'news_read'),
			(SELECT COUNT(*) FROM trades WHERE account_id = $1),
			(SELECT COUNT(*) FROM trades WHERE account_id = $1 AND status = 'closed'),
			(SELECT COUNT(*) FROM trades WHERE account_id = $1 AND status = 'closed' AND profit_loss > 0),
			(SELECT COUNT(*) FROM votes WHERE account_id = $1)`,
		accountID).
		Scan(&stats.DailyStreak, &stats.LoginCount, &stats.NewsRead,
			&stats.TradesCount, &stats.CompletedTrades, &stats.ProfitableTrades,
			&stats.VoteCount)
	if err != nil {
		return nil, mapErr(err)
	}
	return stats, nil
}

// --- Achievements ---

func (s *PostgresStore) InsertUnlock(ctx context.Context, u *model.AchievementUnlock) (bool, error) {
	// ON CONFLICT DO NOTHING makes re-evaluation idempotent under
	// concurrent unlock attempts.
	tag, err := s.db.Exec(ctx,
		`INSERT INTO achievement_unlocks (account_id, achievement_id, earned_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (account_id, achievement_id) DO NOTHING`,
		u.AccountID, u.AchievementID, u.EarnedAt,
	)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetUnlocks(ctx context.Context, accountID string) ([]model.AchievementUnlock, error) {
	rows, err := s.db.Query(ctx,
		`SELECT account_id, achievement_id, earned_at
		 FROM achievement_unlocks WHERE account_id = $1 ORDER BY earned_at`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var unlocks []model.AchievementUnlock
	for rows.Next() {
		var u model.AchievementUnlock
		if err := rows.Scan(&u.AccountID, &u.AchievementID, &u.EarnedAt); err != nil {
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return unlocks, rows.Err()
}

// --- Trades ---

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO trades (id, account_id, side, amount, entry_price, size, status, opened_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		t.ID, t.AccountID, t.Side,
		t.Amount.String(), t.EntryPrice.String(), t.Size.String(),
		t.Status, t.OpenedAt,
	)
	return mapErr(err)
}

func (s *PostgresStore) GetTrade(ctx context.Context, id, accountID string) (*model.Trade, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, account_id, side, amount::TEXT, entry_price::TEXT, size::TEXT,
		        status, exit_price::TEXT, profit_loss::TEXT, opened_at, closed_at
		 FROM trades WHERE id = $1 AND account_id = $2`, id, accountID)
	t, err := scanTrade(row)
	if err != nil {
		return nil, mapErr(err)
	}
	return t, nil
}

func (s *PostgresStore) CloseTrade(ctx context.Context, id, accountID string, exitPrice, profitLoss decimal.Decimal, closedAt time.Time) error {
	// Conditional on status: exactly one of two racing closes succeeds.
	tag, err := s.db.Exec(ctx,
		`UPDATE trades
		 SET status = 'closed', exit_price = $3::NUMERIC, profit_loss = $4::NUMERIC, closed_at = $5
		 WHERE id = $1 AND account_id = $2 AND status = 'open'`,
		id, accountID, exitPrice.String(), profitLoss.String(), closedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, side, amount::TEXT, entry_price::TEXT, size::TEXT,
		        status, exit_price::TEXT, profit_loss::TEXT, opened_at, closed_at
		 FROM trades WHERE account_id = $1 ORDER BY opened_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) TradeStats(ctx context.Context, accountID string) (*model.TradeStats, error) {
	stats := &model.TradeStats{}
	var pnl string

	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE status = 'closed'),
		        COUNT(*) FILTER (WHERE status = 'closed' AND profit_loss > 0),
		        COALESCE(SUM(profit_loss) FILTER (WHERE status = 'closed'), 0)::TEXT
		 FROM trades WHERE account_id = $1`, accountID).
		Scan(&stats.TotalTrades, &stats.CompletedTrades, &stats.ProfitableTrades, &pnl)
	if err != nil {
		return nil, mapErr(err)
	}
	stats.TotalProfitLoss, _ = decimal.NewFromString(pnl)
	return stats, nil
}

// scanTrade reads one trade row; exit price and P/L are NULL while open.
func scanTrade(row pgx.Row) (*model.Trade, error) {
	var t model.Trade
	var amount, entry, size string
	var exit, pnl *string

	if err := row.Scan(&t.ID, &t.AccountID, &t.Side, &amount, &entry, &size,
		&t.Status, &exit, &pnl, &t.OpenedAt, &t.ClosedAt); err != nil {
		return nil, err
	}

	t.Amount, _ = decimal.NewFromString(amount)
	t.EntryPrice, _ = decimal.NewFromString(entry)
	t.Size, _ = decimal.NewFromString(size)
	if exit != nil {
		t.ExitPrice, _ = decimal.NewFromString(*exit)
	}
	if pnl != nil {
		t.ProfitLoss, _ = decimal.NewFromString(*pnl)
	}
	return &t, nil
}

// --- Polls ---

func (s *PostgresStore) InsertPoll(ctx context.Context, p *model.Poll) error {
	options, err := json.Marshal(p.Options)
	if err != nil {
		return fmt.Errorf("marshal poll options: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO polls (id, question, options, active, expires_at, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Question, options, p.Active, p.ExpiresAt, p.CreatedBy, p.CreatedAt,
	)
	return mapErr(err)
}

func (s *PostgresStore) GetPoll(ctx context.Context, id string) (*model.Poll, error) {
	var p model.Poll
	var options []byte

	err := s.db.QueryRow(ctx,
		`SELECT id, question, options, active, expires_at, created_by, created_at
		 FROM polls WHERE id = $1`, id).
		Scan(&p.ID, &p.Question, &options, &p.Active, &p.ExpiresAt, &p.CreatedBy, &p.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, fmt.Errorf("unmarshal poll options: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListActivePolls(ctx context.Context, now time.Time) ([]model.Poll, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, question, options, active, expires_at, created_by, created_at
		 FROM polls
		 WHERE active AND (expires_at IS NULL OR expires_at > $1)
		 ORDER BY created_at DESC`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var polls []model.Poll
	for rows.Next() {
		var p model.Poll
		var options []byte
		if err := rows.Scan(&p.ID, &p.Question, &options, &p.Active, &p.ExpiresAt, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(options, &p.Options); err != nil {
			return nil, fmt.Errorf("unmarshal poll options: %w", err)
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

func (s *PostgresStore) DeactivatePollsExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE polls SET active = FALSE
		 WHERE active AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) InsertVote(ctx context.Context, v *model.Vote) error {
	// The (account_id, poll_id) primary key makes check-then-insert one
	// atomic unit: the second of two racing votes gets ErrDuplicate.
	_, err := s.db.Exec(ctx,
		`INSERT INTO votes (account_id, poll_id, option, created_at)
		 VALUES ($1, $2, $3, $4)`,
		v.AccountID, v.PollID, v.Option, v.CreatedAt,
	)
	return mapErr(err)
}

func (s *PostgresStore) CountVotes(ctx context.Context, pollID string) (map[string]int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT option, COUNT(*) FROM votes WHERE poll_id = $1 GROUP BY option`, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var option string
		var n int
		if err := rows.Scan(&option, &n); err != nil {
			return nil, err
		}
		counts[option] = n
	}
	return counts, rows.Err()
}

// --- Notifications ---

func (s *PostgresStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO notifications (id, account_id, type, title, message, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.AccountID, n.Type, n.Title, n.Message, n.Read, n.CreatedAt,
	)
	return mapErr(err)
}

func (s *PostgresStore) ListNotifications(ctx context.Context, accountID string, limit int) ([]model.Notification, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, account_id, type, title, message, read, created_at
		 FROM notifications WHERE account_id = $1
		 ORDER BY created_at DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.AccountID, &n.Type, &n.Title, &n.Message, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

func (s *PostgresStore) UnreadNotificationCount(ctx context.Context, accountID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE account_id = $1 AND NOT read`,
		accountID).Scan(&n)
	return n, mapErr(err)
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id, accountID string) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND account_id = $2`,
		id, accountID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Auth tokens ---

func (s *PostgresStore) InsertResetToken(ctx context.Context, t *model.PasswordResetToken) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO password_reset_tokens (token, account_id, expires_at)
		 VALUES ($1, $2, $3)`,
		t.Token, t.AccountID, t.ExpiresAt,
	)
	return mapErr(err)
}

func (s *PostgresStore) ConsumeResetToken(ctx context.Context, token string, now time.Time) (*model.PasswordResetToken, error) {
	// Single-use: the conditional update only matches an unused, unexpired
	// token, so concurrent redeems yield at most one success.
	var t model.PasswordResetToken
	err := s.db.QueryRow(ctx,
		`UPDATE password_reset_tokens SET used_at = $2
		 WHERE token = $1 AND used_at IS NULL AND expires_at > $2
		 RETURNING token, account_id, expires_at, used_at`,
		token, now).
		Scan(&t.Token, &t.AccountID, &t.ExpiresAt, &t.UsedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *PostgresStore) InsertRememberToken(ctx context.Context, t *model.RememberToken) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO remember_tokens (token, account_id, expires_at)
		 VALUES ($1, $2, $3)`,
		t.Token, t.AccountID, t.ExpiresAt,
	)
	return mapErr(err)
}

func (s *PostgresStore) ConsumeRememberToken(ctx context.Context, token string, now time.Time) (*model.RememberToken, error) {
	var t model.RememberToken
	err := s.db.QueryRow(ctx,
		`UPDATE remember_tokens SET used_at = $2
		 WHERE token = $1 AND used_at IS NULL AND expires_at > $2
		 RETURNING token, account_id, expires_at, used_at`,
		token, now).
		Scan(&t.Token, &t.AccountID, &t.ExpiresAt, &t.UsedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *PostgresStore) PurgeDeadTokens(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for _, table := range []string{"password_reset_tokens", "remember_tokens"} {
		tag, err := s.db.Exec(ctx,
			`DELETE FROM `+table+` WHERE used_at IS NOT NULL OR expires_at <= $1`, now)
		if err != nil {
			return total, err
		}
		total += int(tag.RowsAffected())
	}
	return total, nil
}
