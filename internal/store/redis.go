package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/specter/community-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot dashboard reads: account rows, poll tallies, and the
// leaderboard. Writes go to the primary store and invalidate the affected
// keys; everything else passes through. Writes made inside InTx are only
// covered by the TTL, which is why it should stay short.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// InTx runs against the primary; transactional reads must not see cache.
func (s *CachedStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.primary.InTx(ctx, fn)
}

// --- Cached reads ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheAccount(ctx, a)
	return a, nil
}

func (s *CachedStore) CountVotes(ctx context.Context, pollID string) (map[string]int, error) {
	data, err := s.rdb.Get(ctx, tallyKey(pollID)).Bytes()
	if err == nil {
		var counts map[string]int
		if json.Unmarshal(data, &counts) == nil {
			return counts, nil
		}
	}

	counts, err := s.primary.CountVotes(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(counts); err == nil {
		s.rdb.Set(ctx, tallyKey(pollID), data, s.ttl)
	}
	return counts, nil
}

func (s *CachedStore) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	key := leaderboardKey(limit)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var entries []model.LeaderboardEntry
		if json.Unmarshal(data, &entries) == nil {
			return entries, nil
		}
	}

	entries, err := s.primary.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(entries); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return entries, nil
}

// --- Writes that invalidate ---

func (s *CachedStore) AddXP(ctx context.Context, accountID string, delta int64) (int64, error) {
	total, err := s.primary.AddXP(ctx, accountID, delta)
	if err != nil {
		return 0, err
	}
	s.rdb.Del(ctx, accountKey(accountID))
	return total, nil
}

func (s *CachedStore) SetLevelIfHigher(ctx context.Context, accountID string, level int) error {
	if err := s.primary.SetLevelIfHigher(ctx, accountID, level); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(accountID))
	return nil
}

func (s *CachedStore) UpdateLoginStreak(ctx context.Context, accountID string, streak int, at time.Time) error {
	if err := s.primary.UpdateLoginStreak(ctx, accountID, streak, at); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(accountID))
	return nil
}

func (s *CachedStore) InsertVote(ctx context.Context, v *model.Vote) error {
	if err := s.primary.InsertVote(ctx, v); err != nil {
		return err
	}
	s.rdb.Del(ctx, tallyKey(v.PollID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return s.primary.CreateAccount(ctx, a)
}

func (s *CachedStore) InsertXPEvent(ctx context.Context, e *model.XPEvent) error {
	return s.primary.InsertXPEvent(ctx, e)
}

func (s *CachedStore) GetXPEvents(ctx context.Context, accountID string) ([]model.XPEvent, error) {
	return s.primary.GetXPEvents(ctx, accountID)
}

func (s *CachedStore) AccountStats(ctx context.Context, accountID string) (*model.AccountStats, error) {
	return s.primary.AccountStats(ctx, accountID)
}

func (s *CachedStore) InsertUnlock(ctx context.Context, u *model.AchievementUnlock) (bool, error) {
	return s.primary.InsertUnlock(ctx, u)
}

func (s *CachedStore) GetUnlocks(ctx context.Context, accountID string) ([]model.AchievementUnlock, error) {
	return s.primary.GetUnlocks(ctx, accountID)
}

func (s *CachedStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	return s.primary.InsertTrade(ctx, t)
}

func (s *CachedStore) GetTrade(ctx context.Context, id, accountID string) (*model.Trade, error) {
	return s.primary.GetTrade(ctx, id, accountID)
}

func (s *CachedStore) CloseTrade(ctx context.Context, id, accountID string, exitPrice, profitLoss decimal.Decimal, closedAt time.Time) error {
	return s.primary.CloseTrade(ctx, id, accountID, exitPrice, profitLoss, closedAt)
}

func (s *CachedStore) ListTrades(ctx context.Context, accountID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, accountID)
}

func (s *CachedStore) TradeStats(ctx context.Context, accountID string) (*model.TradeStats, error) {
	return s.primary.TradeStats(ctx, accountID)
}

func (s *CachedStore) InsertPoll(ctx context.Context, p *model.Poll) error {
	return s.primary.InsertPoll(ctx, p)
}

func (s *CachedStore) GetPoll(ctx context.Context, id string) (*model.Poll, error) {
	return s.primary.GetPoll(ctx, id)
}

func (s *CachedStore) ListActivePolls(ctx context.Context, now time.Time) ([]model.Poll, error) {
	return s.primary.ListActivePolls(ctx, now)
}

func (s *CachedStore) DeactivatePollsExpiredBefore(ctx context.Context, now time.Time) (int, error) {
	return s.primary.DeactivatePollsExpiredBefore(ctx, now)
}

func (s *CachedStore) InsertNotification(ctx context.Context, n *model.Notification) error {
	return s.primary.InsertNotification(ctx, n)
}

func (s *CachedStore) ListNotifications(ctx context.Context, accountID string, limit int) ([]model.Notification, error) {
	return s.primary.ListNotifications(ctx, accountID, limit)
}

func (s *CachedStore) UnreadNotificationCount(ctx context.Context, accountID string) (int, error) {
	return s.primary.UnreadNotificationCount(ctx, accountID)
}

func (s *CachedStore) MarkNotificationRead(ctx context.Context, id, accountID string) (bool, error) {
	return s.primary.MarkNotificationRead(ctx, id, accountID)
}

func (s *CachedStore) InsertResetToken(ctx context.Context, t *model.PasswordResetToken) error {
	return s.primary.InsertResetToken(ctx, t)
}

func (s *CachedStore) ConsumeResetToken(ctx context.Context, token string, now time.Time) (*model.PasswordResetToken, error) {
	return s.primary.ConsumeResetToken(ctx, token, now)
}

func (s *CachedStore) InsertRememberToken(ctx context.Context, t *model.RememberToken) error {
	return s.primary.InsertRememberToken(ctx, t)
}

func (s *CachedStore) ConsumeRememberToken(ctx context.Context, token string, now time.Time) (*model.RememberToken, error) {
	return s.primary.ConsumeRememberToken(ctx, token, now)
}

func (s *CachedStore) PurgeDeadTokens(ctx context.Context, now time.Time) (int, error) {
	return s.primary.PurgeDeadTokens(ctx, now)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAccount(ctx context.Context, a *model.Account) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(a.ID), data, s.ttl)
	}
}

func accountKey(id string) string       { return fmt.Sprintf("account:%s", id) }
func tallyKey(pollID string) string     { return fmt.Sprintf("tally:%s", pollID) }
func leaderboardKey(limit int) string   { return fmt.Sprintf("leaderboard:%d", limit) }
