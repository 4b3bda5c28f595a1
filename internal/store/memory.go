package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/specter/community-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu             sync.Mutex
	accounts       map[string]*model.Account
	xpEvents       []model.XPEvent
	unlocks        map[string]map[string]model.AchievementUnlock // accountID → achievementID
	trades         map[string]*model.Trade
	polls          map[string]*model.Poll
	votes          map[string]map[string]model.Vote // pollID → accountID
	notifications  []model.Notification
	resetTokens    map[string]*model.PasswordResetToken
	rememberTokens map[string]*model.RememberToken
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:       make(map[string]*model.Account),
		unlocks:        make(map[string]map[string]model.AchievementUnlock),
		trades:         make(map[string]*model.Trade),
		polls:          make(map[string]*model.Poll),
		votes:          make(map[string]map[string]model.Vote),
		resetTokens:    make(map[string]*model.PasswordResetToken),
		rememberTokens: make(map[string]*model.RememberToken),
	}
}

// InTx runs fn directly; each MemoryStore operation is individually
// serialized by the mutex, which is enough for tests.
func (s *MemoryStore) InTx(_ context.Context, fn func(Store) error) error {
	return fn(s)
}

// --- Accounts ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.accounts {
		if existing.Username == a.Username {
			return ErrDuplicate
		}
	}

	// Store a copy to avoid external mutation.
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) AddXP(_ context.Context, accountID string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return 0, ErrNotFound
	}
	a.XP += delta
	return a.XP, nil
}

func (s *MemoryStore) SetLevelIfHigher(_ context.Context, accountID string, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if level > a.Level {
		a.Level = level
	}
	return nil
}

func (s *MemoryStore) UpdateLoginStreak(_ context.Context, accountID string, streak int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.DailyStreak = streak
	a.LastLoginAt = at
	return nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) ([]model.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]model.LeaderboardEntry, 0, len(s.accounts))
	for _, a := range s.accounts {
		entries = append(entries, model.LeaderboardEntry{
			Username: a.Username,
			XP:       a.XP,
			Level:    a.Level,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].XP != entries[j].XP {
			return entries[i].XP > entries[j].XP
		}
		return entries[i].Level > entries[j].Level
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// --- XP ledger ---

func (s *MemoryStore) InsertXPEvent(_ context.Context, e *model.XPEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.xpEvents = append(s.xpEvents, *e)
	return nil
}

func (s *MemoryStore) GetXPEvents(_ context.Context, accountID string) ([]model.XPEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.XPEvent
	for _, e := range s.xpEvents {
		if e.AccountID == accountID {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *MemoryStore) AccountStats(_ context.Context, accountID string) (*model.AccountStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &model.AccountStats{}
	if a, ok := s.accounts[accountID]; ok {
		stats.DailyStreak = a.DailyStreak
	}
	for _, e := range s.xpEvents {
		if e.AccountID != accountID {
			continue
		}
		switch e.Reason {
		case "daily_login":
			stats.LoginCount++
		case "news_read":
			stats.NewsRead++
		}
	}
	for _, t := range s.trades {
		if t.AccountID != accountID {
			continue
		}
		stats.TradesCount++
		if t.Status == model.TradeClosed {
			stats.CompletedTrades++
			if t.ProfitLoss.IsPositive() {
				stats.ProfitableTrades++
			}
		}
	}
	for _, voters := range s.votes {
		if _, ok := voters[accountID]; ok {
			stats.VoteCount++
		}
	}
	return stats, nil
}

// --- Achievements ---

func (s *MemoryStore) InsertUnlock(_ context.Context, u *model.AchievementUnlock) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAccount, ok := s.unlocks[u.AccountID]
	if !ok {
		byAccount = make(map[string]model.AchievementUnlock)
		s.unlocks[u.AccountID] = byAccount
	}
	if _, exists := byAccount[u.AchievementID]; exists {
		return false, nil
	}
	byAccount[u.AchievementID] = *u
	return true, nil
}

func (s *MemoryStore) GetUnlocks(_ context.Context, accountID string) ([]model.AchievementUnlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.AchievementUnlock
	for _, u := range s.unlocks[accountID] {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EarnedAt.Before(result[j].EarnedAt)
	})
	return result, nil
}

// --- Trades ---

func (s *MemoryStore) InsertTrade(_ context.Context, t *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTrade(_ context.Context, id, accountID string) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok || t.AccountID != accountID {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) CloseTrade(_ context.Context, id, accountID string, exitPrice, profitLoss decimal.Decimal, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok || t.AccountID != accountID || t.Status != model.TradeOpen {
		return ErrNotFound
	}
	t.Status = model.TradeClosed
	t.ExitPrice = exitPrice
	t.ProfitLoss = profitLoss
	t.ClosedAt = &closedAt
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, accountID string) ([]model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.AccountID == accountID {
			result = append(result, *t)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].OpenedAt.After(result[j].OpenedAt)
	})
	return result, nil
}

func (s *MemoryStore) TradeStats(_ context.Context, accountID string) (*model.TradeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &model.TradeStats{TotalProfitLoss: decimal.Zero}
	for _, t := range s.trades {
		if t.AccountID != accountID {
			continue
		}
		stats.TotalTrades++
		if t.Status == model.TradeClosed {
			stats.CompletedTrades++
			stats.TotalProfitLoss = stats.TotalProfitLoss.Add(t.ProfitLoss)
			if t.ProfitLoss.IsPositive() {
				stats.ProfitableTrades++
			}
		}
	}
	return stats, nil
}

// --- Polls ---

func (s *MemoryStore) InsertPoll(_ context.Context, p *model.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	cp.Options = append([]string(nil), p.Options...)
	s.polls[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetPoll(_ context.Context, id string) (*model.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.polls[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Options = append([]string(nil), p.Options...)
	return &cp, nil
}

func (s *MemoryStore) ListActivePolls(_ context.Context, now time.Time) ([]model.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.Poll
	for _, p := range s.polls {
		if !p.Active {
			continue
		}
		if p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			continue
		}
		cp := *p
		cp.Options = append([]string(nil), p.Options...)
		result = append(result, cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) DeactivatePollsExpiredBefore(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, p := range s.polls {
		if p.Active && p.ExpiresAt != nil && !p.ExpiresAt.After(now) {
			p.Active = false
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertVote(_ context.Context, v *model.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	voters, ok := s.votes[v.PollID]
	if !ok {
		voters = make(map[string]model.Vote)
		s.votes[v.PollID] = voters
	}
	if _, voted := voters[v.AccountID]; voted {
		return ErrDuplicate
	}
	voters[v.AccountID] = *v
	return nil
}

func (s *MemoryStore) CountVotes(_ context.Context, pollID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, v := range s.votes[pollID] {
		counts[v.Option]++
	}
	return counts, nil
}

// --- Notifications ---

func (s *MemoryStore) InsertNotification(_ context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.notifications = append(s.notifications, *n)
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, accountID string, limit int) ([]model.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []model.Notification
	// Stored in insertion order; walk backwards for most recent first.
	for i := len(s.notifications) - 1; i >= 0 && len(result) < limit; i-- {
		if s.notifications[i].AccountID == accountID {
			result = append(result, s.notifications[i])
		}
	}
	return result, nil
}

func (s *MemoryStore) UnreadNotificationCount(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, notif := range s.notifications {
		if notif.AccountID == accountID && !notif.Read {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, id, accountID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].AccountID == accountID {
			s.notifications[i].Read = true
			return true, nil
		}
	}
	return false, nil
}

// --- Auth tokens ---

func (s *MemoryStore) InsertResetToken(_ context.Context, t *model.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.resetTokens[t.Token] = &cp
	return nil
}

func (s *MemoryStore) ConsumeResetToken(_ context.Context, token string, now time.Time) (*model.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.resetTokens[token]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	used := now
	t.UsedAt = &used
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) InsertRememberToken(_ context.Context, t *model.RememberToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.rememberTokens[t.Token] = &cp
	return nil
}

func (s *MemoryStore) ConsumeRememberToken(_ context.Context, token string, now time.Time) (*model.RememberToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.rememberTokens[token]
	if !ok || t.UsedAt != nil || !t.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	used := now
	t.UsedAt = &used
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) PurgeDeadTokens(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, t := range s.resetTokens {
		if t.UsedAt != nil || !t.ExpiresAt.After(now) {
			delete(s.resetTokens, k)
			n++
		}
	}
	for k, t := range s.rememberTokens {
		if t.UsedAt != nil || !t.ExpiresAt.After(now) {
			delete(s.rememberTokens, k)
			n++
		}
	}
	return n, nil
}
