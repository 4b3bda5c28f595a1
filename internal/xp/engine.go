// Package xp implements the gamification core: the append-only XP ledger,
// level computation, achievement unlocking, and the accounts they hang off.
//
// Invariants maintained here:
//   - an account's cached xp equals the sum of its ledger amounts
//   - an account's level is the level formula applied to its xp,
//     and never decreases
//   - each achievement unlocks at most once per account
package xp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/specter/community-engine/internal/metrics"
	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/notify"
	"github.com/specter/community-engine/internal/store"
)

// XP amounts mirrored from the community dashboard's reward table.
const (
	RewardRegistration = 50
	RewardDailyLogin   = 5
	RewardNewsRead     = 2
)

// LevelForXP computes the level for a cumulative XP total. Each level
// requires progressively more XP: 100 for level 2, a further 200 for
// level 3, a further 300 for level 4, and so on. Non-positive totals map
// to level 1.
func LevelForXP(xp int64) int {
	level := 1
	required := int64(100)
	for xp >= required {
		xp -= required
		level++
		required = int64(level) * 100
	}
	return level
}

// Engine applies XP deltas, recomputes levels, and unlocks achievements.
type Engine struct {
	store   store.Store
	center  *notify.Center
	catalog []Achievement
}

// NewEngine creates an XP engine over the given store and notification
// center, using the standard achievement catalog.
func NewEngine(st store.Store, center *notify.Center) *Engine {
	return &Engine{
		store:   st,
		center:  center,
		catalog: Catalog(),
	}
}

// Catalog returns the engine's achievement definitions.
func (e *Engine) Catalog() []Achievement {
	return e.catalog
}

// Award appends an XP event, updates the account's cached XP and level,
// and evaluates achievements, all in one transaction. The amount may be
// negative; the ledger is not clamped, but level never decreases.
// Returns the event and the ids of any achievements unlocked by it.
func (e *Engine) Award(ctx context.Context, accountID string, amount int64, reason, description string) (*model.XPEvent, []string, error) {
	var event *model.XPEvent
	var unlocked []string

	err := e.store.InTx(ctx, func(st store.Store) error {
		var err error
		event, unlocked, err = e.AwardTx(ctx, st, accountID, amount, reason, description)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return event, unlocked, nil
}

// AwardTx is Award against an explicit store, so engines already inside a
// transaction keep the XP side effects atomic with their own mutation.
func (e *Engine) AwardTx(ctx context.Context, st store.Store, accountID string, amount int64, reason, description string) (*model.XPEvent, []string, error) {
	event, err := e.grantTx(ctx, st, accountID, amount, reason, description)
	if err != nil {
		return nil, nil, err
	}

	unlocked, err := e.EvaluateAchievementsTx(ctx, st, accountID)
	if err != nil {
		return nil, nil, err
	}
	return event, unlocked, nil
}

// grantTx records one XP event and updates the cached xp/level. It does
// not evaluate achievements; that keeps achievement rewards from cascading
// into further unlocks within the same pass.
func (e *Engine) grantTx(ctx context.Context, st store.Store, accountID string, amount int64, reason, description string) (*model.XPEvent, error) {
	event := &model.XPEvent{
		ID:          uuid.New().String(),
		AccountID:   accountID,
		Amount:      amount,
		Reason:      reason,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.InsertXPEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("insert xp event: %w", err)
	}

	total, err := st.AddXP(ctx, accountID, amount)
	if err != nil {
		return nil, fmt.Errorf("add xp: %w", err)
	}

	if err := st.SetLevelIfHigher(ctx, accountID, LevelForXP(total)); err != nil {
		return nil, fmt.Errorf("update level: %w", err)
	}

	if amount > 0 {
		metrics.XPAwardedTotal.WithLabelValues(reason).Add(float64(amount))
	}

	slog.Info("xp awarded",
		"account", accountID,
		"amount", amount,
		"reason", reason,
		"total", total,
	)
	return event, nil
}

// EvaluateAchievements checks every locked achievement for the account and
// unlocks those whose predicate now holds. Safe to call redundantly; each
// achievement unlocks at most once.
func (e *Engine) EvaluateAchievements(ctx context.Context, accountID string) ([]string, error) {
	var unlocked []string
	err := e.store.InTx(ctx, func(st store.Store) error {
		var err error
		unlocked, err = e.EvaluateAchievementsTx(ctx, st, accountID)
		return err
	})
	return unlocked, err
}

// EvaluateAchievementsTx is EvaluateAchievements against an explicit store.
func (e *Engine) EvaluateAchievementsTx(ctx context.Context, st store.Store, accountID string) ([]string, error) {
	account, err := st.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}

	stats, err := st.AccountStats(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load stats: %w", err)
	}

	existing, err := st.GetUnlocks(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load unlocks: %w", err)
	}
	earned := make(map[string]bool, len(existing))
	for _, u := range existing {
		earned[u.AchievementID] = true
	}

	var unlocked []string
	for _, a := range e.catalog {
		if earned[a.ID] {
			continue
		}
		if !a.Unlocks.satisfied(account.XP, account.Level, stats) {
			continue
		}

		inserted, err := st.InsertUnlock(ctx, &model.AchievementUnlock{
			AccountID:     accountID,
			AchievementID: a.ID,
			EarnedAt:      time.Now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("insert unlock %s: %w", a.ID, err)
		}
		if !inserted {
			// Lost a race with a concurrent evaluation; the winner
			// granted the reward.
			continue
		}

		// Reward XP without re-evaluating, so one pass terminates even
		// when rewards cross further thresholds.
		if _, err := e.grantTx(ctx, st, accountID, a.Reward, "achievement", a.Name); err != nil {
			return nil, err
		}

		if _, err := e.center.AppendTx(ctx, st, accountID, "achievement", a.Name, a.Description); err != nil {
			return nil, fmt.Errorf("unlock notification: %w", err)
		}

		metrics.AchievementsUnlockedTotal.WithLabelValues(a.ID).Inc()
		slog.Info("achievement unlocked", "account", accountID, "achievement", a.ID)
		unlocked = append(unlocked, a.ID)
	}
	return unlocked, nil
}

// Register creates an account, grants the registration bonus, and welcomes
// the member, as one transaction.
func (e *Engine) Register(ctx context.Context, username, role string) (*model.Account, error) {
	if role == "" {
		role = "member"
	}
	account := &model.Account{
		ID:        uuid.New().String(),
		Username:  username,
		Role:      role,
		Level:     1,
		CreatedAt: time.Now().UTC(),
	}

	err := e.store.InTx(ctx, func(st store.Store) error {
		if err := st.CreateAccount(ctx, account); err != nil {
			return err
		}
		if _, _, err := e.AwardTx(ctx, st, account.ID, RewardRegistration, "registration", "Account registration"); err != nil {
			return err
		}
		_, err := e.center.AppendTx(ctx, st, account.ID, "success", "Welcome!",
			fmt.Sprintf("Thank you for joining our community. You earned %d XP for registering!", RewardRegistration))
		return err
	})
	if err != nil {
		return nil, err
	}

	return e.store.GetAccount(ctx, account.ID)
}

// RecordLogin grants the daily login bonus and maintains the consecutive-day
// streak. Logging in on the same UTC day keeps the streak; the next day
// extends it; a gap resets it to 1.
func (e *Engine) RecordLogin(ctx context.Context, accountID string) error {
	return e.store.InTx(ctx, func(st store.Store) error {
		account, err := st.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		streak := 1
		if !account.LastLoginAt.IsZero() {
			lastDay := account.LastLoginAt.UTC().Truncate(24 * time.Hour)
			today := now.Truncate(24 * time.Hour)
			switch today.Sub(lastDay) {
			case 0:
				streak = account.DailyStreak
			case 24 * time.Hour:
				streak = account.DailyStreak + 1
			}
		}
		if err := st.UpdateLoginStreak(ctx, accountID, streak, now); err != nil {
			return err
		}

		_, _, err = e.AwardTx(ctx, st, accountID, RewardDailyLogin, "daily_login", "Daily login bonus")
		return err
	})
}

// RecordNewsRead grants the small news-read reward, feeding the news_reader
// achievement. The article fetch itself lives outside this core.
func (e *Engine) RecordNewsRead(ctx context.Context, accountID string) error {
	_, _, err := e.Award(ctx, accountID, RewardNewsRead, "news_read", "Read a news article")
	return err
}

// Leaderboard returns the top accounts by XP.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	return e.store.Leaderboard(ctx, limit)
}
