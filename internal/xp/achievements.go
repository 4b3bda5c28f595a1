package xp

import "github.com/specter/community-engine/internal/model"

// Predicate is one closed, typed achievement condition. Conditions are
// evaluated by a pure interpreter over the account's XP, level, and usage
// stats — never from config-derived strings.
type Predicate interface {
	satisfied(xp int64, level int, stats *model.AccountStats) bool
}

// XPAtLeast unlocks at a cumulative XP threshold.
type XPAtLeast int64

func (p XPAtLeast) satisfied(xp int64, _ int, _ *model.AccountStats) bool {
	return xp >= int64(p)
}

// LevelAtLeast unlocks at a level threshold.
type LevelAtLeast int

func (p LevelAtLeast) satisfied(_ int64, level int, _ *model.AccountStats) bool {
	return level >= int(p)
}

// LoginsAtLeast unlocks after a number of logins.
type LoginsAtLeast int

func (p LoginsAtLeast) satisfied(_ int64, _ int, stats *model.AccountStats) bool {
	return stats.LoginCount >= int(p)
}

// StreakAtLeast unlocks at a consecutive-day login streak.
type StreakAtLeast int

func (p StreakAtLeast) satisfied(_ int64, _ int, stats *model.AccountStats) bool {
	return stats.DailyStreak >= int(p)
}

// TradesAtLeast unlocks after a number of simulated trades.
type TradesAtLeast int

func (p TradesAtLeast) satisfied(_ int64, _ int, stats *model.AccountStats) bool {
	return stats.TradesCount >= int(p)
}

// ProfitableTradesAtLeast unlocks after a number of profitable closes.
type ProfitableTradesAtLeast int

func (p ProfitableTradesAtLeast) satisfied(_ int64, _ int, stats *model.AccountStats) bool {
	return stats.ProfitableTrades >= int(p)
}

// NewsReadAtLeast unlocks after a number of news articles read.
type NewsReadAtLeast int

func (p NewsReadAtLeast) satisfied(_ int64, _ int, stats *model.AccountStats) bool {
	return stats.NewsRead >= int(p)
}

// VotesAtLeast unlocks after a number of poll votes.
type VotesAtLeast int

func (p VotesAtLeast) satisfied(_ int64, _ int, stats *model.AccountStats) bool {
	return stats.VoteCount >= int(p)
}

// Achievement is one static catalog entry. The catalog is read-only
// configuration; unlock state lives in the store.
type Achievement struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Reward      int64     `json:"xp_reward"`
	Unlocks     Predicate `json:"-"`
}

// Catalog returns the achievement definitions.
func Catalog() []Achievement {
	return []Achievement{
		{ID: "first_login", Name: "First Steps", Description: "Complete your first login", Reward: 10, Unlocks: LoginsAtLeast(1)},
		{ID: "daily_streak_7", Name: "Week Warrior", Description: "Login for 7 consecutive days", Reward: 50, Unlocks: StreakAtLeast(7)},
		{ID: "daily_streak_30", Name: "Monthly Master", Description: "Login for 30 consecutive days", Reward: 200, Unlocks: StreakAtLeast(30)},
		{ID: "xp_1000", Name: "XP Collector", Description: "Reach 1,000 XP", Reward: 100, Unlocks: XPAtLeast(1000)},
		{ID: "xp_5000", Name: "XP Master", Description: "Reach 5,000 XP", Reward: 500, Unlocks: XPAtLeast(5000)},
		{ID: "level_10", Name: "Level 10", Description: "Reach level 10", Reward: 200, Unlocks: LevelAtLeast(10)},
		{ID: "level_25", Name: "Level 25", Description: "Reach level 25", Reward: 500, Unlocks: LevelAtLeast(25)},
		{ID: "first_trade", Name: "First Trade", Description: "Complete your first trading simulation", Reward: 25, Unlocks: TradesAtLeast(1)},
		{ID: "profitable_trader", Name: "Profitable Trader", Description: "Make a profitable trade", Reward: 50, Unlocks: ProfitableTradesAtLeast(1)},
		{ID: "news_reader", Name: "News Reader", Description: "Read 10 news articles", Reward: 30, Unlocks: NewsReadAtLeast(10)},
		{ID: "community_voice", Name: "Community Voice", Description: "Vote in 5 community polls", Reward: 25, Unlocks: VotesAtLeast(5)},
	}
}
