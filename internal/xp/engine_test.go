package xp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/notify"
	"github.com/specter/community-engine/internal/store"
	"github.com/specter/community-engine/internal/xp"
)

func newEngine(t *testing.T) (*xp.Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	center := notify.NewCenter(ms, nil)
	return xp.NewEngine(ms, center), ms
}

func seedAccount(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	err := ms.CreateAccount(context.Background(), &model.Account{
		ID:        id,
		Username:  "user-" + id,
		Role:      "member",
		Level:     1,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestLevelForXP(t *testing.T) {
	cases := []struct {
		xp    int64
		level int
	}{
		{-10, 1},
		{0, 1},
		{50, 1},
		{99, 1},
		{100, 2},
		{150, 2},
		{299, 2},
		{300, 3},
		{599, 3},
		{600, 4},
		{1000, 5},
	}
	for _, c := range cases {
		assert.Equal(t, c.level, xp.LevelForXP(c.xp), "xp=%d", c.xp)
	}
}

func TestRegister_GrantsBonusAndWelcome(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()

	account, err := engine.Register(ctx, "alice", "")
	require.NoError(t, err)

	assert.Equal(t, int64(xp.RewardRegistration), account.XP)
	assert.Equal(t, 1, account.Level)
	assert.Equal(t, "member", account.Role)

	events, err := ms.GetXPEvents(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "registration", events[0].Reason)

	notifications, err := ms.ListNotifications(ctx, account.ID, 10)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "Welcome!", notifications[0].Title)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	engine, _ := newEngine(t)
	ctx := context.Background()

	_, err := engine.Register(ctx, "alice", "")
	require.NoError(t, err)

	_, err = engine.Register(ctx, "alice", "")
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

// The account's cached XP must always equal the sum of its ledger amounts,
// including after negative adjustments, and the level never decreases.
func TestAward_LedgerSumInvariant(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()
	seedAccount(t, ms, "acc1")

	amounts := []int64{40, 80, -30, 25, -200, 300}
	for _, a := range amounts {
		_, _, err := engine.Award(ctx, "acc1", a, "adjustment", "test")
		require.NoError(t, err)
	}

	account, err := ms.GetAccount(ctx, "acc1")
	require.NoError(t, err)

	events, err := ms.GetXPEvents(ctx, "acc1")
	require.NoError(t, err)

	var sum int64
	for _, e := range events {
		sum += e.Amount
	}
	assert.Equal(t, sum, account.XP)
}

func TestAward_LevelNeverDecreases(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()
	seedAccount(t, ms, "acc1")

	_, _, err := engine.Award(ctx, "acc1", 300, "adjustment", "up")
	require.NoError(t, err)
	account, err := ms.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	require.Equal(t, 3, account.Level)

	_, _, err = engine.Award(ctx, "acc1", -250, "adjustment", "down")
	require.NoError(t, err)
	account, err = ms.GetAccount(ctx, "acc1")
	require.NoError(t, err)

	assert.Equal(t, int64(50), account.XP)
	assert.Equal(t, 3, account.Level, "level must not decrease when xp drops")
}

func TestRecordLogin_FirstLoginAchievement(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()
	seedAccount(t, ms, "acc1")

	require.NoError(t, engine.RecordLogin(ctx, "acc1"))

	account, err := ms.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	// 5 daily login + 10 first_login reward.
	assert.Equal(t, int64(15), account.XP)
	assert.Equal(t, 1, account.DailyStreak)

	unlocks, err := ms.GetUnlocks(ctx, "acc1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "first_login", unlocks[0].AchievementID)
}

func TestRecordLogin_SameDayKeepsStreak(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()
	seedAccount(t, ms, "acc1")

	require.NoError(t, engine.RecordLogin(ctx, "acc1"))
	require.NoError(t, engine.RecordLogin(ctx, "acc1"))

	account, err := ms.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	assert.Equal(t, 1, account.DailyStreak)

	// The daily bonus itself is paid per call; only the streak is guarded.
	assert.Equal(t, int64(20), account.XP)

	unlocks, err := ms.GetUnlocks(ctx, "acc1")
	require.NoError(t, err)
	assert.Len(t, unlocks, 1, "first_login must unlock only once")
}

func TestRecordLogin_UnknownAccount(t *testing.T) {
	engine, _ := newEngine(t)
	err := engine.RecordLogin(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEvaluateAchievements_Idempotent(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()
	seedAccount(t, ms, "acc1")

	_, _, err := engine.Award(ctx, "acc1", 1000, "adjustment", "seed")
	require.NoError(t, err)

	unlocked, err := engine.EvaluateAchievements(ctx, "acc1")
	require.NoError(t, err)
	assert.Empty(t, unlocked, "re-evaluation must not re-unlock")
}

// Crossing a threshold unlocks the achievement and grants its reward, but
// the reward must not cascade into further unlocks within the same pass.
func TestAward_ThresholdUnlockBounded(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()
	seedAccount(t, ms, "acc1")

	_, unlocked, err := engine.Award(ctx, "acc1", 1000, "adjustment", "seed")
	require.NoError(t, err)
	assert.Contains(t, unlocked, "xp_1000")

	account, err := ms.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	// 1000 awarded + 100 xp_1000 reward.
	assert.Equal(t, int64(1100), account.XP)

	// The next evaluation may pick up thresholds the reward crossed, but in
	// this case none were.
	unlocked, err = engine.EvaluateAchievements(ctx, "acc1")
	require.NoError(t, err)
	assert.Empty(t, unlocked)
}

func TestRecordNewsRead_FeedsNewsReader(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()
	seedAccount(t, ms, "acc1")

	for i := 0; i < 10; i++ {
		require.NoError(t, engine.RecordNewsRead(ctx, "acc1"))
	}

	unlocks, err := ms.GetUnlocks(ctx, "acc1")
	require.NoError(t, err)

	ids := make([]string, 0, len(unlocks))
	for _, u := range unlocks {
		ids = append(ids, u.AchievementID)
	}
	assert.Contains(t, ids, "news_reader")

	account, err := ms.GetAccount(ctx, "acc1")
	require.NoError(t, err)
	// 10 reads × 2 + 30 news_reader reward.
	assert.Equal(t, int64(50), account.XP)
}

func TestLeaderboard_OrderedByXP(t *testing.T) {
	engine, ms := newEngine(t)
	ctx := context.Background()
	seedAccount(t, ms, "a")
	seedAccount(t, ms, "b")
	seedAccount(t, ms, "c")

	_, _, err := engine.Award(ctx, "a", 10, "adjustment", "")
	require.NoError(t, err)
	_, _, err = engine.Award(ctx, "b", 250, "adjustment", "")
	require.NoError(t, err)
	_, _, err = engine.Award(ctx, "c", 90, "adjustment", "")
	require.NoError(t, err)

	entries, err := engine.Leaderboard(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user-b", entries[0].Username)
	assert.Equal(t, "user-c", entries[1].Username)
}
