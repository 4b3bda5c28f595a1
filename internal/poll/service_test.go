package poll_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/notify"
	"github.com/specter/community-engine/internal/poll"
	"github.com/specter/community-engine/internal/store"
	"github.com/specter/community-engine/internal/xp"
)

// fakeClock is a settable clock for expiry tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestEnv(t *testing.T) (*poll.Engine, *store.MemoryStore, *fakeClock) {
	t.Helper()
	ms := store.NewMemoryStore()
	center := notify.NewCenter(ms, nil)
	xpEngine := xp.NewEngine(ms, center)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	engine := poll.NewEngine(ms, xpEngine, center, clock.Now)
	return engine, ms, clock
}

func seedVoter(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	err := ms.CreateAccount(context.Background(), &model.Account{
		ID:        id,
		Username:  "voter-" + id,
		Role:      "member",
		Level:     1,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
}

func mustCreate(t *testing.T, engine *poll.Engine, expiresAt *time.Time) *model.Poll {
	t.Helper()
	p, err := engine.Create(context.Background(), "mod1", "Best feature?", []string{"XP", "Trading", "Polls"}, expiresAt)
	if err != nil {
		t.Fatalf("failed to create poll: %v", err)
	}
	return p
}

// --- Create tests ---

func TestCreate_OptionBounds(t *testing.T) {
	engine, _, _ := newTestEnv(t)
	ctx := context.Background()

	cases := [][]string{
		{},
		{"only"},
		{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k"},
		{"dup", "dup"},
	}
	for _, options := range cases {
		if _, err := engine.Create(ctx, "mod1", "q", options, nil); err != poll.ErrInvalidOptions {
			t.Errorf("options %v: expected ErrInvalidOptions, got %v", options, err)
		}
	}
}

// --- Vote tests ---

func TestVote_AwardsXPAndNotifies(t *testing.T) {
	engine, ms, _ := newTestEnv(t)
	ctx := context.Background()
	seedVoter(t, ms, "u1")
	p := mustCreate(t, engine, nil)

	event, err := engine.Vote(ctx, "u1", p.ID, "XP")
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if event.Amount != poll.RewardVote {
		t.Errorf("expected %d XP, got %d", poll.RewardVote, event.Amount)
	}

	account, _ := ms.GetAccount(ctx, "u1")
	if account.XP != poll.RewardVote {
		t.Errorf("expected account XP %d, got %d", poll.RewardVote, account.XP)
	}

	notifications, _ := ms.ListNotifications(ctx, "u1", 10)
	found := false
	for _, n := range notifications {
		if n.Title == "Vote Submitted" {
			found = true
		}
	}
	if !found {
		t.Error("expected a Vote Submitted notification")
	}
}

func TestVote_DoubleVoteRejected(t *testing.T) {
	engine, ms, _ := newTestEnv(t)
	ctx := context.Background()
	seedVoter(t, ms, "u1")
	p := mustCreate(t, engine, nil)

	if _, err := engine.Vote(ctx, "u1", p.ID, "XP"); err != nil {
		t.Fatalf("first vote failed: %v", err)
	}
	if _, err := engine.Vote(ctx, "u1", p.ID, "Trading"); err != poll.ErrAlreadyVoted {
		t.Errorf("expected ErrAlreadyVoted, got %v", err)
	}

	// The rejected vote must leave no XP behind.
	account, _ := ms.GetAccount(ctx, "u1")
	if account.XP != poll.RewardVote {
		t.Errorf("expected XP unchanged at %d, got %d", poll.RewardVote, account.XP)
	}
}

func TestVote_InvalidOption(t *testing.T) {
	engine, ms, _ := newTestEnv(t)
	seedVoter(t, ms, "u1")
	p := mustCreate(t, engine, nil)

	if _, err := engine.Vote(context.Background(), "u1", p.ID, "Nope"); err != poll.ErrInvalidOption {
		t.Errorf("expected ErrInvalidOption, got %v", err)
	}
}

func TestVote_UnknownPoll(t *testing.T) {
	engine, ms, _ := newTestEnv(t)
	seedVoter(t, ms, "u1")

	if _, err := engine.Vote(context.Background(), "u1", "nope", "XP"); err != poll.ErrPollNotFound {
		t.Errorf("expected ErrPollNotFound, got %v", err)
	}
}

// Expiry is checked against the clock on every vote, so a poll whose active
// flag has not been swept yet still rejects votes.
func TestVote_ExpiredDespiteActiveFlag(t *testing.T) {
	engine, ms, clock := newTestEnv(t)
	ctx := context.Background()
	seedVoter(t, ms, "u1")

	expires := clock.now.Add(time.Hour)
	p := mustCreate(t, engine, &expires)

	clock.now = clock.now.Add(2 * time.Hour)

	stored, _ := ms.GetPoll(ctx, p.ID)
	if !stored.Active {
		t.Fatal("precondition: active flag should still be true")
	}
	if _, err := engine.Vote(ctx, "u1", p.ID, "XP"); err != poll.ErrPollExpired {
		t.Errorf("expected ErrPollExpired, got %v", err)
	}
}

// --- Results tests ---

func TestResults_PercentagesRounded(t *testing.T) {
	engine, ms, _ := newTestEnv(t)
	ctx := context.Background()
	p := mustCreate(t, engine, nil)

	votes := map[string]int{"XP": 45, "Trading": 23, "Polls": 32}
	for option, n := range votes {
		for j := 0; j < n; j++ {
			id := fmt.Sprintf("%s-%d", option, j)
			seedVoter(t, ms, id)
			if _, err := engine.Vote(ctx, id, p.ID, option); err != nil {
				t.Fatalf("vote failed: %v", err)
			}
		}
	}

	results, err := engine.Results(ctx, p.ID)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if results.TotalVotes != 100 {
		t.Fatalf("expected 100 votes, got %d", results.TotalVotes)
	}

	want := map[string]float64{"XP": 45.0, "Trading": 23.0, "Polls": 32.0}
	for _, r := range results.Results {
		if r.Percentage != want[r.Option] {
			t.Errorf("option %s: expected %.1f%%, got %.1f%%", r.Option, want[r.Option], r.Percentage)
		}
	}
}

func TestResults_EmptyPoll(t *testing.T) {
	engine, _, _ := newTestEnv(t)
	p := mustCreate(t, engine, nil)

	results, err := engine.Results(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if results.TotalVotes != 0 {
		t.Errorf("expected 0 votes, got %d", results.TotalVotes)
	}
	for _, r := range results.Results {
		if r.Percentage != 0 {
			t.Errorf("option %s: expected 0%% with no votes, got %.1f", r.Option, r.Percentage)
		}
	}
}

// --- Listing and sweeping ---

func TestListActive_SkipsExpired(t *testing.T) {
	engine, _, clock := newTestEnv(t)
	ctx := context.Background()

	expires := clock.now.Add(time.Hour)
	expiring := mustCreate(t, engine, &expires)
	forever := mustCreate(t, engine, nil)

	clock.now = clock.now.Add(2 * time.Hour)

	active, err := engine.ListActive(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active poll, got %d", len(active))
	}
	if active[0].ID != forever.ID {
		t.Errorf("expected poll %s, got %s", forever.ID, active[0].ID)
	}
	_ = expiring
}

func TestCloseExpired_Sweeps(t *testing.T) {
	engine, ms, clock := newTestEnv(t)
	ctx := context.Background()

	expires := clock.now.Add(time.Hour)
	p := mustCreate(t, engine, &expires)

	clock.now = clock.now.Add(2 * time.Hour)

	n, err := engine.CloseExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 poll swept, got %d", n)
	}

	stored, _ := ms.GetPoll(ctx, p.ID)
	if stored.Active {
		t.Error("expected active flag cleared after sweep")
	}
}
