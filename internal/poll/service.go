// Package poll implements community polls: creation, one-vote-per-account
// voting with an XP reward, and tallied results.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/specter/community-engine/internal/metrics"
	"github.com/specter/community-engine/internal/model"
	"github.com/specter/community-engine/internal/notify"
	"github.com/specter/community-engine/internal/store"
	"github.com/specter/community-engine/internal/xp"
)

// RewardVote is the XP granted for voting in a poll.
const RewardVote = 5

var (
	// ErrPollNotFound is returned when no active poll has the given id.
	ErrPollNotFound = errors.New("poll: not found or inactive")

	// ErrPollExpired is returned when the poll's expiry has passed, even
	// if its active flag is stale-true.
	ErrPollExpired = errors.New("poll: expired")

	// ErrAlreadyVoted is returned when the account has already voted in
	// this poll. A legitimate concurrent-state condition, not a bug.
	ErrAlreadyVoted = errors.New("poll: already voted")

	// ErrInvalidOption is returned when the option is not one of the
	// poll's declared options.
	ErrInvalidOption = errors.New("poll: invalid option")

	// ErrInvalidOptions is returned at creation when the option list has
	// fewer than 2 or more than 10 distinct entries.
	ErrInvalidOptions = errors.New("poll: polls need 2-10 distinct options")
)

// ActivePoll is a poll with its current tallies, as listed on the dashboard.
type ActivePoll struct {
	model.Poll
	TotalVotes int            `json:"total_votes"`
	Tallies    map[string]int `json:"tallies"`
}

// Engine records votes and tallies results.
type Engine struct {
	store  store.Store
	xp     *xp.Engine
	center *notify.Center
	now    func() time.Time
}

// NewEngine creates a poll engine. Pass nil for now to use the wall clock.
func NewEngine(st store.Store, xpEngine *xp.Engine, center *notify.Center, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		store:  st,
		xp:     xpEngine,
		center: center,
		now:    now,
	}
}

// Create adds a poll. Options must be 2-10 distinct entries; role checks
// belong to the caller's boundary, not here.
func (e *Engine) Create(ctx context.Context, creatorID, question string, options []string, expiresAt *time.Time) (*model.Poll, error) {
	distinct := make(map[string]bool, len(options))
	for _, o := range options {
		distinct[o] = true
	}
	if len(distinct) != len(options) || len(options) < 2 || len(options) > 10 {
		return nil, ErrInvalidOptions
	}

	p := &model.Poll{
		ID:        uuid.New().String(),
		Question:  question,
		Options:   append([]string(nil), options...),
		Active:    true,
		ExpiresAt: expiresAt,
		CreatedBy: creatorID,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.InsertPoll(ctx, p); err != nil {
		return nil, fmt.Errorf("insert poll: %w", err)
	}

	slog.Info("poll created", "poll_id", p.ID, "creator", creatorID, "options", len(options))
	return p, nil
}

// ListActive returns polls that are active and unexpired, each with its
// current tallies.
func (e *Engine) ListActive(ctx context.Context) ([]ActivePoll, error) {
	polls, err := e.store.ListActivePolls(ctx, e.now().UTC())
	if err != nil {
		return nil, err
	}

	active := make([]ActivePoll, 0, len(polls))
	for _, p := range polls {
		tallies, err := e.store.CountVotes(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		total := 0
		for _, n := range tallies {
			total += n
		}
		active = append(active, ActivePoll{Poll: p, TotalVotes: total, Tallies: tallies})
	}
	return active, nil
}

// Vote records the account's choice. The existence check and insert are one
// atomic unit, so two concurrent votes from the same account cannot both
// succeed; the vote, its XP reward, and the confirmation notification
// commit together.
func (e *Engine) Vote(ctx context.Context, accountID, pollID, option string) (*model.XPEvent, error) {
	p, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}
	if !p.Active {
		return nil, ErrPollNotFound
	}
	// Expiry wins over a stale active flag.
	if p.ExpiresAt != nil && !p.ExpiresAt.After(e.now().UTC()) {
		return nil, ErrPollExpired
	}

	valid := false
	for _, o := range p.Options {
		if o == option {
			valid = true
			break
		}
	}
	if !valid {
		return nil, ErrInvalidOption
	}

	var event *model.XPEvent
	err = e.store.InTx(ctx, func(st store.Store) error {
		if err := st.InsertVote(ctx, &model.Vote{
			AccountID: accountID,
			PollID:    pollID,
			Option:    option,
			CreatedAt: e.now().UTC(),
		}); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return ErrAlreadyVoted
			}
			return err
		}

		event, _, err = e.xp.AwardTx(ctx, st, accountID, RewardVote, "poll_vote", "Voted in community poll")
		if err != nil {
			return err
		}

		_, err = e.center.AppendTx(ctx, st, accountID, "success", "Vote Submitted",
			fmt.Sprintf("Your vote has been recorded! +%d XP", RewardVote))
		return err
	})
	if err != nil {
		return nil, err
	}

	metrics.VotesTotal.Inc()
	slog.Info("vote recorded", "poll_id", pollID, "account", accountID, "option", option)
	return event, nil
}

// Results tallies the poll: per-option counts and percentages rounded to
// one decimal place, in the poll's declared option order. Pure read.
func (e *Engine) Results(ctx context.Context, pollID string) (*model.PollResults, error) {
	p, err := e.store.GetPoll(ctx, pollID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}

	counts, err := e.store.CountVotes(ctx, pollID)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	results := make([]model.OptionResult, 0, len(p.Options))
	for _, option := range p.Options {
		votes := counts[option]
		pct := 0.0
		if total > 0 {
			pct = math.Round(float64(votes)/float64(total)*1000) / 10
		}
		results = append(results, model.OptionResult{
			Option:     option,
			Votes:      votes,
			Percentage: pct,
		})
	}

	return &model.PollResults{
		PollID:     pollID,
		Results:    results,
		TotalVotes: total,
	}, nil
}

// CloseExpired flips the active flag off for polls whose expiry has passed.
// Run periodically by the scheduler.
func (e *Engine) CloseExpired(ctx context.Context) (int, error) {
	return e.store.DeactivatePollsExpiredBefore(ctx, e.now().UTC())
}
