// Package jobs runs the periodic maintenance work: deactivating expired
// polls and purging dead auth tokens.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/specter/community-engine/internal/poll"
	"github.com/specter/community-engine/internal/token"
)

const jobTimeout = 30 * time.Second

// Scheduler owns the cron instance and its registered jobs.
type Scheduler struct {
	cron   *cron.Cron
	polls  *poll.Engine
	tokens *token.Issuer
}

// NewScheduler wires the maintenance jobs. Call Start to begin and Stop to
// drain on shutdown.
func NewScheduler(polls *poll.Engine, tokens *token.Issuer) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		polls:  polls,
		tokens: tokens,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("* * * * *", s.closeExpiredPolls); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@hourly", s.purgeDeadTokens); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("scheduler started")
	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) closeExpiredPolls() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.polls.CloseExpired(ctx)
	if err != nil {
		slog.Error("close expired polls", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired polls closed", "count", n)
	}
}

func (s *Scheduler) purgeDeadTokens() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	n, err := s.tokens.Purge(ctx)
	if err != nil {
		slog.Error("purge dead tokens", "error", err)
		return
	}
	if n > 0 {
		slog.Info("dead tokens purged", "count", n)
	}
}
