// Package worker drives the scheduler on a fixed cron tick.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"vidbot/internal/scheduler"
)

// JobRunner runs one scheduling pass.
type JobRunner interface {
	Run(ctx context.Context) error
}

// Runner ticks the scheduler until stopped. Job failures inside a pass
// are logged and the loop keeps going; only Stop ends it.
type Runner struct {
	jobs JobRunner
	cron *cron.Cron
	tick time.Duration
	log  zerolog.Logger
}

// New creates a Runner with the given tick interval.
func New(jobs JobRunner, tick time.Duration, logger zerolog.Logger) *Runner {
	return &Runner{
		jobs: jobs,
		cron: cron.New(),
		tick: tick,
		log:  logger,
	}
}

// Start runs one pass immediately, then schedules a pass every tick.
func (r *Runner) Start(ctx context.Context) error {
	r.log.Info().Dur("tick", r.tick).Msg("worker started")
	r.runOnce(ctx)

	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", r.tick), func() {
		r.runOnce(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the tick and waits for a running pass to finish.
func (r *Runner) Stop() {
	stopCtx := r.cron.Stop()
	<-stopCtx.Done()
	r.log.Info().Msg("worker stopped")
}

func (r *Runner) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	err := r.jobs.Run(ctx)
	if err == nil {
		return
	}

	var runErr *scheduler.RunError
	if errors.As(err, &runErr) {
		r.log.Warn().
			Int("failed", len(runErr.Failures)).
			Err(err).
			Msg("scheduling pass had job failures")
		return
	}
	// Ledger trouble, not a job failure. The next tick retries.
	r.log.Error().Err(err).Msg("scheduling pass aborted")
}
