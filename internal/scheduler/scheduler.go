// Package scheduler runs registered actions on persisted wall-clock
// intervals. Each (owner, action) key has a durable last-run timestamp;
// an action only runs when its interval has elapsed, and the timestamp is
// advanced whether the action succeeds or fails so a broken job cannot
// hot-loop.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vidbot/internal/domain"
)

// Action is a scheduling descriptor. The work is captured as a closure at
// registration time; the (Owner, Name) pair keys the persisted ledger row.
type Action struct {
	Owner    string
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Key returns the ledger key in owner.name form.
func (a Action) Key() string { return a.Owner + "." + a.Name }

// ActionError pairs a failed action with its error.
type ActionError struct {
	Owner string
	Name  string
	Err   error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Owner, e.Name, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// RunError aggregates every action failure from a single Run call.
// Independent jobs are isolated from each other: all are attempted before
// the aggregate is returned.
type RunError struct {
	Failures []*ActionError
}

func (e *RunError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("%d job(s) failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *RunError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// Scheduler owns the job ledger and the in-memory action registry.
type Scheduler struct {
	ledger  domain.JobLedger
	actions []Action
	now     func() time.Time
	log     zerolog.Logger
}

// New creates a Scheduler backed by the given ledger.
func New(ledger domain.JobLedger, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		ledger: ledger,
		now:    time.Now,
		log:    logger,
	}
}

// Register adds actions to the registry in order, creating a never-run
// ledger row for keys seen for the first time. Re-registering an existing
// key leaves its ledger row untouched.
func (s *Scheduler) Register(ctx context.Context, actions ...Action) error {
	for _, a := range actions {
		if a.Owner == "" || a.Name == "" {
			return fmt.Errorf("scheduler: action needs owner and name, got %q.%q", a.Owner, a.Name)
		}
		if a.Run == nil {
			return fmt.Errorf("scheduler: action %s has no run function", a.Key())
		}
		if err := s.ledger.Ensure(ctx, a.Owner, a.Name); err != nil {
			return fmt.Errorf("scheduler: register %s: %w", a.Key(), err)
		}
		s.actions = append(s.actions, a)
		s.log.Debug().Str("job", a.Key()).Dur("interval", a.Interval).Msg("registered job")
	}
	return nil
}

// Run attempts every registered action in registration order. Due actions
// are invoked and their ledger timestamp advanced regardless of outcome;
// failures are collected and returned together as a *RunError after all
// actions have been attempted. A missing ledger row or a failed ledger
// write aborts the run: registration guarantees the row exists, so its
// absence is a consistency bug.
func (s *Scheduler) Run(ctx context.Context) error {
	log := s.log.With().Str("run_id", uuid.NewString()[:8]).Logger()

	var failures []*ActionError
	for _, a := range s.actions {
		rec, err := s.ledger.Get(ctx, a.Owner, a.Name)
		if err != nil {
			return fmt.Errorf("scheduler: load job %s: %w", a.Key(), err)
		}

		now := s.now()
		if !rec.Due(now, a.Interval) {
			log.Debug().
				Str("job", a.Key()).
				Time("last_run", rec.LastRunAt).
				Dur("interval", a.Interval).
				Msg("job not due, skipping")
			continue
		}

		log.Debug().Str("job", a.Key()).Msg("job starting")
		runErr := a.Run(ctx)

		if err := s.ledger.MarkRun(ctx, a.Owner, a.Name, now); err != nil {
			return fmt.Errorf("scheduler: mark run %s: %w", a.Key(), err)
		}

		if runErr != nil {
			log.Error().Err(runErr).Str("job", a.Key()).Msg("job failed")
			failures = append(failures, &ActionError{Owner: a.Owner, Name: a.Name, Err: runErr})
			continue
		}
		log.Debug().Str("job", a.Key()).Msg("job finished")
	}

	if len(failures) > 0 {
		return &RunError{Failures: failures}
	}
	return nil
}

// LastRun returns the persisted last-run time for the key, or
// domain.ErrJobNotFound for keys that were never registered. Unlike Run,
// this lookup never fabricates a default.
func (s *Scheduler) LastRun(ctx context.Context, owner, action string) (time.Time, error) {
	rec, err := s.ledger.Get(ctx, owner, action)
	if err != nil {
		return time.Time{}, err
	}
	return rec.LastRunAt, nil
}
