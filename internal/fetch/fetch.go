// Package fetch wraps possibly-failing network operations with bounded
// retries, linear backoff, an inter-call throttle, and a cumulative
// failure count used as a circuit breaker by batch callers.
package fetch

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config tunes a Fetcher. Zero values fall back to the defaults below.
type Config struct {
	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int
	// RetrySleep is the base backoff; attempt n sleeps n * RetrySleep.
	RetrySleep time.Duration
	// FetchSleep spaces successive successful calls.
	FetchSleep time.Duration
	// MaxFailures is the cumulative retry-exhausted count above which
	// batch callers must stop issuing calls.
	MaxFailures int
}

const (
	defaultMaxRetries  = 3
	defaultRetrySleep  = 15 * time.Second
	defaultFetchSleep  = time.Second
	defaultMaxFailures = 2
)

// Fetcher executes operations with retry. It is not safe for concurrent
// use; the scheduler runs jobs one at a time.
type Fetcher struct {
	maxRetries  int
	retrySleep  time.Duration
	maxFailures int
	limiter     *rate.Limiter
	log         zerolog.Logger

	sleep    func(time.Duration)
	failures int
}

// New creates a Fetcher, applying defaults for unset config fields.
func New(cfg Config, logger zerolog.Logger) *Fetcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetrySleep <= 0 {
		cfg.RetrySleep = defaultRetrySleep
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = defaultMaxFailures
	}
	limit := rate.Inf
	if cfg.FetchSleep > 0 {
		limit = rate.Every(cfg.FetchSleep)
	}
	return &Fetcher{
		maxRetries:  cfg.MaxRetries,
		retrySleep:  cfg.RetrySleep,
		maxFailures: cfg.MaxFailures,
		limiter:     rate.NewLimiter(limit, 1),
		log:         logger,
		sleep:       time.Sleep,
	}
}

// Do runs op, retrying up to MaxRetries times with linear backoff. On
// success it waits on the inter-call throttle before returning. When
// retries are exhausted the cumulative failure count is incremented and
// the last error is returned.
func (f *Fetcher) Do(ctx context.Context, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * f.retrySleep
			f.log.Info().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(err).
				Msg("retrying fetch")
			f.sleep(backoff)
		}
		if err = op(ctx); err == nil {
			return f.limiter.Wait(ctx)
		}
		// A cancelled run is not an upstream failure; leave the breaker
		// count alone.
		if ctx.Err() != nil {
			return err
		}
	}
	f.failures++
	return err
}

// Failures returns the number of retry-exhausted operations so far.
func (f *Fetcher) Failures() int { return f.failures }

// ExhaustedBudget reports whether the cumulative failure ceiling has been
// crossed. Callers looping over many items must stop once this is true.
func (f *Fetcher) ExhaustedBudget() bool { return f.failures > f.maxFailures }

// Cooldown is how long a batch caller should back off after a single
// exhausted operation before moving on to the next item.
func (f *Fetcher) Cooldown() time.Duration {
	return f.retrySleep * time.Duration(f.maxRetries) * 2
}
