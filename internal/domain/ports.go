package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrJobNotFound is returned by last-run lookups for keys that were
	// never registered.
	ErrJobNotFound = errors.New("job not found")
)

// JobLedger is the driven port for the persisted job-last-run ledger.
type JobLedger interface {
	// Ensure creates the record for the key in the never-run state if it
	// does not exist yet. Idempotent.
	Ensure(ctx context.Context, owner, action string) error
	// Get returns the record for the key, or ErrJobNotFound.
	Get(ctx context.Context, owner, action string) (*JobRecord, error)
	// MarkRun advances the record's last-run timestamp.
	MarkRun(ctx context.Context, owner, action string, at time.Time) error
}

// PostLedger is the driven port for the posted-item ledger.
type PostLedger interface {
	// ShouldPostAndRecord decides whether the item may be posted and, if so,
	// records the post in the same transaction. A first-time item is always
	// postable; a known item is suppressed while inside the expiry window
	// with its repeat ceiling reached.
	ShouldPostAndRecord(ctx context.Context, itemID string, maxRepeat int, expiry time.Duration) (bool, error)
}

// Poster is the driven port for feed delivery. Implementations return
// transport-level errors (auth, rate limits) to the caller.
type Poster interface {
	Post(ctx context.Context, message string) error
}
