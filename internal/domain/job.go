package domain

import "time"

// JobRecord tracks when a registered action last ran. The (Owner, Action)
// pair is the composite key; LastRunAt starts at the Unix epoch for actions
// that have never run.
type JobRecord struct {
	Owner     string
	Action    string
	LastRunAt time.Time
}

// Epoch is the zero point for never-run jobs.
var Epoch = time.Unix(0, 0)

// NewJobRecord creates a record in the never-run state.
func NewJobRecord(owner, action string) *JobRecord {
	return &JobRecord{Owner: owner, Action: action, LastRunAt: Epoch}
}

// Due returns true if at least interval has elapsed since the last run.
func (j *JobRecord) Due(now time.Time, interval time.Duration) bool {
	return now.Sub(j.LastRunAt) >= interval
}
