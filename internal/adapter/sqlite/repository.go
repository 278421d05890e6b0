// Package sqlite persists the job and posted-item ledgers.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"vidbot/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS job (
    class_name    TEXT NOT NULL,
    function_name TEXT NOT NULL,
    called_at     INTEGER NOT NULL,
    PRIMARY KEY (class_name, function_name)
);
CREATE TABLE IF NOT EXISTS posted_item (
    item_id      TEXT PRIMARY KEY,
    post_count   INTEGER NOT NULL,
    last_post_at INTEGER NOT NULL
);
`

// Repository implements domain.JobLedger and domain.PostLedger on a
// single SQLite file. One scheduler instance owns the file; rows are
// never deleted.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the ledger database at dbPath.
func New(dbPath string) (*Repository, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ensure creates a never-run job row for the key if none exists.
func (r *Repository) Ensure(ctx context.Context, owner, action string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO job (class_name, function_name, called_at) VALUES (?, ?, ?)`,
		owner, action, domain.Epoch.Unix(),
	)
	return err
}

// Get returns the job record for the key, or domain.ErrJobNotFound.
func (r *Repository) Get(ctx context.Context, owner, action string) (*domain.JobRecord, error) {
	var calledAt int64
	err := r.db.QueryRowContext(ctx,
		`SELECT called_at FROM job WHERE class_name = ? AND function_name = ?`,
		owner, action,
	).Scan(&calledAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &domain.JobRecord{Owner: owner, Action: action, LastRunAt: time.Unix(calledAt, 0)}, nil
}

// MarkRun advances the job's last-run timestamp.
func (r *Repository) MarkRun(ctx context.Context, owner, action string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE job SET called_at = ? WHERE class_name = ? AND function_name = ?`,
		at.Unix(), owner, action,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// ShouldPostAndRecord decides whether itemID may be posted and records the
// decision in the same transaction, so a crash cannot separate "decide to
// post" from "mark as posted".
func (r *Repository) ShouldPostAndRecord(ctx context.Context, itemID string, maxRepeat int, expiry time.Duration) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var (
		count      int
		lastPostAt int64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT post_count, last_post_at FROM posted_item WHERE item_id = ?`, itemID,
	).Scan(&count, &lastPostAt)

	now := r.now()
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO posted_item (item_id, post_count, last_post_at) VALUES (?, 1, ?)`,
			itemID, now.Unix(),
		); err != nil {
			return false, err
		}

	case err != nil:
		return false, err

	default:
		item := &domain.PostedItem{ItemID: itemID, PostCount: count, LastPostAt: time.Unix(lastPostAt, 0)}
		if item.Suppressed(now, maxRepeat, expiry) {
			return false, nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE posted_item SET post_count = post_count + 1, last_post_at = ? WHERE item_id = ?`,
			now.Unix(), itemID,
		); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit post record: %w", err)
	}
	return true, nil
}

// PostedItem returns the posted-item record, or nil when the item was
// never posted.
func (r *Repository) PostedItem(ctx context.Context, itemID string) (*domain.PostedItem, error) {
	var (
		count      int
		lastPostAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT post_count, last_post_at FROM posted_item WHERE item_id = ?`, itemID,
	).Scan(&count, &lastPostAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.PostedItem{ItemID: itemID, PostCount: count, LastPostAt: time.Unix(lastPostAt, 0)}, nil
}
