// Package sqlite stores the activity journal in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity (
    seq        INTEGER PRIMARY KEY,
    id         TEXT NOT NULL UNIQUE,
    kind       TEXT NOT NULL,
    item_id    INTEGER NOT NULL DEFAULT 0,
    hash       TEXT NOT NULL DEFAULT '',
    actor      TEXT NOT NULL,
    actor_key  TEXT NOT NULL,
    state      TEXT NOT NULL,
    reason     TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activity_item ON activity(item_id, created_at);
CREATE INDEX IF NOT EXISTS idx_activity_actor ON activity(actor_key, created_at);
`

// Open opens a SQLite database, configures pragmas and applies the schema.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return db, nil
}

// Repository implements artisan.Repository over SQLite
type Repository struct {
	db *sql.DB
}

// New creates a repository over an opened database
func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// RecordActivity appends an activity to the journal
func (r *Repository) RecordActivity(ctx context.Context, activity *artisan.Activity) error {
	if activity.ID == uuid.Nil {
		return fmt.Errorf("%w: activity id is required", artisan.ErrInvalidArgument)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO activity (id, kind, item_id, hash, actor, actor_key, state, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		activity.ID.String(), string(activity.Kind), int64(activity.ItemID), activity.Hash,
		activity.Actor, strings.ToLower(activity.Actor), string(activity.State),
		activity.Reason, activity.CreatedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: activity %s already recorded", artisan.ErrInvalidArgument, activity.ID)
		}
		return fmt.Errorf("recording activity: %w", err)
	}
	return nil
}

const selectActivity = `SELECT id, kind, item_id, hash, actor, state, reason, created_at FROM activity`

// ListActivityByItem returns the journal entries of an item, oldest first
func (r *Repository) ListActivityByItem(ctx context.Context, itemID uint64) ([]*artisan.Activity, error) {
	return r.list(ctx, selectActivity+` WHERE item_id = ? ORDER BY created_at, seq`, int64(itemID))
}

// ListActivityByActor returns the journal entries submitted by actor, oldest first
func (r *Repository) ListActivityByActor(ctx context.Context, actor string) ([]*artisan.Activity, error) {
	return r.list(ctx, selectActivity+` WHERE actor_key = ? ORDER BY created_at, seq`, strings.ToLower(actor))
}

func (r *Repository) list(ctx context.Context, query string, arg interface{}) ([]*artisan.Activity, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	defer rows.Close()

	activities := []*artisan.Activity{}
	for rows.Next() {
		var (
			a         artisan.Activity
			id        string
			kind      string
			state     string
			itemID    int64
			createdAt int64
		)
		if err := rows.Scan(&id, &kind, &itemID, &a.Hash, &a.Actor, &state, &a.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing activity id: %w", err)
		}
		a.Kind = artisan.OperationKind(kind)
		a.State = artisan.TxState(state)
		a.ItemID = uint64(itemID)
		a.CreatedAt = time.Unix(0, createdAt).UTC()
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}
