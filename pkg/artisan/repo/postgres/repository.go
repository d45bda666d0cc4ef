package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

//go:embed schema.sql
var schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements artisan.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// EnsureSchema creates the activity table and indexes if missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: activity already recorded", artisan.ErrInvalidArgument)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: required field %s is missing", artisan.ErrInvalidArgument, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

// RecordActivity appends an activity to the journal
func (r *Repository) RecordActivity(ctx context.Context, activity *artisan.Activity) error {
	if activity.ID == uuid.Nil {
		return fmt.Errorf("%w: activity id is required", artisan.ErrInvalidArgument)
	}

	query := `
		INSERT INTO activity (
			id, kind, item_id, hash, actor, actor_key, state, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		activity.ID, string(activity.Kind), int64(activity.ItemID), activity.Hash,
		activity.Actor, strings.ToLower(activity.Actor), string(activity.State),
		activity.Reason, activity.CreatedAt)
	if err != nil {
		return r.handlePostgresError("record activity", err)
	}
	return nil
}

const selectActivity = `
	SELECT id, kind, item_id, hash, actor, state, reason, created_at
	FROM activity`

// ListActivityByItem returns the journal entries of an item, oldest first
func (r *Repository) ListActivityByItem(ctx context.Context, itemID uint64) ([]*artisan.Activity, error) {
	rows, err := r.db.Query(ctx, selectActivity+` WHERE item_id = $1 ORDER BY created_at, seq`, int64(itemID))
	if err != nil {
		return nil, r.handlePostgresError("list activity by item", err)
	}
	return scanActivities(rows)
}

// ListActivityByActor returns the journal entries submitted by actor, oldest first
func (r *Repository) ListActivityByActor(ctx context.Context, actor string) ([]*artisan.Activity, error) {
	rows, err := r.db.Query(ctx, selectActivity+` WHERE actor_key = $1 ORDER BY created_at, seq`, strings.ToLower(actor))
	if err != nil {
		return nil, r.handlePostgresError("list activity by actor", err)
	}
	return scanActivities(rows)
}

func scanActivities(rows pgx.Rows) ([]*artisan.Activity, error) {
	defer rows.Close()

	var activities []*artisan.Activity
	for rows.Next() {
		var (
			a      artisan.Activity
			kind   string
			state  string
			itemID int64
		)
		if err := rows.Scan(&a.ID, &kind, &itemID, &a.Hash, &a.Actor, &state, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Kind = artisan.OperationKind(kind)
		a.State = artisan.TxState(state)
		a.ItemID = uint64(itemID)
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}
