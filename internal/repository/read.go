package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fintrack/internal/platform/database"
	"fintrack/pkg/platform/sentinel"
)

// Query narrows and shapes a read. Where is a SQL predicate over the entity's
// columns with ? placeholders; it composes with the mandatory soft-delete
// filter, it never replaces it.
type Query struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
}

// GetAll returns every live (non-soft-deleted) entity. With track set, the
// as-read state is recorded on the unit of work so later updates can be
// diffed; without it, results are detached read-only snapshots.
func (r *Repository[T, PT]) GetAll(ctx context.Context, track bool) ([]PT, error) {
	return r.GetWhere(ctx, Query{}, track)
}

// GetWhere returns the live entities matching q. The soft-delete filter is
// applied unconditionally; a soft-deleted row can never leak into the result
// no matter what predicate the caller supplies.
func (r *Repository[T, PT]) GetWhere(ctx context.Context, q Query, track bool) ([]PT, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE NOT is_deleted",
		strings.Join(r.meta.Columns(), ", "), r.meta.Table)
	if q.Where != "" {
		fmt.Fprintf(&b, " AND (%s)", expandPlaceholders(q.Where, 1))
	}
	orderBy := q.OrderBy
	if orderBy == "" {
		orderBy = "created_at"
	}
	fmt.Fprintf(&b, " ORDER BY %s", orderBy)
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", q.Offset)
	}

	rows, err := r.u.Querier(ctx).QueryContext(ctx, b.String(), q.Args...)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("query %s: %w", r.meta.Table, err))
	}
	defer rows.Close()

	var out []PT
	for rows.Next() {
		e := PT(new(T))
		if err := rows.Scan(r.meta.Pointers(e)...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.meta.Table, err)
		}
		if track {
			r.track(e)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Classify(fmt.Errorf("iterate %s: %w", r.meta.Table, err))
	}
	return out, nil
}

// GetByID returns the live entity with the given id. A missing or
// soft-deleted row yields sentinel.ErrNotFound — absence, not a failure.
func (r *Repository[T, PT]) GetByID(ctx context.Context, id uuid.UUID, track bool) (PT, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 AND NOT is_deleted",
		strings.Join(r.meta.Columns(), ", "), r.meta.Table)

	e := PT(new(T))
	err := r.u.Querier(ctx).QueryRowContext(ctx, query, id).Scan(r.meta.Pointers(e)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", r.meta.Table, id, sentinel.ErrNotFound)
		}
		return nil, database.Classify(fmt.Errorf("get %s by id: %w", r.meta.Table, err))
	}
	if track {
		r.track(e)
	}
	return e, nil
}

// loadSnapshot reads the persisted state of one row for before/after
// diffing. Live-only loads refuse soft-deleted rows; restore and hard-delete
// paths load any row.
func (r *Repository[T, PT]) loadSnapshot(ctx context.Context, id uuid.UUID, liveOnly bool) (map[string]any, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1",
		strings.Join(r.meta.Columns(), ", "), r.meta.Table)
	if liveOnly {
		query += " AND NOT is_deleted"
	}

	e := PT(new(T))
	err := r.u.Querier(ctx).QueryRowContext(ctx, query, id).Scan(r.meta.Pointers(e)...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s %s: %w", r.meta.Table, id, sentinel.ErrNotFound)
		}
		return nil, database.Classify(fmt.Errorf("load %s snapshot: %w", r.meta.Table, err))
	}
	return r.meta.Snapshot(e), nil
}

// resolveWriteMiss classifies a guarded write that matched zero rows: the row
// is either gone (NotFound) or present with a different version or deletion
// state (Conflict — re-fetch and retry).
func (r *Repository[T, PT]) resolveWriteMiss(ctx context.Context, id uuid.UUID) error {
	var deleted bool
	query := fmt.Sprintf("SELECT is_deleted FROM %s WHERE id = $1", r.meta.Table)
	err := r.u.Querier(ctx).QueryRowContext(ctx, query, id).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", r.meta.Table, id, sentinel.ErrNotFound)
	}
	if err != nil {
		return database.Classify(fmt.Errorf("resolve write miss on %s: %w", r.meta.Table, err))
	}
	return fmt.Errorf("%s %s: stale row version: %w", r.meta.Table, id, sentinel.ErrConflict)
}
