package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fintrack/internal/entity"
	"fintrack/internal/platform/database"
	"fintrack/internal/uow"
	"fintrack/pkg/platform/sentinel"
	"fintrack/pkg/requestcontext"
)

// BulkInsert queues one batch insert for the whole slice: a single multi-row
// INSERT at flush time, one audit mutation per entity. Like every queued
// change it is all-or-nothing with respect to the enclosing transaction.
func (r *Repository[T, PT]) BulkInsert(ctx context.Context, es []PT) error {
	if len(es) == 0 {
		return nil
	}
	actor := requestcontext.ActorFrom(ctx)
	now := requestcontext.Now(ctx)

	muts := make([]*uow.Mutation, len(es))
	for i, e := range es {
		if err := e.Validate(); err != nil {
			return errors.Join(sentinel.ErrValidation, err)
		}
		if e.GetID() == uuid.Nil {
			e.SetID(uuid.New())
		}
		e.SetCreated(actor.UserID, now)
		if e.GetRowVersion() == 0 {
			e.SetRowVersion(1)
		}
		muts[i] = &uow.Mutation{PrimaryKey: e.GetID().String()}
	}

	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionInsert,
		Mutations: muts,
		Prepare: func(ctx context.Context) error {
			cols := r.meta.AuditColumns()
			for i, e := range es {
				muts[i].NewValues = entity.Project(r.meta.Snapshot(e), cols)
				muts[i].AffectedColumns = cols
			}
			return nil
		},
		Apply: func(ctx context.Context) (int64, error) {
			n, err := r.execInsert(ctx, es)
			if err == nil {
				for _, e := range es {
					r.track(e)
				}
			}
			return n, err
		},
	})
	return nil
}

// BulkUpdate queues one batch change applying a guarded update per entity at
// flush time. A single stale row fails the whole flush; no subset is ever
// observable.
func (r *Repository[T, PT]) BulkUpdate(ctx context.Context, es []PT) error {
	if len(es) == 0 {
		return nil
	}
	muts := make([]*uow.Mutation, len(es))
	prepares := make([]func(context.Context) error, len(es))
	for i, e := range es {
		if err := e.Validate(); err != nil {
			return errors.Join(sentinel.ErrValidation, err)
		}
		if e.GetID() == uuid.Nil {
			return errors.Join(sentinel.ErrValidation, fmt.Errorf("bulk update %s: missing id", r.meta.Table))
		}
		muts[i] = &uow.Mutation{PrimaryKey: e.GetID().String()}
		prepares[i] = r.prepareDiff(e, muts[i], true, true)
	}

	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionUpdate,
		Mutations: muts,
		Prepare: func(ctx context.Context) error {
			for _, prepare := range prepares {
				if err := prepare(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		Apply: func(ctx context.Context) (int64, error) {
			var total int64
			for _, e := range es {
				n, err := r.execGuardedUpdate(ctx, e)
				if err != nil {
					return 0, err
				}
				total += n
			}
			return total, nil
		},
	})
	return nil
}

// BulkSoftDelete queues one batch soft delete: a single guarded UPDATE over
// all ids, with per-row version expectations carried as parallel arrays. A
// partial match is a conflict and fails the whole flush.
func (r *Repository[T, PT]) BulkSoftDelete(ctx context.Context, es []PT) error {
	if len(es) == 0 {
		return nil
	}
	actor := requestcontext.ActorFrom(ctx)
	now := requestcontext.Now(ctx)

	muts := make([]*uow.Mutation, len(es))
	expected := make([]int64, len(es))
	for i, e := range es {
		if e.GetID() == uuid.Nil {
			return errors.Join(sentinel.ErrValidation, fmt.Errorf("bulk soft delete %s: missing id", r.meta.Table))
		}
		expected[i] = e.GetRowVersion()
		if err := e.MarkDeleted(actor.UserID, actor.IPAddress, now); err != nil {
			return errors.Join(sentinel.ErrValidation, err)
		}
		muts[i] = &uow.Mutation{PrimaryKey: e.GetID().String()}
	}

	prepares := make([]func(context.Context) error, len(es))
	for i, e := range es {
		prepares[i] = r.prepareDiff(e, muts[i], true, false)
	}

	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionSoftDelete,
		Mutations: muts,
		Prepare: func(ctx context.Context) error {
			for _, prepare := range prepares {
				if err := prepare(ctx); err != nil {
					return err
				}
			}
			return nil
		},
		Apply: func(ctx context.Context) (int64, error) {
			query := fmt.Sprintf(`
				UPDATE %[1]s SET
					is_deleted = TRUE,
					deleted_at = $1,
					deleted_by = $2,
					deleted_by_ip = $3,
					row_version = %[1]s.row_version + 1
				FROM unnest($4::uuid[], $5::bigint[]) AS want(id, row_version)
				WHERE %[1]s.id = want.id
				  AND %[1]s.row_version = want.row_version
				  AND NOT %[1]s.is_deleted
			`, r.meta.Table)

			res, err := r.u.Querier(ctx).ExecContext(ctx, query,
				now, nullable(actor.UserID), nullable(actor.IPAddress), ids(es), expected)
			if err != nil {
				return 0, database.Classify(fmt.Errorf("bulk soft delete %s: %w", r.meta.Table, err))
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, fmt.Errorf("bulk soft delete %s rows affected: %w", r.meta.Table, err)
			}
			if n != int64(len(es)) {
				return 0, fmt.Errorf("bulk soft delete %s: %d of %d rows matched: %w",
					r.meta.Table, n, len(es), sentinel.ErrConflict)
			}
			for i, e := range es {
				e.SetRowVersion(expected[i] + 1)
				r.track(e)
			}
			return n, nil
		},
	})
	return nil
}

// BulkDelete queues one batch physical delete with per-row version
// expectations. Hard deletes must be enabled on the unit of work.
func (r *Repository[T, PT]) BulkDelete(ctx context.Context, es []PT) error {
	if !r.u.AllowsHardDeletes() {
		return fmt.Errorf("bulk delete %s: hard deletes not enabled on this unit of work", r.meta.Table)
	}
	if len(es) == 0 {
		return nil
	}

	muts := make([]*uow.Mutation, len(es))
	expected := make([]int64, len(es))
	for i, e := range es {
		if e.GetID() == uuid.Nil {
			return errors.Join(sentinel.ErrValidation, fmt.Errorf("bulk delete %s: missing id", r.meta.Table))
		}
		expected[i] = e.GetRowVersion()
		muts[i] = &uow.Mutation{PrimaryKey: e.GetID().String()}
	}

	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionDelete,
		Mutations: muts,
		Prepare: func(ctx context.Context) error {
			cols := r.meta.AuditColumns()
			for i, e := range es {
				old, ok := r.u.OriginalFor(r.meta.Table, e.GetID().String())
				if !ok {
					var err error
					if old, err = r.loadSnapshot(ctx, e.GetID(), false); err != nil {
						return err
					}
				}
				muts[i].OldValues = entity.Project(old, cols)
			}
			return nil
		},
		Apply: func(ctx context.Context) (int64, error) {
			query := fmt.Sprintf(`
				DELETE FROM %[1]s
				USING unnest($1::uuid[], $2::bigint[]) AS want(id, row_version)
				WHERE %[1]s.id = want.id
				  AND %[1]s.row_version = want.row_version
			`, r.meta.Table)

			res, err := r.u.Querier(ctx).ExecContext(ctx, query, ids(es), expected)
			if err != nil {
				return 0, database.Classify(fmt.Errorf("bulk delete %s: %w", r.meta.Table, err))
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, fmt.Errorf("bulk delete %s rows affected: %w", r.meta.Table, err)
			}
			if n != int64(len(es)) {
				return 0, fmt.Errorf("bulk delete %s: %d of %d rows matched: %w",
					r.meta.Table, n, len(es), sentinel.ErrConflict)
			}
			return n, nil
		},
	})
	return nil
}

func ids[T any, PT Record[T]](es []PT) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.GetID().String()
	}
	return out
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
