package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"fintrack/internal/entity"
	"fintrack/internal/platform/database"
	"fintrack/internal/uow"
	"fintrack/pkg/platform/sentinel"
	"fintrack/pkg/requestcontext"
)

// Add assigns identity and creation stamps (when unset) and queues an
// insert. The entity carries its post-commit state immediately: id populated,
// rowVersion 1.
func (r *Repository[T, PT]) Add(ctx context.Context, e PT) error {
	if err := e.Validate(); err != nil {
		return errors.Join(sentinel.ErrValidation, err)
	}
	actor := requestcontext.ActorFrom(ctx)
	if e.GetID() == uuid.Nil {
		e.SetID(uuid.New())
	}
	e.SetCreated(actor.UserID, requestcontext.Now(ctx))
	if e.GetRowVersion() == 0 {
		e.SetRowVersion(1)
	}

	mut := &uow.Mutation{PrimaryKey: e.GetID().String()}
	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionInsert,
		Mutations: []*uow.Mutation{mut},
		Prepare: func(ctx context.Context) error {
			cols := r.meta.AuditColumns()
			mut.NewValues = entity.Project(r.meta.Snapshot(e), cols)
			mut.AffectedColumns = cols
			return nil
		},
		Apply: func(ctx context.Context) (int64, error) {
			n, err := r.execInsert(ctx, []PT{e})
			if err == nil {
				r.track(e)
			}
			return n, err
		},
	})
	return nil
}

// AddRange queues an insert per entity. Atomicity comes from the enclosing
// flush: either all inserts commit or none do.
func (r *Repository[T, PT]) AddRange(ctx context.Context, es []PT) error {
	for _, e := range es {
		if err := r.Add(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Update queues a guarded update. The entity's rowVersion must match the
// persisted value at flush time; on mismatch the flush fails with
// sentinel.ErrConflict and the caller must re-fetch and retry.
func (r *Repository[T, PT]) Update(ctx context.Context, e PT) error {
	if err := e.Validate(); err != nil {
		return errors.Join(sentinel.ErrValidation, err)
	}
	if e.GetID() == uuid.Nil {
		return errors.Join(sentinel.ErrValidation, fmt.Errorf("update %s: missing id", r.meta.Table))
	}

	mut := &uow.Mutation{PrimaryKey: e.GetID().String()}
	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionUpdate,
		Mutations: []*uow.Mutation{mut},
		Prepare:   r.prepareDiff(e, mut, true, true),
		Apply: func(ctx context.Context) (int64, error) {
			return r.execGuardedUpdate(ctx, e)
		},
	})
	return nil
}

// UpdateRange queues a guarded update per entity.
func (r *Repository[T, PT]) UpdateRange(ctx context.Context, es []PT) error {
	for _, e := range es {
		if err := r.Update(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// SoftDelete marks the entity deleted and queues the guarded update. The
// physical row stays in place; its identifier is never freed for reuse.
func (r *Repository[T, PT]) SoftDelete(ctx context.Context, e PT) error {
	if e.GetID() == uuid.Nil {
		return errors.Join(sentinel.ErrValidation, fmt.Errorf("soft delete %s: missing id", r.meta.Table))
	}
	actor := requestcontext.ActorFrom(ctx)
	if err := e.MarkDeleted(actor.UserID, actor.IPAddress, requestcontext.Now(ctx)); err != nil {
		return errors.Join(sentinel.ErrValidation, err)
	}

	mut := &uow.Mutation{PrimaryKey: e.GetID().String()}
	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionSoftDelete,
		Mutations: []*uow.Mutation{mut},
		Prepare:   r.prepareDiff(e, mut, true, false),
		Apply: func(ctx context.Context) (int64, error) {
			return r.execGuardedUpdate(ctx, e)
		},
	})
	return nil
}

// SoftDeleteRange queues a soft delete per entity.
func (r *Repository[T, PT]) SoftDeleteRange(ctx context.Context, es []PT) error {
	for _, e := range es {
		if err := r.SoftDelete(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Restore clears the soft-delete markers on a previously soft-deleted entity
// and queues the guarded update. Audited as an update.
func (r *Repository[T, PT]) Restore(ctx context.Context, e PT) error {
	if e.GetID() == uuid.Nil {
		return errors.Join(sentinel.ErrValidation, fmt.Errorf("restore %s: missing id", r.meta.Table))
	}
	if err := e.Restore(); err != nil {
		return errors.Join(sentinel.ErrValidation, err)
	}

	mut := &uow.Mutation{PrimaryKey: e.GetID().String()}
	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionUpdate,
		Mutations: []*uow.Mutation{mut},
		Prepare:   r.prepareDiff(e, mut, false, true),
		Apply: func(ctx context.Context) (int64, error) {
			return r.execGuardedUpdate(ctx, e)
		},
	})
	return nil
}

// Remove queues a physical delete. Hard deletes are an administrative escape
// hatch: the unit of work must have been built with WithHardDeletes, and the
// guarded DELETE still honors the rowVersion check.
func (r *Repository[T, PT]) Remove(ctx context.Context, e PT) error {
	if !r.u.AllowsHardDeletes() {
		return fmt.Errorf("remove %s: hard deletes not enabled on this unit of work", r.meta.Table)
	}
	if e.GetID() == uuid.Nil {
		return errors.Join(sentinel.ErrValidation, fmt.Errorf("remove %s: missing id", r.meta.Table))
	}

	mut := &uow.Mutation{PrimaryKey: e.GetID().String()}
	r.u.Enqueue(&uow.Change{
		Table:     r.meta.Table,
		Action:    uow.ActionDelete,
		Mutations: []*uow.Mutation{mut},
		Prepare: func(ctx context.Context) error {
			old, ok := r.u.OriginalFor(r.meta.Table, e.GetID().String())
			if !ok {
				var err error
				if old, err = r.loadSnapshot(ctx, e.GetID(), false); err != nil {
					return err
				}
			}
			mut.OldValues = entity.Project(old, r.meta.AuditColumns())
			return nil
		},
		Apply: func(ctx context.Context) (int64, error) {
			query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND row_version = $2", r.meta.Table)
			res, err := r.u.Querier(ctx).ExecContext(ctx, query, e.GetID(), e.GetRowVersion())
			if err != nil {
				return 0, database.Classify(fmt.Errorf("delete %s: %w", r.meta.Table, err))
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, fmt.Errorf("delete %s rows affected: %w", r.meta.Table, err)
			}
			if n == 0 {
				return 0, r.resolveWriteMiss(ctx, e.GetID())
			}
			return n, nil
		},
	})
	return nil
}

// RemoveRange queues a physical delete per entity.
func (r *Repository[T, PT]) RemoveRange(ctx context.Context, es []PT) error {
	for _, e := range es {
		if err := r.Remove(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// prepareDiff builds the Prepare step shared by update-shaped writes:
// recover the persisted before-state (tracked snapshot or in-transaction
// read) and fill the mutation's field-level diff. stamp controls the
// modification stamp; soft deletes carry deletion stamps instead, and the
// deletion time must not precede the last modification.
func (r *Repository[T, PT]) prepareDiff(e PT, mut *uow.Mutation, liveOnly, stamp bool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if stamp {
			actor := requestcontext.ActorFrom(ctx)
			e.SetModified(actor.UserID, actor.IPAddress, requestcontext.Now(ctx))
		}

		old, ok := r.u.OriginalFor(r.meta.Table, e.GetID().String())
		if !ok {
			var err error
			if old, err = r.loadSnapshot(ctx, e.GetID(), liveOnly); err != nil {
				return err
			}
		}
		snap := r.meta.Snapshot(e)
		changed := r.meta.Diff(old, snap)
		mut.AffectedColumns = changed
		mut.OldValues = entity.Project(old, changed)
		mut.NewValues = entity.Project(snap, changed)
		return nil
	}
}

// execInsert writes one or more entities with a single multi-row INSERT.
func (r *Repository[T, PT]) execInsert(ctx context.Context, es []PT) (int64, error) {
	cols := r.meta.Columns()
	groups := make([]string, len(es))
	args := make([]any, 0, len(es)*len(cols))
	for i, e := range es {
		ph := make([]string, len(cols))
		for j := range cols {
			ph[j] = fmt.Sprintf("$%d", i*len(cols)+j+1)
		}
		groups[i] = "(" + strings.Join(ph, ", ") + ")"
		args = append(args, r.meta.Args(e, cols)...)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		r.meta.Table, strings.Join(cols, ", "), strings.Join(groups, ", "))

	res, err := r.u.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, database.Classify(fmt.Errorf("insert %s: %w", r.meta.Table, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("insert %s rows affected: %w", r.meta.Table, err)
	}
	return n, nil
}

// execGuardedUpdate writes every mutable column with the optimistic
// concurrency guard. On success the in-memory entity advances to the new
// row version and becomes its own tracked original.
func (r *Repository[T, PT]) execGuardedUpdate(ctx context.Context, e PT) (int64, error) {
	expected := e.GetRowVersion()
	cols := r.meta.MutableColumns()
	args := r.meta.Args(e, cols)

	sets := make([]string, len(cols))
	for i, c := range cols {
		if c == "row_version" {
			args[i] = expected + 1
		}
		sets[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	args = append(args, e.GetID(), expected)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d AND row_version = $%d",
		r.meta.Table, strings.Join(sets, ", "), len(cols)+1, len(cols)+2)

	res, err := r.u.Querier(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, database.Classify(fmt.Errorf("update %s: %w", r.meta.Table, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("update %s rows affected: %w", r.meta.Table, err)
	}
	if n == 0 {
		return 0, r.resolveWriteMiss(ctx, e.GetID())
	}
	e.SetRowVersion(expected + 1)
	r.track(e)
	return n, nil
}
