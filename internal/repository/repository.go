// Package repository provides the generic, soft-delete-aware CRUD surface
// over one entity type. Repositories never own a connection: every statement
// runs on the session of the unit of work that created them, and every write
// is queued there so the commit hook sees all pending mutations before the
// flush applies them.
package repository

import (
	"context"
	"fmt"
	"strings"

	"fintrack/internal/entity"
	"fintrack/internal/uow"
)

// Record constrains a repository to pointer types implementing the entity
// contract. Concrete entities embed entity.Entity and add TableName and
// Validate.
type Record[T any] interface {
	*T
	entity.Record
}

// Repository is the type-safe CRUD and query surface for one entity
// collection. Obtain instances through For; repositories from the same unit
// of work share its transaction.
type Repository[T any, PT Record[T]] struct {
	u    *uow.UnitOfWork
	meta *entity.Meta
}

// For returns the repository for T bound to u, creating it on first request
// and caching it thereafter.
func For[T any, PT Record[T]](u *uow.UnitOfWork) *Repository[T, PT] {
	var probe T
	meta := entity.MetaOf(PT(&probe))
	r := u.CachedRepository(meta.Table, func() any {
		return &Repository[T, PT]{u: u, meta: meta}
	})
	return r.(*Repository[T, PT])
}

// Table returns the backing table name.
func (r *Repository[T, PT]) Table() string { return r.meta.Table }

// SaveChanges flushes the unit of work's pending operations and returns the
// affected row count. Inside an explicit transaction it does not commit the
// outer transaction.
func (r *Repository[T, PT]) SaveChanges(ctx context.Context) (int64, error) {
	return r.u.SaveChanges(ctx)
}

// track records the entity's current state as its as-read original so a
// later update can diff against it.
func (r *Repository[T, PT]) track(e PT) {
	r.u.TrackOriginal(r.meta.Table, e.GetID().String(), r.meta.Snapshot(e))
}

// expandPlaceholders rewrites ? placeholders into $n, numbering from start.
func expandPlaceholders(expr string, start int) string {
	var b strings.Builder
	n := start
	for _, ch := range expr {
		if ch == '?' {
			fmt.Fprintf(&b, "$%d", n)
			n++
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}
