// Package uow implements the unit of work: the transactional boundary of the
// persistence core. A unit of work hands out repositories bound to its
// session, queues their pending writes, and on save runs the commit hook and
// flushes everything atomically.
//
// A UnitOfWork serves exactly one logical operation at a time; it is not safe
// for concurrent use.
package uow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fintrack/internal/platform/database"
	"fintrack/internal/platform/metrics"
	"fintrack/pkg/platform/sentinel"
	txctx "fintrack/pkg/platform/tx"
)

var tracer = otel.Tracer("fintrack/persistence")

// UnitOfWork coordinates repositories sharing one database session. Pending
// writes accumulate until SaveChanges or Commit flushes them; the underlying
// connection belongs exclusively to this unit of work.
type UnitOfWork struct {
	db      *sql.DB
	tx      *sql.Tx
	hook    CommitHook
	changes []*Change

	repos     map[string]any
	originals map[string]map[string]any

	allowHard bool
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
	closed    bool
}

// Option configures a UnitOfWork at construction time.
type Option func(*UnitOfWork)

// WithCommitHook installs the pre-commit callback run inside every flushing
// transaction. The audit interceptor is wired through this.
func WithCommitHook(h CommitHook) Option {
	return func(u *UnitOfWork) { u.hook = h }
}

// WithHardDeletes permits physical deletes on repositories obtained from this
// unit of work. Hard deletes are an administrative escape hatch; domain flows
// use soft deletes and never set this.
func WithHardDeletes() Option {
	return func(u *UnitOfWork) { u.allowHard = true }
}

// WithLogger attaches a structured logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(u *UnitOfWork) { u.log = log }
}

// WithMetrics attaches persistence metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(u *UnitOfWork) { u.metrics = m }
}

// New builds a unit of work over db.
func New(db *sql.DB, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		db:        db,
		repos:     map[string]any{},
		originals: map[string]map[string]any{},
		log:       logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Querier returns the statement executor repositories must use for reads:
// the open transaction when one exists (explicit Begin or a transaction
// carried by ctx), otherwise the shared pool.
func (u *UnitOfWork) Querier(ctx context.Context) txctx.Querier {
	if u.tx != nil {
		return u.tx
	}
	return txctx.Resolve(ctx, u.db)
}

// AllowsHardDeletes reports whether physical deletes were enabled.
func (u *UnitOfWork) AllowsHardDeletes() bool { return u.allowHard }

// CachedRepository returns the repository cached under key, building it on
// first request. Repositories obtained from the same unit of work share its
// transaction.
func (u *UnitOfWork) CachedRepository(key string, build func() any) any {
	if r, ok := u.repos[key]; ok {
		return r
	}
	r := build()
	u.repos[key] = r
	return r
}

// Enqueue appends a pending change. Changes flush in the order queued.
func (u *UnitOfWork) Enqueue(c *Change) {
	u.changes = append(u.changes, c)
}

// Pending returns the number of queued, not yet flushed changes.
func (u *UnitOfWork) Pending() int { return len(u.changes) }

// TrackOriginal records the as-read snapshot of a tracked entity so a later
// update can compute its field-level diff without a re-read.
func (u *UnitOfWork) TrackOriginal(table, id string, snap map[string]any) {
	u.originals[table+"/"+id] = snap
}

// OriginalFor returns the tracked as-read snapshot, if any.
func (u *UnitOfWork) OriginalFor(table, id string) (map[string]any, bool) {
	snap, ok := u.originals[table+"/"+id]
	return snap, ok
}

// Begin opens an explicit transaction for a multi-step operation spanning
// several repositories. Calling Begin while a transaction is already open is
// a programming error and fails fast.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.closed {
		return errors.Join(sentinel.ErrTransactionFailure, errors.New("unit of work is closed"))
	}
	if u.tx != nil {
		return errors.Join(sentinel.ErrTransactionFailure, errors.New("transaction already open"))
	}
	txn, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return database.Classify(fmt.Errorf("begin transaction: %w", err))
	}
	u.tx = txn
	return nil
}

// Commit flushes any remaining pending changes and commits the explicit
// transaction. It fails if Begin was not called.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return errors.Join(sentinel.ErrTransactionFailure, errors.New("no open transaction"))
	}
	if _, err := u.flush(ctx, u.tx); err != nil {
		u.rollbackOpen()
		return err
	}
	if err := u.tx.Commit(); err != nil {
		u.tx = nil
		u.countRollback()
		return database.Classify(errors.Join(sentinel.ErrTransactionFailure, fmt.Errorf("commit transaction: %w", err)))
	}
	u.tx = nil
	u.countCommit()
	return nil
}

// Rollback aborts the explicit transaction and discards all pending changes
// and tracked state.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return errors.Join(sentinel.ErrTransactionFailure, errors.New("no open transaction"))
	}
	err := u.tx.Rollback()
	u.tx = nil
	u.changes = nil
	u.originals = map[string]map[string]any{}
	u.countRollback()
	if err != nil {
		return database.Classify(fmt.Errorf("rollback transaction: %w", err))
	}
	return nil
}

// SaveChanges flushes the pending changes and returns the affected row
// count. Inside an explicit transaction it flushes without committing; the
// transaction stays open for the caller. Without one, the call is atomic on
// its own: an internal transaction wraps the flush and commits it.
func (u *UnitOfWork) SaveChanges(ctx context.Context) (int64, error) {
	if u.closed {
		return 0, errors.Join(sentinel.ErrTransactionFailure, errors.New("unit of work is closed"))
	}
	if len(u.changes) == 0 {
		return 0, nil
	}

	if u.tx != nil {
		n, err := u.flush(ctx, u.tx)
		if err != nil {
			// The transaction is poisoned; abort it so no partial state can
			// be committed by a later call.
			u.rollbackOpen()
			return 0, err
		}
		return n, nil
	}

	txn, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, database.Classify(fmt.Errorf("begin transaction: %w", err))
	}
	n, err := u.flush(ctx, txn)
	if err != nil {
		_ = txn.Rollback()
		u.countRollback()
		return 0, err
	}
	if err := txn.Commit(); err != nil {
		u.countRollback()
		return 0, database.Classify(errors.Join(sentinel.ErrTransactionFailure, fmt.Errorf("commit: %w", err)))
	}
	u.countCommit()
	return n, nil
}

// SaveEntities is a convenience wrapper for flows that only care whether
// anything went wrong. The underlying error is logged, not returned.
func (u *UnitOfWork) SaveEntities(ctx context.Context) bool {
	if _, err := u.SaveChanges(ctx); err != nil {
		u.log.WithError(err).Error("save entities failed")
		return false
	}
	return true
}

// Close releases the session. A transaction left open without an explicit
// commit rolls back: no partial, unacknowledged writes survive disposal.
func (u *UnitOfWork) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	u.changes = nil
	if u.tx != nil {
		err := u.tx.Rollback()
		u.tx = nil
		u.countRollback()
		if err != nil {
			return database.Classify(fmt.Errorf("rollback on close: %w", err))
		}
	}
	return nil
}

// flush runs the commit protocol inside txn: prepare every change, run the
// commit hook over the full change set, then apply every change in queue
// order. Any failure leaves txn for the caller to roll back; on success the
// queue is cleared.
func (u *UnitOfWork) flush(ctx context.Context, txn *sql.Tx) (affected int64, err error) {
	ctx, span := tracer.Start(ctx, "uow.flush")
	span.SetAttributes(attribute.Int("persistence.changes", len(u.changes)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "flush failed")
		}
		span.End()
	}()

	start := time.Now()
	ctx = txctx.WithTx(ctx, txn)

	for _, c := range u.changes {
		if c.Prepare != nil {
			if err = c.Prepare(ctx); err != nil {
				return 0, err
			}
		}
	}

	if u.hook != nil {
		if err = u.hook(ctx, u.changes); err != nil {
			return 0, errors.Join(sentinel.ErrTransactionFailure, fmt.Errorf("commit hook: %w", err))
		}
	}

	mutations := 0
	for _, c := range u.changes {
		mutations += len(c.Mutations)
		var n int64
		n, err = c.Apply(ctx)
		if err != nil {
			if errors.Is(err, sentinel.ErrConflict) && u.metrics != nil {
				u.metrics.Conflicts.Inc()
			}
			return 0, err
		}
		affected += n
	}

	u.changes = nil
	if u.metrics != nil {
		u.metrics.FlushDuration.Observe(time.Since(start).Seconds())
		if u.hook != nil {
			u.metrics.AuditEntries.Add(float64(mutations))
		}
	}
	return affected, nil
}

// rollbackOpen aborts the explicit transaction after a failed flush.
func (u *UnitOfWork) rollbackOpen() {
	if u.tx == nil {
		return
	}
	if err := u.tx.Rollback(); err != nil {
		u.log.WithError(err).Warn("rollback after failed flush")
	}
	u.tx = nil
	u.changes = nil
	u.countRollback()
}

func (u *UnitOfWork) countCommit() {
	if u.metrics != nil {
		u.metrics.Commits.Inc()
	}
}

func (u *UnitOfWork) countRollback() {
	if u.metrics != nil {
		u.metrics.Rollbacks.Inc()
	}
}
