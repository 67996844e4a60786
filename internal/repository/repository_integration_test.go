//go:build integration

package repository_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"fintrack/internal/audit"
	"fintrack/internal/domain"
	"fintrack/internal/repository"
	"fintrack/internal/uow"
	"fintrack/pkg/platform/sentinel"
	"fintrack/pkg/requestcontext"
	"fintrack/pkg/testutil/containers"
)

type RepositorySuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	db       *sql.DB
	store    *audit.Store
	ctx      context.Context
	now      time.Time
}

func TestRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.db = s.postgres.DB
	s.store = audit.NewStore(s.db)
}

func (s *RepositorySuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"persons", "categories", "currencies", "transactions", "messages",
		"audit_log", "audit_outbox")
	s.Require().NoError(err)

	s.now = time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithActor(context.Background(), requestcontext.Actor{
		UserID:        "u-1",
		UserName:      "Alice",
		IPAddress:     "10.0.0.1",
		UserAgent:     "go-test",
		RequestURL:    "/api/test",
		RequestMethod: "POST",
	})
	s.ctx = requestcontext.WithTime(ctx, s.now)
}

// newUow builds a unit of work with the audit interceptor installed, the way
// the application wires it.
func (s *RepositorySuite) newUow(opts ...uow.Option) *uow.UnitOfWork {
	opts = append([]uow.Option{
		uow.WithCommitHook(audit.NewInterceptor(s.store).Hook()),
	}, opts...)
	return uow.New(s.db, opts...)
}

func (s *RepositorySuite) auditEntries(entityName string) []audit.Entry {
	entries, err := s.store.List(context.Background(), audit.Filter{EntityName: entityName})
	s.Require().NoError(err)
	return entries
}

// entryOf returns the single entry with the given action.
func (s *RepositorySuite) entryOf(entries []audit.Entry, action audit.ActionType) audit.Entry {
	var found []audit.Entry
	for _, e := range entries {
		if e.ActionType == action {
			found = append(found, e)
		}
	}
	s.Require().Len(found, 1, "expected exactly one %s entry", action)
	return found[0]
}

// jsonValue extracts one key from a JSON object, as JSON.
func jsonValue(t *testing.T, raw json.RawMessage, key string) string {
	t.Helper()
	var obj map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &obj))
	require.Contains(t, obj, key)
	return string(obj[key])
}

func newCategory(name string) *domain.Category {
	return &domain.Category{Name: name, Type: domain.CategoryExpense}
}

func (s *RepositorySuite) seedCategory(name string) uuid.UUID {
	u := s.newUow()
	defer u.Close()
	c := newCategory(name)
	s.Require().NoError(repository.For[domain.Category](u).Add(s.ctx, c))
	_, err := u.SaveChanges(s.ctx)
	s.Require().NoError(err)
	return c.GetID()
}

// TestAddAssignsIdentityAndAuditsCreation verifies a saved insert carries id,
// version 1, creation stamps, and exactly one Create audit entry with the new
// values and no old values.
func (s *RepositorySuite) TestAddAssignsIdentityAndAuditsCreation() {
	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Category](u)

	c := newCategory("Groceries")
	s.Require().NoError(repo.Add(s.ctx, c))
	s.NotEqual(uuid.Nil, c.GetID(), "identity is assigned at Add time")
	s.Equal(int64(1), c.GetRowVersion())
	s.Equal("u-1", c.GetCreatedBy())

	n, err := repo.SaveChanges(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	got, err := repo.GetByID(s.ctx, c.GetID(), false)
	s.Require().NoError(err)
	s.Equal("Groceries", got.Name)
	s.Equal(int64(1), got.GetRowVersion())

	entries := s.auditEntries("categories")
	s.Require().Len(entries, 1)
	s.Equal(audit.ActionCreate, entries[0].ActionType)
	s.Equal(c.GetID().String(), entries[0].PrimaryKey)
	s.Nil(entries[0].OldValues)
	s.JSONEq(`"Groceries"`, jsonValue(s.T(), entries[0].NewValues, "name"))
	s.Require().NotNil(entries[0].ActorUserID)
	s.Equal("u-1", *entries[0].ActorUserID)
}

// TestTrackedUpdateBumpsVersionAndDiffsFields verifies a tracked read-modify-
// write advances the row version by one and audits exactly the changed
// columns with their before and after values.
func (s *RepositorySuite) TestTrackedUpdateBumpsVersionAndDiffsFields() {
	id := s.seedCategory("Groceries")

	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Category](u)

	c, err := repo.GetByID(s.ctx, id, true)
	s.Require().NoError(err)
	c.Name = "Groceries & Household"
	s.Require().NoError(repo.Update(s.ctx, c))

	_, err = repo.SaveChanges(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), c.GetRowVersion())
	s.Require().NotNil(c.GetModifiedAt())

	entries := s.auditEntries("categories")
	s.Require().Len(entries, 2) // Create from seeding plus this Update
	update := s.entryOf(entries, audit.ActionUpdate)
	s.Equal([]string{"name"}, update.AffectedColumns)
	s.JSONEq(`{"name":"Groceries"}`, string(update.OldValues))
	s.JSONEq(`{"name":"Groceries & Household"}`, string(update.NewValues))
}

// TestStaleUpdateConflictsAndLeavesRowUntouched verifies the optimistic
// concurrency guard: the second writer with a stale version fails with
// ErrConflict and the row keeps the first writer's state.
func (s *RepositorySuite) TestStaleUpdateConflictsAndLeavesRowUntouched() {
	id := s.seedCategory("Groceries")

	u1 := s.newUow()
	defer u1.Close()
	first, err := repository.For[domain.Category](u1).GetByID(s.ctx, id, true)
	s.Require().NoError(err)

	u2 := s.newUow()
	defer u2.Close()
	second, err := repository.For[domain.Category](u2).GetByID(s.ctx, id, true)
	s.Require().NoError(err)

	first.Name = "Food"
	s.Require().NoError(repository.For[domain.Category](u1).Update(s.ctx, first))
	_, err = u1.SaveChanges(s.ctx)
	s.Require().NoError(err)

	second.Name = "Household"
	s.Require().NoError(repository.For[domain.Category](u2).Update(s.ctx, second))
	_, err = u2.SaveChanges(s.ctx)
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	u3 := s.newUow()
	defer u3.Close()
	got, err := repository.For[domain.Category](u3).GetByID(s.ctx, id, false)
	s.Require().NoError(err)
	s.Equal("Food", got.Name)
	s.Equal(int64(2), got.GetRowVersion())
}

// TestSoftDeleteHidesRowButKeepsIt verifies reads treat a soft-deleted row as
// absent while the physical row and its audit trail survive.
func (s *RepositorySuite) TestSoftDeleteHidesRowButKeepsIt() {
	id := s.seedCategory("Groceries")

	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Category](u)

	c, err := repo.GetByID(s.ctx, id, true)
	s.Require().NoError(err)
	s.Require().NoError(repo.SoftDelete(s.ctx, c))
	_, err = repo.SaveChanges(s.ctx)
	s.Require().NoError(err)

	_, err = repo.GetByID(s.ctx, id, false)
	s.ErrorIs(err, sentinel.ErrNotFound)

	all, err := repo.GetAll(s.ctx, false)
	s.Require().NoError(err)
	s.Empty(all)

	var physical int
	err = s.db.QueryRow("SELECT COUNT(*) FROM categories WHERE id = $1", id).Scan(&physical)
	s.Require().NoError(err)
	s.Equal(1, physical, "the row must stay in place")

	entries := s.auditEntries("categories")
	s.Require().Len(entries, 2)
	s.entryOf(entries, audit.ActionSoftDelete)
}

func (s *RepositorySuite) TestRestoreBringsRowBack() {
	id := s.seedCategory("Groceries")

	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Category](u)

	c, err := repo.GetByID(s.ctx, id, true)
	s.Require().NoError(err)
	s.Require().NoError(repo.SoftDelete(s.ctx, c))
	_, err = repo.SaveChanges(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(repo.Restore(s.ctx, c))
	_, err = repo.SaveChanges(s.ctx)
	s.Require().NoError(err)

	got, err := repo.GetByID(s.ctx, id, false)
	s.Require().NoError(err)
	s.Equal("Groceries", got.Name)
	s.Equal(int64(3), got.GetRowVersion())
}

// TestDoubleSoftDeleteConflicts verifies soft-deleting an already deleted
// row cannot slip through the guarded update.
func (s *RepositorySuite) TestDoubleSoftDeleteConflicts() {
	id := s.seedCategory("Groceries")

	u1 := s.newUow()
	defer u1.Close()
	c1, err := repository.For[domain.Category](u1).GetByID(s.ctx, id, true)
	s.Require().NoError(err)

	u2 := s.newUow()
	defer u2.Close()
	c2, err := repository.For[domain.Category](u2).GetByID(s.ctx, id, true)
	s.Require().NoError(err)

	s.Require().NoError(repository.For[domain.Category](u1).SoftDelete(s.ctx, c1))
	_, err = u1.SaveChanges(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(repository.For[domain.Category](u2).SoftDelete(s.ctx, c2))
	_, err = u2.SaveChanges(s.ctx)
	s.Require().ErrorIs(err, sentinel.ErrConflict)
}

// TestHookFailureRollsBackEverything verifies audit durability: if the audit
// sink fails, neither the entity change nor any audit entry survives.
func (s *RepositorySuite) TestHookFailureRollsBackEverything() {
	failing := uow.CommitHook(func(ctx context.Context, changes []*uow.Change) error {
		return errors.New("audit sink down")
	})
	u := uow.New(s.db, uow.WithCommitHook(failing))
	defer u.Close()
	repo := repository.For[domain.Category](u)

	c := newCategory("Groceries")
	s.Require().NoError(repo.Add(s.ctx, c))
	_, err := u.SaveChanges(s.ctx)
	s.Require().ErrorIs(err, sentinel.ErrTransactionFailure)

	var count int
	s.Require().NoError(s.db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&count))
	s.Zero(count, "entity write must not survive a failed hook")
	s.Require().NoError(s.db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count))
	s.Zero(count)
}

// TestExplicitTransactionSpansRepositories verifies Begin/Commit groups
// writes across repositories and Rollback discards flushed-but-uncommitted
// work.
func (s *RepositorySuite) TestExplicitTransactionSpansRepositories() {
	s.Run("commit makes all writes visible together", func() {
		u := s.newUow()
		defer u.Close()
		s.Require().NoError(u.Begin(s.ctx))

		p := &domain.Person{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
		s.Require().NoError(repository.For[domain.Person](u).Add(s.ctx, p))
		_, err := u.SaveChanges(s.ctx)
		s.Require().NoError(err)

		cat := newCategory("Salary")
		cat.Type = domain.CategoryIncome
		s.Require().NoError(repository.For[domain.Category](u).Add(s.ctx, cat))

		txn := &domain.Transaction{
			PersonID:     p.GetID(),
			CategoryID:   cat.GetID(),
			AmountMinor:  250_000,
			CurrencyCode: "EUR",
			OccurredAt:   s.now,
		}
		s.Require().NoError(repository.For[domain.Transaction](u).Add(s.ctx, txn))
		s.Require().NoError(u.Commit(s.ctx))

		check := s.newUow()
		defer check.Close()
		_, err = repository.For[domain.Transaction](check).GetByID(s.ctx, txn.GetID(), false)
		s.Require().NoError(err)
	})

	s.Run("rollback discards flushed writes", func() {
		u := s.newUow()
		defer u.Close()
		s.Require().NoError(u.Begin(s.ctx))

		p := &domain.Person{FirstName: "Grace", LastName: "Hopper", Email: "grace@example.com"}
		s.Require().NoError(repository.For[domain.Person](u).Add(s.ctx, p))
		_, err := u.SaveChanges(s.ctx)
		s.Require().NoError(err)
		s.Require().NoError(u.Rollback(s.ctx))

		check := s.newUow()
		defer check.Close()
		_, err = repository.For[domain.Person](check).GetByID(s.ctx, p.GetID(), false)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("nested begin fails fast", func() {
		u := s.newUow()
		defer u.Close()
		s.Require().NoError(u.Begin(s.ctx))
		s.ErrorIs(u.Begin(s.ctx), sentinel.ErrTransactionFailure)
	})
}

// TestCloseRollsBackOpenTransaction verifies disposal without commit leaves
// no partial writes behind.
func (s *RepositorySuite) TestCloseRollsBackOpenTransaction() {
	u := s.newUow()
	s.Require().NoError(u.Begin(s.ctx))

	c := newCategory("Orphaned")
	s.Require().NoError(repository.For[domain.Category](u).Add(s.ctx, c))
	_, err := u.SaveChanges(s.ctx)
	s.Require().NoError(err)
	s.Require().NoError(u.Close())

	var count int
	s.Require().NoError(s.db.QueryRow("SELECT COUNT(*) FROM categories").Scan(&count))
	s.Zero(count)
}

// TestGetWhereComposesWithSoftDeleteFilter verifies predicates narrow the
// live set and can never resurrect deleted rows.
func (s *RepositorySuite) TestGetWhereComposesWithSoftDeleteFilter() {
	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Category](u)

	live := newCategory("Groceries")
	gone := newCategory("Groceries")
	other := newCategory("Rent")
	s.Require().NoError(repo.AddRange(s.ctx, []*domain.Category{live, gone, other}))
	_, err := repo.SaveChanges(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(repo.SoftDelete(s.ctx, gone))
	_, err = repo.SaveChanges(s.ctx)
	s.Require().NoError(err)

	got, err := repo.GetWhere(s.ctx, repository.Query{
		Where: "name = ?",
		Args:  []any{"Groceries"},
	}, false)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(live.GetID(), got[0].GetID())

	paged, err := repo.GetWhere(s.ctx, repository.Query{OrderBy: "name", Limit: 1, Offset: 1}, false)
	s.Require().NoError(err)
	s.Require().Len(paged, 1)
	s.Equal("Rent", paged[0].Name)
}

func (s *RepositorySuite) TestValidationRejectsBeforeQueueing() {
	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Category](u)

	err := repo.Add(s.ctx, &domain.Category{Type: domain.CategoryExpense})
	s.Require().ErrorIs(err, sentinel.ErrValidation)
	s.Zero(u.Pending())
}

func (s *RepositorySuite) TestUniqueViolationClassifiedAsValidation() {
	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Person](u)

	first := &domain.Person{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}
	s.Require().NoError(repo.Add(s.ctx, first))
	_, err := repo.SaveChanges(s.ctx)
	s.Require().NoError(err)

	dup := &domain.Person{FirstName: "Other", LastName: "Ada", Email: "ada@example.com"}
	s.Require().NoError(repo.Add(s.ctx, dup))
	_, err = repo.SaveChanges(s.ctx)
	s.Require().ErrorIs(err, sentinel.ErrValidation)
}

// TestBulkOperationsAreAtomic verifies batch writes succeed or fail as one:
// a single stale row poisons the whole batch.
func (s *RepositorySuite) TestBulkOperationsAreAtomic() {
	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Category](u)

	batch := []*domain.Category{newCategory("A"), newCategory("B"), newCategory("C")}
	s.Require().NoError(repo.BulkInsert(s.ctx, batch))
	n, err := repo.SaveChanges(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), n)
	s.Len(s.auditEntries("categories"), 3)

	s.Run("bulk update diffs each row", func() {
		for _, c := range batch {
			c.Name = c.Name + "!"
		}
		s.Require().NoError(repo.BulkUpdate(s.ctx, batch))
		_, err := repo.SaveChanges(s.ctx)
		s.Require().NoError(err)
		for _, c := range batch {
			s.Equal(int64(2), c.GetRowVersion())
		}
	})

	s.Run("stale member fails the whole soft delete", func() {
		batch[1].SetRowVersion(1) // stale on purpose
		s.Require().NoError(repo.BulkSoftDelete(s.ctx, batch))
		_, err := repo.SaveChanges(s.ctx)
		s.Require().ErrorIs(err, sentinel.ErrConflict)

		var deleted int
		s.Require().NoError(s.db.QueryRow(
			"SELECT COUNT(*) FROM categories WHERE is_deleted").Scan(&deleted))
		s.Zero(deleted, "no subset of the batch may be deleted")
	})
}

// TestHardDeleteIsGated verifies physical deletes need the explicit opt-in
// and are audited as Delete with the final state as old values.
func (s *RepositorySuite) TestHardDeleteIsGated() {
	id := s.seedCategory("Groceries")

	plain := s.newUow()
	defer plain.Close()
	c, err := repository.For[domain.Category](plain).GetByID(s.ctx, id, false)
	s.Require().NoError(err)
	s.Error(repository.For[domain.Category](plain).Remove(s.ctx, c))

	admin := s.newUow(uow.WithHardDeletes())
	defer admin.Close()
	repo := repository.For[domain.Category](admin)
	c, err = repo.GetByID(s.ctx, id, true)
	s.Require().NoError(err)
	s.Require().NoError(repo.Remove(s.ctx, c))
	_, err = repo.SaveChanges(s.ctx)
	s.Require().NoError(err)

	var physical int
	s.Require().NoError(s.db.QueryRow(
		"SELECT COUNT(*) FROM categories WHERE id = $1", id).Scan(&physical))
	s.Zero(physical)

	entries := s.auditEntries("categories")
	deleted := s.entryOf(entries, audit.ActionDelete)
	s.JSONEq(`"Groceries"`, jsonValue(s.T(), deleted.OldValues, "name"))
}

func (s *RepositorySuite) TestSaveEntitiesReportsOutcome() {
	u := s.newUow()
	defer u.Close()
	repo := repository.For[domain.Category](u)

	s.Require().NoError(repo.Add(s.ctx, newCategory("Groceries")))
	s.True(u.SaveEntities(s.ctx))

	stale := newCategory("Ghost")
	stale.SetID(uuid.New())
	stale.SetRowVersion(9)
	s.Require().NoError(repo.Update(s.ctx, stale))
	s.False(u.SaveEntities(s.ctx))
}
