package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/platform/database"
	txctx "fintrack/pkg/platform/tx"
)

// Store persists audit entries in PostgreSQL. Append joins the transaction
// carried by the context, so entries written by the interceptor share the
// fate of the entity changes they describe.
type Store struct {
	db     *sql.DB
	outbox bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithOutbox makes Append also write an outbox row in the same transaction,
// for the Kafka publisher to relay after commit.
func WithOutbox() StoreOption {
	return func(s *Store) { s.outbox = true }
}

// NewStore creates a PostgreSQL-backed audit store.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append inserts an audit entry (and its outbox row, when enabled).
// Entries are immutable once persisted; there is no update or delete path.
func (s *Store) Append(ctx context.Context, entry Entry) error {
	affected, err := json.Marshal(entry.AffectedColumns)
	if err != nil {
		return fmt.Errorf("marshal affected columns: %w", err)
	}

	q := txctx.Resolve(ctx, s.db)
	const insertEntry = `
		INSERT INTO audit_log (
			id, entity_name, action_type, primary_key,
			actor_user_id, actor_user_name, action_date,
			old_values, new_values, affected_columns,
			ip_address, user_agent, request_url, request_method
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = q.ExecContext(ctx, insertEntry,
		entry.ID,
		entry.EntityName,
		string(entry.ActionType),
		entry.PrimaryKey,
		entry.ActorUserID,
		entry.ActorUserName,
		entry.ActionDate,
		rawOrNil(entry.OldValues),
		rawOrNil(entry.NewValues),
		affected,
		entry.IPAddress,
		entry.UserAgent,
		entry.RequestURL,
		entry.RequestMethod,
	)
	if err != nil {
		return database.Classify(fmt.Errorf("insert audit entry: %w", err))
	}

	if !s.outbox {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}
	const insertOutbox = `
		INSERT INTO audit_outbox (id, entry_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := q.ExecContext(ctx, insertOutbox, uuid.New(), entry.ID, payload, time.Now()); err != nil {
		return database.Classify(fmt.Errorf("insert outbox row: %w", err))
	}
	return nil
}

// List returns the audit entries matching f, newest first, paginated.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	where, args := buildFilter(f)
	limit, offset := f.limitOffset()
	query := fmt.Sprintf(`
		SELECT id, entity_name, action_type, primary_key,
		       actor_user_id, actor_user_name, action_date,
		       old_values, new_values, affected_columns,
		       ip_address, user_agent, request_url, request_method
		FROM audit_log
		%s
		ORDER BY action_date DESC
		LIMIT %d OFFSET %d
	`, where, limit, offset)

	rows, err := txctx.Resolve(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("query audit entries: %w", err))
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Count returns how many entries match f, for pagination totals.
func (s *Store) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := buildFilter(f)
	var count int64
	query := "SELECT COUNT(*) FROM audit_log " + where
	if err := txctx.Resolve(ctx, s.db).QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, database.Classify(fmt.Errorf("count audit entries: %w", err))
	}
	return count, nil
}

func buildFilter(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.EntityName != "" {
		add("entity_name = $%d", f.EntityName)
	}
	if f.ActionType != "" {
		add("action_type = $%d", string(f.ActionType))
	}
	if f.ActorUserID != "" {
		add("actor_user_id = $%d", f.ActorUserID)
	}
	if !f.From.IsZero() {
		add("action_date >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("action_date <= $%d", f.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			entry    Entry
			action   string
			oldVals  []byte
			newVals  []byte
			affected []byte
		)
		err := rows.Scan(
			&entry.ID,
			&entry.EntityName,
			&action,
			&entry.PrimaryKey,
			&entry.ActorUserID,
			&entry.ActorUserName,
			&entry.ActionDate,
			&oldVals,
			&newVals,
			&affected,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.RequestURL,
			&entry.RequestMethod,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.ActionType = ActionType(action)
		entry.OldValues = oldVals
		entry.NewValues = newVals
		if len(affected) > 0 {
			if err := json.Unmarshal(affected, &entry.AffectedColumns); err != nil {
				return nil, fmt.Errorf("unmarshal affected columns: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
