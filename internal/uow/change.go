package uow

import "context"

// Action is the kind of pending mutation a repository queued.
type Action string

const (
	ActionInsert     Action = "insert"
	ActionUpdate     Action = "update"
	ActionSoftDelete Action = "soft_delete"
	ActionDelete     Action = "delete"
)

// Mutation is the audit unit of a change: one entity's before/after state.
// Batch operations queue one Change carrying many mutations; the commit hook
// still sees (and records) every entity individually.
type Mutation struct {
	PrimaryKey      string
	OldValues       map[string]any
	NewValues       map[string]any
	AffectedColumns []string
}

// Change is one pending write queued on a unit of work. Prepare runs inside
// the flushing transaction before the commit hook, so it can load the
// persisted state needed for before/after snapshots. Apply executes the
// actual statement(s) and returns the affected row count.
//
// Changes are flushed strictly in the order they were queued.
type Change struct {
	Table     string
	Action    Action
	Mutations []*Mutation

	Prepare func(ctx context.Context) error
	Apply   func(ctx context.Context) (int64, error)
}

// CommitHook observes the full pending change set inside the flushing
// transaction, after Prepare and before Apply. The audit interceptor is
// installed here; a hook error aborts the whole flush.
type CommitHook func(ctx context.Context, changes []*Change) error
