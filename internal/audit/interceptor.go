package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"fintrack/internal/uow"
	"fintrack/pkg/requestcontext"
)

// Appender is the sink the interceptor writes derived entries to. The
// postgres Store satisfies it and joins the flushing transaction through the
// context.
type Appender interface {
	Append(ctx context.Context, entry Entry) error
}

// Interceptor derives audit entries from pending mutations. It is installed
// as the unit of work's commit hook and therefore runs inside the flushing
// transaction: entity writes and audit entries commit or roll back together.
//
// Derivation works off the generic change metadata alone — new entity types
// participate by merely satisfying the entity contract. A derivation or
// append failure fails the whole commit; audit durability is a hard
// guarantee, not best-effort logging.
type Interceptor struct {
	appender Appender
}

// NewInterceptor builds an interceptor writing to appender.
func NewInterceptor(appender Appender) *Interceptor {
	return &Interceptor{appender: appender}
}

// Hook adapts the interceptor to the unit of work's commit hook signature.
func (i *Interceptor) Hook() uow.CommitHook {
	return i.intercept
}

func (i *Interceptor) intercept(ctx context.Context, changes []*uow.Change) error {
	actor := requestcontext.ActorFrom(ctx)
	now := requestcontext.Now(ctx)

	for _, change := range changes {
		action, err := actionFor(change.Action)
		if err != nil {
			return err
		}
		for _, mut := range change.Mutations {
			entry := Entry{
				ID:              uuid.New(),
				EntityName:      change.Table,
				ActionType:      action,
				PrimaryKey:      mut.PrimaryKey,
				ActorUserID:     nullable(actor.UserID),
				ActorUserName:   nullable(actor.UserName),
				ActionDate:      now,
				AffectedColumns: mut.AffectedColumns,
				IPAddress:       nullable(actor.IPAddress),
				UserAgent:       nullable(actor.UserAgent),
				RequestURL:      nullable(actor.RequestURL),
				RequestMethod:   nullable(actor.RequestMethod),
			}
			if entry.OldValues, err = marshalValues(mut.OldValues); err != nil {
				return fmt.Errorf("serialize old values for %s %s: %w", change.Table, mut.PrimaryKey, err)
			}
			if entry.NewValues, err = marshalValues(mut.NewValues); err != nil {
				return fmt.Errorf("serialize new values for %s %s: %w", change.Table, mut.PrimaryKey, err)
			}
			if err := i.appender.Append(ctx, entry); err != nil {
				return fmt.Errorf("append audit entry for %s %s: %w", change.Table, mut.PrimaryKey, err)
			}
		}
	}
	return nil
}

func actionFor(a uow.Action) (ActionType, error) {
	switch a {
	case uow.ActionInsert:
		return ActionCreate, nil
	case uow.ActionUpdate:
		return ActionUpdate, nil
	case uow.ActionSoftDelete:
		return ActionSoftDelete, nil
	case uow.ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("unknown change action %q", a)
	}
}

func marshalValues(values map[string]any) (json.RawMessage, error) {
	if len(values) == 0 {
		return nil, nil
	}
	return json.Marshal(values)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
