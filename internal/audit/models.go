// Package audit materializes the append-only audit trail. Entries are
// derived by the interceptor from the unit of work's pending change set and
// written in the same transaction as the entity changes they describe; once
// persisted they are never updated or deleted.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionType classifies what happened to the audited entity.
type ActionType string

const (
	ActionCreate     ActionType = "Create"
	ActionUpdate     ActionType = "Update"
	ActionDelete     ActionType = "Delete"
	ActionSoftDelete ActionType = "SoftDelete"
)

// Entry is one audit log record: who changed what, when, and from/to what
// values. Actor and request fields are nullable — background jobs carry no
// request, unauthenticated callers no user — and absence is recorded as NULL,
// never invented.
type Entry struct {
	ID              uuid.UUID       `json:"id"`
	EntityName      string          `json:"entityName"`
	ActionType      ActionType      `json:"actionType"`
	PrimaryKey      string          `json:"primaryKey"`
	ActorUserID     *string         `json:"actorUserId,omitempty"`
	ActorUserName   *string         `json:"actorUserName,omitempty"`
	ActionDate      time.Time       `json:"actionDate"`
	OldValues       json.RawMessage `json:"oldValues,omitempty"`
	NewValues       json.RawMessage `json:"newValues,omitempty"`
	AffectedColumns []string        `json:"affectedColumns,omitempty"`
	IPAddress       *string         `json:"ipAddress,omitempty"`
	UserAgent       *string         `json:"userAgent,omitempty"`
	RequestURL      *string         `json:"requestUrl,omitempty"`
	RequestMethod   *string         `json:"requestMethod,omitempty"`
}

// Filter narrows an audit listing. Zero values mean "any"; Page is 1-based.
type Filter struct {
	EntityName  string
	ActionType  ActionType
	ActorUserID string
	From        time.Time
	To          time.Time
	Page        int
	PageSize    int
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (f Filter) limitOffset() (limit, offset int) {
	size := f.PageSize
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size
}
