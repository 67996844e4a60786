// Package entity defines the base shapes every persisted record satisfies:
// stable identity, optimistic-concurrency versioning, audit stamps, and
// soft-delete markers. The persistence core is written against these
// capability interfaces rather than concrete types, so new entity types
// participate by embedding Entity and declaring a table name.
package entity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Identifiable is the identity capability: a stable unique ID, immutable
// after creation.
type Identifiable interface {
	GetID() uuid.UUID
	SetID(uuid.UUID)
}

// Versioned is the optimistic-concurrency capability. The row version is
// strictly increasing; a write against a stale version must fail rather than
// silently overwrite.
type Versioned interface {
	GetRowVersion() int64
	SetRowVersion(int64)
}

// Auditable is the audit-stamp capability: who created and last modified the
// record, when, and from where.
type Auditable interface {
	GetCreatedAt() time.Time
	GetCreatedBy() string
	GetModifiedAt() *time.Time
	SetCreated(by string, at time.Time)
	SetModified(by, ip string, at time.Time)
}

// SoftDeletable is the soft-delete capability. A soft-deleted record is
// excluded from default reads but remains physically present.
type SoftDeletable interface {
	GetDeleted() bool
	GetDeletedAt() *time.Time
	MarkDeleted(by, ip string, at time.Time) error
	Restore() error
}

// Validatable lets a record veto its own persistence.
type Validatable interface {
	Validate() error
}

// Record is the full contract the repository layer requires. Concrete types
// get everything except TableName and Validate for free by embedding Entity.
type Record interface {
	Identifiable
	Versioned
	Auditable
	SoftDeletable
	Validatable
	TableName() string
}

var (
	// ErrAlreadyDeleted is returned when soft-deleting a record twice.
	ErrAlreadyDeleted = errors.New("entity already deleted")
	// ErrNotDeleted is returned when restoring a record that is not deleted.
	ErrNotDeleted = errors.New("entity not deleted")
)

// Entity carries the shared columns for audited, soft-deletable records.
// Embed it in concrete entity types; the db tags drive the generic column
// mapping in this package's Meta.
type Entity struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	RowVersion   int64      `db:"row_version" json:"rowVersion"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	CreatedBy    string     `db:"created_by" json:"createdBy"`
	ModifiedAt   *time.Time `db:"modified_at" json:"modifiedAt,omitempty"`
	ModifiedBy   *string    `db:"modified_by" json:"modifiedBy,omitempty"`
	ModifiedByIP *string    `db:"modified_by_ip" json:"modifiedByIp,omitempty"`
	IsDeleted    bool       `db:"is_deleted" json:"isDeleted"`
	DeletedAt    *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy    *string    `db:"deleted_by" json:"deletedBy,omitempty"`
	DeletedByIP  *string    `db:"deleted_by_ip" json:"deletedByIp,omitempty"`
}

func (e *Entity) GetID() uuid.UUID   { return e.ID }
func (e *Entity) SetID(id uuid.UUID) { e.ID = id }

func (e *Entity) GetRowVersion() int64  { return e.RowVersion }
func (e *Entity) SetRowVersion(v int64) { e.RowVersion = v }

func (e *Entity) GetCreatedAt() time.Time   { return e.CreatedAt }
func (e *Entity) GetCreatedBy() string      { return e.CreatedBy }
func (e *Entity) GetModifiedAt() *time.Time { return e.ModifiedAt }

// SetCreated assigns the creation stamp once. Callers that already stamped an
// entity (e.g. when replaying imports) keep their values.
func (e *Entity) SetCreated(by string, at time.Time) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = at
	}
	if e.CreatedBy == "" {
		e.CreatedBy = by
	}
}

// SetModified records the modification stamp. The row version itself is
// advanced by the repository as part of the guarded UPDATE, not here.
func (e *Entity) SetModified(by, ip string, at time.Time) {
	e.ModifiedAt = &at
	e.ModifiedBy = nilIfEmpty(by)
	e.ModifiedByIP = nilIfEmpty(ip)
}

func (e *Entity) GetDeleted() bool         { return e.IsDeleted }
func (e *Entity) GetDeletedAt() *time.Time { return e.DeletedAt }

// MarkDeleted sets the soft-delete markers. The physical row stays in place
// and its identifier is never freed for reuse.
func (e *Entity) MarkDeleted(by, ip string, at time.Time) error {
	if e.IsDeleted {
		return ErrAlreadyDeleted
	}
	e.IsDeleted = true
	e.DeletedAt = &at
	e.DeletedBy = nilIfEmpty(by)
	e.DeletedByIP = nilIfEmpty(ip)
	return nil
}

// Restore clears the soft-delete markers.
func (e *Entity) Restore() error {
	if !e.IsDeleted {
		return ErrNotDeleted
	}
	e.IsDeleted = false
	e.DeletedAt = nil
	e.DeletedBy = nil
	e.DeletedByIP = nil
	return nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
