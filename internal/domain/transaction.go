package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/entity"
)

// Transaction is a single money movement. Amounts are stored in minor units
// (cents) to avoid floating point drift.
type Transaction struct {
	entity.Entity

	PersonID     uuid.UUID `db:"person_id"`
	CategoryID   uuid.UUID `db:"category_id"`
	AmountMinor  int64     `db:"amount_minor"`
	CurrencyCode string    `db:"currency_code"`
	Note         string    `db:"note"`
	OccurredAt   time.Time `db:"occurred_at"`
}

func (*Transaction) TableName() string { return "transactions" }

func (t *Transaction) Validate() error {
	if t.PersonID == uuid.Nil {
		return errors.New("person id is required")
	}
	if t.CategoryID == uuid.Nil {
		return errors.New("category id is required")
	}
	if t.AmountMinor == 0 {
		return errors.New("amount must be non-zero")
	}
	if len(t.CurrencyCode) != 3 {
		return errors.New("currency code must be three letters")
	}
	if t.OccurredAt.IsZero() {
		return errors.New("occurred at is required")
	}
	return nil
}
