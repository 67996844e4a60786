package domain

import (
	"errors"
	"time"

	"fintrack/internal/entity"
)

// Currency holds an ISO 4217 code and its exchange rate against the base
// currency as of RateDate.
type Currency struct {
	entity.Entity

	Code       string    `db:"code"`
	Name       string    `db:"name"`
	RateToBase float64   `db:"rate_to_base"`
	RateDate   time.Time `db:"rate_date"`
}

func (*Currency) TableName() string { return "currencies" }

func (c *Currency) Validate() error {
	if len(c.Code) != 3 {
		return errors.New("currency code must be three letters")
	}
	if c.RateToBase <= 0 {
		return errors.New("exchange rate must be positive")
	}
	if c.RateDate.IsZero() {
		return errors.New("rate date is required")
	}
	return nil
}
