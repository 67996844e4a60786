package domain

import (
	"errors"
	"strings"

	"fintrack/internal/entity"
)

// Person is an account holder whose transactions and messages are tracked.
type Person struct {
	entity.Entity

	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
	Email     string `db:"email"`
}

func (*Person) TableName() string { return "persons" }

func (p *Person) Validate() error {
	if strings.TrimSpace(p.FirstName) == "" {
		return errors.New("first name is required")
	}
	if strings.TrimSpace(p.LastName) == "" {
		return errors.New("last name is required")
	}
	if !strings.Contains(p.Email, "@") {
		return errors.New("email is malformed")
	}
	return nil
}
