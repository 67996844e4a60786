package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/entity"
)

// Message is a notification sent to a person, kept for audit purposes.
type Message struct {
	entity.Entity

	PersonID uuid.UUID `db:"person_id"`
	Subject  string    `db:"subject"`
	Body     string    `db:"body"`
	SentAt   time.Time `db:"sent_at"`
}

func (*Message) TableName() string { return "messages" }

func (m *Message) Validate() error {
	if m.PersonID == uuid.Nil {
		return errors.New("person id is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return errors.New("subject is required")
	}
	if m.SentAt.IsZero() {
		return errors.New("sent at is required")
	}
	return nil
}
