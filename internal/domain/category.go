package domain

import (
	"errors"
	"strings"

	"fintrack/internal/entity"
)

// CategoryType partitions categories into money-in and money-out.
type CategoryType string

const (
	CategoryIncome  CategoryType = "income"
	CategoryExpense CategoryType = "expense"
)

// Category labels transactions, e.g. "Groceries" or "Salary".
type Category struct {
	entity.Entity

	Name string       `db:"name"`
	Type CategoryType `db:"type"`
}

func (*Category) TableName() string { return "categories" }

func (c *Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("category name is required")
	}
	switch c.Type {
	case CategoryIncome, CategoryExpense:
		return nil
	default:
		return errors.New("category type must be income or expense")
	}
}
