// Package expense holds the expense, merchant and category records that
// imports write, plus the store adapters that persist them.
//
// The import pipeline only needs a narrow slice of the finance tracker's
// data model: create and delete expenses, look up expenses by date for
// duplicate detection, and resolve merchants and categories by name.
package expense

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidExpense is returned when a NewExpense fails basic checks.
var ErrInvalidExpense = errors.New("invalid expense")

// MaxAmountScale is the number of decimal places every store keeps. The
// Postgres column is NUMERIC(18, 4).
const MaxAmountScale = 4

// Expense is a stored expense. Amounts follow the import sign convention:
// debits negative, credits positive.
type Expense struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Date        time.Time       `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	MerchantID  string          `json:"merchant_id,omitempty"`
	Merchant    string          `json:"merchant,omitempty"`
	CategoryID  string          `json:"category_id,omitempty"`
	Category    string          `json:"category,omitempty"`
	Account     string          `json:"account,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	ImportID    string          `json:"import_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// NewExpense is the input for creating an expense.
type NewExpense struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	MerchantID  string
	Merchant    string
	CategoryID  string
	Category    string
	Account     string
	Reference   string
	Notes       string
	ImportID    string
}

// Validate rejects inputs no store should accept.
func (n NewExpense) Validate() error {
	if n.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidExpense)
	}
	if strings.TrimSpace(n.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidExpense)
	}
	if !n.Amount.Equal(n.Amount.Truncate(MaxAmountScale)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidExpense, n.Amount, MaxAmountScale)
	}
	return nil
}

// Merchant is a payee known to the finance tracker.
type Merchant struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	DefaultCategory string    `json:"default_category,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Category is a user-defined expense category.
type Category struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
}

// Store is the expense persistence surface used by imports.
// DeleteExpense reports false when the expense did not exist.
type Store interface {
	CreateExpense(ctx context.Context, userID string, in NewExpense) (*Expense, error)
	DeleteExpense(ctx context.Context, id, userID string) (bool, error)
	FindByDateRange(ctx context.Context, userID string, start, end time.Time) ([]Expense, error)
}

// normalizeName folds a merchant or category name for lookups.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// dateOnly truncates t to midnight UTC.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
