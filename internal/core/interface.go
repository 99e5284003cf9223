package core

import (
	"context"
	"io"
	"time"

	"github.com/frno10/ExpenseTracker-sub000/internal/expense"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

// The service depends on these interfaces, not on concrete stores.
//
//go:generate mockgen -destination=mocks/mock_stores.go -package=mocks github.com/frno10/ExpenseTracker-sub000/internal/core ExpenseStore,MerchantStore,CategoryStore

// ExpenseStore persists expenses created by imports.
// DeleteExpense reports false when the expense was already gone.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, userID string, in expense.NewExpense) (*expense.Expense, error)
	DeleteExpense(ctx context.Context, id, userID string) (bool, error)
	FindByDateRange(ctx context.Context, userID string, start, end time.Time) ([]expense.Expense, error)
}

// Transactor is implemented by expense stores that can run an import batch
// atomically. The store handed to fn must be used for every write in the batch.
type Transactor interface {
	InTx(ctx context.Context, fn func(tx expense.Store) error) error
}

// MerchantStore resolves merchants by name. FindByName returns nil, nil
// when no merchant matches.
type MerchantStore interface {
	FindByName(ctx context.Context, name, userID string) (*expense.Merchant, error)
	Create(ctx context.Context, userID, name, defaultCategory string) (*expense.Merchant, error)
}

// CategoryStore resolves categories by name. FindByName returns nil, nil
// when no category matches.
type CategoryStore interface {
	FindByName(ctx context.Context, name, userID string) (*expense.Category, error)
}

// SessionStore persists upload state between requests.
//
// Lookups of missing uploads return ErrUploadNotFound and lookups of missing
// manifests return ErrManifestNotFound. GetParseResult, GetHistory and
// FindHistoryByHash return nil, nil when nothing is stored. FindHistoryByHash
// only considers imported uploads.
type SessionStore interface {
	SaveUpload(ctx context.Context, rec *UploadRecord) error
	GetUpload(ctx context.Context, id string) (*UploadRecord, error)
	DeleteUpload(ctx context.Context, id string) error
	ListUploadsBefore(ctx context.Context, cutoff time.Time) ([]UploadRecord, error)

	SaveParseResult(ctx context.Context, uploadID string, res *parser.ParseResult) error
	GetParseResult(ctx context.Context, uploadID string) (*parser.ParseResult, error)
	DeleteParseResult(ctx context.Context, uploadID string) error

	SaveManifest(ctx context.Context, m *RollbackManifest) error
	GetManifest(ctx context.Context, token string) (*RollbackManifest, error)
	DeleteManifest(ctx context.Context, token string) error
	ListManifestsBefore(ctx context.Context, cutoff time.Time) ([]RollbackManifest, error)

	SaveHistory(ctx context.Context, entry *HistoryEntry) error
	GetHistory(ctx context.Context, uploadID string) (*HistoryEntry, error)
	DeleteHistory(ctx context.Context, uploadID string) error
	ListHistory(ctx context.Context, userID string, limit, offset int) ([]HistoryEntry, error)
	FindHistoryByHash(ctx context.Context, userID, hash string) (*HistoryEntry, error)
}

// FileStorage holds uploaded files until they are imported or expire.
type FileStorage interface {
	// Save copies r to a new file named name, rejecting content larger than
	// maxSize with ErrFileTooLarge. It returns the stored path, the byte
	// count and the SHA-256 of the content.
	Save(ctx context.Context, name string, r io.Reader, maxSize int64) (path string, size int64, hash string, err error)

	// Remove deletes a stored file. Removing a missing file is not an error.
	Remove(path string) error
}
