package core

// validation.go defines the error values the service returns and the
// request checks shared by the operations.
//
// Callers branch on the sentinels with errors.Is and on the typed errors
// with errors.As. Every sentinel message is matched by a pattern in
// error_messages.go so it maps to a coded user message.

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/frno10/ExpenseTracker-sub000/internal/detect"
)

var (
	ErrUploadNotFound    = errors.New("upload not found")
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrInvalidState      = errors.New("invalid upload state")
	ErrAlreadyImported   = errors.New("upload already imported")
	ErrManifestNotFound  = errors.New("rollback token not found")
	ErrForbidden         = errors.New("forbidden: resource belongs to another user")

	// ErrFileTooLarge and ErrEmptyFile are shared with the detector so a
	// single errors.Is check covers both the storage and validation paths.
	ErrFileTooLarge = detect.ErrFileTooLarge
	ErrEmptyFile    = detect.ErrEmptyFile
)

// ValidationError represents a single invalid request field.
type ValidationError struct {
	Field   string // Field name
	Value   string // The invalid value
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// ImportRowError records why one selected row was not imported.
type ImportRowError struct {
	Index       int
	Description string
	Err         error
}

func (e *ImportRowError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("row %d (%s): %v", e.Index, e.Description, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Index, e.Err)
}

func (e *ImportRowError) Unwrap() error { return e.Err }

// RollbackError reports expenses a rollback could not delete. They remain
// in the manifest, so the same token can be retried.
type RollbackError struct {
	Token     string
	FailedIDs []string
	Err       error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback incomplete: %d expense(s) not deleted for token %s: %v",
		len(e.FailedIDs), e.Token, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// requireUser rejects requests without a user id.
func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ValidationError{Field: "user_id", Message: "required field is empty"}
	}
	return nil
}

// selectIndices validates a row selection against n parsed transactions.
// A nil selection means every row; an explicit empty one selects nothing and
// is rejected. The result is sorted and free of duplicates.
func selectIndices(selected []int, n int) ([]int, error) {
	if selected != nil && len(selected) == 0 {
		return nil, ValidationError{
			Field:   "selected_indices",
			Message: "no rows selected; omit the field to import every row",
		}
	}
	if selected == nil {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	seen := make(map[int]bool, len(selected))
	out := make([]int, 0, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= n {
			return nil, ValidationError{
				Field:   "selected_indices",
				Value:   fmt.Sprint(idx),
				Message: fmt.Sprintf("index out of range (0-%d)", n-1),
			}
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}

// History paging bounds.
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// normalizePaging clamps limit to [1, MaxHistoryLimit] and offset to >= 0.
func normalizePaging(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
