package core

// error_messages.go maps technical errors to coded user messages.
//
// # Error Codes Reference
//
// When users encounter errors, they can quote the code to support staff
// for faster diagnosis. Codes are grouped by category:
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid date: A date could not be read
//	         Action: Use YYYY-MM-DD, DD.MM.YYYY, MM/DD/YYYY or Jan 15, 2024
//	         Patterns: "invalid date"
//
//	VAL002 - Invalid amount: An amount could not be read
//	         Action: Check the amount column for stray text
//	         Patterns: "invalid number"
//
//	VAL003 - Required field: A required value is empty
//	         Action: Ensure every row has a date, description and amount
//	         Patterns: "required field", "missing required field"
//
//	VAL004 - Invalid selection: Selected rows do not exist in the preview
//	         Action: Refresh the preview and select rows again
//	         Patterns: "selected_indices"
//
//	VAL005 - Invalid request: The request is missing or has invalid fields
//	         Action: Check the request and try again
//	         Patterns: "validation failed"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds the maximum size limit
//	          Action: Export a shorter date range
//	          Patterns: ErrFileTooLarge, "file too large"
//
//	FILE002 - Unsupported format: The file type is not supported
//	          Action: Upload CSV, Excel, OFX/QFX, QIF or PDF statements
//	          Patterns: ErrUnsupportedFormat, "unsupported file format"
//
//	FILE003 - Encoding error: File contains unreadable characters
//	          Action: Save the file as UTF-8 and upload it again
//	          Patterns: "unsupported encoding", "encoding error"
//
//	FILE004 - No file: No file was selected
//	          Action: Please select a statement file to upload
//	          Patterns: "no file provided"
//
//	FILE005 - Empty file: The uploaded file is empty
//	          Action: Please upload a statement with transactions
//	          Patterns: ErrEmptyFile, "empty file"
//
// # Parse Errors (PARSE001-PARSE099)
//
//	PARSE001 - Unreadable statement: The statement could not be parsed
//	           Action: Check the file opens correctly, or try a CSV export
//	           Patterns: "could not be parsed", "open pdf", "workbook has no sheets"
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Already imported: This upload was already imported
//	         Action: Use the import history to review or roll it back
//	         Patterns: ErrAlreadyImported
//
//	IMP002 - Invalid state: The upload cannot be used for this step
//	         Action: Upload the file again
//	         Patterns: ErrInvalidState
//
//	IMP003 - Import aborted: No expenses were kept from this import
//	         Action: Please try the import again
//	         Patterns: "rolled back", "aborted"
//
//	IMP004 - Duplicate check failed: Existing expenses could not be read
//	         Action: Please try again in a few moments
//	         Patterns: "duplicate lookup"
//
// # Rollback Errors (RB001-RB099)
//
//	RB001 - Token not found: The rollback token is unknown or expired
//	        Action: Imports can only be rolled back within the retention period
//	        Patterns: ErrManifestNotFound
//
//	RB002 - Rollback incomplete: Some expenses could not be removed
//	        Action: Retry the rollback with the same token
//	        Patterns: *RollbackError, "rollback incomplete"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Forbidden: The upload belongs to another user
//	         Action: Sign in with the account that uploaded the file
//	         Patterns: ErrForbidden
//
//	UPL002 - System busy: Too many uploads in progress
//	         Action: Please wait a moment and try again
//	         Patterns: ErrTooManyUploads, "too many concurrent"
//
//	UPL003 - Session expired: Upload session not found
//	         Action: The upload may have expired. Please start a new upload
//	         Patterns: ErrUploadNotFound
//
//	UPL004 - Request cancelled: Request was cancelled
//	         Action: Please try again
//	         Patterns: context.Canceled
//
//	UPL005 - Request timeout: Request timed out
//	         Action: Try a smaller file or check your connection
//	         Patterns: context.DeadlineExceeded
//
// # Database Errors (DB001-DB099)
//
//	DB001 - Connection refused: Unable to connect to database
//	        Action: Please try again in a few moments
//	        Patterns: "connection refused"
//
//	DB002 - Connection reset: Database connection was interrupted
//	        Action: Please try again
//	        Patterns: "connection reset"
//
//	DB003 - Timeout: Operation timed out
//	        Action: Please try again later
//	        Patterns: "timeout"
//
//	DB004 - Deadlock: Database was busy with conflicting operations
//	        Action: Please try again
//	        Patterns: "deadlock"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
//
// # Matching
//
// Sentinels are checked first with errors.Is, so wrapped errors keep their
// code regardless of the surrounding text. Sentinel messages are then
// searched as text, for errors that lost their chain. Otherwise patterns
// are matched case-insensitively with strings.Contains and the first match
// wins, so specific patterns come before general ones.
//
// # For Support Staff
//
// When a user reports an error code:
//  1. Look up the code in this reference
//  2. Check the associated patterns to understand what triggered it
//  3. Review the suggested action to guide the user
//  4. If ERR000, check application logs for the original technical error

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgFileTooLarge = UserMessage{
		Message: "File exceeds the maximum size limit",
		Action:  "Export a shorter date range",
		Code:    "FILE001",
	}
	msgUnsupportedFormat = UserMessage{
		Message: "The file type is not supported",
		Action:  "Upload CSV, Excel, OFX/QFX, QIF or PDF statements",
		Code:    "FILE002",
	}
	msgEmptyFile = UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a statement with transactions",
		Code:    "FILE005",
	}
	msgRollbackIncomplete = UserMessage{
		Message: "Some expenses could not be removed",
		Action:  "Retry the rollback with the same token",
		Code:    "RB002",
	}
	msgBusy = UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}
)

// sentinelMessages maps error values to user messages. Entries are checked
// in order with errors.Is.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrAlreadyImported, UserMessage{
		Message: "This upload was already imported",
		Action:  "Use the import history to review or roll it back",
		Code:    "IMP001",
	}},
	{ErrInvalidState, UserMessage{
		Message: "The upload cannot be used for this step",
		Action:  "Upload the file again",
		Code:    "IMP002",
	}},
	{ErrManifestNotFound, UserMessage{
		Message: "The rollback token is unknown or expired",
		Action:  "Imports can only be rolled back within the retention period",
		Code:    "RB001",
	}},
	{ErrForbidden, UserMessage{
		Message: "The upload belongs to another user",
		Action:  "Sign in with the account that uploaded the file",
		Code:    "UPL001",
	}},
	{ErrTooManyUploads, msgBusy},
	{ErrUploadNotFound, UserMessage{
		Message: "Upload session not found",
		Action:  "The upload may have expired. Please start a new upload",
		Code:    "UPL003",
	}},
	{ErrFileTooLarge, msgFileTooLarge},
	{ErrEmptyFile, msgEmptyFile},
	{ErrUnsupportedFormat, msgUnsupportedFormat},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "UPL005",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user
// messages for errors that carry no sentinel. The first match wins.
//
// To add a new error pattern:
//  1. Choose the appropriate category and code range
//  2. Add the pattern in the correct position (specific before general)
//  3. Update the reference at the top of this file
var errorPatterns = []errorPattern{
	// =========================================================================
	// Rollback and Import Errors (RB002, IMP003-IMP004)
	// These come first: their messages wrap arbitrary causes.
	// =========================================================================
	{pattern: "rollback incomplete", msg: msgRollbackIncomplete},
	{
		pattern: "duplicate lookup",
		msg: UserMessage{
			Message: "Existing expenses could not be checked for duplicates",
			Action:  "Please try again in a few moments",
			Code:    "IMP004",
		},
	},
	{
		pattern: "rolled back",
		msg: UserMessage{
			Message: "The import failed and no expenses were kept",
			Action:  "Please try the import again",
			Code:    "IMP003",
		},
	},
	{
		pattern: "aborted",
		msg: UserMessage{
			Message: "The import failed and its expenses were removed",
			Action:  "Please try the import again",
			Code:    "IMP003",
		},
	},

	// =========================================================================
	// Validation Errors (VAL001-VAL005)
	// These errors occur when data doesn't match expected formats.
	// =========================================================================
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "A date could not be read",
			Action:  "Use YYYY-MM-DD, DD.MM.YYYY, MM/DD/YYYY or Jan 15, 2024",
			Code:    "VAL001",
		},
	},
	{
		pattern: "invalid number",
		msg: UserMessage{
			Message: "An amount could not be read",
			Action:  "Check the amount column for stray text",
			Code:    "VAL002",
		},
	},
	{
		pattern: "required field",
		msg: UserMessage{
			Message: "A required value is empty",
			Action:  "Ensure every row has a date, description and amount",
			Code:    "VAL003",
		},
	},
	{
		pattern: "selected_indices",
		msg: UserMessage{
			Message: "Selected rows do not exist in the preview",
			Action:  "Refresh the preview and select rows again",
			Code:    "VAL004",
		},
	},

	// =========================================================================
	// File Errors (FILE001-FILE005)
	// These errors occur when processing uploaded files.
	// =========================================================================
	{pattern: "file too large", msg: msgFileTooLarge},
	{pattern: "unsupported file format", msg: msgUnsupportedFormat},
	{
		pattern: "unsupported encoding",
		msg: UserMessage{
			Message: "File contains unreadable characters",
			Action:  "Save the file as UTF-8 and upload it again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains unreadable characters",
			Action:  "Save the file as UTF-8 and upload it again",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a statement file to upload",
			Code:    "FILE004",
		},
	},
	{pattern: "empty file", msg: msgEmptyFile},

	// =========================================================================
	// Parse Errors (PARSE001)
	// These errors occur when a supported file cannot be read.
	// =========================================================================
	{
		pattern: "could not be parsed",
		msg: UserMessage{
			Message: "The statement could not be parsed",
			Action:  "Check the file opens correctly, or try a CSV export",
			Code:    "PARSE001",
		},
	},
	{
		pattern: "open pdf",
		msg: UserMessage{
			Message: "The statement could not be parsed",
			Action:  "Check the file opens correctly, or try a CSV export",
			Code:    "PARSE001",
		},
	},
	{
		pattern: "workbook has no sheets",
		msg: UserMessage{
			Message: "The statement could not be parsed",
			Action:  "Check the file opens correctly, or try a CSV export",
			Code:    "PARSE001",
		},
	},

	// =========================================================================
	// Upload Errors (UPL002)
	// =========================================================================
	{pattern: "too many concurrent", msg: msgBusy},

	// =========================================================================
	// Database Connection Errors (DB001-DB004)
	// These errors occur when database connectivity is disrupted.
	// =========================================================================
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB001",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB002",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB003",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB004",
		},
	},

	// =========================================================================
	// Request Validation (VAL005)
	// Generic, so it comes after every specific pattern.
	// =========================================================================
	{
		pattern: "validation failed",
		msg: UserMessage{
			Message: "The request is missing or has invalid fields",
			Action:  "Check the request and try again",
			Code:    "VAL005",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000). Support staff
// should check application logs for the original technical error.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known error values are matched through the wrap chain first, then the
// error text is searched for known patterns. If nothing matches, a generic
// fallback message with code ERR000 is returned.
//
// Example:
//
//	err := fmt.Errorf("confirm: %w", ErrAlreadyImported)
//	msg := MapError(err)
//	// msg.Code == "IMP001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var rbErr *RollbackError
	if errors.As(err, &rbErr) {
		return msgRollbackIncomplete
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range sentinelMessages {
		if strings.Contains(errStr, strings.ToLower(s.err.Error())) {
			return s.msg
		}
	}
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
// The original error is preserved for logging while Error returns the
// clean message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
