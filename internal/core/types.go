package core

import (
	"time"

	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

// MaxPreviewSamples caps the transactions returned by Preview.
const MaxPreviewSamples = 10

// UploadStatus is the lifecycle state of an upload.
type UploadStatus string

const (
	StatusUploaded UploadStatus = "uploaded"
	StatusParsed   UploadStatus = "parsed"
	StatusImported UploadStatus = "imported"
	StatusFailed   UploadStatus = "failed"
)

// UploadRecord is the persisted state of one uploaded statement file.
type UploadRecord struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	FileName         string       `json:"file_name"`
	Size             int64        `json:"size"`
	TempPath         string       `json:"temp_path,omitempty"`
	MIMEType         string       `json:"mime_type,omitempty"`
	Encoding         string       `json:"encoding,omitempty"`
	ParserName       string       `json:"parser_name,omitempty"`
	BankHint         string       `json:"bank_hint,omitempty"`
	ValidationErrors []string     `json:"validation_errors,omitempty"`
	Status           UploadStatus `json:"status"`
	ContentHash      string       `json:"content_hash,omitempty"`
	TransactionCount int          `json:"transaction_count"`
	ImportID         string       `json:"import_id,omitempty"`
	ImportedCount    int          `json:"imported_count"`
	RollbackToken    string       `json:"rollback_token,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
	ImportedAt       *time.Time   `json:"imported_at,omitempty"`
}

// UploadResponse is returned by Upload.
type UploadResponse struct {
	UploadID         string       `json:"upload_id"`
	FileName         string       `json:"file_name"`
	Size             int64        `json:"size"`
	MIMEType         string       `json:"mime_type,omitempty"`
	Encoding         string       `json:"encoding,omitempty"`
	DetectedParser   string       `json:"detected_parser,omitempty"`
	Status           UploadStatus `json:"status"`
	ValidationErrors []string     `json:"validation_errors"`
	Warnings         []string     `json:"warnings,omitempty"`
}

// PreviewResponse summarizes a parse for the user to review.
type PreviewResponse struct {
	UploadID           string                     `json:"upload_id"`
	ParserName         string                     `json:"parser_name"`
	Status             UploadStatus               `json:"status"`
	Success            bool                       `json:"success"`
	TransactionCount   int                        `json:"transaction_count"`
	SampleTransactions []parser.ParsedTransaction `json:"sample_transactions"`
	Errors             []string                   `json:"errors,omitempty"`
	Warnings           []string                   `json:"warnings,omitempty"`
	Metadata           map[string]any             `json:"metadata,omitempty"`
}

// DuplicateMatch is one existing expense resembling a parsed transaction.
type DuplicateMatch struct {
	ExpenseID string   `json:"expense_id"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons"`
}

// TransactionMatch is the duplicate analysis for one parsed transaction.
// ConfidenceScore is the confidence that the row is new: 1 - best*0.8.
type TransactionMatch struct {
	Index             int                      `json:"index"`
	Transaction       parser.ParsedTransaction `json:"transaction"`
	Matches           []DuplicateMatch         `json:"matches"`
	IsLikelyDuplicate bool                     `json:"is_likely_duplicate"`
	ConfidenceScore   float64                  `json:"confidence_score"`
}

// ConfirmRequest selects rows to import and remaps parsed names.
// A nil SelectedIndices (field omitted) imports every row; an empty list is
// a validation error.
type ConfirmRequest struct {
	SelectedIndices  []int             `json:"selected_indices"`
	CategoryMappings map[string]string `json:"category_mappings,omitempty"`
	MerchantMappings map[string]string `json:"merchant_mappings,omitempty"`
}

// ImportResult is returned by Confirm. RollbackToken is empty when no
// expense was created.
type ImportResult struct {
	ImportID       string   `json:"import_id"`
	UploadID       string   `json:"upload_id"`
	Success        bool     `json:"success"`
	ImportedCount  int      `json:"imported_count"`
	SkippedCount   int      `json:"skipped_count"`
	DuplicateCount int      `json:"duplicate_count"`
	Errors         []string `json:"errors,omitempty"`
	RollbackToken  string   `json:"rollback_token,omitempty"`
}

// ManifestStatus tracks whether a manifest describes a finished import.
type ManifestStatus string

const (
	ManifestPending  ManifestStatus = "pending"
	ManifestComplete ManifestStatus = "complete"
	ManifestFailed   ManifestStatus = "failed"
)

// RollbackManifest lists the expenses one import created.
type RollbackManifest struct {
	Token      string         `json:"token"`
	ImportID   string         `json:"import_id"`
	UploadID   string         `json:"upload_id"`
	UserID     string         `json:"user_id"`
	ExpenseIDs []string       `json:"expense_ids"`
	Status     ManifestStatus `json:"status"`
	LastError  string         `json:"last_error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// RollbackResult is returned by Rollback.
type RollbackResult struct {
	Token          string   `json:"token"`
	ImportID       string   `json:"import_id"`
	Success        bool     `json:"success"`
	DeletedCount   int      `json:"deleted_count"`
	AlreadyMissing int      `json:"already_missing"`
	FailedIDs      []string `json:"failed_ids,omitempty"`
}

// Statuses that appear only on history entries.
const (
	StatusRolledBack UploadStatus = "rolled_back"
	StatusExpired    UploadStatus = "expired"
)

// HistoryEntry summarizes one upload for the import history.
type HistoryEntry struct {
	UploadID         string       `json:"upload_id"`
	UserID           string       `json:"user_id"`
	FileName         string       `json:"file_name"`
	ParserName       string       `json:"parser_name,omitempty"`
	Status           UploadStatus `json:"status"`
	TransactionCount int          `json:"transaction_count"`
	ImportedCount    int          `json:"imported_count"`
	ImportID         string       `json:"import_id,omitempty"`
	RollbackToken    string       `json:"rollback_token,omitempty"`
	ContentHash      string       `json:"content_hash,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	ImportedAt       *time.Time   `json:"imported_at,omitempty"`
}

// SweepResult reports what one janitor pass removed.
type SweepResult struct {
	ExpiredUploads     int `json:"expired_uploads"`
	PurgedManifests    int `json:"purged_manifests"`
	PurgedAuditEntries int `json:"purged_audit_entries"`
}

// FormatInfo describes what the registry accepts.
type FormatInfo struct {
	Parsers    []string `json:"parsers"`
	Extensions []string `json:"extensions"`
	MIMETypes  []string `json:"mime_types"`
	MaxSize    int64    `json:"max_size"`
}
