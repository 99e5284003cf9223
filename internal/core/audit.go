package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	ActionUpload          AuditAction = "upload"
	ActionImport          AuditAction = "import"
	ActionImportAborted   AuditAction = "import_aborted"
	ActionRollback        AuditAction = "rollback"
	ActionRollbackPartial AuditAction = "rollback_partial"
	ActionUploadDelete    AuditAction = "upload_delete"
	ActionUploadExpired   AuditAction = "upload_expired"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	SeverityLow      AuditSeverity = "low"
	SeverityMedium   AuditSeverity = "medium"
	SeverityHigh     AuditSeverity = "high"
	SeverityCritical AuditSeverity = "critical"
)

// DefaultAuditRetention is how long audit entries are kept.
const DefaultAuditRetention = 90 * 24 * time.Hour

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID            string        `json:"id"`
	Action        AuditAction   `json:"action"`
	Severity      AuditSeverity `json:"severity"`
	UserID        string        `json:"user_id"`
	IPAddress     string        `json:"ip_address,omitempty"`
	UserAgent     string        `json:"user_agent,omitempty"`
	UploadID      string        `json:"upload_id,omitempty"`
	ImportID      string        `json:"import_id,omitempty"`
	RollbackToken string        `json:"rollback_token,omitempty"`
	FileName      string        `json:"file_name,omitempty"`
	RowsAffected  int           `json:"rows_affected,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// AuditLogParams contains parameters for creating an audit log entry.
// IPAddress and UserAgent default to the values stored in the context.
type AuditLogParams struct {
	Action        AuditAction
	UserID        string
	IPAddress     string
	UserAgent     string
	UploadID      string
	ImportID      string
	RollbackToken string
	FileName      string
	RowsAffected  int
	Reason        string
}

// AuditLogFilter contains filtering options for querying audit logs.
// Zero times leave that end of the range open.
type AuditLogFilter struct {
	UserID    string
	Action    AuditAction
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Matches reports whether e passes every set field of the filter.
// EndTime is exclusive.
func (f AuditLogFilter) Matches(e AuditEntry) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.StartTime.IsZero() && e.CreatedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !e.CreatedAt.Before(f.EndTime) {
		return false
	}
	return true
}

// AuditLog stores audit entries. ListAudit returns entries newest first.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, filter AuditLogFilter) ([]AuditEntry, error)
	PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case ActionImport, ActionRollback:
		return SeverityHigh
	case ActionImportAborted, ActionRollbackPartial:
		return SeverityCritical
	case ActionUploadExpired:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// logAudit records an entry. Audit failures are logged and never fail the
// operation being audited.
func (s *Service) logAudit(ctx context.Context, params AuditLogParams) {
	if s.audit == nil {
		return
	}
	if params.IPAddress == "" {
		params.IPAddress = IPAddressFromContext(ctx)
	}
	if params.UserAgent == "" {
		params.UserAgent = UserAgentFromContext(ctx)
	}

	entry := &AuditEntry{
		ID:            uuid.NewString(),
		Action:        params.Action,
		Severity:      determineSeverity(params.Action),
		UserID:        params.UserID,
		IPAddress:     params.IPAddress,
		UserAgent:     params.UserAgent,
		UploadID:      params.UploadID,
		ImportID:      params.ImportID,
		RollbackToken: params.RollbackToken,
		FileName:      params.FileName,
		RowsAffected:  params.RowsAffected,
		Reason:        params.Reason,
		CreatedAt:     s.now(),
	}
	if err := s.audit.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to write audit entry", "action", params.Action, "upload_id", params.UploadID, "error", err)
	}
}

// AuditLog returns the user's audit entries, newest first. Without an audit
// store it returns an empty list.
func (s *Service) AuditLog(ctx context.Context, userID string, filter AuditLogFilter) ([]AuditEntry, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if s.audit == nil {
		return []AuditEntry{}, nil
	}
	filter.UserID = userID
	filter.Limit, filter.Offset = normalizePaging(filter.Limit, filter.Offset)

	entries, err := s.audit.ListAudit(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}

// purgeAudit drops entries older than the audit retention.
func (s *Service) purgeAudit(ctx context.Context, now time.Time) (int, error) {
	if s.audit == nil {
		return 0, nil
	}
	n, err := s.audit.PurgeAuditBefore(ctx, now.Add(-s.opts.AuditRetention))
	if err != nil {
		return n, fmt.Errorf("purge audit log: %w", err)
	}
	return n, nil
}
