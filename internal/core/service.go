package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/frno10/ExpenseTracker-sub000/internal/detect"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
	"github.com/google/uuid"
)

const (
	// DefaultMaxFileSize is the upload size ceiling.
	DefaultMaxFileSize int64 = 50 << 20

	// DefaultUploadTTL is how long an idle upload is kept.
	DefaultUploadTTL = 24 * time.Hour

	// DefaultRollbackRetention is how long a completed import can be rolled back.
	DefaultRollbackRetention = 30 * 24 * time.Hour

	// compensationTimeout bounds cleanup after an aborted import.
	compensationTimeout = 30 * time.Second
)

// Deps are the collaborators a Service needs. Detector, Categories,
// Limiter and Audit are optional.
type Deps struct {
	Registry   *parser.Registry
	Detector   *detect.Detector
	Sessions   SessionStore
	Files      FileStorage
	Expenses   ExpenseStore
	Merchants  MerchantStore
	Categories CategoryStore
	Limiter    *UploadLimiter
	Audit      AuditLog
}

// Options tune a Service. Zero values select the defaults.
type Options struct {
	MaxFileSize       int64
	UploadTTL         time.Duration
	RollbackRetention time.Duration
	AuditRetention    time.Duration

	// NewID generates upload ids, import ids and rollback tokens.
	NewID func() string

	// Now is the service clock.
	Now func() time.Time

	Logger *slog.Logger
}

// Service provides the core business logic for statement imports.
type Service struct {
	registry   *parser.Registry
	detector   *detect.Detector
	sessions   SessionStore
	files      FileStorage
	expenses   ExpenseStore
	merchants  MerchantStore
	categories CategoryStore
	limiter    *UploadLimiter
	audit      AuditLog
	matcher    *Matcher
	locks      *keyedMutex

	opts   Options
	logger *slog.Logger
}

// NewService creates a new Service instance.
func NewService(deps Deps, opts Options) (*Service, error) {
	var missing []string
	if deps.Registry == nil {
		missing = append(missing, "registry")
	}
	if deps.Sessions == nil {
		missing = append(missing, "session store")
	}
	if deps.Files == nil {
		missing = append(missing, "file storage")
	}
	if deps.Expenses == nil {
		missing = append(missing, "expense store")
	}
	if deps.Merchants == nil {
		missing = append(missing, "merchant store")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("new service: missing %s", strings.Join(missing, ", "))
	}

	if deps.Detector == nil {
		deps.Detector = detect.New(0)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.UploadTTL <= 0 {
		opts.UploadTTL = DefaultUploadTTL
	}
	if opts.RollbackRetention <= 0 {
		opts.RollbackRetention = DefaultRollbackRetention
	}
	if opts.AuditRetention <= 0 {
		opts.AuditRetention = DefaultAuditRetention
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if deps.Limiter == nil {
		deps.Limiter = NewUploadLimiter(DefaultMaxConcurrentUploads, DefaultMaxWaitTime, opts.Logger)
	}

	return &Service{
		registry:   deps.Registry,
		detector:   deps.Detector,
		sessions:   deps.Sessions,
		files:      deps.Files,
		expenses:   deps.Expenses,
		merchants:  deps.Merchants,
		categories: deps.Categories,
		limiter:    deps.Limiter,
		audit:      deps.Audit,
		matcher:    NewMatcher(deps.Expenses),
		locks:      newKeyedMutex(),
		opts:       opts,
		logger:     opts.Logger,
	}, nil
}

// Formats reports the file types the registry accepts.
func (s *Service) Formats() FormatInfo {
	return FormatInfo{
		Parsers:    s.registry.Names(),
		Extensions: s.registry.SupportedExtensions(),
		MIMETypes:  s.registry.SupportedMIMETypes(),
		MaxSize:    s.opts.MaxFileSize,
	}
}

// LimiterStatus reports slot usage for health checks.
func (s *Service) LimiterStatus() UploadLimiterStatus {
	return s.limiter.Status()
}

// Drain waits for in-flight parses and imports to finish.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

func (s *Service) now() time.Time {
	return s.opts.Now().UTC()
}

// loadUpload fetches an upload and checks it belongs to userID.
func (s *Service) loadUpload(ctx context.Context, userID, uploadID string) (*UploadRecord, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	rec, err := s.sessions.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrForbidden
	}
	return rec, nil
}

// saveUpload persists rec and mirrors it into the history.
func (s *Service) saveUpload(ctx context.Context, rec *UploadRecord) error {
	rec.UpdatedAt = s.now()
	if err := s.sessions.SaveUpload(ctx, rec); err != nil {
		return fmt.Errorf("save upload %s: %w", rec.ID, err)
	}
	if err := s.sessions.SaveHistory(ctx, historyEntry(rec)); err != nil {
		s.logger.Warn("failed to record import history", "upload_id", rec.ID, "error", err)
	}
	return nil
}

func historyEntry(rec *UploadRecord) *HistoryEntry {
	return &HistoryEntry{
		UploadID:         rec.ID,
		UserID:           rec.UserID,
		FileName:         rec.FileName,
		ParserName:       rec.ParserName,
		Status:           rec.Status,
		TransactionCount: rec.TransactionCount,
		ImportedCount:    rec.ImportedCount,
		ImportID:         rec.ImportID,
		RollbackToken:    rec.RollbackToken,
		ContentHash:      rec.ContentHash,
		CreatedAt:        rec.CreatedAt,
		ImportedAt:       rec.ImportedAt,
	}
}

// discardFiles removes the temp file and cached parse of an upload.
func (s *Service) discardFiles(ctx context.Context, rec *UploadRecord) {
	if rec.TempPath != "" {
		if err := s.files.Remove(rec.TempPath); err != nil {
			s.logger.Warn("failed to remove upload file", "upload_id", rec.ID, "path", rec.TempPath, "error", err)
		}
		rec.TempPath = ""
	}
	if err := s.sessions.DeleteParseResult(ctx, rec.ID); err != nil {
		s.logger.Warn("failed to remove cached parse result", "upload_id", rec.ID, "error", err)
	}
}
