package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/frno10/ExpenseTracker-sub000/internal/detect"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

// Upload stores a statement file and selects a parser for it.
//
// Problems with the file itself (too large, empty, unsupported format) are
// returned in UploadResponse.ValidationErrors with the upload marked failed;
// the returned error is reserved for requests that could not be handled.
func (s *Service) Upload(ctx context.Context, userID string, r io.Reader, filename string, size int64, bankHint string) (*UploadResponse, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	name := filepath.Base(strings.TrimSpace(filename))
	if r == nil || name == "" || name == "." || name == string(filepath.Separator) {
		return nil, ValidationError{Field: "file", Message: "no file provided"}
	}

	id := s.opts.NewID()
	release, err := s.limiter.Acquire(ctx, id, StageUpload)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	rec := &UploadRecord{
		ID:        id,
		UserID:    userID,
		FileName:  name,
		Size:      size,
		BankHint:  strings.TrimSpace(bankHint),
		Status:    StatusUploaded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	problems, err := s.storeFile(ctx, rec, r)
	if err != nil {
		return nil, err
	}
	if len(problems) > 0 {
		rec.Status = StatusFailed
		rec.ValidationErrors = problems
		s.discardFiles(ctx, rec)
	}

	if err := s.saveUpload(ctx, rec); err != nil {
		s.discardFiles(ctx, rec)
		return nil, err
	}

	reason := ""
	if len(rec.ValidationErrors) > 0 {
		reason = strings.Join(rec.ValidationErrors, "; ")
	}
	s.logAudit(ctx, AuditLogParams{
		Action:   ActionUpload,
		UserID:   userID,
		UploadID: rec.ID,
		FileName: rec.FileName,
		Reason:   reason,
	})

	var warnings []string
	if rec.Status != StatusFailed {
		warnings = s.previousImportWarnings(ctx, rec)
	}

	s.logger.Info("upload stored",
		"upload_id", rec.ID,
		"user_id", userID,
		"file", rec.FileName,
		"size", rec.Size,
		"parser", rec.ParserName,
		"status", rec.Status,
		"ip", IPAddressFromContext(ctx),
	)

	validation := rec.ValidationErrors
	if validation == nil {
		validation = []string{}
	}
	return &UploadResponse{
		UploadID:         rec.ID,
		FileName:         rec.FileName,
		Size:             rec.Size,
		MIMEType:         rec.MIMEType,
		Encoding:         rec.Encoding,
		DetectedParser:   rec.ParserName,
		Status:           rec.Status,
		ValidationErrors: validation,
		Warnings:         warnings,
	}, nil
}

// storeFile writes the upload to storage and fills in size, hash, MIME type,
// encoding and parser. It returns user-facing problems with the file, or an
// error when storage itself failed.
func (s *Service) storeFile(ctx context.Context, rec *UploadRecord, r io.Reader) ([]string, error) {
	maxSize := s.opts.MaxFileSize
	if rec.Size > maxSize {
		return []string{tooLargeMessage(rec.Size, maxSize)}, nil
	}

	ext := strings.ToLower(filepath.Ext(rec.FileName))
	path, n, hash, err := s.files.Save(ctx, rec.ID+ext, r, maxSize)
	switch {
	case errors.Is(err, ErrFileTooLarge):
		return []string{tooLargeMessage(0, maxSize)}, nil
	case errors.Is(err, ErrEmptyFile):
		return []string{"empty file: the upload contains no data"}, nil
	case err != nil:
		return nil, fmt.Errorf("store upload: %w", err)
	}
	rec.TempPath, rec.Size, rec.ContentHash = path, n, hash

	if err := detect.Validate(path, maxSize); err != nil {
		return []string{err.Error()}, nil
	}

	rec.MIMEType = s.detector.DetectMIMEAs(path, rec.FileName)
	candidate, err := parser.NewCandidate(path, rec.FileName, rec.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("sniff upload: %w", err)
	}
	p, ok := s.registry.FindParser(candidate)
	if !ok {
		return []string{fmt.Sprintf("%s: %s (%s); supported extensions: %s",
			ErrUnsupportedFormat, rec.FileName, rec.MIMEType,
			strings.Join(s.registry.SupportedExtensions(), ", "))}, nil
	}
	rec.ParserName = p.Name()

	if enc, ok := s.detector.DetectEncoding(path); ok {
		rec.Encoding = enc
	}
	return nil, nil
}

func tooLargeMessage(size, limit int64) string {
	if size > limit {
		return fmt.Sprintf("%s: %d bytes exceeds the %d byte limit", ErrFileTooLarge, size, limit)
	}
	return fmt.Sprintf("%s: exceeds the %d byte limit", ErrFileTooLarge, limit)
}

// previousImportWarnings reports an earlier import of identical content.
func (s *Service) previousImportWarnings(ctx context.Context, rec *UploadRecord) []string {
	if rec.ContentHash == "" {
		return nil
	}
	prev, err := s.sessions.FindHistoryByHash(ctx, rec.UserID, rec.ContentHash)
	if err != nil {
		s.logger.Warn("duplicate file check failed", "upload_id", rec.ID, "error", err)
		return nil
	}
	if prev == nil || prev.UploadID == rec.ID {
		return nil
	}

	when := ""
	if prev.ImportedAt != nil {
		when = " on " + prev.ImportedAt.Format("2006-01-02")
	}
	return []string{fmt.Sprintf("this file was already imported%s as %q (upload %s); confirming again will flag its rows as duplicates",
		when, prev.FileName, prev.UploadID)}
}

// DeleteUpload discards an upload in any state. Imported uploads keep their
// history entry and rollback manifest.
func (s *Service) DeleteUpload(ctx context.Context, userID, uploadID string) error {
	unlock := s.locks.Lock(uploadID)
	defer unlock()

	rec, err := s.loadUpload(ctx, userID, uploadID)
	if err != nil {
		return err
	}

	s.discardFiles(ctx, rec)
	if err := s.sessions.DeleteUpload(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete upload %s: %w", rec.ID, err)
	}
	if rec.Status != StatusImported {
		if err := s.sessions.DeleteHistory(ctx, rec.ID); err != nil {
			s.logger.Warn("failed to remove history entry", "upload_id", rec.ID, "error", err)
		}
	}

	s.logAudit(ctx, AuditLogParams{
		Action:   ActionUploadDelete,
		UserID:   userID,
		UploadID: rec.ID,
		FileName: rec.FileName,
		Reason:   string(rec.Status),
	})
	s.logger.Info("upload deleted", "upload_id", rec.ID, "user_id", userID, "status", rec.Status)
	return nil
}
