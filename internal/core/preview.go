package core

import (
	"context"
	"fmt"
	"time"

	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

// Preview parses an upload, caching the result, and returns up to
// MaxPreviewSamples transactions with the parser's diagnostics.
func (s *Service) Preview(ctx context.Context, userID, uploadID string) (*PreviewResponse, error) {
	unlock := s.locks.Lock(uploadID)
	defer unlock()

	rec, err := s.loadUpload(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusImported {
		return nil, fmt.Errorf("%w: upload %s was already imported", ErrInvalidState, rec.ID)
	}

	res, err := s.parseUpload(ctx, rec)
	if err != nil {
		return nil, err
	}

	samples := res.Transactions
	if len(samples) > MaxPreviewSamples {
		samples = samples[:MaxPreviewSamples]
	}
	if samples == nil {
		samples = []parser.ParsedTransaction{}
	}

	return &PreviewResponse{
		UploadID:           rec.ID,
		ParserName:         rec.ParserName,
		Status:             rec.Status,
		Success:            res.Success,
		TransactionCount:   len(res.Transactions),
		SampleTransactions: samples,
		Errors:             res.Errors,
		Warnings:           res.Warnings,
		Metadata:           res.Metadata,
	}, nil
}

// AnalyzeDuplicates scores every parsed transaction of an upload against
// the user's existing expenses.
func (s *Service) AnalyzeDuplicates(ctx context.Context, userID, uploadID string) ([]TransactionMatch, error) {
	unlock := s.locks.Lock(uploadID)
	defer unlock()

	rec, err := s.loadUpload(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusImported {
		return nil, fmt.Errorf("%w: upload %s was already imported", ErrInvalidState, rec.ID)
	}

	res, err := s.parseUpload(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: upload %s could not be parsed", ErrInvalidState, rec.ID)
	}

	indices, _ := selectIndices(nil, len(res.Transactions))
	return s.matcher.Analyze(ctx, userID, res.Transactions, indices)
}

// parseUpload returns the cached parse of rec, parsing the stored file on
// first use. The caller must hold the upload lock.
func (s *Service) parseUpload(ctx context.Context, rec *UploadRecord) (*parser.ParseResult, error) {
	cached, err := s.sessions.GetParseResult(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("load parse result: %w", err)
	}
	if cached != nil {
		return cached, nil
	}

	// Uploads rejected at validation have no file to parse.
	if rec.TempPath == "" {
		return &parser.ParseResult{
			Success:      false,
			Transactions: []parser.ParsedTransaction{},
			Errors:       rec.ValidationErrors,
		}, nil
	}

	p, ok := s.registry.Get(rec.ParserName)
	if !ok {
		return nil, fmt.Errorf("%w: parser %q is not registered", ErrUnsupportedFormat, rec.ParserName)
	}

	var res parser.ParseResult
	start := time.Now()
	err = s.limiter.Do(ctx, rec.ID, StageParse, func() error {
		res = p.Parse(ctx, rec.TempPath, parser.Options{
			BankHint: rec.BankHint,
			Encoding: rec.Encoding,
			Now:      s.now(),
		})
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	if err := s.sessions.SaveParseResult(ctx, rec.ID, &res); err != nil {
		return nil, fmt.Errorf("cache parse result: %w", err)
	}

	rec.TransactionCount = len(res.Transactions)
	if res.Success {
		rec.Status = StatusParsed
	} else {
		rec.Status = StatusFailed
	}
	if err := s.saveUpload(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("upload parsed",
		"upload_id", rec.ID,
		"user_id", rec.UserID,
		"parser", rec.ParserName,
		"success", res.Success,
		"transactions", len(res.Transactions),
		"warnings", len(res.Warnings),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &res, nil
}
