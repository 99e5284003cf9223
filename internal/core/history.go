package core

import (
	"context"
	"fmt"
)

// History returns the user's uploads, newest first. limit is clamped to
// [1, MaxHistoryLimit]; zero selects DefaultHistoryLimit.
func (s *Service) History(ctx context.Context, userID string, limit, offset int) ([]HistoryEntry, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	limit, offset = normalizePaging(limit, offset)

	entries, err := s.sessions.ListHistory(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list import history: %w", err)
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return entries, nil
}

// GetUpload returns the stored state of one upload.
func (s *Service) GetUpload(ctx context.Context, userID, uploadID string) (*UploadRecord, error) {
	return s.loadUpload(ctx, userID, uploadID)
}
