package core

import (
	"context"
	"errors"
	"fmt"
)

// Rollback deletes the expenses created by the import behind token.
//
// Expenses already deleted by other means count as AlreadyMissing. If some
// deletions fail, the manifest keeps exactly those ids and a *RollbackError
// is returned with the partial result, so the token can be retried.
func (s *Service) Rollback(ctx context.Context, userID, token string) (*RollbackResult, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	manifest, err := s.sessions.GetManifest(ctx, token)
	if err != nil {
		return nil, err
	}
	if manifest.UserID != userID {
		return nil, ErrForbidden
	}

	unlock := s.locks.Lock(manifest.UploadID)
	defer unlock()

	// Re-read under the lock; a concurrent rollback may have finished.
	manifest, err = s.sessions.GetManifest(ctx, token)
	if err != nil {
		return nil, err
	}

	result := &RollbackResult{Token: token, ImportID: manifest.ImportID}
	var failed []string
	var cause error
	for i, id := range manifest.ExpenseIDs {
		if err := ctx.Err(); err != nil {
			failed = append(failed, manifest.ExpenseIDs[i:]...)
			cause = err
			break
		}
		ok, err := s.expenses.DeleteExpense(ctx, id, userID)
		switch {
		case err != nil:
			s.logger.Warn("rollback delete failed", "token", token, "expense_id", id, "error", err)
			failed = append(failed, id)
			cause = errors.Join(cause, err)
		case ok:
			result.DeletedCount++
		default:
			result.AlreadyMissing++
		}
	}

	if len(failed) > 0 {
		result.FailedIDs = failed
		manifest.ExpenseIDs = failed
		manifest.Status = ManifestFailed
		manifest.LastError = cause.Error()
		manifest.UpdatedAt = s.now()
		if err := s.sessions.SaveManifest(context.WithoutCancel(ctx), manifest); err != nil {
			s.logger.Error("failed to save manifest after partial rollback", "token", token, "error", err)
		}
		s.logAudit(ctx, AuditLogParams{
			Action:        ActionRollbackPartial,
			UserID:        userID,
			UploadID:      manifest.UploadID,
			ImportID:      manifest.ImportID,
			RollbackToken: token,
			RowsAffected:  result.DeletedCount,
			Reason:        cause.Error(),
		})
		return result, &RollbackError{Token: token, FailedIDs: failed, Err: cause}
	}

	if err := s.sessions.DeleteManifest(ctx, token); err != nil && !errors.Is(err, ErrManifestNotFound) {
		return nil, fmt.Errorf("delete rollback manifest: %w", err)
	}
	result.Success = true
	s.markRolledBack(ctx, manifest)
	s.logAudit(ctx, AuditLogParams{
		Action:        ActionRollback,
		UserID:        userID,
		UploadID:      manifest.UploadID,
		ImportID:      manifest.ImportID,
		RollbackToken: token,
		RowsAffected:  result.DeletedCount,
	})

	s.logger.Info("import rolled back",
		"token", token,
		"import_id", manifest.ImportID,
		"upload_id", manifest.UploadID,
		"user_id", userID,
		"deleted", result.DeletedCount,
		"already_missing", result.AlreadyMissing,
	)
	return result, nil
}

// markRolledBack updates the history entry and the upload record, if still
// present, so the spent token is no longer offered.
func (s *Service) markRolledBack(ctx context.Context, manifest *RollbackManifest) {
	entry, err := s.sessions.GetHistory(ctx, manifest.UploadID)
	if err != nil {
		s.logger.Warn("failed to load history entry", "upload_id", manifest.UploadID, "error", err)
	} else if entry != nil {
		entry.Status = StatusRolledBack
		entry.RollbackToken = ""
		if err := s.sessions.SaveHistory(ctx, entry); err != nil {
			s.logger.Warn("failed to update history entry", "upload_id", manifest.UploadID, "error", err)
		}
	}

	rec, err := s.sessions.GetUpload(ctx, manifest.UploadID)
	if err != nil {
		return
	}
	rec.RollbackToken = ""
	rec.UpdatedAt = s.now()
	if err := s.sessions.SaveUpload(ctx, rec); err != nil {
		s.logger.Warn("failed to clear rollback token", "upload_id", rec.ID, "error", err)
	}
}
