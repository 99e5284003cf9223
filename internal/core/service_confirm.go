package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/frno10/ExpenseTracker-sub000/internal/expense"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
)

// Confirm imports the selected rows of a parsed upload as expenses.
//
// Rows the matcher marks as likely duplicates are skipped. Rows that fail
// individually are reported in ImportResult.Errors and the rest continue.
// A fatal error (cancellation, lookup failure, panic) aborts the import and
// removes what it created, so either the whole batch is recorded in a
// rollback manifest or none of it is.
//
// If the import succeeded but recording the upload as imported failed, both
// the result and the error are returned.
func (s *Service) Confirm(ctx context.Context, userID, uploadID string, req ConfirmRequest) (*ImportResult, error) {
	unlock := s.locks.Lock(uploadID)
	defer unlock()

	rec, err := s.loadUpload(ctx, userID, uploadID)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case StatusImported:
		return nil, fmt.Errorf("%w: upload %s (import %s)", ErrAlreadyImported, rec.ID, rec.ImportID)
	case StatusFailed:
		return nil, fmt.Errorf("%w: upload %s failed validation or parsing", ErrInvalidState, rec.ID)
	}

	res, err := s.parseUpload(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: upload %s could not be parsed", ErrInvalidState, rec.ID)
	}

	indices, err := selectIndices(req.SelectedIndices, len(res.Transactions))
	if err != nil {
		return nil, err
	}

	release, err := s.limiter.Acquire(ctx, rec.ID, StageConfirm)
	if err != nil {
		return nil, err
	}
	defer release()

	matches, err := s.matcher.Analyze(ctx, userID, res.Transactions, indices)
	if err != nil {
		return nil, err
	}

	now := s.now()
	manifest := &RollbackManifest{
		Token:      s.opts.NewID(),
		ImportID:   s.opts.NewID(),
		UploadID:   rec.ID,
		UserID:     userID,
		ExpenseIDs: []string{},
		Status:     ManifestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.sessions.SaveManifest(ctx, manifest); err != nil {
		return nil, fmt.Errorf("save rollback manifest: %w", err)
	}

	result := &ImportResult{ImportID: manifest.ImportID, UploadID: rec.ID}
	run := &importRun{
		svc:       s,
		userID:    userID,
		req:       req,
		manifest:  manifest,
		result:    result,
		merchants: make(map[string]*expense.Merchant),
	}

	if txr, ok := s.expenses.(Transactor); ok {
		err = txr.InTx(ctx, func(tx expense.Store) error {
			return run.execute(ctx, tx, matches)
		})
		if err != nil {
			// The transaction rolled back, so none of the listed ids exist.
			s.dropManifest(ctx, manifest)
			s.auditAborted(ctx, manifest, 0, err)
			s.logger.Error("import rolled back", "import_id", manifest.ImportID, "upload_id", rec.ID, "error", err)
			return nil, fmt.Errorf("import %s rolled back: %w", manifest.ImportID, err)
		}
	} else if err := run.execute(ctx, s.expenses, matches); err != nil {
		return nil, s.compensate(ctx, manifest, err)
	}

	result.ImportedCount = len(manifest.ExpenseIDs)
	result.Success = true

	if result.ImportedCount == 0 {
		s.dropManifest(ctx, manifest)
	} else {
		manifest.Status = ManifestComplete
		manifest.UpdatedAt = s.now()
		if err := s.sessions.SaveManifest(ctx, manifest); err != nil {
			// The pending manifest still lists every id, so rollback works.
			s.logger.Warn("failed to mark manifest complete", "token", manifest.Token, "error", err)
		}
		result.RollbackToken = manifest.Token
	}

	importedAt := s.now()
	rec.Status = StatusImported
	rec.ImportID = manifest.ImportID
	rec.ImportedCount = result.ImportedCount
	rec.RollbackToken = result.RollbackToken
	rec.ImportedAt = &importedAt
	s.discardFiles(ctx, rec)

	s.logAudit(ctx, AuditLogParams{
		Action:        ActionImport,
		UserID:        userID,
		UploadID:      rec.ID,
		ImportID:      manifest.ImportID,
		RollbackToken: result.RollbackToken,
		FileName:      rec.FileName,
		RowsAffected:  result.ImportedCount,
	})
	s.logger.Info("import completed",
		"upload_id", rec.ID,
		"user_id", userID,
		"import_id", manifest.ImportID,
		"imported", result.ImportedCount,
		"skipped", result.SkippedCount,
		"duplicates", result.DuplicateCount,
	)

	if err := s.saveUpload(ctx, rec); err != nil {
		return result, fmt.Errorf("record import: %w", err)
	}
	return result, nil
}

// compensate deletes the expenses an aborted import created. Ids that
// cannot be deleted stay in a failed manifest for a later rollback.
func (s *Service) compensate(ctx context.Context, manifest *RollbackManifest, cause error) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	var remaining []string
	for _, id := range manifest.ExpenseIDs {
		if _, err := s.expenses.DeleteExpense(cctx, id, manifest.UserID); err != nil {
			s.logger.Error("failed to undo imported expense", "import_id", manifest.ImportID, "expense_id", id, "error", err)
			remaining = append(remaining, id)
		}
	}

	s.auditAborted(cctx, manifest, len(remaining), cause)
	if len(remaining) == 0 {
		s.dropManifest(cctx, manifest)
		s.logger.Warn("import aborted", "import_id", manifest.ImportID, "undone", len(manifest.ExpenseIDs), "error", cause)
		return fmt.Errorf("import %s aborted: %w", manifest.ImportID, cause)
	}

	manifest.ExpenseIDs = remaining
	manifest.Status = ManifestFailed
	manifest.LastError = cause.Error()
	manifest.UpdatedAt = s.now()
	if err := s.sessions.SaveManifest(cctx, manifest); err != nil {
		s.logger.Error("failed to save manifest of aborted import", "token", manifest.Token, "error", err)
	}
	return fmt.Errorf("import %s aborted; %d expense(s) remain under rollback token %s: %w",
		manifest.ImportID, len(remaining), manifest.Token, cause)
}

// auditAborted records an import that did not complete. remaining is the
// number of expenses still waiting for a rollback.
func (s *Service) auditAborted(ctx context.Context, manifest *RollbackManifest, remaining int, cause error) {
	params := AuditLogParams{
		Action:       ActionImportAborted,
		UserID:       manifest.UserID,
		UploadID:     manifest.UploadID,
		ImportID:     manifest.ImportID,
		RowsAffected: remaining,
		Reason:       cause.Error(),
	}
	if remaining > 0 {
		params.RollbackToken = manifest.Token
	}
	s.logAudit(ctx, params)
}

func (s *Service) dropManifest(ctx context.Context, manifest *RollbackManifest) {
	if err := s.sessions.DeleteManifest(context.WithoutCancel(ctx), manifest.Token); err != nil && !errors.Is(err, ErrManifestNotFound) {
		s.logger.Warn("failed to delete manifest", "token", manifest.Token, "error", err)
	}
}

// importRun carries the state of one Confirm batch.
type importRun struct {
	svc       *Service
	userID    string
	req       ConfirmRequest
	manifest  *RollbackManifest
	result    *ImportResult
	merchants map[string]*expense.Merchant
}

// execute creates an expense per non-duplicate match. It returns an error
// only for fatal failures; a panic is converted into one.
func (r *importRun) execute(ctx context.Context, store expense.Store, matches []TransactionMatch) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("import panicked: %v", p)
		}
	}()

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.IsLikelyDuplicate {
			r.result.DuplicateCount++
			continue
		}

		in, err := r.newExpense(ctx, m.Transaction)
		if err == nil {
			var created *expense.Expense
			created, err = store.CreateExpense(ctx, r.userID, in)
			if err == nil {
				if err := r.record(ctx, created.ID); err != nil {
					return err
				}
				continue
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.rowFailed(m.Index, m.Transaction, err)
	}
	return nil
}

// record adds a created expense to the manifest and persists it.
func (r *importRun) record(ctx context.Context, expenseID string) error {
	r.manifest.ExpenseIDs = append(r.manifest.ExpenseIDs, expenseID)
	r.manifest.UpdatedAt = r.svc.now()
	if err := r.svc.sessions.SaveManifest(ctx, r.manifest); err != nil {
		return fmt.Errorf("save rollback manifest: %w", err)
	}
	return nil
}

func (r *importRun) rowFailed(index int, tx parser.ParsedTransaction, err error) {
	rowErr := &ImportRowError{Index: index, Description: tx.Description, Err: err}
	r.result.SkippedCount++
	r.result.Errors = append(r.result.Errors, rowErr.Error())
	r.svc.logger.Debug("import row skipped", "import_id", r.manifest.ImportID, "row", index, "error", err)
}

// fallbackDescription labels rows whose statement carried no description,
// merchant or reference.
const fallbackDescription = "Imported transaction"

// expenseDescription picks the first non-empty of the description, the
// merchant and the reference.
func expenseDescription(tx parser.ParsedTransaction, merchant string) string {
	for _, s := range []string{tx.Description, merchant, tx.Reference} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return fallbackDescription
}

// newExpense maps a parsed transaction to an expense, applying the
// request's merchant and category mappings.
func (r *importRun) newExpense(ctx context.Context, tx parser.ParsedTransaction) (expense.NewExpense, error) {
	merchantName := strings.TrimSpace(tx.Merchant)
	if mapped, ok := lookupMapping(r.req.MerchantMappings, merchantName, tx.Description); ok {
		merchantName = mapped
	}
	category := strings.TrimSpace(tx.Category)
	if mapped, ok := lookupMapping(r.req.CategoryMappings, category); ok {
		category = mapped
	}

	in := expense.NewExpense{
		Date:        tx.Date,
		Description: expenseDescription(tx, merchantName),
		Amount:      tx.Amount,
		Merchant:    merchantName,
		Account:     tx.Account,
		Reference:   tx.Reference,
		Notes:       tx.Notes,
		ImportID:    r.manifest.ImportID,
	}

	if merchantName != "" {
		m, err := r.resolveMerchant(ctx, merchantName, category)
		if err != nil {
			return expense.NewExpense{}, err
		}
		in.MerchantID = m.ID
		if category == "" {
			category = m.DefaultCategory
		}
	}

	in.Category = category
	if category != "" && r.svc.categories != nil {
		c, err := r.svc.categories.FindByName(ctx, category, r.userID)
		if err != nil {
			return expense.NewExpense{}, fmt.Errorf("find category %q: %w", category, err)
		}
		if c != nil {
			in.CategoryID = c.ID
			in.Category = c.Name
		}
	}
	return in, nil
}

// resolveMerchant finds or creates a merchant, caching per batch.
func (r *importRun) resolveMerchant(ctx context.Context, name, category string) (*expense.Merchant, error) {
	key := strings.ToLower(name)
	if m, ok := r.merchants[key]; ok {
		return m, nil
	}

	m, err := r.svc.merchants.FindByName(ctx, name, r.userID)
	if err != nil {
		return nil, fmt.Errorf("find merchant %q: %w", name, err)
	}
	if m == nil {
		m, err = r.svc.merchants.Create(ctx, r.userID, name, category)
		if err != nil {
			return nil, fmt.Errorf("create merchant %q: %w", name, err)
		}
	}
	r.merchants[key] = m
	return m, nil
}

// lookupMapping returns the mapping of the first non-empty key present.
func lookupMapping(mappings map[string]string, keys ...string) (string, bool) {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if v, ok := mappings[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
