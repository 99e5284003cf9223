package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/frno10/ExpenseTracker-sub000/internal/core"
	"github.com/frno10/ExpenseTracker-sub000/internal/logging"
	"github.com/frno10/ExpenseTracker-sub000/internal/web/middleware"
)

const (
	// multipartMemory is how much of a multipart form is buffered in memory
	// before spilling to temp files.
	multipartMemory = 8 << 20

	// formOverhead allows for multipart boundaries and small fields on top
	// of the file size limit.
	formOverhead = 1 << 20

	// maxJSONBody caps confirm request bodies.
	maxJSONBody = 1 << 20
)

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status  string                   `json:"status"`
	Limiter core.UploadLimiterStatus `json:"limiter"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Limiter: s.service.LimiterStatus()})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Formats())
}

// handleUpload stores a multipart statement file. The file is streamed to
// the service; size problems past the form limit are reported as 413.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.service.Formats().MaxSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+formOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fmt.Errorf("%w: request exceeds %d bytes", core.ErrFileTooLarge, tooLarge.Limit))
			return
		}
		respondError(w, r, core.ValidationError{Field: "file", Message: "no file provided"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, core.ValidationError{Field: "file", Message: "no file provided"})
		return
	}
	defer file.Close()

	userID := core.UserIDFromContext(r.Context())
	resp, err := s.service.Upload(r.Context(), userID, file, header.Filename, header.Size, r.FormValue("bank_hint"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	middleware.Annotate(r.Context(), "upload_id", resp.UploadID, "parser", resp.DetectedParser,
		"upload_status", resp.Status, "file_bytes", header.Size)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagingParams(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	entries, err := s.service.History(r.Context(), core.UserIDFromContext(r.Context()), limit, offset)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	rec, err := s.service.GetUpload(r.Context(), core.UserIDFromContext(r.Context()), chi.URLParam(r, "uploadID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteUpload(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteUpload(r.Context(), core.UserIDFromContext(r.Context()), chi.URLParam(r, "uploadID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	preview, err := s.service.Preview(r.Context(), core.UserIDFromContext(r.Context()), chi.URLParam(r, "uploadID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	middleware.Annotate(r.Context(), "parser", preview.ParserName, "transactions", preview.TransactionCount)
	writeJSON(w, http.StatusOK, preview)
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	matches, err := s.service.AnalyzeDuplicates(r.Context(), core.UserIDFromContext(r.Context()), chi.URLParam(r, "uploadID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}

// handleConfirm imports the selected rows. An empty body imports every row.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req core.ConfirmRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, r, core.ValidationError{Field: "body", Message: "invalid confirm request: " + err.Error()})
		return
	}

	uploadID := chi.URLParam(r, "uploadID")
	result, err := s.service.Confirm(r.Context(), core.UserIDFromContext(r.Context()), uploadID, req)
	if err != nil {
		if result == nil {
			respondError(w, r, err)
			return
		}
		// The expenses exist and the rollback token is valid; only the
		// bookkeeping after the import failed.
		logging.WithFields(r.Context(), "upload_id", uploadID).Warn("import recorded with errors", "error", err)
	}
	middleware.Annotate(r.Context(), "import_id", result.ImportID,
		"imported", result.ImportedCount, "skipped", result.SkippedCount)
	writeJSON(w, http.StatusOK, result)
}

// handleRollback deletes the expenses of an import. When only some could be
// deleted the error body carries the partial result, including the ids
// still pending, so the client can retry the token.
func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.Rollback(r.Context(), core.UserIDFromContext(r.Context()), chi.URLParam(r, "token"))
	var partial *core.RollbackError
	switch {
	case err != nil && result != nil && errors.As(err, &partial):
		middleware.Annotate(r.Context(), "import_id", result.ImportID,
			"deleted", result.DeletedCount, "pending", len(result.FailedIDs))
		status := statusFor(err)
		body := errorResponse(w, r, err, status)
		body.Rollback = result
		writeJSON(w, status, body)
	case err != nil:
		respondError(w, r, err)
	default:
		middleware.Annotate(r.Context(), "import_id", result.ImportID, "deleted", result.DeletedCount)
		writeJSON(w, http.StatusOK, result)
	}
}

// handleAudit lists the caller's audit entries. Optional query parameters:
// action, since and until (RFC 3339), limit and offset.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pagingParams(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	filter := core.AuditLogFilter{
		Action: core.AuditAction(r.URL.Query().Get("action")),
		Limit:  limit,
		Offset: offset,
	}
	if filter.StartTime, err = timeParam(r, "since"); err != nil {
		respondError(w, r, err)
		return
	}
	if filter.EndTime, err = timeParam(r, "until"); err != nil {
		respondError(w, r, err)
		return
	}

	entries, err := s.service.AuditLog(r.Context(), core.UserIDFromContext(r.Context()), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// pagingParams reads limit and offset. Missing values are zero, which the
// service replaces with its defaults.
func pagingParams(r *http.Request) (limit, offset int, err error) {
	if limit, err = intParam(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = intParam(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func intParam(r *http.Request, name string) (int, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return 0, core.ValidationError{Field: name, Value: val, Message: "must be a non-negative integer"}
	}
	return i, nil
}

func timeParam(r *http.Request, name string) (time.Time, error) {
	val := r.URL.Query().Get(name)
	if val == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, core.ValidationError{Field: name, Value: val, Message: "invalid date: use RFC 3339"}
	}
	return t, nil
}
