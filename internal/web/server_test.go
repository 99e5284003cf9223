package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frno10/ExpenseTracker-sub000/internal/config"
	"github.com/frno10/ExpenseTracker-sub000/internal/core"
	"github.com/frno10/ExpenseTracker-sub000/internal/expense"
	"github.com/frno10/ExpenseTracker-sub000/internal/parser"
	"github.com/frno10/ExpenseTracker-sub000/internal/store"
)

const statementCSV = "Date,Description,Amount\n" +
	"2024-01-05,Coffee Shop,-4.50\n" +
	"2024-01-06,Salary,2000.00\n" +
	"2024-01-06,Coffee Shop,-4.50\n"

type testServer struct {
	*Server
	memory *expense.MemoryStore
}

func newTestServer(t *testing.T, modify ...func(*config.Config)) *testServer {
	t.Helper()
	return newTestServerWithExpenses(t, nil, modify...)
}

// newTestServerWithExpenses lets wrap replace the expense store the service
// writes to. A nil wrap uses the memory store directly.
func newTestServerWithExpenses(t *testing.T, wrap func(*expense.MemoryStore) core.ExpenseStore, modify ...func(*config.Config)) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry, err := parser.NewDefaultRegistry(parser.DefaultConfig(), nil, logger)
	require.NoError(t, err)

	dir := t.TempDir()
	sessions, err := store.NewBoltStore(filepath.Join(dir, "imports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })
	files, err := store.NewLocalStorage(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	memory := expense.NewMemoryStore()
	var expenses core.ExpenseStore = memory
	if wrap != nil {
		expenses = wrap(memory)
	}
	svc, err := core.NewService(core.Deps{
		Registry:   registry,
		Sessions:   sessions,
		Files:      files,
		Expenses:   expenses,
		Merchants:  memory.Merchants(),
		Categories: memory.Categories(),
		Audit:      sessions,
	}, core.Options{MaxFileSize: 1024, Logger: logger})
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
	}
	for _, m := range modify {
		m(cfg)
	}
	return &testServer{Server: NewServer(svc, cfg), memory: memory}
}

// do sends a request as user, who may be empty.
func (s *testServer) do(t *testing.T, method, path, user string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func (s *testServer) upload(t *testing.T, user, name, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("bank_hint", "demo bank"))
	require.NoError(t, mw.Close())
	return s.do(t, http.MethodPost, "/api/imports", user, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestImportFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)

	rec := s.upload(t, "alice", "january.csv", statementCSV)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	up := decode[core.UploadResponse](t, rec)
	assert.Equal(t, "csv", up.DetectedParser)
	assert.Equal(t, core.StatusUploaded, up.Status)

	rec = s.do(t, http.MethodGet, "/api/imports/"+up.UploadID+"/preview", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[core.PreviewResponse](t, rec)
	assert.True(t, preview.Success)
	assert.Equal(t, 3, preview.TransactionCount)

	rec = s.do(t, http.MethodGet, "/api/imports/"+up.UploadID+"/duplicates", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]core.TransactionMatch](t, rec), 3)

	rec = s.do(t, http.MethodPost, "/api/imports/"+up.UploadID+"/confirm", "alice",
		strings.NewReader(`{"selected_indices":[0,2]}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[core.ImportResult](t, rec)
	assert.Equal(t, 2, result.ImportedCount)
	assert.NotEmpty(t, result.RollbackToken)
	assert.Len(t, s.memory.Expenses("alice"), 2)

	rec = s.do(t, http.MethodPost, "/api/imports/"+up.UploadID+"/confirm", "alice", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "IMP001", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/imports?limit=5", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]core.HistoryEntry](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, core.StatusImported, history[0].Status)

	rec = s.do(t, http.MethodPost, "/api/rollbacks/"+result.RollbackToken, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rb := decode[core.RollbackResult](t, rec)
	assert.True(t, rb.Success)
	assert.Equal(t, 2, rb.DeletedCount)
	assert.Empty(t, s.memory.Expenses("alice"))

	rec = s.do(t, http.MethodPost, "/api/rollbacks/"+result.RollbackToken, "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "RB001", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/audit?action=rollback", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	audit := decode[[]core.AuditEntry](t, rec)
	require.Len(t, audit, 1)
	assert.Equal(t, result.RollbackToken, audit[0].RollbackToken)
	assert.NotEmpty(t, audit[0].IPAddress)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/imports", "alice", strings.NewReader("x"), "text/plain")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE004", decode[ErrorResponse](t, rec).Code)

	rec = s.upload(t, "alice", "big.csv", strings.Repeat("a", 4<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "FILE001", decode[ErrorResponse](t, rec).Code)

	rec = s.upload(t, "alice", "photo.png", "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01")
	require.Equal(t, http.StatusCreated, rec.Code)
	up := decode[core.UploadResponse](t, rec)
	assert.Equal(t, core.StatusFailed, up.Status)
	assert.NotEmpty(t, up.ValidationErrors)
}

func TestOwnershipAndMissingUser(t *testing.T) {
	s := newTestServer(t)
	up := decode[core.UploadResponse](t, s.upload(t, "alice", "january.csv", statementCSV))

	rec := s.do(t, http.MethodGet, "/api/imports/"+up.UploadID, "bob", nil, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UPL001", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodGet, "/api/imports/"+up.UploadID, "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/imports/nope", "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UPL003", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodDelete, "/api/imports/"+up.UploadID, "alice", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/imports/"+up.UploadID, "alice", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t)
	up := decode[core.UploadResponse](t, s.upload(t, "alice", "january.csv", statementCSV))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		code   string
	}{
		{"negative limit", http.MethodGet, "/api/imports?limit=-1", "", http.StatusBadRequest, "VAL005"},
		{"bad since", http.MethodGet, "/api/audit?since=yesterday", "", http.StatusBadRequest, "VAL001"},
		{"unknown confirm field", http.MethodPost, "/api/imports/" + up.UploadID + "/confirm", `{"rows":[1]}`, http.StatusBadRequest, "VAL005"},
		{"empty selection", http.MethodPost, "/api/imports/" + up.UploadID + "/confirm", `{"selected_indices":[]}`, http.StatusBadRequest, "VAL004"},
		{"index out of range", http.MethodPost, "/api/imports/" + up.UploadID + "/confirm", `{"selected_indices":[7]}`, http.StatusBadRequest, "VAL004"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, "alice", strings.NewReader(tt.body), "application/json")
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	})

	rec := s.do(t, http.MethodGet, "/api/formats", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/formats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	formats := decode[core.FormatInfo](t, rec)
	assert.Contains(t, formats.Extensions, ".ofx")
	assert.Equal(t, int64(1024), formats.MaxSize)

	rec = s.do(t, http.MethodGet, "/healthz", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code, "health checks skip auth")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{core.ErrUploadNotFound, http.StatusNotFound},
		{core.ErrTooManyUploads, http.StatusServiceUnavailable},
		{core.ErrUnsupportedFormat, http.StatusUnsupportedMediaType},
		{&core.RollbackError{Token: "t", FailedIDs: []string{"e1"}, Err: io.ErrUnexpectedEOF}, http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

// flakyDeletes fails the nth DeleteExpense call, counting from one.
type flakyDeletes struct {
	*expense.MemoryStore
	failCall int

	mu    sync.Mutex
	calls int
}

func (f *flakyDeletes) DeleteExpense(ctx context.Context, id, userID string) (bool, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n == f.failCall {
		return false, errors.New("connection reset by peer")
	}
	return f.MemoryStore.DeleteExpense(ctx, id, userID)
}

func TestPartialRollbackReportsPendingExpenses(t *testing.T) {
	s := newTestServerWithExpenses(t, func(m *expense.MemoryStore) core.ExpenseStore {
		return &flakyDeletes{MemoryStore: m, failCall: 2}
	})

	rec := s.upload(t, "alice", "january.csv", statementCSV)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	up := decode[core.UploadResponse](t, rec)

	rec = s.do(t, http.MethodPost, "/api/imports/"+up.UploadID+"/confirm", "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[core.ImportResult](t, rec)
	require.Equal(t, 3, result.ImportedCount)

	rec = s.do(t, http.MethodPost, "/api/rollbacks/"+result.RollbackToken, "alice", nil, "")
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	body := decode[ErrorResponse](t, rec)
	assert.Equal(t, "RB002", body.Code)
	require.NotNil(t, body.Rollback, "partial result missing from error body")
	assert.False(t, body.Rollback.Success)
	assert.Equal(t, result.RollbackToken, body.Rollback.Token)
	assert.Equal(t, result.ImportID, body.Rollback.ImportID)
	assert.Equal(t, 2, body.Rollback.DeletedCount)
	require.Len(t, body.Rollback.FailedIDs, 1)

	remaining := s.memory.Expenses("alice")
	require.Len(t, remaining, 1)
	assert.Equal(t, body.Rollback.FailedIDs[0], remaining[0].ID)

	rec = s.do(t, http.MethodPost, "/api/rollbacks/"+result.RollbackToken, "alice", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rb := decode[core.RollbackResult](t, rec)
	assert.True(t, rb.Success)
	assert.Equal(t, 1, rb.DeletedCount)
	assert.Empty(t, s.memory.Expenses("alice"))
}

func TestErrorBodyOmitsRollbackForOtherFailures(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/rollbacks/unknown-token", "alice", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"rollback"`)
}
