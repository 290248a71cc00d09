package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/taxledger/internal/api/middleware"
	"github.com/dvloznov/taxledger/internal/apperr"
	"github.com/dvloznov/taxledger/internal/archive"
	"github.com/dvloznov/taxledger/internal/classify"
	"github.com/dvloznov/taxledger/internal/jobs"
	jobsinmem "github.com/dvloznov/taxledger/internal/jobs/inmemory"
	"github.com/dvloznov/taxledger/internal/ledger"
	"github.com/dvloznov/taxledger/internal/pipeline"
)

type mockService struct {
	mock.Mock
}

func (m *mockService) AnalyzeDocument(ctx context.Context, session, documentType, text string) (*pipeline.IngestResult, error) {
	args := m.Called(ctx, session, documentType, text)
	res, _ := args.Get(0).(*pipeline.IngestResult)
	return res, args.Error(1)
}

func (m *mockService) SubmitForm(ctx context.Context, session, documentType string, fields []string, values map[string]string) (*pipeline.IngestResult, error) {
	args := m.Called(ctx, session, documentType, fields, values)
	res, _ := args.Get(0).(*pipeline.IngestResult)
	return res, args.Error(1)
}

func (m *mockService) Result(ctx context.Context, session string) (*classify.Result, error) {
	args := m.Called(ctx, session)
	res, _ := args.Get(0).(*classify.Result)
	return res, args.Error(1)
}

func (m *mockService) Analyze(ctx context.Context, session, kind string) (*pipeline.AnalysisResult, error) {
	args := m.Called(ctx, session, kind)
	res, _ := args.Get(0).(*pipeline.AnalysisResult)
	return res, args.Error(1)
}

func (m *mockService) Debug(ctx context.Context, session string) ([]ledger.DebugEntry, error) {
	args := m.Called(ctx, session)
	res, _ := args.Get(0).([]ledger.DebugEntry)
	return res, args.Error(1)
}

func (m *mockService) DeleteSession(ctx context.Context, session string) error {
	return m.Called(ctx, session).Error(0)
}

// staticSessions accepts any non-empty id and issues "new-session" otherwise.
type staticSessions struct {
	err error
}

func (s staticSessions) EnsureSession(ctx context.Context, session string) (string, bool, error) {
	if s.err != nil {
		return "", false, s.err
	}
	if session == "" {
		return "new-session", true, nil
	}
	return session, false, nil
}

func newTestRouter(svc LedgerService, store jobs.JobStore) http.Handler {
	return NewRouter(RouterConfig{
		Service:  svc,
		Sessions: staticSessions{},
		Jobs:     store,
		Session:  middleware.SessionOptions{TTL: 24 * time.Hour},
		Log:      zerolog.Nop(),
	})
}

func do(t *testing.T, h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func jsonRequest(method, path string, body interface{}) *http.Request {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.SessionHeader, "s1")
	return req
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newTestRouter(&mockService{}, nil), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestSession_IssuesGuestCookie(t *testing.T) {
	svc := &mockService{}
	svc.On("Result", mock.Anything, "new-session").Return(nil, apperr.ErrNoData)

	rec, _ := do(t, newTestRouter(svc, nil), httptest.NewRequest(http.MethodGet, "/api/result", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "new-session", rec.Header().Get(middleware.SessionHeader))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "session_id", cookies[0].Name)
	assert.Equal(t, "new-session", cookies[0].Value)
	assert.Equal(t, 86400, cookies[0].MaxAge)
	svc.AssertExpectations(t)
}

func TestSession_CookieWinsOverHeader(t *testing.T) {
	svc := &mockService{}
	svc.On("DeleteSession", mock.Anything, "from-cookie").Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.Header.Set(middleware.SessionHeader, "from-header")
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "from-cookie"})

	rec, body := do(t, newTestRouter(svc, nil), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	svc.AssertExpectations(t)
}

func TestSession_StoreUnavailable(t *testing.T) {
	h := NewRouter(RouterConfig{
		Service:  &mockService{},
		Sessions: staticSessions{err: apperr.Unavailable("Exists", errors.New("dial tcp"))},
		Log:      zerolog.Nop(),
	})
	rec, _ := do(t, h, httptest.NewRequest(http.MethodGet, "/api/result", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAnalyzeDocument_JSON(t *testing.T) {
	svc := &mockService{}
	svc.On("AnalyzeDocument", mock.Anything, "s1", "소득", "원천징수영수증").
		Return(&pipeline.IngestResult{RunID: "r1", Items: map[string]string{"급여": "3000000"}}, nil)

	rec, body := do(t, newTestRouter(svc, nil), jsonRequest(http.MethodPost, "/api/documents/analyze",
		map[string]string{"document_type": "소득", "text": "원천징수영수증"}))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	result := body["result"].(map[string]interface{})
	assert.Equal(t, "r1", result["run_id"])
	svc.AssertExpectations(t)
}

func TestAnalyzeDocument_Multipart(t *testing.T) {
	svc := &mockService{}
	svc.On("AnalyzeDocument", mock.Anything, "s1", "지출", "카드 명세서").
		Return(&pipeline.IngestResult{RunID: "r2"}, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("document_type", "지출"))
	fw, err := mw.CreateFormFile("file", "statement.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte("카드 명세서"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents/analyze", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(middleware.SessionHeader, "s1")

	rec, _ := do(t, newTestRouter(svc, nil), req)
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestAnalyzeDocument_BadRequests(t *testing.T) {
	h := newTestRouter(&mockService{}, nil)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing document type", map[string]string{"text": "abc"}},
		{"empty text", map[string]string{"document_type": "소득", "text": "  "}},
		{"not an object", []int{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, h, jsonRequest(http.MethodPost, "/api/documents/analyze", tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"extraction empty", apperr.ErrExtractionEmpty, http.StatusOK},
		{"no data", apperr.ErrNoData, http.StatusNotFound},
		{"invalid input", apperr.ErrInvalidInput, http.StatusBadRequest},
		{"upstream", apperr.Unavailable("Ask", errors.New("timeout")), http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockService{}
			svc.On("AnalyzeDocument", mock.Anything, "s1", "소득", "x").Return(nil, tt.err)

			rec, body := do(t, newTestRouter(svc, nil), jsonRequest(http.MethodPost, "/api/documents/analyze",
				map[string]string{"document_type": "소득", "text": "x"}))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, false, body["success"])
		})
	}
}

func TestSubmitForm_KeepsFieldOrder(t *testing.T) {
	svc := &mockService{}
	svc.On("SubmitForm", mock.Anything, "s1", "지출",
		[]string{"월세", "보험료"},
		map[string]string{"월세": "700000", "보험료": "100000"}).
		Return(&pipeline.IngestResult{RunID: "r3"}, nil)

	rec, _ := do(t, newTestRouter(svc, nil), jsonRequest(http.MethodPost, "/api/documents/form", map[string]interface{}{
		"document_type": "지출",
		"items": []FormItem{
			{Field: "월세", Amount: "600000"},
			{Field: "보험료", Amount: "100000"},
			{Field: "월세", Amount: "700000"},
		},
	}))
	assert.Equal(t, http.StatusOK, rec.Code)
	svc.AssertExpectations(t)
}

func TestAnalysisAndResult(t *testing.T) {
	svc := &mockService{}
	svc.On("Analyze", mock.Anything, "s1", "tax-credit").
		Return(&pipeline.AnalysisResult{Kind: "tax-credit", Answer: "연금계좌", Cached: true}, nil)
	svc.On("Result", mock.Anything, "s1").
		Return(&classify.Result{Summary: classify.Summary{TotalIncome: 100, Status: classify.StatusSurplus}}, nil)
	h := newTestRouter(svc, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/analysis/tax-credit", nil)
	req.Header.Set(middleware.SessionHeader, "s1")
	rec, body := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["result"].(map[string]interface{})["cached"])

	req = httptest.NewRequest(http.MethodGet, "/api/result", nil)
	req.Header.Set(middleware.SessionHeader, "s1")
	rec, body = do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := body["result"].(map[string]interface{})["summary"].(map[string]interface{})
	assert.Equal(t, float64(100), summary["total_income"])
	svc.AssertExpectations(t)
}

func TestDebug(t *testing.T) {
	svc := &mockService{}
	svc.On("Debug", mock.Anything, "s1").Return([]ledger.DebugEntry{
		{CipherKey: ledger.SystemField, Value: "[REDACTED]"},
		{CipherKey: "abc", Key: "소득:급여", Value: "1", Encrypted: true},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/debug/ledger", nil)
	req.Header.Set(middleware.SessionHeader, "s1")
	rec, body := do(t, newTestRouter(svc, nil), req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), body["total_fields"])
	assert.Equal(t, "s1", body["session_id"])
}

func TestJobs_ScopedToSession(t *testing.T) {
	ctx := context.Background()
	store := jobsinmem.NewStore()
	require.NoError(t, store.SaveJob(ctx, &jobs.ArchiveJob{JobID: "mine", SessionHash: archive.HashSession("s1"), CreatedAt: time.Now()}))
	require.NoError(t, store.SaveJob(ctx, &jobs.ArchiveJob{JobID: "theirs", SessionHash: archive.HashSession("s2"), CreatedAt: time.Now()}))
	h := newTestRouter(&mockService{}, store)

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set(middleware.SessionHeader, "s1")
	rec, body := do(t, h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["count"])

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/theirs", nil)
	req.Header.Set(middleware.SessionHeader, "s1")
	rec, _ = do(t, h, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/jobs/mine", nil)
	req.Header.Set(middleware.SessionHeader, "s1")
	rec, body = do(t, h, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mine", body["job_id"])
}

func TestRecovery(t *testing.T) {
	h := middleware.Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec, body := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", body["error"])
}
