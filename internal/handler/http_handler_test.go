package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/client"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

type testServer struct {
	router   chi.Router
	verifier *TokenVerifier
	bills    *service.BillService
	approval *service.ApprovalService
	store    *repository.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	planner, err := service.NewStepPlanner("accountant", []string{"approver1", "approver2"}, `^approver\d+$`)
	require.NoError(t, err)

	store := repository.NewMemoryStore([]string{"approver1", "approver2"}, []repository.User{
		{ID: "u7", Name: "Ada", Role: "approver1"},
	})
	attachments, err := client.NewAttachmentStore(t.Context(), t.TempDir(), "/uploads")
	require.NoError(t, err)

	log := logger.Nop()
	locks := service.NewBillLocks()
	policy := service.AttachmentPolicy{MaxFiles: 5, MaxFileSize: 10 << 20, Extensions: []string{".jpg", ".jpeg", ".png", ".webp"}}

	bills := service.NewBillService(store, store, attachments, nil, planner, locks, policy, log)
	approvals := service.NewApprovalService(store, store, store, attachments, store, nil, planner, locks, service.ApprovalOptions{}, log)
	settings := service.NewSettingsService(store, planner, "admin", log)
	verifier := NewTokenVerifier("test-secret")

	h := NewHTTPHandler(bills, approvals, settings, verifier, UploadOptions{
		PublicPrefix:   "/uploads",
		Root:           attachments.Root(),
		MaxRequestSize: 60 << 20,
	}, log)

	r := chi.NewRouter()
	h.Routes(r)
	return &testServer{router: r, verifier: verifier, bills: bills, approval: approvals, store: store}
}

func (s *testServer) token(t *testing.T, id, role string) string {
	t.Helper()
	tok, err := s.verifier.issue(id, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHTTP_pingAndMe(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/me", s.token(t, "u1", "staff"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"u1","role":"staff"}`, rec.Body.String())
}

func TestHTTP_authErrors(t *testing.T) {
	s := newTestServer(t)

	other := NewTokenVerifier("other-secret")
	forged, err := other.issue("u1", "staff", time.Hour)
	require.NoError(t, err)

	expired, err := s.verifier.issue("u1", "staff", -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic abc"},
		{"bad signature", "Bearer " + forged},
		{"expired", "Bearer " + expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/bill", strings.NewReader(`{}`))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			var body map[string]string
			decodeBody(t, rec, &body)
			assert.Equal(t, "UNAUTHORIZED", body["code"])
		})
	}
}

func TestHTTP_billLifecycle(t *testing.T) {
	s := newTestServer(t)
	staff := s.token(t, "u1", "staff")
	approver1 := s.token(t, "u7", "approver1")

	rec := s.do(t, http.MethodPost, "/api/bill", staff, map[string]interface{}{
		"title": "Taxi", "amount": 42.5, "category": "Travel", "date": "2024-05-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var bill repository.Bill
	decodeBody(t, rec, &bill)
	assert.Equal(t, "42.5", bill.Amount.String())
	assert.Equal(t, []string{"approver1", "approver2", "accountant"}, bill.Steps)

	rec = s.do(t, http.MethodGet, "/api/todos/approver1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var todos []repository.Bill
	decodeBody(t, rec, &todos)
	require.Len(t, todos, 1)
	assert.Equal(t, bill.ID, todos[0].ID)

	rec = s.do(t, http.MethodPost, "/api/bill/approve", approver1, map[string]string{"id": bill.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &bill)
	assert.Equal(t, 1, bill.CurrentStepIndex)

	rec = s.do(t, http.MethodPost, "/api/bill/reject", s.token(t, "u8", "approver2"), map[string]string{"id": bill.ID, "reason": "receipt"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &bill)
	assert.Equal(t, 0, bill.CurrentStepIndex)
	assert.Equal(t, "Ada(u7)", bill.History[len(bill.History)-1].DemoteTo)

	rec = s.do(t, http.MethodPost, "/api/bill/reject", approver1, map[string]string{"id": bill.ID, "reason": "no"})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &bill)
	assert.Equal(t, repository.StatusRejected, bill.Status)

	rec = s.do(t, http.MethodPost, "/api/bill/approve", approver1, map[string]string{"id": bill.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/bill/resubmit", s.token(t, "u2", "staff"), map[string]interface{}{"id": bill.ID})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/bill/resubmit", staff, map[string]interface{}{
		"id": bill.ID, "updates": map[string]interface{}{"amount": "50"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var forked repository.Bill
	decodeBody(t, rec, &forked)
	require.NotNil(t, forked.RelatedID)
	assert.Equal(t, bill.ID, *forked.RelatedID)

	rec = s.do(t, http.MethodGet, "/api/bill/"+bill.ID+"/edits", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var edits []repository.BillEdit
	decodeBody(t, rec, &edits)
	require.Len(t, edits, 1)
	assert.Equal(t, []repository.FieldChange{{Field: "amount", Before: "42.5", After: "50"}}, edits[0].Diff.Changed)

	rec = s.do(t, http.MethodGet, "/api/bill/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTP_invalidBody(t *testing.T) {
	s := newTestServer(t)
	staff := s.token(t, "u1", "staff")

	rec := s.do(t, http.MethodPost, "/api/bill", staff, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/bill", staff, map[string]string{"amount": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, "INVALID_INPUT", body["code"])
	assert.Equal(t, "amount", body["field"])
}

func TestHTTP_settings(t *testing.T) {
	s := newTestServer(t)
	adminTok := s.token(t, "root", "admin")

	rec := s.do(t, http.MethodGet, "/api/approval-order", "", nil)
	assert.JSONEq(t, `["approver1","approver2"]`, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/approval-order", s.token(t, "u1", "staff"), map[string]interface{}{"order": []string{"approver2"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/approval-order", adminTok, map[string]interface{}{"order": []string{"approver2", "approver1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/approval-order", "", nil)
	assert.JSONEq(t, `["approver2","approver1"]`, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/setting/approvalThresholds", adminTok, `{"approver1": 100, "approver2": "2500.50"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/setting/approvalThresholds", adminTok, `{"thresholds": {"approver1": 300}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/setting/approvalThresholds", "", nil)
	assert.JSONEq(t, `{"approver1":"300"}`, rec.Body.String())

	rec = s.do(t, http.MethodPut, "/api/setting/approvalThresholds", adminTok, `{"approver1": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, "/api/setting/approvalThresholds", adminTok, `{"approver1": "lots"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTP_uploadAndServe(t *testing.T) {
	s := newTestServer(t)
	staff := s.token(t, "u1", "staff")

	rec := s.do(t, http.MethodPost, "/api/bill", staff, map[string]string{"title": "Lunch"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var bill repository.Bill
	decodeBody(t, rec, &bill)

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, uploadRequest(t, bill.ID, staff, "notes.png", "text/html", "<p>hi</p>"))
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, uploadRequest(t, bill.ID, staff, "receipt.png", "image/png", "fake-png"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		OK     bool     `json:"ok"`
		Images []string `json:"images"`
	}
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Images, 1)
	assert.True(t, strings.HasPrefix(resp.Images[0], "/uploads/bills/"+bill.ID+"/"))
	assert.True(t, strings.HasSuffix(resp.Images[0], ".png"))

	rec = s.do(t, http.MethodGet, resp.Images[0], "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "fake-png", rec.Body.String())

	rec = s.do(t, http.MethodDelete, "/api/bill/"+bill.ID, staff, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, resp.Images[0], "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func uploadRequest(t *testing.T, billID, token, filename, contentType, body string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="images"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/bill/"+billID+"/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"12.5"`, "12.5"},
		{`12.50`, "12.50"},
		{`null`, ""},
		{`7`, "7"},
	}
	for _, tt := range tests {
		var f flexString
		require.NoError(t, json.Unmarshal([]byte(tt.in), &f))
		assert.Equal(t, tt.want, string(f))
	}

	var f flexString
	assert.Error(t, json.Unmarshal([]byte(`{}`), &f))
}
