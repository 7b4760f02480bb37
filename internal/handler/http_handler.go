package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	bills     *service.BillService
	approvals *service.ApprovalService
	settings  *service.SettingsService
	auth      *TokenVerifier
	uploads   UploadOptions
	log       *logger.Logger
}

// UploadOptions configures multipart uploads and the static file route.
type UploadOptions struct {
	// PublicPrefix is the URL prefix images are served under, e.g. /uploads.
	PublicPrefix string
	// Root is the local directory behind PublicPrefix. Empty disables serving.
	Root string
	// MaxRequestSize bounds the whole multipart body.
	MaxRequestSize int64
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	bills *service.BillService,
	approvals *service.ApprovalService,
	settings *service.SettingsService,
	auth *TokenVerifier,
	uploads UploadOptions,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		bills:     bills,
		approvals: approvals,
		settings:  settings,
		auth:      auth,
		uploads:   uploads,
		log:       log,
	}
}

// Routes registers every endpoint on r.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.Ping)
		r.Get("/approval-order", h.GetApprovalOrder)
		r.Get("/setting/approvalThresholds", h.GetThresholds)
		r.Get("/bills", h.ListBills)
		r.Get("/bills/archived", h.ListArchived)
		r.Get("/todos/{role}", h.ListTodos)
		r.Get("/bill/{id}", h.GetBill)
		r.Get("/bill/{id}/edits", h.GetEdits)

		r.Group(func(r chi.Router) {
			r.Use(h.auth.Authenticate)
			r.Get("/me", h.Me)
			r.Post("/approval-order", h.SetApprovalOrder)
			r.Put("/setting/approvalThresholds", h.SetThresholds)
			r.Post("/bill", h.CreateBill)
			r.Post("/bill/approve", h.Approve)
			r.Post("/bill/reject", h.Reject)
			r.Post("/bill/resubmit", h.Resubmit)
			r.Delete("/bill/{id}", h.DeleteBill)
			r.Post("/bill/{id}/upload", h.Upload)
		})
	})

	if h.uploads.Root != "" && h.uploads.PublicPrefix != "" {
		prefix := strings.TrimRight(h.uploads.PublicPrefix, "/")
		r.Handle(prefix+"/*", http.StripPrefix(prefix, http.FileServer(http.Dir(h.uploads.Root))))
	}
}

// ── Health ────────────────────────────────────────────────────────────────────

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ping answers {ok: true}.
func (h *HTTPHandler) Ping(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Me echoes the caller identity from the token.
func (h *HTTPHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": caller.ID, "role": caller.Role})
}

// ── Settings ──────────────────────────────────────────────────────────────────

// GetApprovalOrder returns the role order as a JSON array.
func (h *HTTPHandler) GetApprovalOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.settings.GetRoleOrder(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// SetApprovalOrder replaces the role order.
func (h *HTTPHandler) SetApprovalOrder(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Order []string `json:"order"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	order, err := h.settings.SetRoleOrder(r.Context(), caller, req.Order)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "order": order})
}

// GetThresholds returns the threshold policy as a role → amount object.
func (h *HTTPHandler) GetThresholds(w http.ResponseWriter, r *http.Request) {
	thresholds, err := h.settings.GetThresholds(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, thresholds)
}

// SetThresholds replaces the threshold policy. The body is either a role →
// amount object or {"thresholds": {...}}.
func (h *HTTPHandler) SetThresholds(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, err)
		return
	}
	if nested, ok := raw["thresholds"]; ok {
		raw = nil
		if err := json.Unmarshal(nested, &raw); err != nil {
			writeError(w, errors.InvalidInput("thresholds", "thresholds must be an object"))
			return
		}
	}

	thresholds := make(map[string]decimal.Decimal, len(raw))
	for role, v := range raw {
		var amount flexString
		if err := json.Unmarshal(v, &amount); err != nil {
			writeError(w, errors.InvalidInput("thresholds", "threshold for "+role+" must be a number"))
			return
		}
		d := decimal.Zero
		if amount != "" {
			d, err = decimal.NewFromString(string(amount))
			if err != nil {
				writeError(w, errors.InvalidInput("thresholds", "threshold for "+role+" must be a number"))
				return
			}
		}
		thresholds[role] = d
	}

	saved, err := h.settings.SetThresholds(r.Context(), caller, thresholds)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// ── Bills ─────────────────────────────────────────────────────────────────────

// ListBills returns all bills, newest first.
func (h *HTTPHandler) ListBills(w http.ResponseWriter, r *http.Request) {
	bills, err := h.bills.ListBills(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

// ListArchived returns archived bills.
func (h *HTTPHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	bills, err := h.bills.ListArchived(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

// ListTodos returns pending bills waiting on the role in the path.
func (h *HTTPHandler) ListTodos(w http.ResponseWriter, r *http.Request) {
	role := strings.TrimSpace(chi.URLParam(r, "role"))
	bills, err := h.bills.ListPendingForRole(r.Context(), role)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bills)
}

// GetBill returns one bill.
func (h *HTTPHandler) GetBill(w http.ResponseWriter, r *http.Request) {
	bill, err := h.bills.GetBill(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

// GetEdits returns the resubmission edits touching a bill.
func (h *HTTPHandler) GetEdits(w http.ResponseWriter, r *http.Request) {
	edits, err := h.approvals.GetEditHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, edits)
}

type createBillBody struct {
	Title    string     `json:"title"`
	Amount   flexString `json:"amount"`
	Category string     `json:"category"`
	Date     string     `json:"date"`
}

// CreateBill handles create bill HTTP requests
func (h *HTTPHandler) CreateBill(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var body createBillBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	bill, err := h.bills.CreateBill(r.Context(), caller, &service.CreateBillRequest{
		Title:    body.Title,
		Amount:   string(body.Amount),
		Category: body.Category,
		Date:     body.Date,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bill)
}

// Approve handles approve HTTP requests
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	bill, err := h.approvals.Approve(r.Context(), caller, req.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

// Reject handles reject HTTP requests
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		ID     string `json:"id"`
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	bill, err := h.approvals.Reject(r.Context(), caller, req.ID, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

type resubmitBody struct {
	ID      string `json:"id"`
	Updates struct {
		Title    *string     `json:"title"`
		Amount   *flexString `json:"amount"`
		Category *string     `json:"category"`
		Date     *string     `json:"date"`
	} `json:"updates"`
}

// Resubmit forks a new bill from a rejected one. The editor is the caller.
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	var body resubmitBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	updates := service.BillUpdates{
		Title:    body.Updates.Title,
		Category: body.Updates.Category,
		Date:     body.Updates.Date,
	}
	if body.Updates.Amount != nil {
		amount := string(*body.Updates.Amount)
		updates.Amount = &amount
	}

	bill, err := h.approvals.Resubmit(r.Context(), caller, body.ID, updates)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bill)
}

// DeleteBill handles delete bill HTTP requests
func (h *HTTPHandler) DeleteBill(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.bills.DeleteBill(r.Context(), caller, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Upload stores the multipart "images" files of a bill.
func (h *HTTPHandler) Upload(w http.ResponseWriter, r *http.Request) {
	caller, err := mustCaller(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if h.uploads.MaxRequestSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxRequestSize)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, errors.InvalidInput("images", "invalid multipart upload"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["images"]
	files := make([]service.ImageUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, errors.InvalidInput("images", "unreadable upload"))
			return
		}
		defer f.Close()
		files = append(files, service.ImageUpload{
			Name:        fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Content:     f,
		})
	}

	bill, err := h.bills.AttachImages(r.Context(), caller, chi.URLParam(r, "id"), files)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "images": bill.Images})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// fail logs unexpected errors and writes the JSON error response.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.CodeOf(err) == errors.ErrCodeInternal {
		h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeError(w, err)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	e := errors.As(err)
	body := map[string]string{"code": string(e.Code), "message": e.Message}
	if e.Field != "" {
		body["field"] = e.Field
	}
	if e.Code == errors.ErrCodeInternal {
		body["message"] = "internal error"
	}
	writeJSON(w, e.HTTPStatus(), body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.InvalidInput("body", "unreadable request body")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.InvalidInput("body", "invalid request body")
	}
	return nil
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
