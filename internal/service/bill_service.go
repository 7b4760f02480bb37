package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/tracing"
)

const (
	// amountScale and maxAmount match the bills.amount NUMERIC(14, 2) column.
	amountScale = 2

	dateLayout      = "2006-01-02"
	defaultTitle    = "Bill"
	defaultCategory = "General"
)

// AttachmentPolicy limits image uploads.
type AttachmentPolicy struct {
	MaxFiles    int
	MaxFileSize int64
	Extensions  []string
}

// BillService handles bill creation, lookup, deletion and attachments.
type BillService struct {
	bills       BillStore
	config      ApprovalConfigStore
	attachments AttachmentStore
	publisher   EventPublisher
	planner     *StepPlanner
	locks       *BillLocks
	policy      AttachmentPolicy
	log         *logger.Logger
	now         func() time.Time
	newID       func() string
}

// NewBillService creates a new bill service
func NewBillService(
	bills BillStore,
	config ApprovalConfigStore,
	attachments AttachmentStore,
	publisher EventPublisher,
	planner *StepPlanner,
	locks *BillLocks,
	policy AttachmentPolicy,
	log *logger.Logger,
) *BillService {
	if publisher == nil {
		publisher = NoopPublisher()
	}
	return &BillService{
		bills:       bills,
		config:      config,
		attachments: attachments,
		publisher:   publisher,
		planner:     planner,
		locks:       locks,
		policy:      policy,
		log:         log,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// CreateBillRequest carries the caller-supplied bill fields. Empty values
// take defaults: amount 0, date today.
type CreateBillRequest struct {
	Title    string
	Amount   string
	Category string
	Date     string
}

// CreateBill plans the approval steps for a new bill and stores it pending at
// the first step.
func (s *BillService) CreateBill(ctx context.Context, caller Caller, req *CreateBillRequest) (bill *repository.Bill, err error) {
	ctx, span := tracing.StartSpan(ctx, "bill.create", map[string]string{"caller.id": caller.ID})
	defer func() { tracing.EndSpan(span, err) }()

	if caller.ID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "caller identity is required")
	}

	now := s.now()
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	date, err := parseDate(req.Date, now)
	if err != nil {
		return nil, err
	}

	order, err := s.config.GetRoleOrder(ctx)
	if err != nil {
		return nil, err
	}
	thresholds, err := s.config.GetThresholds(ctx)
	if err != nil {
		return nil, err
	}

	bill = &repository.Bill{
		ID:               s.newID(),
		Title:            orDefault(req.Title, defaultTitle),
		Amount:           amount,
		Category:         orDefault(req.Category, defaultCategory),
		Date:             date,
		CreatedBy:        caller.ID,
		Status:           repository.StatusPending,
		Steps:            s.planner.Build(order, thresholds, amount),
		CurrentStepIndex: 0,
		History:          []repository.HistoryEvent{repository.CreateEvent(caller.ID, now.UTC())},
		Images:           []string{},
	}

	if err := s.bills.CreateBill(ctx, bill); err != nil {
		return nil, err
	}
	span.SetAttribute("bill.id", bill.ID)

	s.log.Info().
		Str("bill_id", bill.ID).
		Str("created_by", caller.ID).
		Str("amount", bill.Amount.String()).
		Strs("steps", bill.Steps).
		Msg("Bill created")

	s.publisher.Publish(ctx, BillEvent{
		Type:     EventBillCreated,
		BillID:   bill.ID,
		ActorID:  caller.ID,
		Status:   string(bill.Status),
		NextRole: bill.CurrentRole(),
		Time:     now.UTC(),
	})
	return bill, nil
}

// GetBill returns one bill.
func (s *BillService) GetBill(ctx context.Context, id string) (*repository.Bill, error) {
	if id == "" {
		return nil, errors.InvalidInput("id", "bill id is required")
	}
	return s.bills.GetBill(ctx, id)
}

// ListBills returns every bill, newest first.
func (s *BillService) ListBills(ctx context.Context) ([]*repository.Bill, error) {
	return s.bills.ListBills(ctx, repository.BillFilter{})
}

// ListPendingForRole returns pending bills waiting on role.
func (s *BillService) ListPendingForRole(ctx context.Context, role string) ([]*repository.Bill, error) {
	if role == "" {
		return nil, errors.InvalidInput("role", "role is required")
	}
	pending, err := s.bills.ListBills(ctx, repository.BillFilter{Status: repository.StatusPending})
	if err != nil {
		return nil, err
	}
	out := make([]*repository.Bill, 0, len(pending))
	for _, b := range pending {
		if b.CurrentRole() == role {
			out = append(out, b)
		}
	}
	return out, nil
}

// ListArchived returns archived bills, newest first.
func (s *BillService) ListArchived(ctx context.Context) ([]*repository.Bill, error) {
	return s.bills.ListBills(ctx, repository.BillFilter{Status: repository.StatusArchived})
}

// DeleteBill removes a bill and its attachments. Only the creator may delete,
// and archived bills are kept.
func (s *BillService) DeleteBill(ctx context.Context, caller Caller, id string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "bill.delete", map[string]string{"bill.id": id})
	defer func() { tracing.EndSpan(span, err) }()

	unlock := s.locks.Lock(id)
	defer unlock()

	bill, err := s.bills.GetBill(ctx, id)
	if err != nil {
		return err
	}
	if bill.CreatedBy != caller.ID {
		return errors.Forbidden("only the creator can delete a bill")
	}
	if bill.Status == repository.StatusArchived {
		return errors.InvalidState("archived bills cannot be deleted")
	}

	if err := s.bills.DeleteBill(ctx, id); err != nil {
		return err
	}
	s.purgeAttachments(ctx, id)

	s.log.Info().Str("bill_id", id).Str("deleted_by", caller.ID).Msg("Bill deleted")
	s.publisher.Publish(ctx, BillEvent{
		Type:    EventBillDeleted,
		BillID:  id,
		ActorID: caller.ID,
		Status:  string(bill.Status),
		Time:    s.now().UTC(),
	})
	return nil
}

// ImageUpload is one file of an attachment upload. ContentType is the MIME
// type declared by the client.
type ImageUpload struct {
	Name        string
	ContentType string
	Size        int64
	Content     io.Reader
}

// AttachImages stores images for a bill and appends their paths. Only the
// creator may upload, and only while the bill is pending.
func (s *BillService) AttachImages(ctx context.Context, caller Caller, id string, files []ImageUpload) (bill *repository.Bill, err error) {
	ctx, span := tracing.StartSpan(ctx, "bill.attach_images", map[string]string{"bill.id": id})
	defer func() { tracing.EndSpan(span, err) }()

	if err := s.validateUploads(files); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	bill, err = s.bills.GetBill(ctx, id)
	if err != nil {
		return nil, err
	}
	if bill.CreatedBy != caller.ID {
		return nil, errors.Forbidden("only the creator can attach images")
	}
	if bill.Status != repository.StatusPending {
		return nil, errors.InvalidState(fmt.Sprintf("images can only be attached to pending bills (status: %s)", bill.Status))
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		name := s.newID() + strings.ToLower(filepath.Ext(f.Name))
		path, err := s.attachments.Save(ctx, id, name, f.Content)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to store image")
		}
		paths = append(paths, path)
	}

	bill.Images = append(bill.Images, paths...)
	if err := s.bills.SaveBill(ctx, bill); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("bill_id", id).
		Int("uploaded", len(paths)).
		Int("total_images", len(bill.Images)).
		Msg("Bill images attached")
	return bill, nil
}

func (s *BillService) validateUploads(files []ImageUpload) error {
	if len(files) == 0 {
		return errors.InvalidInput("images", "at least one image is required")
	}
	if s.policy.MaxFiles > 0 && len(files) > s.policy.MaxFiles {
		return errors.InvalidInput("images", fmt.Sprintf("at most %d images per upload", s.policy.MaxFiles))
	}
	for _, f := range files {
		ext := strings.ToLower(filepath.Ext(f.Name))
		if !containsFold(s.policy.Extensions, ext) {
			return errors.InvalidInput("images", fmt.Sprintf("unsupported image format: %q", f.Name))
		}
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(f.ContentType)), "image/") {
			return errors.InvalidInput("images", fmt.Sprintf("%q is not an image (content type %q)", f.Name, f.ContentType))
		}
		if s.policy.MaxFileSize > 0 && f.Size > s.policy.MaxFileSize {
			return errors.InvalidInput("images", fmt.Sprintf("image %q exceeds %d bytes", f.Name, s.policy.MaxFileSize))
		}
	}
	return nil
}

// purgeAttachments removes a bill's files and logs failures.
func (s *BillService) purgeAttachments(ctx context.Context, billID string) {
	if err := s.attachments.DeleteAll(ctx, billID); err != nil {
		s.log.Warn().Err(err).Str("bill_id", billID).Msg("Failed to delete bill attachments")
	}
}

// ── Input helpers ─────────────────────────────────────────────────────────────

var maxAmount = decimal.RequireFromString("999999999999.99")

// parseAmount reads a non-negative decimal with at most two decimal places.
// Empty input is zero.
func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.InvalidInput("amount", fmt.Sprintf("invalid amount %q", raw))
	}
	if d.IsNegative() {
		return decimal.Zero, errors.InvalidInput("amount", "amount must not be negative")
	}
	if !d.Equal(d.Truncate(amountScale)) {
		return decimal.Zero, errors.InvalidInput("amount", fmt.Sprintf("amount must have at most %d decimal places", amountScale))
	}
	if d.GreaterThan(maxAmount) {
		return decimal.Zero, errors.InvalidInput("amount", fmt.Sprintf("amount must not exceed %s", maxAmount))
	}
	return d, nil
}

// parseDate validates a YYYY-MM-DD date, defaulting to today.
func parseDate(raw string, now time.Time) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now.Format(dateLayout), nil
	}
	if _, err := time.Parse(dateLayout, raw); err != nil {
		return "", errors.InvalidInput("date", "invalid date format, expected YYYY-MM-DD")
	}
	return raw, nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
