package service

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// BillStore persists bill records. SaveBill must reject a stale Version with
// a CONFLICT error.
type BillStore interface {
	GetBill(ctx context.Context, id string) (*repository.Bill, error)
	CreateBill(ctx context.Context, bill *repository.Bill) error
	SaveBill(ctx context.Context, bill *repository.Bill) error
	DeleteBill(ctx context.Context, id string) error
	ListBills(ctx context.Context, filter repository.BillFilter) ([]*repository.Bill, error)
	// CommitResubmission writes the fork, the superseded original and the
	// edit record as one unit.
	CommitResubmission(ctx context.Context, original, forked *repository.Bill, edit *repository.BillEdit) error
}

// ApprovalConfigStore persists the role order and the threshold policy.
type ApprovalConfigStore interface {
	GetRoleOrder(ctx context.Context) ([]string, error)
	SetRoleOrder(ctx context.Context, order []string) error
	GetThresholds(ctx context.Context) (map[string]decimal.Decimal, error)
	SetThresholds(ctx context.Context, thresholds map[string]decimal.Decimal) error
}

// EditLedger is the append-only resubmission ledger.
type EditLedger interface {
	AppendEdit(ctx context.Context, edit *repository.BillEdit) error
	ListEdits(ctx context.Context, billID string) ([]*repository.BillEdit, error)
}

// AttachmentStore keeps the image files of a bill.
type AttachmentStore interface {
	Save(ctx context.Context, billID, name string, r io.Reader) (string, error)
	List(ctx context.Context, billID string) ([]string, error)
	DeleteAll(ctx context.Context, billID string) error
}

// UserDirectory renders display labels for roles.
type UserDirectory interface {
	LabelForRole(ctx context.Context, role string) (string, error)
}

// EventPublisher fans out bill lifecycle events. Failures are not fatal to
// the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, event BillEvent)
}

// Bill event types.
const (
	EventBillCreated     = "bill_created"
	EventBillAdvanced    = "bill_advanced"
	EventBillArchived    = "bill_archived"
	EventBillApproved    = "bill_approved"
	EventBillDemoted     = "bill_demoted"
	EventBillRejected    = "bill_rejected"
	EventBillResubmitted = "bill_resubmitted"
	EventBillDeleted     = "bill_deleted"
)

// BillEvent describes one lifecycle change of a bill.
type BillEvent struct {
	Type      string    `json:"type"`
	BillID    string    `json:"bill_id"`
	ActorID   string    `json:"actor_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Role      string    `json:"role,omitempty"`
	NextRole  string    `json:"next_role,omitempty"`
	RelatedID string    `json:"related_id,omitempty"`
	Time      time.Time `json:"time"`
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	ID   string
	Role string
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, BillEvent) {}

// NoopPublisher drops every event.
func NoopPublisher() EventPublisher { return noopPublisher{} }
