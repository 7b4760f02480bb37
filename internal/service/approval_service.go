package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/tracing"
)

// ApprovalOptions tunes the approval state machine.
type ApprovalOptions struct {
	// EnforceCallerRole requires the caller's role to match the role at the
	// bill's step pointer. When false the step pointer alone decides.
	EnforceCallerRole bool
}

// ApprovalService drives bills through their approval steps and handles
// resubmission of rejected bills.
type ApprovalService struct {
	bills       BillStore
	config      ApprovalConfigStore
	edits       EditLedger
	attachments AttachmentStore
	users       UserDirectory
	publisher   EventPublisher
	planner     *StepPlanner
	locks       *BillLocks
	opts        ApprovalOptions
	log         *logger.Logger
	now         func() time.Time
	newID       func() string
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	bills BillStore,
	config ApprovalConfigStore,
	edits EditLedger,
	attachments AttachmentStore,
	users UserDirectory,
	publisher EventPublisher,
	planner *StepPlanner,
	locks *BillLocks,
	opts ApprovalOptions,
	log *logger.Logger,
) *ApprovalService {
	if publisher == nil {
		publisher = NoopPublisher()
	}
	return &ApprovalService{
		bills:       bills,
		config:      config,
		edits:       edits,
		attachments: attachments,
		users:       users,
		publisher:   publisher,
		planner:     planner,
		locks:       locks,
		opts:        opts,
		log:         log,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// ── Approve ───────────────────────────────────────────────────────────────────

// Approve records an approval at the bill's current step. The bill advances
// one step, or is archived when the terminal role approves the last step.
func (s *ApprovalService) Approve(ctx context.Context, caller Caller, billID string) (bill *repository.Bill, err error) {
	ctx, span := tracing.StartSpan(ctx, "bill.approve", map[string]string{
		"bill.id":     billID,
		"caller.role": caller.Role,
	})
	defer func() { tracing.EndSpan(span, err) }()

	unlock := s.locks.Lock(billID)
	defer unlock()

	bill, err = s.loadPending(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := s.assertCanAct(caller, bill); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	tr := applyApprove(bill, s.planner.TerminalRole(), now)

	if err := s.bills.SaveBill(ctx, bill); err != nil {
		return nil, err
	}
	span.SetAttribute("bill.status", string(bill.Status))

	s.log.Info().
		Str("bill_id", bill.ID).
		Str("role", tr.Role).
		Str("caller_id", caller.ID).
		Int("step", bill.CurrentStepIndex).
		Str("status", string(bill.Status)).
		Msg("Bill approved at step")

	s.publisher.Publish(ctx, BillEvent{
		Type:     tr.Event,
		BillID:   bill.ID,
		ActorID:  caller.ID,
		Status:   string(bill.Status),
		Role:     tr.Role,
		NextRole: tr.NextRole,
		Time:     now,
	})
	return bill, nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// Reject records a rejection at the bill's current step. At the first step
// the bill is closed and its attachments removed; later steps send it back to
// the previous approver.
func (s *ApprovalService) Reject(ctx context.Context, caller Caller, billID, reason string) (bill *repository.Bill, err error) {
	ctx, span := tracing.StartSpan(ctx, "bill.reject", map[string]string{
		"bill.id":     billID,
		"caller.role": caller.Role,
	})
	defer func() { tracing.EndSpan(span, err) }()

	unlock := s.locks.Lock(billID)
	defer unlock()

	bill, err = s.loadPending(ctx, billID)
	if err != nil {
		return nil, err
	}
	if err := s.assertCanAct(caller, bill); err != nil {
		return nil, err
	}

	var demoteTo string
	if prev, ok := previousRole(bill); ok {
		demoteTo = s.labelFor(ctx, prev)
	}

	now := s.now().UTC()
	tr := applyReject(bill, reason, demoteTo, now)

	if err := s.bills.SaveBill(ctx, bill); err != nil {
		return nil, err
	}
	if tr.ClearImages {
		s.purgeAttachments(ctx, bill.ID)
	}
	span.SetAttribute("bill.status", string(bill.Status))

	s.log.Info().
		Str("bill_id", bill.ID).
		Str("role", tr.Role).
		Str("caller_id", caller.ID).
		Str("reason", reason).
		Str("demote_to", demoteTo).
		Str("status", string(bill.Status)).
		Msg("Bill rejected at step")

	s.publisher.Publish(ctx, BillEvent{
		Type:     tr.Event,
		BillID:   bill.ID,
		ActorID:  caller.ID,
		Status:   string(bill.Status),
		Role:     tr.Role,
		NextRole: tr.NextRole,
		Time:     now,
	})
	return bill, nil
}

// ── Resubmit ──────────────────────────────────────────────────────────────────

// BillUpdates holds the fields changed on resubmission. Nil fields keep the
// original value.
type BillUpdates struct {
	Title    *string
	Amount   *string
	Category *string
	Date     *string
}

// Resubmit forks a new pending bill from a bill rejected at its first step.
// The original is kept as a superseded record and both bills reference each
// other.
func (s *ApprovalService) Resubmit(ctx context.Context, caller Caller, billID string, updates BillUpdates) (forked *repository.Bill, err error) {
	ctx, span := tracing.StartSpan(ctx, "bill.resubmit", map[string]string{"bill.id": billID})
	defer func() { tracing.EndSpan(span, err) }()

	newID := s.newID()
	unlock := s.locks.Lock(billID, newID)
	defer unlock()

	original, err := s.bills.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if original.Status != repository.StatusRejected {
		return nil, errors.InvalidState(fmt.Sprintf("only rejected bills can be resubmitted (status: %s)", original.Status))
	}
	if original.CreatedBy != caller.ID {
		return nil, errors.Forbidden("only the creator can resubmit a bill")
	}
	if err := s.assertFirstLevelRejection(original); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	forked, diff, err := forkBill(original, updates, newID, caller.ID, now)
	if err != nil {
		return nil, err
	}

	original.History = append(original.History, repository.ModifiedEvent(caller.ID, newID, now))
	original.Status = repository.StatusRejectedModified
	original.RelatedID = &newID

	edit := &repository.BillEdit{
		OriginalID: original.ID,
		NewID:      newID,
		EditorID:   caller.ID,
		Time:       now,
		Diff:       diff,
	}
	if err := s.bills.CommitResubmission(ctx, original, forked, edit); err != nil {
		return nil, err
	}
	span.SetAttribute("bill.new_id", newID)

	s.log.Info().
		Str("bill_id", original.ID).
		Str("new_bill_id", newID).
		Str("editor_id", caller.ID).
		Int("changed_fields", len(diff.Changed)).
		Msg("Bill resubmitted")

	s.publisher.Publish(ctx, BillEvent{
		Type:      EventBillResubmitted,
		BillID:    newID,
		ActorID:   caller.ID,
		Status:    string(forked.Status),
		NextRole:  forked.CurrentRole(),
		RelatedID: original.ID,
		Time:      now,
	})
	return forked, nil
}

// assertFirstLevelRejection requires the latest rejection to come from the
// first approver step.
func (s *ApprovalService) assertFirstLevelRejection(bill *repository.Bill) error {
	last, ok := bill.LastEvent(repository.ActionReject)
	if !ok {
		return errors.InvalidState("bill has no rejection to resubmit from")
	}
	first, ok := s.planner.FirstApproverRole(bill.Steps)
	if !ok {
		return errors.InvalidState("bill has no approver step")
	}
	if last.Role != first {
		return errors.InvalidState(fmt.Sprintf("only bills rejected by %s can be resubmitted (rejected by %s)", first, last.Role))
	}
	return nil
}

// ── Edit history ──────────────────────────────────────────────────────────────

// GetEditHistory returns edits where billID is the original or the fork,
// newest first.
func (s *ApprovalService) GetEditHistory(ctx context.Context, billID string) ([]*repository.BillEdit, error) {
	if billID == "" {
		return nil, errors.InvalidInput("id", "bill id is required")
	}
	return s.edits.ListEdits(ctx, billID)
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// loadPending fetches a bill, requires it to be pending and repairs an
// unusable step plan.
func (s *ApprovalService) loadPending(ctx context.Context, billID string) (*repository.Bill, error) {
	if billID == "" {
		return nil, errors.InvalidInput("id", "bill id is required")
	}
	bill, err := s.bills.GetBill(ctx, billID)
	if err != nil {
		return nil, err
	}
	if bill.Status != repository.StatusPending {
		return nil, errors.InvalidState(fmt.Sprintf("bill is not pending (status: %s)", bill.Status))
	}

	if len(bill.Steps) > 0 && bill.CurrentStepIndex >= 0 && bill.CurrentStepIndex < len(bill.Steps) {
		return bill, nil
	}

	order, err := s.config.GetRoleOrder(ctx)
	if err != nil {
		return nil, err
	}
	thresholds, err := s.config.GetThresholds(ctx)
	if err != nil {
		return nil, err
	}
	stepsBefore := len(bill.Steps)
	indexBefore := bill.CurrentStepIndex
	if recoverPlan(bill, s.planner, order, thresholds) {
		s.log.Warn().
			Str("bill_id", bill.ID).
			Int("steps_before", stepsBefore).
			Int("index_before", indexBefore).
			Strs("steps", bill.Steps).
			Msg("Recovered unusable approval plan")
	}
	return bill, nil
}

// assertCanAct checks the caller's role against the step pointer when
// caller-role enforcement is enabled.
func (s *ApprovalService) assertCanAct(caller Caller, bill *repository.Bill) error {
	if !s.opts.EnforceCallerRole {
		return nil
	}
	if required := bill.CurrentRole(); caller.Role != required {
		return errors.Forbidden(fmt.Sprintf("bill is waiting on role %s", required))
	}
	return nil
}

// labelFor renders the display label of a role, falling back to the role.
func (s *ApprovalService) labelFor(ctx context.Context, role string) string {
	if s.users == nil {
		return role
	}
	label, err := s.users.LabelForRole(ctx, role)
	if err != nil || label == "" {
		if err != nil {
			s.log.Warn().Err(err).Str("role", role).Msg("Could not resolve role label")
		}
		return role
	}
	return label
}

// purgeAttachments deletes a bill's files and logs a warning on failure
// (never returns error).
func (s *ApprovalService) purgeAttachments(ctx context.Context, billID string) {
	if err := s.attachments.DeleteAll(ctx, billID); err != nil {
		s.log.Warn().Err(err).Str("bill_id", billID).Msg("Failed to delete bill attachments")
	}
}
