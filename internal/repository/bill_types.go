package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Domain types for expense bills ───────────────────────────────────────────

// BillStatus is the lifecycle state of a bill record.
type BillStatus string

const (
	StatusPending          BillStatus = "pending"
	StatusApproved         BillStatus = "approved"
	StatusArchived         BillStatus = "archived"
	StatusRejected         BillStatus = "rejected"
	StatusRejectedModified BillStatus = "rejected-modified"
)

// Valid reports whether s is a known status.
func (s BillStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusArchived, StatusRejected, StatusRejectedModified:
		return true
	}
	return false
}

// HistoryAction discriminates history event variants.
type HistoryAction string

const (
	ActionCreate       HistoryAction = "create"
	ActionApprove      HistoryAction = "approve"
	ActionReject       HistoryAction = "reject"
	ActionModified     HistoryAction = "modified"
	ActionResubmitFrom HistoryAction = "resubmit_from"
)

// HistoryEvent is one entry of a bill's append-only history. Which optional
// fields are set depends on Action:
//
//	create         By
//	approve        Role
//	reject         Role, Reason, DemoteTo (only when demoted)
//	modified       By, NextID
//	resubmit_from  From
type HistoryEvent struct {
	Action   HistoryAction `json:"action"`
	Role     string        `json:"role,omitempty"`
	By       string        `json:"by,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	DemoteTo string        `json:"demoteTo,omitempty"`
	NextID   string        `json:"nextId,omitempty"`
	From     string        `json:"from,omitempty"`
	Time     time.Time     `json:"time"`
}

// CreateEvent records bill creation.
func CreateEvent(by string, at time.Time) HistoryEvent {
	return HistoryEvent{Action: ActionCreate, By: by, Time: at}
}

// ApproveEvent records an approval by the role at the current step.
func ApproveEvent(role string, at time.Time) HistoryEvent {
	return HistoryEvent{Action: ActionApprove, Role: role, Time: at}
}

// RejectEvent records a rejection. demoteTo is empty for a final rejection.
func RejectEvent(role, reason, demoteTo string, at time.Time) HistoryEvent {
	return HistoryEvent{Action: ActionReject, Role: role, Reason: reason, DemoteTo: demoteTo, Time: at}
}

// ModifiedEvent records that a rejected bill was resubmitted as nextID.
func ModifiedEvent(by, nextID string, at time.Time) HistoryEvent {
	return HistoryEvent{Action: ActionModified, By: by, NextID: nextID, Time: at}
}

// ResubmitFromEvent records the original a resubmitted bill was forked from.
func ResubmitFromEvent(from string, at time.Time) HistoryEvent {
	return HistoryEvent{Action: ActionResubmitFrom, From: from, Time: at}
}

// Bill is the unit of work moving through the approval chain.
type Bill struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Amount           decimal.Decimal `json:"amount"`
	Category         string          `json:"category"`
	Date             string          `json:"date"`
	CreatedBy        string          `json:"createdBy"`
	Status           BillStatus      `json:"status"`
	Steps            []string        `json:"steps"`
	CurrentStepIndex int             `json:"currentStepIndex"`
	History          []HistoryEvent  `json:"history"`
	Images           []string        `json:"images"`
	RelatedID        *string         `json:"relatedId"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// CurrentRole returns the role allowed to act next, or "" when the pointer
// is outside the plan.
func (b *Bill) CurrentRole() string {
	if b.CurrentStepIndex < 0 || b.CurrentStepIndex >= len(b.Steps) {
		return ""
	}
	return b.Steps[b.CurrentStepIndex]
}

// LastEvent returns the most recent history entry with the given action.
func (b *Bill) LastEvent(action HistoryAction) (HistoryEvent, bool) {
	for i := len(b.History) - 1; i >= 0; i-- {
		if b.History[i].Action == action {
			return b.History[i], true
		}
	}
	return HistoryEvent{}, false
}

// Clone returns a deep copy so callers can mutate without aliasing the store.
func (b *Bill) Clone() *Bill {
	if b == nil {
		return nil
	}
	c := *b
	c.Steps = append([]string(nil), b.Steps...)
	c.History = append([]HistoryEvent(nil), b.History...)
	c.Images = append([]string(nil), b.Images...)
	if b.RelatedID != nil {
		id := *b.RelatedID
		c.RelatedID = &id
	}
	return &c
}

// FieldChange is one changed field in an edit diff.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// EditDiff lists the fields that changed on resubmission.
type EditDiff struct {
	Changed []FieldChange `json:"changed"`
}

// BillEdit is one immutable entry in the resubmission ledger.
type BillEdit struct {
	ID         int64     `json:"id"`
	OriginalID string    `json:"originalId"`
	NewID      string    `json:"newId"`
	EditorID   string    `json:"editorId"`
	Time       time.Time `json:"time"`
	Diff       EditDiff  `json:"diff"`
}

// BillFilter narrows bill listings. Zero values mean "any".
type BillFilter struct {
	Status    BillStatus
	CreatedBy string
}

// User is a directory entry used for display labels.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}
