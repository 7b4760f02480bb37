package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// MemoryStore keeps bills, approval settings, edits and users in process
// memory. Values are copied on the way in and out so callers never alias
// stored state.
type MemoryStore struct {
	mu         sync.RWMutex
	bills      map[string]*Bill
	order      []string
	thresholds map[string]decimal.Decimal
	edits      []*BillEdit
	nextEditID int64
	users      []User
	now        func() time.Time
}

// NewMemoryStore creates an empty store seeded with the given role order and
// user directory.
func NewMemoryStore(order []string, users []User) *MemoryStore {
	return &MemoryStore{
		bills:      make(map[string]*Bill),
		order:      append([]string{}, order...),
		thresholds: make(map[string]decimal.Decimal),
		users:      append([]User{}, users...),
		now:        time.Now,
	}
}

// ── Bills ─────────────────────────────────────────────────────────────────────

// CreateBill stores a new bill at version 1.
func (s *MemoryStore) CreateBill(_ context.Context, bill *Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(bill)
}

func (s *MemoryStore) createLocked(bill *Bill) error {
	if _, exists := s.bills[bill.ID]; exists {
		return errors.Conflict(fmt.Sprintf("bill %s already exists", bill.ID))
	}
	now := s.now().UTC()
	bill.Version = 1
	bill.CreatedAt = now
	bill.UpdatedAt = now
	s.bills[bill.ID] = bill.Clone()
	return nil
}

// GetBill returns a copy of the stored bill.
func (s *MemoryStore) GetBill(_ context.Context, id string) (*Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bills[id]
	if !ok {
		return nil, errors.NotFound("bill", id)
	}
	return b.Clone(), nil
}

// SaveBill replaces a stored bill when the versions match.
func (s *MemoryStore) SaveBill(_ context.Context, bill *Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(bill)
}

func (s *MemoryStore) saveLocked(bill *Bill) error {
	stored, ok := s.bills[bill.ID]
	if !ok {
		return errors.NotFound("bill", bill.ID)
	}
	if stored.Version != bill.Version {
		return errors.Conflict(fmt.Sprintf("bill %s was modified concurrently (expected version %d, found %d)",
			bill.ID, bill.Version, stored.Version))
	}
	bill.Version++
	bill.UpdatedAt = s.now().UTC()
	s.bills[bill.ID] = bill.Clone()
	return nil
}

// DeleteBill removes a bill.
func (s *MemoryStore) DeleteBill(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bills[id]; !ok {
		return errors.NotFound("bill", id)
	}
	delete(s.bills, id)
	return nil
}

// ListBills returns matching bills ordered by date and id, newest first.
func (s *MemoryStore) ListBills(_ context.Context, filter BillFilter) ([]*Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Bill, 0, len(s.bills))
	for _, b := range s.bills {
		if filter.Status != "" && b.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && b.CreatedBy != filter.CreatedBy {
			continue
		}
		out = append(out, b.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// CommitResubmission applies the fork, the original's update and the edit
// record together, or none of them.
func (s *MemoryStore) CommitResubmission(_ context.Context, original, forked *Bill, edit *BillEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.bills[original.ID]
	if !ok {
		return errors.NotFound("bill", original.ID)
	}
	if stored.Version != original.Version {
		return errors.Conflict(fmt.Sprintf("bill %s was modified concurrently", original.ID))
	}
	if _, exists := s.bills[forked.ID]; exists {
		return errors.Conflict(fmt.Sprintf("bill %s already exists", forked.ID))
	}

	if err := s.createLocked(forked); err != nil {
		return err
	}
	if err := s.saveLocked(original); err != nil {
		delete(s.bills, forked.ID)
		return err
	}
	s.appendEditLocked(edit)
	return nil
}

// ── Approval settings ─────────────────────────────────────────────────────────

// GetRoleOrder returns the configured role order.
func (s *MemoryStore) GetRoleOrder(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.order...), nil
}

// SetRoleOrder replaces the role order.
func (s *MemoryStore) SetRoleOrder(_ context.Context, order []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append([]string{}, order...)
	return nil
}

// GetThresholds returns a copy of the threshold policy.
func (s *MemoryStore) GetThresholds(_ context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.thresholds))
	for k, v := range s.thresholds {
		out[k] = v
	}
	return out, nil
}

// SetThresholds replaces the threshold policy.
func (s *MemoryStore) SetThresholds(_ context.Context, thresholds map[string]decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thresholds = make(map[string]decimal.Decimal, len(thresholds))
	for k, v := range thresholds {
		s.thresholds[k] = v
	}
	return nil
}

// ── Edit ledger ───────────────────────────────────────────────────────────────

// AppendEdit records one edit.
func (s *MemoryStore) AppendEdit(_ context.Context, edit *BillEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendEditLocked(edit)
	return nil
}

func (s *MemoryStore) appendEditLocked(edit *BillEdit) {
	s.nextEditID++
	edit.ID = s.nextEditID
	c := *edit
	c.Diff.Changed = append([]FieldChange{}, edit.Diff.Changed...)
	s.edits = append(s.edits, &c)
}

// ListEdits returns edits touching billID on either side, newest first.
func (s *MemoryStore) ListEdits(_ context.Context, billID string) ([]*BillEdit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*BillEdit, 0)
	for i := len(s.edits) - 1; i >= 0; i-- {
		e := s.edits[i]
		if e.OriginalID != billID && e.NewID != billID {
			continue
		}
		c := *e
		c.Diff.Changed = append([]FieldChange{}, e.Diff.Changed...)
		out = append(out, &c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Time.After(out[j].Time)
	})
	return out, nil
}

// ── Users ─────────────────────────────────────────────────────────────────────

// LabelForRole returns "name(id)" for the first user holding role, or the
// role itself.
func (s *MemoryStore) LabelForRole(_ context.Context, role string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Role == role {
			return UserLabel(u), nil
		}
	}
	return role, nil
}
