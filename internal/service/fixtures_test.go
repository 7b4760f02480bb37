package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/logger"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

type fakeAttachments struct {
	mu        sync.Mutex
	files     map[string][]string
	deleted   []string
	deleteErr error
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{files: make(map[string][]string)}
}

func (f *fakeAttachments) Save(_ context.Context, billID, name string, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := fmt.Sprintf("/uploads/bills/%s/%s", billID, name)
	f.files[billID] = append(f.files[billID], path)
	return path, nil
}

func (f *fakeAttachments) List(_ context.Context, billID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.files[billID]...), nil
}

func (f *fakeAttachments) DeleteAll(_ context.Context, billID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, billID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.files, billID)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []BillEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e BillEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	store       *repository.MemoryStore
	attachments *fakeAttachments
	events      *recordingPublisher
	bills       *BillService
	approvals   *ApprovalService
	settings    *SettingsService
}

var (
	creator  = Caller{ID: "u1", Role: "staff"}
	admin    = Caller{ID: "root", Role: "admin"}
	approver = Caller{ID: "u7", Role: "approver1"}
)

func newFixture(t *testing.T, order []string, opts ApprovalOptions) *fixture {
	t.Helper()

	planner, err := NewStepPlanner("accountant", []string{"approver1", "approver2", "approver3"}, `^approver\d+$`)
	require.NoError(t, err)

	store := repository.NewMemoryStore(order, []repository.User{
		{ID: "u7", Name: "Ada", Role: "approver1"},
		{ID: "u8", Name: "Bob", Role: "approver2"},
	})
	attachments := newFakeAttachments()
	events := &recordingPublisher{}
	locks := NewBillLocks()
	log := logger.Nop()

	policy := AttachmentPolicy{MaxFiles: 5, MaxFileSize: 10 << 20, Extensions: []string{".jpg", ".jpeg", ".png", ".webp"}}

	return &fixture{
		store:       store,
		attachments: attachments,
		events:      events,
		bills:       NewBillService(store, store, attachments, events, planner, locks, policy, log),
		approvals:   NewApprovalService(store, store, store, attachments, store, events, planner, locks, opts, log),
		settings:    NewSettingsService(store, planner, "admin", log),
	}
}

func (f *fixture) createBill(t *testing.T, amount string) *repository.Bill {
	t.Helper()
	bill, err := f.bills.CreateBill(context.Background(), creator, &CreateBillRequest{
		Title:    "Hotel",
		Amount:   amount,
		Category: "Travel",
		Date:     "2024-05-01",
	})
	require.NoError(t, err)
	return bill
}
