package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

func pendingBill(steps ...string) *repository.Bill {
	return &repository.Bill{
		ID:      "b1",
		Amount:  decimal.NewFromInt(100),
		Status:  repository.StatusPending,
		Steps:   steps,
		History: []repository.HistoryEvent{repository.CreateEvent("u1", time.Now())},
		Images:  []string{"/uploads/bills/b1/a.png"},
	}
}

func TestApplyApprove_monotonicAdvance(t *testing.T) {
	bill := pendingBill("approver1", "approver2", "accountant")
	at := time.Now()

	for i := 0; i < 2; i++ {
		before := bill.CurrentStepIndex
		tr := applyApprove(bill, "accountant", at)
		assert.Equal(t, before+1, bill.CurrentStepIndex)
		assert.Equal(t, repository.StatusPending, bill.Status)
		assert.Equal(t, EventBillAdvanced, tr.Event)
	}

	tr := applyApprove(bill, "accountant", at)
	assert.Equal(t, repository.StatusArchived, bill.Status)
	assert.Equal(t, "accountant", tr.Role)
	assert.Equal(t, 2, bill.CurrentStepIndex)
	assert.Len(t, bill.History, 4)
}

func TestApplyApprove_nonTerminalLastStep(t *testing.T) {
	bill := pendingBill("approver1")
	tr := applyApprove(bill, "accountant", time.Now())
	assert.Equal(t, repository.StatusApproved, bill.Status)
	assert.Equal(t, EventBillApproved, tr.Event)
}

func TestApplyReject_firstLevel(t *testing.T) {
	bill := pendingBill("approver1", "accountant")
	tr := applyReject(bill, "no receipt", "ignored", time.Now())

	assert.Equal(t, repository.StatusRejected, bill.Status)
	assert.Empty(t, bill.Images)
	assert.True(t, tr.ClearImages)
	last := bill.History[len(bill.History)-1]
	assert.Equal(t, repository.ActionReject, last.Action)
	assert.Equal(t, "no receipt", last.Reason)
	assert.Empty(t, last.DemoteTo)
}

func TestApplyReject_demotes(t *testing.T) {
	bill := pendingBill("approver1", "approver2", "accountant")
	bill.CurrentStepIndex = 2
	images := append([]string{}, bill.Images...)

	tr := applyReject(bill, "wrong category", "Ada(u7)", time.Now())

	assert.Equal(t, repository.StatusPending, bill.Status)
	assert.Equal(t, 1, bill.CurrentStepIndex)
	assert.Equal(t, images, bill.Images)
	assert.Equal(t, "approver2", tr.NextRole)
	last := bill.History[len(bill.History)-1]
	assert.Equal(t, "accountant", last.Role)
	assert.Equal(t, "Ada(u7)", last.DemoteTo)
}

func TestRecoverPlan(t *testing.T) {
	p := newTestPlanner(t)
	thr := map[string]decimal.Decimal{"approver2": decimal.NewFromInt(500)}

	empty := pendingBill()
	empty.CurrentStepIndex = 3
	require.True(t, recoverPlan(empty, p, []string{"approver1", "approver2"}, thr))
	assert.Equal(t, []string{"approver1", "accountant"}, empty.Steps)
	assert.Equal(t, 0, empty.CurrentStepIndex)

	outOfRange := pendingBill("approver1", "accountant")
	outOfRange.CurrentStepIndex = 7
	require.True(t, recoverPlan(outOfRange, p, nil, nil))
	assert.Equal(t, 0, outOfRange.CurrentStepIndex)

	healthy := pendingBill("approver1", "accountant")
	healthy.CurrentStepIndex = 1
	assert.False(t, recoverPlan(healthy, p, nil, nil))
	assert.Equal(t, 1, healthy.CurrentStepIndex)
}
