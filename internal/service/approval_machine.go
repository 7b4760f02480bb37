package service

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// transition describes what an approve or reject call did to a bill.
type transition struct {
	Role        string
	Event       string
	NextRole    string
	ClearImages bool
}

// recoverPlan repairs a pending bill whose plan is unusable. An empty plan is
// rebuilt from the current configuration and the pointer reset; an
// out-of-range pointer is reset to the first step. It reports whether
// anything changed.
func recoverPlan(
	bill *repository.Bill,
	planner *StepPlanner,
	order []string,
	thresholds map[string]decimal.Decimal,
) bool {
	if len(bill.Steps) == 0 {
		bill.Steps = planner.Build(order, thresholds, bill.Amount)
		bill.CurrentStepIndex = 0
		return true
	}
	if bill.CurrentStepIndex < 0 || bill.CurrentStepIndex >= len(bill.Steps) {
		bill.CurrentStepIndex = 0
		return true
	}
	return false
}

// applyApprove records an approval by the role at the step pointer and
// advances or finishes the bill.
func applyApprove(bill *repository.Bill, terminalRole string, at time.Time) transition {
	role := bill.CurrentRole()
	bill.History = append(bill.History, repository.ApproveEvent(role, at))

	if bill.CurrentStepIndex < len(bill.Steps)-1 {
		bill.CurrentStepIndex++
		return transition{Role: role, Event: EventBillAdvanced, NextRole: bill.CurrentRole()}
	}

	if role == terminalRole {
		bill.Status = repository.StatusArchived
		return transition{Role: role, Event: EventBillArchived}
	}
	bill.Status = repository.StatusApproved
	return transition{Role: role, Event: EventBillApproved}
}

// applyReject records a rejection. At the first step the bill is closed and
// its images dropped; later steps send it back one step. demoteTo labels the
// previous step's holder and is ignored at the first step.
func applyReject(bill *repository.Bill, reason, demoteTo string, at time.Time) transition {
	role := bill.CurrentRole()

	if bill.CurrentStepIndex == 0 {
		bill.Status = repository.StatusRejected
		bill.History = append(bill.History, repository.RejectEvent(role, reason, "", at))
		bill.Images = []string{}
		return transition{Role: role, Event: EventBillRejected, ClearImages: true}
	}

	bill.History = append(bill.History, repository.RejectEvent(role, reason, demoteTo, at))
	bill.CurrentStepIndex--
	return transition{Role: role, Event: EventBillDemoted, NextRole: bill.CurrentRole()}
}

// previousRole returns the role one step before the pointer.
func previousRole(bill *repository.Bill) (string, bool) {
	i := bill.CurrentStepIndex - 1
	if i < 0 || i >= len(bill.Steps) {
		return "", false
	}
	return bill.Steps[i], true
}
