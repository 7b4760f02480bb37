package service

import (
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// forkBill builds the successor of a rejected bill and the diff of the edited
// fields. The original is not modified. The fork keeps the original plan and
// restarts at the first step.
func forkBill(original *repository.Bill, updates BillUpdates, newID, editorID string, at time.Time) (*repository.Bill, repository.EditDiff, error) {
	title := original.Title
	if updates.Title != nil {
		title = *updates.Title
	}
	category := original.Category
	if updates.Category != nil {
		category = *updates.Category
	}
	amount := original.Amount
	if updates.Amount != nil {
		parsed, err := parseAmount(*updates.Amount)
		if err != nil {
			return nil, repository.EditDiff{}, err
		}
		amount = parsed
	}
	date := original.Date
	if updates.Date != nil {
		parsed, err := parseDate(*updates.Date, at)
		if err != nil {
			return nil, repository.EditDiff{}, err
		}
		date = parsed
	}

	diff := repository.EditDiff{Changed: []repository.FieldChange{}}
	record := func(field, before, after string) {
		if before != after {
			diff.Changed = append(diff.Changed, repository.FieldChange{Field: field, Before: before, After: after})
		}
	}
	record("title", original.Title, title)
	if !amount.Equal(original.Amount) {
		record("amount", original.Amount.String(), amount.String())
	}
	record("category", original.Category, category)
	record("date", original.Date, date)

	originalID := original.ID
	forked := &repository.Bill{
		ID:               newID,
		Title:            title,
		Amount:           amount,
		Category:         category,
		Date:             date,
		CreatedBy:        original.CreatedBy,
		Status:           repository.StatusPending,
		Steps:            append([]string{}, original.Steps...),
		CurrentStepIndex: 0,
		History: []repository.HistoryEvent{
			repository.CreateEvent(editorID, at),
			repository.ResubmitFromEvent(originalID, at),
		},
		Images:    []string{},
		RelatedID: &originalID,
	}
	return forked, diff, nil
}
