package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

func TestCreateBill_defaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"approver1"}, ApprovalOptions{})
	f.bills.now = func() time.Time { return time.Date(2024, 3, 9, 15, 0, 0, 0, time.UTC) }

	bill, err := f.bills.CreateBill(ctx, creator, &CreateBillRequest{})
	require.NoError(t, err)

	assert.Equal(t, "Bill", bill.Title)
	assert.Equal(t, "General", bill.Category)
	assert.True(t, bill.Amount.IsZero())
	assert.Equal(t, "2024-03-09", bill.Date)
	assert.Equal(t, creator.ID, bill.CreatedBy)
	assert.Equal(t, int64(1), bill.Version)
	assert.Empty(t, bill.Images)
	assert.Nil(t, bill.RelatedID)
	require.Len(t, bill.History, 1)
	assert.Equal(t, repository.ActionCreate, bill.History[0].Action)
	assert.Equal(t, creator.ID, bill.History[0].By)
	assert.Equal(t, []string{EventBillCreated}, f.events.types())
}

func TestCreateBill_validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"approver1"}, ApprovalOptions{})

	tests := []struct {
		name string
		req  CreateBillRequest
		code errors.Code
	}{
		{"bad amount", CreateBillRequest{Amount: "ten"}, errors.ErrCodeInvalidInput},
		{"negative amount", CreateBillRequest{Amount: "-1"}, errors.ErrCodeInvalidInput},
		{"bad date", CreateBillRequest{Date: "2024/01/01"}, errors.ErrCodeInvalidInput},
		{"too many decimals", CreateBillRequest{Amount: "10.005"}, errors.ErrCodeInvalidInput},
		{"amount too large", CreateBillRequest{Amount: "1000000000000"}, errors.ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bills.CreateBill(ctx, creator, &tt.req)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}

	_, err := f.bills.CreateBill(ctx, Caller{}, &CreateBillRequest{})
	assert.True(t, errors.Is(err, errors.ErrCodeUnauthorized))

	all, err := f.bills.ListBills(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCreateBill_amountBounds(t *testing.T) {
	f := newFixture(t, []string{"approver1"}, ApprovalOptions{})

	for _, amount := range []string{"10.50", "0.01", "999999999999.99"} {
		bill := f.createBill(t, amount)
		assert.True(t, decimal.RequireFromString(amount).Equal(bill.Amount), amount)
	}
}

func TestCreateBill_thresholdSkipsApprover(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"approver1", "approver2", "approver3"}, ApprovalOptions{})
	require.NoError(t, f.store.SetThresholds(ctx, map[string]decimal.Decimal{
		"approver2": decimal.NewFromInt(1000),
		"approver3": decimal.NewFromInt(5000),
	}))

	small := f.createBill(t, "999.99")
	assert.Equal(t, []string{"approver1", "accountant"}, small.Steps)

	mid := f.createBill(t, "1000")
	assert.Equal(t, []string{"approver1", "approver2", "accountant"}, mid.Steps)
}

func TestListPendingForRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"approver1", "approver2"}, ApprovalOptions{})

	first := f.createBill(t, "10")
	second := f.createBill(t, "20")
	_, err := f.approvals.Approve(ctx, approver, second.ID)
	require.NoError(t, err)

	forApprover1, err := f.bills.ListPendingForRole(ctx, "approver1")
	require.NoError(t, err)
	require.Len(t, forApprover1, 1)
	assert.Equal(t, first.ID, forApprover1[0].ID)

	forApprover2, err := f.bills.ListPendingForRole(ctx, "approver2")
	require.NoError(t, err)
	require.Len(t, forApprover2, 1)
	assert.Equal(t, second.ID, forApprover2[0].ID)

	_, err = f.bills.ListPendingForRole(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestDeleteBill(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"approver1"}, ApprovalOptions{})
	bill := f.createBill(t, "10")

	err := f.bills.DeleteBill(ctx, approver, bill.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeForbidden))

	require.NoError(t, f.bills.DeleteBill(ctx, creator, bill.ID))
	assert.Contains(t, f.attachments.deleted, bill.ID)

	_, err = f.bills.GetBill(ctx, bill.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	err = f.bills.DeleteBill(ctx, creator, bill.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestDeleteBill_archivedIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"approver1"}, ApprovalOptions{})
	bill := f.createBill(t, "10")
	for i := 0; i < 2; i++ {
		_, err := f.approvals.Approve(ctx, approver, bill.ID)
		require.NoError(t, err)
	}

	err := f.bills.DeleteBill(ctx, creator, bill.ID)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidState))

	stored, err := f.bills.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.StatusArchived, stored.Status)
}

func TestAttachImages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"approver1"}, ApprovalOptions{})
	f.bills.newID = func() string { return "img" }
	bill := f.createBill(t, "10")

	updated, err := f.bills.AttachImages(ctx, creator, bill.ID, []ImageUpload{
		{Name: "Receipt.JPG", ContentType: "image/jpeg", Size: 4, Content: strings.NewReader("jpeg")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/uploads/bills/" + bill.ID + "/img.jpg"}, updated.Images)

	tests := []struct {
		name   string
		caller Caller
		files  []ImageUpload
		code   errors.Code
	}{
		{"no files", creator, nil, errors.ErrCodeInvalidInput},
		{"bad extension", creator, []ImageUpload{{Name: "doc.pdf", ContentType: "image/png", Size: 1, Content: strings.NewReader("x")}}, errors.ErrCodeInvalidInput},
		{"not an image", creator, []ImageUpload{{Name: "a.png", ContentType: "text/html", Size: 1, Content: strings.NewReader("x")}}, errors.ErrCodeInvalidInput},
		{"no content type", creator, []ImageUpload{{Name: "a.png", Size: 1, Content: strings.NewReader("x")}}, errors.ErrCodeInvalidInput},
		{"too large", creator, []ImageUpload{{Name: "a.png", ContentType: "image/png", Size: 11 << 20, Content: strings.NewReader("x")}}, errors.ErrCodeInvalidInput},
		{"too many", creator, make([]ImageUpload, 6), errors.ErrCodeInvalidInput},
		{"not creator", approver, []ImageUpload{{Name: "a.png", ContentType: "image/png", Size: 1, Content: strings.NewReader("x")}}, errors.ErrCodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bills.AttachImages(ctx, tt.caller, bill.ID, tt.files)
			assert.True(t, errors.Is(err, tt.code), "got %v", err)
		})
	}

	stored, err := f.bills.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Images, 1)
}

func TestAttachImages_onlyPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"approver1", "approver2"}, ApprovalOptions{})
	upload := func() []ImageUpload {
		return []ImageUpload{{Name: "late.png", ContentType: "image/png", Size: 3, Content: strings.NewReader("png")}}
	}

	rejected := f.createBill(t, "10")
	_, err := f.approvals.Reject(ctx, approver, rejected.ID, "no")
	require.NoError(t, err)

	_, err = f.bills.AttachImages(ctx, creator, rejected.ID, upload())
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidState), "got %v", err)

	forked, err := f.approvals.Resubmit(ctx, creator, rejected.ID, BillUpdates{})
	require.NoError(t, err)
	before, err := f.bills.GetBill(ctx, rejected.ID)
	require.NoError(t, err)
	require.Equal(t, repository.StatusRejectedModified, before.Status)

	_, err = f.bills.AttachImages(ctx, creator, rejected.ID, upload())
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidState), "got %v", err)

	after, err := f.bills.GetBill(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Images)
	assert.Equal(t, before.Version, after.Version)

	withImage, err := f.bills.AttachImages(ctx, creator, forked.ID, upload())
	require.NoError(t, err)
	assert.Len(t, withImage.Images, 1)
}
