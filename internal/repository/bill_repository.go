package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// BillRepository handles bill data operations
type BillRepository struct {
	db *database.DB
}

// NewBillRepository creates a new bill repository
func NewBillRepository(db *database.DB) *BillRepository {
	return &BillRepository{db: db}
}

const billColumns = `
	id, title, amount::text, category, bill_date, created_by, status,
	steps, current_step_index, history, images, related_id,
	version, created_at, updated_at`

// queryRower is satisfied by both the pool wrapper and pgx.Tx.
type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CreateBill inserts a new bill at version 1.
func (r *BillRepository) CreateBill(ctx context.Context, bill *Bill) error {
	return r.insert(ctx, r.db, bill)
}

func (r *BillRepository) insert(ctx context.Context, q queryRower, bill *Bill) error {
	steps, history, images, err := encodeBillLists(bill)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bills (id, title, amount, category, bill_date, created_by, status,
		                   steps, current_step_index, history, images, related_id, version)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7,
		        $8::jsonb, $9, $10::jsonb, $11::jsonb, $12, 1)
		RETURNING version, created_at, updated_at
	`

	err = q.QueryRow(ctx, query,
		bill.ID,
		bill.Title,
		bill.Amount.String(),
		bill.Category,
		bill.Date,
		bill.CreatedBy,
		string(bill.Status),
		steps,
		bill.CurrentStepIndex,
		history,
		images,
		bill.RelatedID,
	).Scan(&bill.Version, &bill.CreatedAt, &bill.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create bill")
	}
	return nil
}

// GetBill retrieves a bill by ID
func (r *BillRepository) GetBill(ctx context.Context, id string) (*Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE id = $1`

	bill, err := scanBill(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("bill", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get bill")
	}
	return bill, nil
}

// SaveBill writes the mutable fields of a bill. The stored version must
// match bill.Version; on success the version is incremented.
func (r *BillRepository) SaveBill(ctx context.Context, bill *Bill) error {
	return r.update(ctx, r.db, bill)
}

func (r *BillRepository) update(ctx context.Context, q queryRower, bill *Bill) error {
	steps, history, images, err := encodeBillLists(bill)
	if err != nil {
		return err
	}

	query := `
		UPDATE bills
		SET title              = $2,
		    amount             = $3::numeric,
		    category           = $4,
		    bill_date          = $5,
		    status             = $6,
		    steps              = $7::jsonb,
		    current_step_index = $8,
		    history            = $9::jsonb,
		    images             = $10::jsonb,
		    related_id         = $11,
		    version            = version + 1,
		    updated_at         = NOW()
		WHERE id = $1 AND version = $12
		RETURNING version, updated_at
	`

	err = q.QueryRow(ctx, query,
		bill.ID,
		bill.Title,
		bill.Amount.String(),
		bill.Category,
		bill.Date,
		string(bill.Status),
		steps,
		bill.CurrentStepIndex,
		history,
		images,
		bill.RelatedID,
		bill.Version,
	).Scan(&bill.Version, &bill.UpdatedAt)

	if err == pgx.ErrNoRows {
		return r.missingOrConflict(ctx, q, bill)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save bill")
	}
	return nil
}

func (r *BillRepository) missingOrConflict(ctx context.Context, q queryRower, bill *Bill) error {
	var version int64
	err := q.QueryRow(ctx, `SELECT version FROM bills WHERE id = $1`, bill.ID).Scan(&version)
	if err == pgx.ErrNoRows {
		return errors.NotFound("bill", bill.ID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check bill version")
	}
	return errors.Conflict(fmt.Sprintf("bill %s was modified concurrently (expected version %d, found %d)",
		bill.ID, bill.Version, version))
}

// DeleteBill removes a bill record.
func (r *BillRepository) DeleteBill(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM bills WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete bill")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("bill", id)
	}
	return nil
}

// ListBills returns bills ordered by date and id, newest first.
func (r *BillRepository) ListBills(ctx context.Context, filter BillFilter) ([]*Bill, error) {
	query := `SELECT ` + billColumns + ` FROM bills WHERE 1 = 1`
	args := []interface{}{}
	argCount := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(filter.Status))
		argCount++
	}

	if filter.CreatedBy != "" {
		query += fmt.Sprintf(" AND created_by = $%d", argCount)
		args = append(args, filter.CreatedBy)
		argCount++
	}

	query += " ORDER BY bill_date DESC, id DESC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list bills")
	}
	defer rows.Close()

	bills := make([]*Bill, 0)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan bill")
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate bills")
	}
	return bills, nil
}

// CommitResubmission atomically inserts the forked bill, saves the
// superseded original and appends the edit record.
func (r *BillRepository) CommitResubmission(ctx context.Context, original, forked *Bill, edit *BillEdit) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := r.insert(ctx, tx, forked); err != nil {
			return err
		}
		if err := r.update(ctx, tx, original); err != nil {
			return err
		}
		return insertEdit(ctx, tx, edit)
	})
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type billScanner interface {
	Scan(dest ...any) error
}

func scanBill(row billScanner) (*Bill, error) {
	b := &Bill{}
	var (
		amount                 string
		status                 string
		steps, history, images []byte
		createdAt, updatedAt   time.Time
	)

	err := row.Scan(
		&b.ID,
		&b.Title,
		&amount,
		&b.Category,
		&b.Date,
		&b.CreatedBy,
		&status,
		&steps,
		&b.CurrentStepIndex,
		&history,
		&images,
		&b.RelatedID,
		&b.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Status = BillStatus(status)
	b.CreatedAt = createdAt
	b.UpdatedAt = updatedAt
	b.Amount = parseAmount(amount)
	b.Steps, _ = decodeList[string](steps)
	b.History, _ = decodeList[HistoryEvent](history)
	b.Images, _ = decodeList[string](images)
	return b, nil
}

// parseAmount coerces a stored amount, treating unreadable or negative
// values as zero.
func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func encodeBillLists(bill *Bill) (steps, history, images string, err error) {
	s, err := encodeList(bill.Steps)
	if err != nil {
		return "", "", "", errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal steps")
	}
	h, err := encodeList(bill.History)
	if err != nil {
		return "", "", "", errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal history")
	}
	i, err := encodeList(bill.Images)
	if err != nil {
		return "", "", "", errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal images")
	}
	return string(s), string(h), string(i), nil
}
