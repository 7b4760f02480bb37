package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// BillEditRepository appends and reads immutable resubmission edit records.
type BillEditRepository struct {
	db *database.DB
}

// NewBillEditRepository creates a new BillEditRepository.
func NewBillEditRepository(db *database.DB) *BillEditRepository {
	return &BillEditRepository{db: db}
}

// AppendEdit inserts one edit record. Records are never updated or removed.
func (r *BillEditRepository) AppendEdit(ctx context.Context, edit *BillEdit) error {
	return insertEdit(ctx, r.db, edit)
}

func insertEdit(ctx context.Context, q queryRower, edit *BillEdit) error {
	diffJSON, err := encodeDiff(edit.Diff)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO bill_edits (original_id, new_id, editor_id, time, diff)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		RETURNING id
	`

	err = q.QueryRow(ctx, query,
		edit.OriginalID,
		edit.NewID,
		edit.EditorID,
		edit.Time,
		diffJSON,
	).Scan(&edit.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append bill edit")
	}
	return nil
}

// ListEdits returns every edit where the bill is either side of the link,
// newest first.
func (r *BillEditRepository) ListEdits(ctx context.Context, billID string) ([]*BillEdit, error) {
	query := `
		SELECT id, original_id, new_id, editor_id, time, diff
		FROM bill_edits
		WHERE original_id = $1 OR new_id = $1
		ORDER BY time DESC, id DESC
	`

	rows, err := r.db.Query(ctx, query, billID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list bill edits")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *BillEditRepository) scanRows(rows pgx.Rows) ([]*BillEdit, error) {
	edits := make([]*BillEdit, 0)
	for rows.Next() {
		edit, err := r.scanEdit(rows)
		if err != nil {
			return nil, err
		}
		edits = append(edits, edit)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate bill edits")
	}
	return edits, nil
}

func (r *BillEditRepository) scanEdit(sc billScanner) (*BillEdit, error) {
	edit := &BillEdit{}
	var diffJSON []byte

	err := sc.Scan(
		&edit.ID,
		&edit.OriginalID,
		&edit.NewID,
		&edit.EditorID,
		&edit.Time,
		&diffJSON,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan bill edit")
	}

	edit.Diff = decodeDiff(diffJSON)
	return edit, nil
}
