package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// SettingApprovalThresholds is the settings key holding the threshold policy.
const SettingApprovalThresholds = "approvalThresholds"

// ApprovalConfigRepository persists the role order and the threshold policy.
type ApprovalConfigRepository struct {
	db *database.DB
}

// NewApprovalConfigRepository creates a new ApprovalConfigRepository.
func NewApprovalConfigRepository(db *database.DB) *ApprovalConfigRepository {
	return &ApprovalConfigRepository{db: db}
}

// GetRoleOrder returns the non-terminal roles in approval order.
func (r *ApprovalConfigRepository) GetRoleOrder(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT role FROM approval_order ORDER BY sort ASC, role ASC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval order")
	}
	defer rows.Close()

	order := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval order")
		}
		order = append(order, role)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval order")
	}
	return order, nil
}

// SetRoleOrder replaces the whole role order.
func (r *ApprovalConfigRepository) SetRoleOrder(ctx context.Context, order []string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM approval_order`); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear approval order")
		}
		for i, role := range order {
			if _, err := tx.Exec(ctx, `INSERT INTO approval_order (role, sort) VALUES ($1, $2)`, role, i); err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to insert approval order")
			}
		}
		return nil
	})
}

// GetThresholds returns the per-role minimum amounts. A missing or unreadable
// setting yields an empty policy.
func (r *ApprovalConfigRepository) GetThresholds(ctx context.Context) (map[string]decimal.Decimal, error) {
	var raw string
	err := r.db.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, SettingApprovalThresholds).Scan(&raw)
	if err == pgx.ErrNoRows {
		return map[string]decimal.Decimal{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval thresholds")
	}
	return decodeThresholds(raw), nil
}

// SetThresholds replaces the threshold policy.
func (r *ApprovalConfigRepository) SetThresholds(ctx context.Context, thresholds map[string]decimal.Decimal) error {
	raw, err := json.Marshal(thresholds)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval thresholds")
	}

	query := `
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`
	if _, err := r.db.Exec(ctx, query, SettingApprovalThresholds, string(raw)); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to save approval thresholds")
	}
	return nil
}

// decodeThresholds accepts numbers or numeric strings per role and drops
// entries it cannot read.
func decodeThresholds(raw string) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	var values map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return out
	}
	for role, v := range values {
		var d decimal.Decimal
		if err := d.UnmarshalJSON(v); err != nil {
			continue
		}
		out[role] = d
	}
	return out
}
