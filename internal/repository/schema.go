package repository

import (
	"context"
	_ "embed"

	"github.com/jackc/pgx/v5"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the tables used by the service when they are missing.
func EnsureSchema(ctx context.Context, db *database.DB) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to apply schema")
	}
	return nil
}

// SeedDefaults installs the default approval order and directory users when
// the respective tables are empty.
func SeedDefaults(ctx context.Context, db *database.DB, order []string, users []User) error {
	return db.InTransaction(ctx, func(tx pgx.Tx) error {
		var orderCount int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM approval_order`).Scan(&orderCount); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to count approval order")
		}
		if orderCount == 0 {
			for i, role := range order {
				if _, err := tx.Exec(ctx, `INSERT INTO approval_order (role, sort) VALUES ($1, $2)`, role, i); err != nil {
					return errors.Wrap(err, errors.ErrCodeInternal, "failed to seed approval order")
				}
			}
		}

		var userCount int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&userCount); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to count users")
		}
		if userCount == 0 {
			for _, u := range users {
				if _, err := tx.Exec(ctx, `INSERT INTO users (id, name, role) VALUES ($1, $2, $3)`, u.ID, u.Name, u.Role); err != nil {
					return errors.Wrap(err, errors.ErrCodeInternal, "failed to seed users")
				}
			}
		}
		return nil
	})
}
