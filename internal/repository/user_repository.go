package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/internal/platform/database"
	"github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

// UserRepository reads the user directory.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// LabelForRole returns "name(id)" for the first user holding role, or the
// role itself when nobody does.
func (r *UserRepository) LabelForRole(ctx context.Context, role string) (string, error) {
	var u User
	err := r.db.QueryRow(ctx,
		`SELECT id, name, role FROM users WHERE role = $1 ORDER BY id ASC LIMIT 1`, role,
	).Scan(&u.ID, &u.Name, &u.Role)
	if err == pgx.ErrNoRows {
		return role, nil
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to look up user by role")
	}
	return UserLabel(u), nil
}

// UserLabel renders a directory entry for display in history events.
func UserLabel(u User) string {
	return fmt.Sprintf("%s(%s)", u.Name, u.ID)
}
