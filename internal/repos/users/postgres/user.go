package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/tcgpacks/internal/repos/users"
)

func (r *usersRepo) Exists(ctx context.Context, userID string) error {
	var exists bool

	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)
	`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}

	if !exists {
		return users.ErrUserNotFound
	}

	return nil
}

func (r *usersRepo) Get(ctx context.Context, userID string) (users.User, error) {
	var u users.User

	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, is_admin, created_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&u.ID, &u.Email, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return users.User{}, users.ErrUserNotFound
		}

		return users.User{}, fmt.Errorf("get user: %w", err)
	}

	return u, nil
}

// Ensure provisions the user on first sight. An existing row keeps its admin
// flag; the email is refreshed when a non-empty one is supplied.
func (r *usersRepo) Ensure(ctx context.Context, userID, email string) (users.User, error) {
	var u users.User

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END
		RETURNING id, email, is_admin, created_at
	`, userID, email).Scan(&u.ID, &u.Email, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return users.User{}, fmt.Errorf("ensure user: %w", err)
	}

	return u, nil
}

func (r *usersRepo) SetAdmin(ctx context.Context, userID string, admin bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET is_admin = $2 WHERE id = $1
	`, userID, admin)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 {
		return users.ErrUserNotFound
	}

	return nil
}
