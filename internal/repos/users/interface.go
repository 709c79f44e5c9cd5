package users

import (
	"context"
	"errors"
	"time"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID        string
	Email     string
	IsAdmin   bool
	CreatedAt time.Time
}

type Users interface {
	Exists(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (User, error)
	Ensure(ctx context.Context, userID, email string) (User, error)
	SetAdmin(ctx context.Context, userID string, admin bool) error
}
