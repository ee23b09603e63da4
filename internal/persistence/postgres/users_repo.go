package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/defiinsight/insight/internal/persistence"
)

// usersRepo implements UsersRepo for PostgreSQL.
type usersRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewUsersRepo creates a PostgreSQL users repository.
func NewUsersRepo(db *sqlx.DB, timeout time.Duration) persistence.UsersRepo {
	return &usersRepo{
		db:      db,
		timeout: timeout,
	}
}

// Create inserts a new account. Emails are stored lowercased so the
// unique index catches case variants.
func (r *usersRepo) Create(ctx context.Context, user *persistence.User) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO users (email, hashed_password)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at`

	email := strings.ToLower(strings.TrimSpace(user.Email))
	err := r.db.QueryRowxContext(ctx, query, email, user.HashedPassword).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return persistence.ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	user.Email = email
	return nil
}

func (r *usersRepo) GetByID(ctx context.Context, id uuid.UUID) (*persistence.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, email, hashed_password, created_at, updated_at
		FROM users
		WHERE id = $1`

	var user persistence.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return &user, nil
}

func (r *usersRepo) GetByEmail(ctx context.Context, email string) (*persistence.User, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, email, hashed_password, created_at, updated_at
		FROM users
		WHERE email = $1`

	var user persistence.User
	err := r.db.GetContext(ctx, &user, query, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return &user, nil
}
