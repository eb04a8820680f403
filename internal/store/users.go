package store

import (
	"context"
	"errors"
	"fmt"

	"krewup-messaging/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserStore implements UserStore over the profiles table.
type PostgresUserStore struct {
	db *pgxpool.Pool
}

// NewPostgresUserStore creates a new PostgresUserStore.
func NewPostgresUserStore(db *pgxpool.Pool) *PostgresUserStore {
	return &PostgresUserStore{
		db: db,
	}
}

// CreateUser inserts a profile. Used by seeding; production profiles are
// written by the marketplace app.
func (s *PostgresUserStore) CreateUser(ctx context.Context, user *models.User) error {
	query := `
        INSERT INTO profiles (id, first_name, last_name, email, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := s.db.Exec(ctx, query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Email,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "profiles_email_key" {
				return ErrEmailExists
			}
			return fmt.Errorf("database unique constraint violation: %w, constraint: %s", err, pgErr.ConstraintName)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a profile by its ID.
func (s *PostgresUserStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM profiles
		WHERE id = $1
	`
	user := &models.User{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Email,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// SearchUsers matches name or email prefixes, case-insensitively.
func (s *PostgresUserStore) SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, first_name, last_name, email, created_at, updated_at
		FROM profiles
		WHERE first_name ILIKE $1 OR last_name ILIKE $1 OR email ILIKE $1
		ORDER BY first_name, last_name
		LIMIT $2
	`, query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u := &models.User{}
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return users, nil
}
