package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

type userRecord struct {
	ID           int64     `db:"id"`
	Email        string    `db:"email"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *userRecord) toModel() *User {
	return &User{
		ID:           r.ID,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		CreatedAt:    r.CreatedAt,
	}
}

// UserRepository provides read access to users and the insert used by provisioning.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user. A duplicate email yields ErrUniqueViolation.
func (r *UserRepository) Create(ctx context.Context, email, passwordHash string) (*User, error) {
	rec := new(userRecord)
	err := r.db.GetContext(ctx, rec, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, created_at
	`, email, passwordHash)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("failed to create user: %w", ErrUniqueViolation)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return rec.toModel(), nil
}

// GetByEmail finds a user by exact, case-sensitive email match.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*User, error) {
	rec := new(userRecord)
	err := r.db.GetContext(ctx, rec,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = $1", email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return rec.toModel(), nil
}

// GetByID finds a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	rec := new(userRecord)
	err := r.db.GetContext(ctx, rec,
		"SELECT id, email, password_hash, created_at FROM users WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return rec.toModel(), nil
}

// GetByIDs resolves a set of user ids in one query. Unknown ids are skipped.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		"SELECT id, email, password_hash, created_at FROM users WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build user lookup: %w", err)
	}

	var recs []userRecord
	if err := r.db.SelectContext(ctx, &recs, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to get users by ids: %w", err)
	}

	users := make([]User, 0, len(recs))
	for i := range recs {
		users = append(users, *recs[i].toModel())
	}
	return users, nil
}
