// Package auth verifies credentials and issues and validates bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fcshare/internal/server/database"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrAuthenticationFailed covers both unknown email and wrong password.
	ErrAuthenticationFailed = errors.New("incorrect email or password")
	// ErrInvalidToken covers every token failure: malformed, tampered, expired.
	ErrInvalidToken = errors.New("not authenticated")
)

// UserFinder looks users up by email or id.
type UserFinder interface {
	GetByEmail(ctx context.Context, email string) (*database.User, error)
	GetByID(ctx context.Context, id int64) (*database.User, error)
}

// CredentialStore checks email/password pairs against stored bcrypt hashes.
type CredentialStore struct {
	users UserFinder
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(users UserFinder) *CredentialStore {
	return &CredentialStore{users: users}
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// equalizer returns a hash compared against when the email is unknown, so
// both failure paths pay the same bcrypt cost.
func equalizer() []byte {
	dummyHashOnce.Do(func() {
		dummyHash, _ = bcrypt.GenerateFromPassword([]byte("fcshare-timing-equalizer"), bcrypt.DefaultCost)
	})
	return dummyHash
}

// Verify returns the user whose email matches exactly and whose password
// hash matches password.
func (s *CredentialStore) Verify(ctx context.Context, email, password string) (*database.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			bcrypt.CompareHashAndPassword(equalizer(), []byte(password))
			return nil, ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}
