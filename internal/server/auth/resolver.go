package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fcshare/internal/server/database"
)

// errMissingToken is wrapped into ErrInvalidToken when a required token is absent.
var errMissingToken = errors.New("missing bearer token")

// Resolver turns an Authorization header into the calling user.
type Resolver struct {
	tokens *TokenService
	users  UserFinder
}

// NewResolver creates a new Resolver.
func NewResolver(tokens *TokenService, users UserFinder) *Resolver {
	return &Resolver{tokens: tokens, users: users}
}

// Resolve returns the user behind header. With required false, an absent
// header yields a nil user and nil error; a present but invalid token is
// rejected in both modes. A token whose subject no longer exists is invalid.
func (r *Resolver) Resolve(ctx context.Context, header string, required bool) (*database.User, error) {
	token, ok := bearerToken(header)
	if !ok {
		if required {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, errMissingToken)
		}
		return nil, nil
	}

	id, err := r.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	user, err := r.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to resolve token subject: %w", err)
	}
	return user, nil
}

// bearerToken extracts the token from "Bearer <token>". A header without
// the Bearer scheme counts as absent.
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
