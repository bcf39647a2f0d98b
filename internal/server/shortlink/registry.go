// Package shortlink generates collision-free slugs and maps them to
// published files.
package shortlink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fcshare/internal/server/database"

	lru "github.com/hashicorp/golang-lru/v2"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/sethvargo/go-retry"
)

const (
	// Alphabet is the 62-symbol slug alphabet.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// SlugLength is the number of symbols in a slug.
	SlugLength = 8

	defaultMaxAttempts = 5
	defaultRetryDelay  = 5 * time.Millisecond
)

var (
	ErrNotFound      = errors.New("short link not found")
	ErrConflict      = errors.New("short link already exists")
	ErrSlugExhausted = errors.New("could not generate a unique slug")
)

// Repository is the persistence the registry depends on.
type Repository interface {
	Create(ctx context.Context, link *database.ShortLink) (*database.ShortLink, error)
	GetBySlug(ctx context.Context, slug string) (*database.ShortLink, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
}

// Registry issues slugs and resolves them to short links.
type Registry struct {
	repo        Repository
	cache       *lru.Cache[string, *database.ShortLink]
	alphabet    string
	length      int
	maxAttempts int
	retryDelay  time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithAlphabet overrides the slug alphabet and length.
func WithAlphabet(alphabet string, length int) Option {
	return func(r *Registry) {
		r.alphabet = alphabet
		r.length = length
	}
}

// WithMaxAttempts bounds slug generation and whole-creation retries.
func WithMaxAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause between creation attempts after a conflict.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retryDelay = d
		}
	}
}

// NewRegistry creates a Registry memoizing up to cacheSize resolutions.
func NewRegistry(repo Repository, cacheSize int, opts ...Option) (*Registry, error) {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	cache, err := lru.New[string, *database.ShortLink](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create slug cache: %w", err)
	}

	r := &Registry{
		repo:        repo,
		cache:       cache,
		alphabet:    Alphabet,
		length:      SlugLength,
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// CreateSlug returns a slug not currently in use. The existence check is
// an optimization; Register remains the authority on uniqueness.
func (r *Registry) CreateSlug(ctx context.Context) (string, error) {
	for i := 0; i < r.maxAttempts; i++ {
		slug, err := gonanoid.Generate(r.alphabet, r.length)
		if err != nil {
			return "", fmt.Errorf("failed to generate slug: %w", err)
		}

		exists, err := r.repo.SlugExists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !exists {
			return slug, nil
		}
	}
	return "", ErrSlugExhausted
}

// Register persists link. A unique violation on slug or stored filename
// yields ErrConflict.
func (r *Registry) Register(ctx context.Context, link *database.ShortLink) (*database.ShortLink, error) {
	created, err := r.repo.Create(ctx, link)
	if err != nil {
		if errors.Is(err, database.ErrUniqueViolation) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, err
	}
	return created, nil
}

// Publish assigns a fresh slug to link and registers it, regenerating the
// slug and retrying the whole creation when the insert conflicts.
func (r *Registry) Publish(ctx context.Context, link *database.ShortLink) (*database.ShortLink, error) {
	backoff := retry.WithMaxRetries(uint64(r.maxAttempts-1), retry.NewConstant(r.retryDelay))

	var created *database.ShortLink
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		slug, err := r.CreateSlug(ctx)
		if err != nil {
			return err
		}

		candidate := *link
		candidate.Slug = slug
		created, err = r.Register(ctx, &candidate)
		if errors.Is(err, ErrConflict) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("%w: %w", ErrSlugExhausted, err)
		}
		return nil, err
	}
	return created, nil
}

// Resolve returns the short link for slug, or ErrNotFound.
func (r *Registry) Resolve(ctx context.Context, slug string) (*database.ShortLink, error) {
	if link, ok := r.cache.Get(slug); ok {
		return link, nil
	}

	link, err := r.repo.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve slug: %w", err)
	}

	r.cache.Add(slug, link)
	return link, nil
}
