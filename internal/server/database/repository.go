package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const shortLinkColumns = `id, slug, original_file, stored_filename, filesize, created_at,
	fcs_version, pnn, event_count, visibility, user_id`

type shortLinkRecord struct {
	ID             int64         `db:"id"`
	Slug           string        `db:"slug"`
	OriginalFile   string        `db:"original_file"`
	StoredFilename string        `db:"stored_filename"`
	Filesize       int64         `db:"filesize"`
	CreatedAt      time.Time     `db:"created_at"`
	FCSVersion     string        `db:"fcs_version"`
	PnN            string        `db:"pnn"`
	EventCount     int64         `db:"event_count"`
	Visibility     string        `db:"visibility"`
	UserID         sql.NullInt64 `db:"user_id"`
}

func (r *shortLinkRecord) toModel() *ShortLink {
	link := &ShortLink{
		ID:             r.ID,
		Slug:           r.Slug,
		OriginalFile:   r.OriginalFile,
		StoredFilename: r.StoredFilename,
		Filesize:       r.Filesize,
		CreatedAt:      r.CreatedAt,
		FCSVersion:     r.FCSVersion,
		PnN:            r.PnN,
		EventCount:     r.EventCount,
		Visibility:     Visibility(r.Visibility),
	}
	if r.UserID.Valid {
		id := r.UserID.Int64
		link.UserID = &id
	}
	return link
}

// ShortLinkRepository persists published files.
type ShortLinkRepository struct {
	db *sqlx.DB
}

// NewShortLinkRepository creates a new ShortLinkRepository.
func NewShortLinkRepository(db *sqlx.DB) *ShortLinkRepository {
	return &ShortLinkRepository{db: db}
}

// Create inserts a new short link and returns the stored row.
// A duplicate slug or stored filename yields ErrUniqueViolation.
func (r *ShortLinkRepository) Create(ctx context.Context, link *ShortLink) (*ShortLink, error) {
	var userID sql.NullInt64
	if link.UserID != nil {
		userID = sql.NullInt64{Int64: *link.UserID, Valid: true}
	}

	rec := new(shortLinkRecord)
	err := r.db.GetContext(ctx, rec, `
		INSERT INTO short_links (
			slug, original_file, stored_filename, filesize, created_at,
			fcs_version, pnn, event_count, visibility, user_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+shortLinkColumns,
		link.Slug,
		link.OriginalFile,
		link.StoredFilename,
		link.Filesize,
		link.CreatedAt,
		link.FCSVersion,
		link.PnN,
		link.EventCount,
		string(link.Visibility),
		userID,
	)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("failed to create short link: %w", ErrUniqueViolation)
		}
		return nil, fmt.Errorf("failed to create short link: %w", err)
	}
	return rec.toModel(), nil
}

// GetBySlug retrieves a short link by its slug.
func (r *ShortLinkRepository) GetBySlug(ctx context.Context, slug string) (*ShortLink, error) {
	rec := new(shortLinkRecord)
	err := r.db.GetContext(ctx, rec,
		`SELECT `+shortLinkColumns+` FROM short_links WHERE slug = $1`, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get short link: %w", err)
	}
	return rec.toModel(), nil
}

// SlugExists reports whether a slug is already taken.
func (r *ShortLinkRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM short_links WHERE slug = $1)", slug)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

// StoredFilenameExists reports whether any short link references the stored file.
func (r *ShortLinkRepository) StoredFilenameExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM short_links WHERE stored_filename = $1)", name)
	if err != nil {
		return false, fmt.Errorf("failed to check stored filename: %w", err)
	}
	return exists, nil
}

// ListAll returns every short link ordered by id.
func (r *ShortLinkRepository) ListAll(ctx context.Context) ([]ShortLink, error) {
	var recs []shortLinkRecord
	if err := r.db.SelectContext(ctx, &recs,
		`SELECT `+shortLinkColumns+` FROM short_links ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list short links: %w", err)
	}

	links := make([]ShortLink, 0, len(recs))
	for i := range recs {
		links = append(links, *recs[i].toModel())
	}
	return links, nil
}
