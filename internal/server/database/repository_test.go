package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUnknown = errors.New("unknown error")

var shortLinkCols = []string{
	"id", "slug", "original_file", "stored_filename", "filesize", "created_at",
	"fcs_version", "pnn", "event_count", "visibility", "user_id",
}

func setupMockDB(t testing.TB) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := sqlx.NewDb(mockDB, "pgx")
	t.Cleanup(func() { db.Close() })

	return db, mock
}

func TestIsUniqueViolationError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"unique violation", &pgconn.PgError{Code: uniqueViolationErrCode}, true},
		{"wrapped unique violation", errors.Join(errUnknown, &pgconn.PgError{Code: uniqueViolationErrCode}), true},
		{"other pg error", &pgconn.PgError{Code: "23503"}, false},
		{"plain error", errUnknown, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolationError(tt.err))
		})
	}
}

func TestShortLinkRepository_Create(t *testing.T) {
	owner := int64(7)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	link := &ShortLink{
		Slug:           "AbCd1234",
		OriginalFile:   "sample.fcs",
		StoredFilename: "5f0c1b8e-1111-2222-3333-444455556666",
		Filesize:       1024,
		CreatedAt:      created,
		FCSVersion:     "3.1",
		PnN:            "FSC-A,SSC-A",
		EventCount:     100,
		Visibility:     VisibilityPublic,
		UserID:         &owner,
	}

	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewShortLinkRepository(db)

		rows := sqlmock.NewRows(shortLinkCols).AddRow(
			1, link.Slug, link.OriginalFile, link.StoredFilename, link.Filesize, created,
			link.FCSVersion, link.PnN, link.EventCount, "public", owner,
		)
		mock.ExpectQuery(`INSERT INTO short_links`).
			WithArgs(link.Slug, link.OriginalFile, link.StoredFilename, link.Filesize, created,
				link.FCSVersion, link.PnN, link.EventCount, "public", owner).
			WillReturnRows(rows)

		got, err := repo.Create(context.Background(), link)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.ID)
		assert.Equal(t, link.Slug, got.Slug)
		require.NotNil(t, got.UserID)
		assert.Equal(t, owner, *got.UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("anonymous upload stores null owner", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewShortLinkRepository(db)

		anon := *link
		anon.UserID = nil

		rows := sqlmock.NewRows(shortLinkCols).AddRow(
			2, anon.Slug, anon.OriginalFile, anon.StoredFilename, anon.Filesize, created,
			anon.FCSVersion, anon.PnN, anon.EventCount, "public", nil,
		)
		mock.ExpectQuery(`INSERT INTO short_links`).
			WithArgs(anon.Slug, anon.OriginalFile, anon.StoredFilename, anon.Filesize, created,
				anon.FCSVersion, anon.PnN, anon.EventCount, "public", nil).
			WillReturnRows(rows)

		got, err := repo.Create(context.Background(), &anon)
		require.NoError(t, err)
		assert.Nil(t, got.UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewShortLinkRepository(db)

		mock.ExpectQuery(`INSERT INTO short_links`).
			WillReturnError(&pgconn.PgError{Code: uniqueViolationErrCode, ConstraintName: "short_links_slug_key"})

		got, err := repo.Create(context.Background(), link)
		assert.ErrorIs(t, err, ErrUniqueViolation)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewShortLinkRepository(db)

		mock.ExpectQuery(`INSERT INTO short_links`).WillReturnError(errUnknown)

		got, err := repo.Create(context.Background(), link)
		assert.ErrorIs(t, err, errUnknown)
		assert.NotErrorIs(t, err, ErrUniqueViolation)
		assert.Nil(t, got)
	})
}

func TestShortLinkRepository_GetBySlug(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewShortLinkRepository(db)

		mock.ExpectQuery(`SELECT .+ FROM short_links WHERE slug = \$1`).
			WithArgs("missing1").
			WillReturnRows(sqlmock.NewRows(shortLinkCols))

		got, err := repo.GetBySlug(context.Background(), "missing1")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Nil(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("found", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewShortLinkRepository(db)

		rows := sqlmock.NewRows(shortLinkCols).AddRow(
			3, "Zz9Yy8Xx", "a.fcs", "stored", 10, time.Now(), "3.0", "", 0, "private", nil,
		)
		mock.ExpectQuery(`SELECT .+ FROM short_links WHERE slug = \$1`).
			WithArgs("Zz9Yy8Xx").
			WillReturnRows(rows)

		got, err := repo.GetBySlug(context.Background(), "Zz9Yy8Xx")
		require.NoError(t, err)
		assert.Equal(t, VisibilityPrivate, got.Visibility)
		assert.Equal(t, "stored", got.StoredFilename)
	})
}

func TestShortLinkRepository_Exists(t *testing.T) {
	t.Run("slug taken", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewShortLinkRepository(db)

		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("taken123").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		exists, err := repo.SlugExists(context.Background(), "taken123")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("stored filename unreferenced", func(t *testing.T) {
		db, mock := setupMockDB(t)
		repo := NewShortLinkRepository(db)

		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("orphan").
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		exists, err := repo.StoredFilenameExists(context.Background(), "orphan")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestShortLinkRepository_ListAll(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewShortLinkRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(shortLinkCols).
		AddRow(1, "aaaaaaaa", "a.fcs", "s1", 10, now, "3.1", "FSC-A", 5, "public", 1).
		AddRow(2, "bbbbbbbb", "b.fcs", "s2", 20, now, "3.0", "", 0, "public", nil)
	mock.ExpectQuery(`SELECT .+ FROM short_links ORDER BY id`).WillReturnRows(rows)

	links, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, links, 2)
	require.NotNil(t, links[0].UserID)
	assert.Equal(t, int64(1), *links[0].UserID)
	assert.Nil(t, links[1].UserID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
