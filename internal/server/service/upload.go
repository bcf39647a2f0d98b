package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"fcshare/internal/server/config"
	"fcshare/internal/server/database"
	"fcshare/internal/server/fcs"
	"fcshare/internal/server/shortlink"
	"fcshare/internal/server/storage"

	"github.com/dustin/go-humanize"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound          = errors.New("short link not found")
	ErrEmptyFile         = errors.New("file size cannot be zero")
	ErrFileTooLarge      = errors.New("file exceeds maximum allowed size")
	ErrInvalidFormat     = errors.New("invalid FCS file")
	ErrInvalidVisibility = errors.New("invalid visibility")
)

const defaultFilename = "upload.fcs"

// ShortLinks publishes and resolves short links.
type ShortLinks interface {
	Publish(ctx context.Context, link *database.ShortLink) (*database.ShortLink, error)
	Resolve(ctx context.Context, slug string) (*database.ShortLink, error)
}

// UploadRequest is an incoming file.
type UploadRequest struct {
	Filename string
	Data     io.Reader
	// Size is the size declared by the client.
	Size       int64
	Visibility database.Visibility
	// Owner is nil for anonymous uploads.
	Owner *database.User
}

// Download is an opened short link. Callers must close Content.
type Download struct {
	Link    *database.ShortLink
	Content storage.Object
}

// UploadService contains the business logic for file uploads.
type UploadService struct {
	links       ShortLinks
	store       storage.Store
	maxFileSize int64
	now         func() time.Time
}

// NewUploadService creates a new upload service.
func NewUploadService(links ShortLinks, store storage.Store, cfg *config.Config) *UploadService {
	return &UploadService{
		links:       links,
		store:       store,
		maxFileSize: cfg.MaxFileSize,
		now:         time.Now,
	}
}

// ProcessUpload handles an incoming file upload: checks the declared size,
// streams the bytes to storage, validates the FCS structure and publishes a
// short link. No short link is created unless every step succeeds.
func (s *UploadService) ProcessUpload(ctx context.Context, req UploadRequest) (*database.ShortLink, error) {
	// 1. Check declared size
	if req.Size <= 0 {
		return nil, ErrEmptyFile
	}
	if req.Size > s.maxFileSize {
		return nil, ErrFileTooLarge
	}

	visibility, err := s.resolveVisibility(req)
	if err != nil {
		return nil, err
	}

	// 2. Store bytes; the limit also catches clients that under-declare
	name, written, err := s.store.Save(req.Data, s.maxFileSize)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, ErrFileTooLarge
		}
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	if written == 0 {
		s.discard(name)
		return nil, ErrEmptyFile
	}

	// 3. Validate format
	meta, err := s.validate(name)
	if err != nil {
		s.discard(name)
		return nil, err
	}

	// 4. Publish
	link := &database.ShortLink{
		OriginalFile:   sanitizeFilename(req.Filename),
		StoredFilename: name,
		Filesize:       written,
		CreatedAt:      s.now().UTC(),
		FCSVersion:     meta.Version,
		PnN:            meta.PnN(),
		EventCount:     meta.Events,
		Visibility:     visibility,
	}
	if req.Owner != nil {
		id := req.Owner.ID
		link.UserID = &id
	}

	created, err := s.links.Publish(ctx, link)
	if err != nil {
		s.discard(name)
		return nil, fmt.Errorf("failed to publish short link: %w", err)
	}

	slog.Info("upload processed",
		"slug", created.Slug,
		"filename", created.OriginalFile,
		"size", humanize.Bytes(uint64(written)),
		"fcs_version", created.FCSVersion,
		"events", created.EventCount,
		"anonymous", req.Owner == nil,
	)

	return created, nil
}

// Open resolves slug and opens its stored bytes for streaming. Private links
// are only visible to their owner; anyone else gets ErrNotFound.
func (s *UploadService) Open(ctx context.Context, slug string, caller *database.User) (*Download, error) {
	link, err := s.links.Resolve(ctx, slug)
	if err != nil {
		if errors.Is(err, shortlink.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if !canRead(link, caller) {
		return nil, ErrNotFound
	}

	obj, err := s.store.Open(link.StoredFilename)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			slog.Error("short link points at missing file",
				"slug", link.Slug,
				"stored_filename", link.StoredFilename,
			)
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open stored file: %w", err)
	}

	return &Download{Link: link, Content: obj}, nil
}

// Lookup resolves slug without opening the file, applying the same
// visibility rule as Open.
func (s *UploadService) Lookup(ctx context.Context, slug string, caller *database.User) (*database.ShortLink, error) {
	link, err := s.links.Resolve(ctx, slug)
	if err != nil {
		if errors.Is(err, shortlink.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !canRead(link, caller) {
		return nil, ErrNotFound
	}
	return link, nil
}

func (s *UploadService) resolveVisibility(req UploadRequest) (database.Visibility, error) {
	v := req.Visibility
	if v == "" {
		v = database.VisibilityPublic
	}
	if !v.Valid() {
		return "", ErrInvalidVisibility
	}
	if v == database.VisibilityPrivate && req.Owner == nil {
		return "", fmt.Errorf("%w: anonymous uploads must be public", ErrInvalidVisibility)
	}
	return v, nil
}

func (s *UploadService) validate(name string) (*fcs.Metadata, error) {
	obj, err := s.store.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to reopen stored file: %w", err)
	}
	defer obj.Close()

	meta, err := fcs.Parse(obj, obj.Size())
	if err != nil {
		slog.Info("rejected upload", "stored_filename", name, "reason", err)
		if errors.Is(err, fcs.ErrInvalid) {
			return nil, ErrInvalidFormat
		}
		return nil, err
	}
	return meta, nil
}

// discard removes a stored file that will never be published. Failures
// are left for the cleanup service.
func (s *UploadService) discard(name string) {
	if err := s.store.Delete(name); err != nil {
		slog.Error("failed to discard stored file", "stored_filename", name, "error", err)
	}
}

func canRead(link *database.ShortLink, caller *database.User) bool {
	if link.Visibility != database.VisibilityPrivate {
		return true
	}
	return caller != nil && link.UserID != nil && *link.UserID == caller.ID
}

// --- Helpers ---

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" {
		name = defaultFilename
	}

	return name
}
