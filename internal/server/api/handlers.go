package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"fcshare/internal/server/auth"
	"fcshare/internal/server/config"
	"fcshare/internal/server/database"
	"fcshare/internal/server/service"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
)

// FCSContentType is the registered media type for FCS files.
const FCSContentType = "application/vnd.isac.fcs"

// Authenticator verifies login credentials.
type Authenticator interface {
	Verify(ctx context.Context, email, password string) (*database.User, error)
}

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Issue(subjectID int64, ttl time.Duration) (string, error)
}

// Uploads ingests and serves files.
type Uploads interface {
	ProcessUpload(ctx context.Context, req service.UploadRequest) (*database.ShortLink, error)
	Open(ctx context.Context, slug string, caller *database.User) (*service.Download, error)
	Lookup(ctx context.Context, slug string, caller *database.User) (*database.ShortLink, error)
}

// JobScheduler enqueues statistics jobs.
type JobScheduler interface {
	Enqueue(ctx context.Context) (*database.StatisticsJob, error)
}

// JobReader loads statistics jobs.
type JobReader interface {
	Get(ctx context.Context, jobID string) (*database.StatisticsJob, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps groups the collaborators of Handler.
type Deps struct {
	Credentials Authenticator
	Tokens      TokenIssuer
	Uploads     Uploads
	Scheduler   JobScheduler
	Jobs        JobReader
	// Checks are reported by /health under their key.
	Checks map[string]HealthChecker
}

// Handler contains the HTTP handlers for the file-share API.
type Handler struct {
	Deps
	tokenTTL    time.Duration
	apiURL      string
	maxFileSize int64
}

// NewHandler creates a new handler.
func NewHandler(deps Deps, cfg *config.Config) *Handler {
	return &Handler{
		Deps:        deps,
		tokenTTL:    cfg.TokenTTL,
		apiURL:      cfg.APIURL,
		maxFileSize: cfg.MaxFileSize,
	}
}

// LoginForm is the body of POST /login.
type LoginForm struct {
	Username string `form:"username" validate:"required"`
	Password string `form:"password" validate:"required"`
}

// ShortLinkResponse is the public view of a short link.
type ShortLinkResponse struct {
	Slug         string              `json:"slug"`
	OriginalFile string              `json:"original_file"`
	Filesize     int64               `json:"filesize"`
	CreatedAt    time.Time           `json:"created_at"`
	FCSVersion   string              `json:"fcs_version"`
	Visibility   database.Visibility `json:"visibility"`
}

// JobResponse is the view of a statistics job.
type JobResponse struct {
	JobID     string             `json:"job_id"`
	Status    database.JobStatus `json:"status"`
	Result    json.RawMessage    `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	CreatedAt *time.Time         `json:"created_at,omitempty"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
}

// HandleLogin handles POST /login.
// Accepts form fields "username" (the email) and "password".
func (h *Handler) HandleLogin(c echo.Context) error {
	var form LoginForm
	if err := c.Bind(&form); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "invalid login form"})
	}
	if err := c.Validate(&form); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"detail": "username and password are required"})
	}

	user, err := h.Credentials.Verify(c.Request().Context(), form.Username, form.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	token, err := h.Tokens.Issue(user.ID, h.tokenTTL)
	if err != nil {
		return mapServiceError(c, err)
	}

	slog.Info("user logged in", "user_id", user.ID)
	return c.JSON(http.StatusOK, echo.Map{
		"access_token": token,
		"token_type":   "bearer",
	})
}

// HandleUpload handles POST /short-link/.
// Accepts a multipart form with a "file" field and an optional "visibility" field.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"detail": "file is required (use form field 'file')",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return mapServiceError(c, err)
	}
	defer src.Close()

	link, err := h.Uploads.ProcessUpload(c.Request().Context(), service.UploadRequest{
		Filename:   fileHeader.Filename,
		Data:       src,
		Size:       fileHeader.Size,
		Visibility: database.Visibility(c.FormValue("visibility")),
		Owner:      currentUser(c),
	})
	if errors.Is(err, service.ErrFileTooLarge) {
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": fileTooLargeDetail(h.maxFileSize)})
	}
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, toShortLinkResponse(link))
}

// HandleDownload handles GET /short-link/:slug.
// Streams the stored file without buffering it.
func (h *Handler) HandleDownload(c echo.Context) error {
	dl, err := h.Uploads.Open(c.Request().Context(), c.Param("slug"), currentUser(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	defer dl.Content.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentLength, strconv.FormatInt(dl.Content.Size(), 10))
	if dl.Link.OriginalFile != "" {
		header.Set(echo.HeaderContentDisposition,
			mime.FormatMediaType("attachment", map[string]string{"filename": dl.Link.OriginalFile}))
	}

	return c.Stream(http.StatusOK, FCSContentType, dl.Content)
}

// HandleQRCode handles GET /short-link/:slug/qrcode.
// Returns a PNG QR code encoding the download URL.
func (h *Handler) HandleQRCode(c echo.Context) error {
	link, err := h.Uploads.Lookup(c.Request().Context(), c.Param("slug"), currentUser(c))
	if err != nil {
		return mapServiceError(c, err)
	}

	png, err := qrcode.Encode(h.apiURL+"/short-link/"+link.Slug, qrcode.Medium, 256)
	if err != nil {
		return mapServiceError(c, err)
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, "inline; filename=qrcode.png")
	return c.Blob(http.StatusOK, "image/png", png)
}

// HandleCreateStatistics handles POST /statistics.
func (h *Handler) HandleCreateStatistics(c echo.Context) error {
	job, err := h.Scheduler.Enqueue(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusAccepted, JobResponse{JobID: job.JobID, Status: job.Status})
}

// HandleGetStatistics handles GET /statistics/:job_id.
func (h *Handler) HandleGetStatistics(c echo.Context) error {
	job, err := h.Jobs.Get(c.Request().Context(), c.Param("job_id"))
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"detail": "Statistics job not found"})
		}
		return mapServiceError(c, err)
	}

	resp := JobResponse{
		JobID:     job.JobID,
		Status:    job.Status,
		Error:     job.Error,
		CreatedAt: &job.CreatedAt,
		UpdatedAt: &job.UpdatedAt,
	}
	if job.Status == database.JobCompleted {
		resp.Result = job.Result
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /health.
// Returns the health status of the server and each dependency.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	body := echo.Map{}

	for name, check := range h.Checks {
		if err := check.HealthCheck(c.Request().Context()); err != nil {
			status = "degraded"
			body[name] = "error: " + err.Error()
			continue
		}
		body[name] = "connected"
	}
	body["status"] = status

	return c.JSON(http.StatusOK, body)
}

func fileTooLargeDetail(maxFileSize int64) string {
	return fmt.Sprintf("File size exceeds %dMB limit", maxFileSize/(1<<20))
}

// newHTTPErrorHandler reports bodies cut off by the body limit the same way
// as an oversized upload and defers everything else to echo.
func newHTTPErrorHandler(e *echo.Echo, maxFileSize int64) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			if err := c.JSON(http.StatusBadRequest, echo.Map{"detail": fileTooLargeDetail(maxFileSize)}); err != nil {
				slog.Error("failed to write error response", "error", err)
			}
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
}

func toShortLinkResponse(link *database.ShortLink) ShortLinkResponse {
	return ShortLinkResponse{
		Slug:         link.Slug,
		OriginalFile: link.OriginalFile,
		Filesize:     link.Filesize,
		CreatedAt:    link.CreatedAt,
		FCSVersion:   link.FCSVersion,
		Visibility:   link.Visibility,
	}
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, auth.ErrAuthenticationFailed):
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "Incorrect email or password"})
	case errors.Is(err, auth.ErrInvalidToken):
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		return c.JSON(http.StatusForbidden, echo.Map{"detail": "Not authenticated"})
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"detail": "Short link not found"})
	case errors.Is(err, service.ErrEmptyFile):
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "File size cannot be zero"})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "File size exceeds limit"})
	case errors.Is(err, service.ErrInvalidFormat):
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "Invalid FCS file"})
	case errors.Is(err, service.ErrInvalidVisibility):
		return c.JSON(http.StatusBadRequest, echo.Map{"detail": "Invalid visibility"})
	default:
		slog.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
		hub := sentry.CurrentHub().Clone()
		hub.Scope().SetRequest(c.Request())
		hub.CaptureException(err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"detail": "internal server error"})
	}
}
