package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"lapse/internal/server/database"
	"lapse/internal/server/retention"
	"lapse/internal/server/service"
)

// HealthChecker reports whether the metadata store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler contains the HTTP handlers for the lapse API.
type Handler struct {
	svc    *service.FileService
	health HealthChecker
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.FileService, health HealthChecker) *Handler {
	return &Handler{svc: svc, health: health}
}

// FileInfo is the JSON view of a stored file.
type FileInfo struct {
	*database.FileRecord
	SizeHuman   string `json:"size_human"`
	Expired     bool   `json:"expired"`
	DownloadURL string `json:"download_url"`
}

// RetentionChoice is one selectable retention period.
type RetentionChoice struct {
	Value   string `json:"value"`
	Label   string `json:"label"`
	Seconds int64  `json:"seconds"`
}

func (h *Handler) fileInfo(rec *database.FileRecord) FileInfo {
	return FileInfo{
		FileRecord:  rec,
		SizeHuman:   humanize.IBytes(uint64(rec.Size)),
		Expired:     h.svc.Expired(rec),
		DownloadURL: "/d/" + rec.ID,
	}
}

// HandleUpload handles POST /api/upload.
// Accepts a multipart form with a "file" field, a "retention" field and an
// optional "id"; without one a random UUID is assigned.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error": "file is required (use form field 'file')",
		})
	}

	// Check the size before buffering the file in memory.
	maxSize := h.svc.MaxFileSize()
	if maxSize > 0 && fileHeader.Size > maxSize {
		return mapServiceError(c, service.ErrFileTooLarge)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}
	defer src.Close()

	var reader io.Reader = src
	if maxSize > 0 {
		// One byte over the limit is enough for the service to reject it.
		reader = io.LimitReader(src, maxSize+1)
	}
	content, err := io.ReadAll(reader)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": "failed to read uploaded file",
		})
	}

	id := c.FormValue("id")
	if id == "" {
		id = uuid.NewString()
	}

	// The upload form preselects the shortest period.
	period := c.FormValue("retention")
	if period == "" {
		period = retention.Format(h.svc.Retentions()[0])
	}

	rec, err := h.svc.UploadFile(c.Request().Context(), service.UploadRequest{
		ID:        id,
		Name:      fileHeader.Filename,
		MimeType:  fileHeader.Header.Get(echo.HeaderContentType),
		Content:   content,
		Retention: period,
	})
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusCreated, h.fileInfo(rec))
}

// HandleDownload handles GET /d/:id.
// Serves the decompressed file as an attachment.
func (h *Handler) HandleDownload(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	content, err := h.svc.DownloadFile(ctx, id)
	if err != nil {
		return mapServiceError(c, err)
	}

	// Name and type are cosmetic; a missing record does not fail the download.
	name, mimeType := id, "application/octet-stream"
	if rec, err := h.svc.GetFileInfo(ctx, id); err == nil {
		name, mimeType = rec.Name, rec.MimeType
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	return c.Blob(http.StatusOK, mimeType, content)
}

// HandleInfo handles GET /api/info/:id.
// Returns file metadata without serving the file. During the grace period
// after expiry the record is still returned, flagged as expired.
func (h *Handler) HandleInfo(c echo.Context) error {
	rec, err := h.svc.GetFileInfo(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, h.fileInfo(rec))
}

// HandleDelete handles DELETE /api/files/:id.
// Removes the stored blob; the metadata is reclaimed by the sweeper.
func (h *Handler) HandleDelete(c echo.Context) error {
	if err := h.svc.DeleteFile(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"message": "file deleted successfully",
	})
}

// HandleRetentions handles GET /api/retentions.
func (h *Handler) HandleRetentions(c echo.Context) error {
	periods := h.svc.Retentions()
	choices := make([]RetentionChoice, len(periods))
	for i, d := range periods {
		choices[i] = RetentionChoice{
			Value:   retention.Format(d),
			Label:   retentionLabel(d),
			Seconds: int64(d / time.Second),
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"retentions": choices})
}

// HandleHealth handles GET /health.
// Returns the health status of the server, including metadata store connectivity.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"
	code := http.StatusOK

	if err := h.health.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
		code = http.StatusServiceUnavailable
	}

	return c.JSON(code, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
// Returns aggregate server statistics.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_files":        stats.TotalFiles,
		"active_files":       stats.ActiveFiles,
		"total_downloads":    stats.TotalDownloads,
		"storage_used_bytes": stats.TotalBytes,
		"storage_used_human": humanize.IBytes(uint64(stats.TotalBytes)),
	})
}

// mapServiceError translates service-layer errors into appropriate HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "file not found"})
	case errors.Is(err, service.ErrDuplicateID):
		return c.JSON(http.StatusConflict, echo.Map{"error": "file id already exists"})
	case errors.Is(err, service.ErrInvalidRetention),
		errors.Is(err, service.ErrInvalidID):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{
			"error": "file exceeds maximum allowed size",
		})
	case errors.Is(err, service.ErrStoreUnavailable):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "storage temporarily unavailable"})
	case errors.Is(err, service.ErrCorruptBlob):
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "stored file is corrupt"})
	default:
		slog.Error("request failed", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
	}
}

// retentionLabel renders whole days the way the upload form shows them.
func retentionLabel(d time.Duration) string {
	if d%retention.Day != 0 {
		return d.String()
	}
	days := int64(d / retention.Day)
	if days == 1 {
		return "1 day"
	}
	return strconv.FormatInt(days, 10) + " days"
}
