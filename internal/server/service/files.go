package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"lapse/internal/core"
	"lapse/internal/server/database"
	"lapse/internal/server/retention"
	"lapse/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound         = errors.New("file not found")
	ErrDuplicateID      = errors.New("file id already exists")
	ErrInvalidRetention = errors.New("invalid retention period")
	ErrCorruptBlob      = errors.New("stored file is corrupt")
	ErrStoreUnavailable = errors.New("metadata store unavailable")
	ErrInvalidID        = errors.New("invalid file id")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
)

// UploadRequest describes a file to store.
type UploadRequest struct {
	ID       string
	Name     string
	MimeType string
	Content  []byte
	// Retention is a period such as "7d", "7 days" or "168h"; it must be one
	// of the configured choices.
	Retention string
}

// Stats summarises the stored files.
type Stats struct {
	TotalFiles     int   `json:"total_files"`
	ActiveFiles    int   `json:"active_files"`
	TotalDownloads int64 `json:"total_downloads"`
	TotalBytes     int64 `json:"total_bytes"`
}

// FileService is the entry point for uploads, downloads and lookups.
type FileService struct {
	repo        database.Repository
	store       storage.Store
	policy      *retention.Policy
	clock       clockwork.Clock
	maxFileSize int64
}

// NewFileService creates a new file service. A maxFileSize of zero or less
// disables the size limit.
func NewFileService(
	repo database.Repository,
	store storage.Store,
	policy *retention.Policy,
	clock clockwork.Clock,
	maxFileSize int64,
) *FileService {
	return &FileService{
		repo:        repo,
		store:       store,
		policy:      policy,
		clock:       clock,
		maxFileSize: maxFileSize,
	}
}

// GetFileInfo returns the metadata record for id. Records stay visible
// during the grace period after their blob has been reclaimed.
func (s *FileService) GetFileInfo(ctx context.Context, id string) (*database.FileRecord, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return rec, nil
}

// UploadFile validates the request, records its metadata, and writes the
// compressed content to the blob store.
//
// The metadata record is committed before the blob is written and is not
// rolled back if the write fails; the sweeps reclaim it once it expires.
func (s *FileService) UploadFile(ctx context.Context, req UploadRequest) (*database.FileRecord, error) {
	if err := storage.ValidateID(req.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	period, err := retention.Parse(req.Retention)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRetention, err)
	}

	now := s.clock.Now().UTC().Truncate(time.Millisecond)
	deleteDate, err := s.policy.DeleteDate(now, period)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRetention, err)
	}

	if s.maxFileSize > 0 && int64(len(req.Content)) > s.maxFileSize {
		return nil, ErrFileTooLarge
	}

	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	rec := &database.FileRecord{
		ID:         req.ID,
		Name:       sanitizeFilename(req.Name),
		Size:       int64(len(req.Content)),
		MimeType:   mimeType,
		UploadDate: now,
		DeleteDate: deleteDate,
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create file record: %w", mapRepoError(err))
	}

	blob, err := core.Compress(req.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to compress file: %w", err)
	}

	if err := s.store.Write(rec.ID, blob); err != nil {
		slog.Error("blob write failed after metadata commit", "id", rec.ID, "error", err)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	slog.Info("file uploaded",
		"id", rec.ID,
		"name", rec.Name,
		"size", rec.Size,
		"compressed_size", len(blob),
		"delete_date", rec.DeleteDate,
	)

	return rec, nil
}

// DownloadFile returns the original content of id and counts the download.
// A missing blob means not found, whether or not metadata still exists.
func (s *FileService) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	if err := storage.ValidateID(id); err != nil {
		return nil, ErrNotFound
	}

	blob, err := s.store.Read(id)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	content, err := core.Decompress(blob)
	if err != nil {
		slog.Error("stored blob is corrupt", "id", id, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}

	// The bytes are already in hand; a lost count must not fail the download.
	if err := s.repo.IncrementDownloadCount(ctx, id); err != nil {
		slog.Error("failed to increment download count", "id", id, "error", err)
	}

	return content, nil
}

// DeleteFile removes the blob for id. The metadata record is left for the
// metadata sweep. Deleting a missing blob is not an error.
func (s *FileService) DeleteFile(ctx context.Context, id string) error {
	if err := storage.ValidateID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidID, err)
	}

	if err := s.store.Delete(id); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	slog.Info("file deleted", "id", id)
	return nil
}

// Stats returns totals over every stored record.
func (s *FileService) Stats(ctx context.Context) (*Stats, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list file records: %w", mapRepoError(err))
	}

	now := s.clock.Now()
	stats := &Stats{TotalFiles: len(records)}
	for _, rec := range records {
		stats.TotalDownloads += rec.Downloads
		if !s.policy.BlobExpired(rec, now) {
			stats.ActiveFiles++
			stats.TotalBytes += rec.Size
		}
	}
	return stats, nil
}

// MaxFileSize returns the upload size limit in bytes; zero or less means
// no limit.
func (s *FileService) MaxFileSize() int64 {
	return s.maxFileSize
}

// Retentions returns the configured retention choices, shortest first.
func (s *FileService) Retentions() []time.Duration {
	return s.policy.Periods()
}

// Expired reports whether the blob of rec has passed its delete date.
func (s *FileService) Expired(rec *database.FileRecord) bool {
	return s.policy.BlobExpired(rec, s.clock.Now())
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, database.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, database.ErrDuplicateID):
		return ErrDuplicateID
	case errors.Is(err, database.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

const (
	maxNameLen = 255
	// Longer extensions are dropped rather than kept at the cost of the name.
	maxExtLen = 32
)

// sanitizeFilename strips directory components and limits the name to
// maxNameLen bytes of valid UTF-8, keeping a short extension intact.
func sanitizeFilename(name string) string {
	name = strings.ToValidUTF8(name, "\uFFFD")

	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > maxNameLen {
		ext := filepath.Ext(name)
		if len(ext) > maxExtLen {
			ext = ""
		}
		name = truncateUTF8(name[:len(name)-len(ext)], maxNameLen-len(ext)) + ext
	}

	if name == "" || name == "." || name == "/" {
		name = "upload"
	}

	return name
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
