package database

import (
	"context"
	"errors"
)

var (
	ErrRecordNotFound = errors.New("file record not found")
	ErrDuplicateID    = errors.New("file record already exists")
	ErrUnavailable    = errors.New("metadata store unavailable")
)

// Repository is the metadata store for uploaded files. Every operation is
// independent and atomic for a single record; there are no multi-record
// transactions.
type Repository interface {
	// Create inserts a new record. Returns ErrDuplicateID if the id is taken.
	Create(ctx context.Context, rec *FileRecord) error

	// GetByID returns a snapshot of the record or ErrRecordNotFound.
	GetByID(ctx context.Context, id string) (*FileRecord, error)

	// IncrementDownloadCount atomically adds one to the download counter.
	// Returns ErrRecordNotFound if the record does not exist.
	IncrementDownloadCount(ctx context.Context, id string) error

	// List returns every record in no particular order.
	List(ctx context.Context) ([]*FileRecord, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id string) error

	HealthCheck(ctx context.Context) error
	Close() error
}
