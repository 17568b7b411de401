package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteRepository is the Repository backed by a local SQLite file.
// Timestamps are stored as unix milliseconds.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at dbPath and applies
// pending migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to open %s: %v", ErrUnavailable, dbPath, err)
	}

	if err := migrateSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("connected to database", "backend", "sqlite", "path", dbPath)

	return &SQLiteRepository{db: db}, nil
}

// Create inserts a new file record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *FileRecord) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID,
		rec.Name,
		rec.Size,
		rec.MimeType,
		rec.UploadDate.UnixMilli(),
		rec.DeleteDate.UnixMilli(),
		rec.Downloads,
	)
	if err != nil {
		return sqliteError("failed to create file record", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrDuplicateID
	}
	return nil
}

// GetByID retrieves a file record by its ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	rec, err := scanSQLiteRecord(r.db.QueryRowContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, sqliteError("failed to get file record", err)
	}
	return rec, nil
}

// IncrementDownloadCount atomically increments the download counter.
func (r *SQLiteRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE files SET downloads = downloads + 1 WHERE id = ?", id)
	if err != nil {
		return sqliteError("failed to increment download count", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List returns all file records.
func (r *SQLiteRepository) List(ctx context.Context) ([]*FileRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+fileColumns+` FROM files`)
	if err != nil {
		return nil, sqliteError("failed to list file records", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, sqliteError("failed to iterate file records", err)
	}
	return records, nil
}

// Delete removes a file record by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM files WHERE id = ?", id); err != nil {
		return sqliteError("failed to delete file record", err)
	}
	return nil
}

func (r *SQLiteRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRecord(row rowScanner) (*FileRecord, error) {
	var (
		rec                    FileRecord
		uploadDate, deleteDate int64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Size,
		&rec.MimeType,
		&uploadDate,
		&deleteDate,
		&rec.Downloads,
	); err != nil {
		return nil, err
	}
	rec.UploadDate = time.UnixMilli(uploadDate).UTC()
	rec.DeleteDate = time.UnixMilli(deleteDate).UTC()
	return &rec, nil
}

// sqliteError wraps err, marking it ErrUnavailable when the handle is closed
// or SQLite reports that the database file cannot be used right now.
func sqliteError(msg string, err error) error {
	if sqliteUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", msg, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func sqliteUnavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) {
		return true
	}
	// database/sql does not export its closed-handle error.
	if strings.Contains(err.Error(), "sql: database is closed") {
		return true
	}

	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	// Extended result codes carry the primary code in the low byte.
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY,
		sqlite3.SQLITE_LOCKED,
		sqlite3.SQLITE_IOERR,
		sqlite3.SQLITE_FULL,
		sqlite3.SQLITE_CANTOPEN,
		sqlite3.SQLITE_NOTADB:
		return true
	}
	return false
}
