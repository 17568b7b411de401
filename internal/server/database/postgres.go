package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const fileColumns = `id, name, size, mime_type, upload_date, delete_date, downloads`

// PostgresRepository is the PostgreSQL-backed Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository connects to databaseURL, verifies the connection and
// applies pending migrations.
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", ErrUnavailable, err)
	}
	slog.Info("connected to database", "backend", "postgres")

	if err := migratePostgres(databaseURL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresRepository{pool: pool}, nil
}

// Create inserts a new file record.
func (r *PostgresRepository) Create(ctx context.Context, rec *FileRecord) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO files (`+fileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		rec.ID,
		rec.Name,
		rec.Size,
		rec.MimeType,
		rec.UploadDate,
		rec.DeleteDate,
		rec.Downloads,
	)
	if err != nil {
		return pgError("failed to create file record", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateID
	}
	return nil
}

// GetByID retrieves a file record by its ID.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, pgError("failed to get file record", err)
	}
	return rec, nil
}

// IncrementDownloadCount atomically increments the download counter.
func (r *PostgresRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		"UPDATE files SET downloads = downloads + 1 WHERE id = $1", id)
	if err != nil {
		return pgError("failed to increment download count", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List returns all file records.
func (r *PostgresRepository) List(ctx context.Context) ([]*FileRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+fileColumns+` FROM files`)
	if err != nil {
		return nil, pgError("failed to list file records", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("failed to iterate file records", err)
	}
	return records, nil
}

// Delete removes a file record by ID.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM files WHERE id = $1", id); err != nil {
		return pgError("failed to delete file record", err)
	}
	return nil
}

// HealthCheck verifies the database connection is alive.
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close shuts down the connection pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (*FileRecord, error) {
	rec := &FileRecord{}
	if err := row.Scan(
		&rec.ID,
		&rec.Name,
		&rec.Size,
		&rec.MimeType,
		&rec.UploadDate,
		&rec.DeleteDate,
		&rec.Downloads,
	); err != nil {
		return nil, err
	}
	rec.UploadDate = rec.UploadDate.UTC()
	rec.DeleteDate = rec.DeleteDate.UTC()
	return rec, nil
}

// pgError wraps err, marking it ErrUnavailable unless the server answered
// with a regular SQL error.
func pgError(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, ErrUnavailable, err)
}
