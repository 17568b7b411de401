package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisIndexKey  = "lapse:files"
	redisKeyPrefix = "lapse:file:"
)

// incrementScript bumps the counter only when the record hash exists, so a
// late increment never resurrects a deleted record.
var incrementScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return redis.call("HINCRBY", KEYS[1], "downloads", 1)
end
return -1
`)

// createScript adds the id to the index and writes the hash, or returns 0
// if the id is already indexed.
var createScript = redis.NewScript(`
if redis.call("SADD", KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call("HSET", KEYS[2],
	"name", ARGV[2],
	"size", ARGV[3],
	"mime_type", ARGV[4],
	"upload_date", ARGV[5],
	"delete_date", ARGV[6],
	"downloads", ARGV[7])
return 1
`)

// RedisRepository stores each record as a hash plus an index set of ids.
type RedisRepository struct {
	client redis.Cmdable
	closer func() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisRepository connects to Redis and checks the connection.
func NewRedisRepository(ctx context.Context, opts RedisOptions) (*RedisRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to ping redis at %s: %v", ErrUnavailable, opts.Addr, err)
	}
	slog.Info("connected to database", "backend", "redis", "addr", opts.Addr)

	return &RedisRepository{client: client, closer: client.Close}, nil
}

func redisKey(id string) string {
	return redisKeyPrefix + id
}

// Create reserves the id in the index set and writes the record hash in one
// script, so the index never holds an id without a hash.
func (r *RedisRepository) Create(ctx context.Context, rec *FileRecord) error {
	created, err := createScript.Run(ctx, r.client,
		[]string{redisIndexKey, redisKey(rec.ID)},
		rec.ID,
		rec.Name,
		strconv.FormatInt(rec.Size, 10),
		rec.MimeType,
		strconv.FormatInt(rec.UploadDate.UnixMilli(), 10),
		strconv.FormatInt(rec.DeleteDate.UnixMilli(), 10),
		strconv.FormatInt(rec.Downloads, 10),
	).Int64()
	if err != nil {
		return redisError("failed to create file record", err)
	}
	if created == 0 {
		return ErrDuplicateID
	}
	return nil
}

// GetByID retrieves a file record by its ID.
func (r *RedisRepository) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	fields, err := r.client.HGetAll(ctx, redisKey(id)).Result()
	if err != nil {
		return nil, redisError("failed to get file record", err)
	}
	if len(fields) == 0 {
		return nil, ErrRecordNotFound
	}
	return decodeRedisRecord(id, fields)
}

// IncrementDownloadCount atomically increments the download counter.
func (r *RedisRepository) IncrementDownloadCount(ctx context.Context, id string) error {
	n, err := incrementScript.Run(ctx, r.client, []string{redisKey(id)}).Int64()
	if err != nil {
		return redisError("failed to increment download count", err)
	}
	if n < 0 {
		return ErrRecordNotFound
	}
	return nil
}

// List returns all indexed records. Ids whose hash is already gone are skipped.
func (r *RedisRepository) List(ctx context.Context) ([]*FileRecord, error) {
	ids, err := r.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, redisError("failed to list file ids", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, redisKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, redisError("failed to list file records", err)
	}

	records := make([]*FileRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRedisRecord(ids[i], fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Delete removes the record hash and its index entry in one transaction.
func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey(id))
		pipe.SRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return redisError("failed to delete file record", err)
	}
	return nil
}

func (r *RedisRepository) HealthCheck(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisRepository) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

func decodeRedisRecord(id string, fields map[string]string) (*FileRecord, error) {
	size, err := strconv.ParseInt(fields["size"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid size for file record %s: %w", id, err)
	}
	uploadMs, err := strconv.ParseInt(fields["upload_date"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid upload_date for file record %s: %w", id, err)
	}
	deleteMs, err := strconv.ParseInt(fields["delete_date"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid delete_date for file record %s: %w", id, err)
	}
	downloads, err := strconv.ParseInt(fields["downloads"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid downloads for file record %s: %w", id, err)
	}

	return &FileRecord{
		ID:         id,
		Name:       fields["name"],
		Size:       size,
		MimeType:   fields["mime_type"],
		UploadDate: time.UnixMilli(uploadMs).UTC(),
		DeleteDate: time.UnixMilli(deleteMs).UTC(),
		Downloads:  downloads,
	}, nil
}

func redisError(msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%s: %w: %v", msg, ErrUnavailable, err)
}
