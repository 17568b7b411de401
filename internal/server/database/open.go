package database

import (
	"context"
	"fmt"
)

// Supported metadata store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Options selects and configures a metadata store backend.
type Options struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	Redis       RedisOptions
}

// Open connects to the backend named by opts.Driver.
func Open(ctx context.Context, opts Options) (Repository, error) {
	var (
		repo Repository
		err  error
	)

	switch opts.Driver {
	case DriverPostgres:
		repo, err = NewPostgresRepository(ctx, opts.DatabaseURL)
	case DriverSQLite:
		repo, err = NewSQLiteRepository(opts.SQLitePath)
	case DriverRedis:
		repo, err = NewRedisRepository(ctx, opts.Redis)
	default:
		return nil, fmt.Errorf("unknown metadata driver %q", opts.Driver)
	}

	if err != nil {
		return nil, err
	}
	return repo, nil
}
