package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lapse/internal/server/database"
	"lapse/internal/server/retention"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, _, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, database.DriverPostgres, cfg.MetadataDriver)
	assert.Equal(t, "./storage/files", cfg.StoragePath)
	assert.Equal(t, int64(5<<30), cfg.MaxFileSize)
	assert.Equal(t, []time.Duration{retention.Day, 7 * retention.Day, 14 * retention.Day}, cfg.RetentionPeriods)
	assert.Equal(t, retention.Day, cfg.RetentionGrace)
	assert.Equal(t, "@hourly", cfg.BlobSchedule)
	assert.Equal(t, "@daily", cfg.MetadataSchedule)
	assert.Equal(t, 10.0, cfg.RateLimitRPS)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.ConfigFile())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("METADATA_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/lapse-test.db")
	t.Setenv("UPLOAD_MAX_SIZE", "10 MB")
	t.Setenv("RETENTION_PERIODS", "1 day, 2w,36h")
	t.Setenv("RETENTION_GRACE", "12h")
	t.Setenv("SWEEP_BLOB_SCHEDULE", "*/15 * * * *")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, _, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, database.DriverSQLite, cfg.MetadataDriver)
	assert.Equal(t, "/tmp/lapse-test.db", cfg.SQLitePath)
	assert.Equal(t, int64(10_000_000), cfg.MaxFileSize)
	assert.Equal(t, []time.Duration{retention.Day, 14 * retention.Day, 36 * time.Hour}, cfg.RetentionPeriods)
	assert.Equal(t, 12*time.Hour, cfg.RetentionGrace)
	assert.Equal(t, "*/15 * * * *", cfg.BlobSchedule)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)

	opts := cfg.DatabaseOptions()
	assert.Equal(t, database.DriverSQLite, opts.Driver)
	assert.Equal(t, "/tmp/lapse-test.db", opts.SQLitePath)
}

func TestLoad_FileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lapse.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7000"
metadata:
  driver: redis
redis:
  addr: cache:6379
  db: 3
retention:
  periods: [1d, 7d]
  grace: 2d
log:
  format: text
`), 0o644))

	cfg, rest, err := Load([]string{"--config", path, "--port", "7001", "--storage-path", "/srv/blobs", "sweep", "--dry", "all"})
	require.NoError(t, err)
	assert.Equal(t, []string{"sweep", "--dry", "all"}, rest)

	assert.Equal(t, "7001", cfg.Port, "flags override the file")
	assert.Equal(t, database.DriverRedis, cfg.MetadataDriver)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "/srv/blobs", cfg.StoragePath)
	assert.Equal(t, []time.Duration{retention.Day, 7 * retention.Day}, cfg.RetentionPeriods)
	assert.Equal(t, 2*retention.Day, cfg.RetentionGrace)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, path, cfg.ConfigFile())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"unknown driver", map[string]string{"METADATA_DRIVER": "mongo"}, nil},
		{"bad retention", map[string]string{"RETENTION_PERIODS": "1d,forever"}, nil},
		{"empty retention", map[string]string{"RETENTION_PERIODS": " , "}, nil},
		{"bad grace", map[string]string{"RETENTION_GRACE": "soon"}, nil},
		{"bad max size", map[string]string{"UPLOAD_MAX_SIZE": "lots"}, nil},
		{"bad log level", map[string]string{"LOG_LEVEL": "chatty"}, nil},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, nil},
		{"zero rate", map[string]string{"RATELIMIT_RPS": "0"}, nil},
		{"unknown flag", nil, []string{"--nope"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, _, err := Load(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"1d", "7d"}, stringList("1d, 7d,"))
	assert.Equal(t, []string{"1d", "7d"}, stringList([]any{"1d", " 7d "}))
	assert.Equal(t, []string{"24h"}, stringList([]string{"24h"}))
	assert.Nil(t, stringList(nil))
}
