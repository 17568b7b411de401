package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lapse/internal/server/config"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("METADATA_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "lapse.db"))
	t.Setenv("STORAGE_PATH", filepath.Join(dir, "blobs"))

	cfg, _, err := config.Load(nil)
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.repo.Close() })

	out := &bytes.Buffer{}
	a.out = out
	return a, out
}

func TestCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t)

	src := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(src, []byte("quarterly numbers"), 0o644))

	require.NoError(t, a.run(ctx, "upload", []string{"--retention", "7d", "--id", "rep", src}))
	assert.Contains(t, out.String(), "rep  report.txt  17 B")

	out.Reset()
	require.NoError(t, a.run(ctx, "info", []string{"rep"}))
	assert.Contains(t, out.String(), "Name:      report.txt")
	assert.Contains(t, out.String(), "Status:    active")

	dst := filepath.Join(t.TempDir(), "copy.txt")
	require.NoError(t, a.run(ctx, "download", []string{"-o", dst, "rep"}))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(got))

	out.Reset()
	require.NoError(t, a.run(ctx, "download", []string{"-o", "-", "rep"}))
	assert.Equal(t, "quarterly numbers", out.String())

	out.Reset()
	require.NoError(t, a.run(ctx, "info", []string{"rep"}))
	assert.Contains(t, out.String(), "Downloads: 2")

	require.NoError(t, a.run(ctx, "delete", []string{"rep"}))
	assert.Error(t, a.run(ctx, "download", []string{"-o", dst, "rep"}))

	out.Reset()
	require.NoError(t, a.run(ctx, "sweep", []string{"all"}))
	assert.Contains(t, out.String(), "blobs    scanned=1 deleted=0 failed=0")
	assert.Contains(t, out.String(), "metadata scanned=1 deleted=0 failed=0")
}

func TestCommands_Errors(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t)

	src := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0o644))

	assert.Error(t, a.run(ctx, "frobnicate", nil))
	assert.Error(t, a.run(ctx, "upload", nil))
	assert.Error(t, a.run(ctx, "upload", []string{"--retention", "3 days", src}))
	assert.Error(t, a.run(ctx, "upload", []string{"--id", "x", src, src}))
	assert.Error(t, a.run(ctx, "info", []string{"missing"}))
	assert.Error(t, a.run(ctx, "info", nil))
	assert.Error(t, a.run(ctx, "sweep", []string{"everything"}))
}
