package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore_Write(t *testing.T) {
	t.Run("writes blob to disk", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		require.NoError(t, store.Write("abc123", []byte("test content")))

		content, err := os.ReadFile(filepath.Join(dir, "abc123.lz4"))
		require.NoError(t, err)
		assert.Equal(t, "test content", string(content))
	})

	t.Run("overwrites existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		require.NoError(t, store.Write("same", []byte("first version, longer")))
		require.NoError(t, store.Write("same", []byte("second")))

		got, err := store.Read("same")
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)

		large := bytes.Repeat([]byte("x"), 1024*1024)
		require.NoError(t, store.Write("large", large))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "large.lz4", entries[0].Name())
	})

	t.Run("fails when directory is missing", func(t *testing.T) {
		store := NewFileSystemStore(filepath.Join(t.TempDir(), "missing"))
		assert.Error(t, store.Write("x", []byte("data")))
	})
}

func TestFileSystemStore_Read(t *testing.T) {
	t.Run("returns stored bytes", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "test123.lz4"), []byte("data"), 0644))

		got, err := store.Read("test123")
		require.NoError(t, err)
		assert.Equal(t, []byte("data"), got)
	})

	t.Run("returns not found for missing blob", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())

		_, err := store.Read("nonexistent")
		assert.ErrorIs(t, err, ErrBlobNotFound)
	})
}

func TestFileSystemStore_Delete(t *testing.T) {
	t.Run("deletes existing blob", func(t *testing.T) {
		dir := t.TempDir()
		store := NewFileSystemStore(dir)
		filePath := filepath.Join(dir, "del123.lz4")
		require.NoError(t, os.WriteFile(filePath, []byte("data"), 0644))

		require.NoError(t, store.Delete("del123"))

		_, err := os.Stat(filePath)
		assert.True(t, os.IsNotExist(err), "expected blob to be deleted")
	})

	t.Run("twice is the same as once", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		require.NoError(t, store.Write("twice", []byte("data")))

		require.NoError(t, store.Delete("twice"))
		require.NoError(t, store.Delete("twice"))
		assert.False(t, store.Exists("twice"))
	})

	t.Run("no error for missing blob", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		assert.NoError(t, store.Delete("nonexistent"))
	})
}

func TestFileSystemStore_Exists(t *testing.T) {
	dir := t.TempDir()
	store := NewFileSystemStore(dir)

	assert.False(t, store.Exists("e1"))
	require.NoError(t, store.Write("e1", []byte("data")))
	assert.True(t, store.Exists("e1"))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "adir.lz4"), 0755))
	assert.False(t, store.Exists("adir"), "directories are not blobs")
}

func TestFileSystemStore_EnsureDir(t *testing.T) {
	t.Run("creates directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "storage", "path")
		store := NewFileSystemStore(dir)

		require.NoError(t, store.EnsureDir())

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("succeeds if directory exists", func(t *testing.T) {
		store := NewFileSystemStore(t.TempDir())
		assert.NoError(t, store.EnsureDir())
	})
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"f1", "3f2a9c1e-7b7d-4a43-9c1f-2a0d6f1e9b11", "report.pdf", "a_b-c"} {
		assert.NoError(t, ValidateID(id), "id %q", id)
	}

	bad := []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`, "nul\x00", ".hidden", strings.Repeat("x", 201)}
	for _, id := range bad {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidID, "id %q", id)
	}

	store := NewFileSystemStore(t.TempDir())
	assert.ErrorIs(t, store.Write("../escape", []byte("x")), ErrInvalidID)
	assert.False(t, store.Exists("../escape"))
}
