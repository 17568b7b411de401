package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const blobExt = ".lz4"

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidID    = errors.New("invalid file id")
)

// Store defines the interface for blob storage backends. Blobs are opaque
// byte slices addressed by file id.
type Store interface {
	Write(id string, blob []byte) error
	Read(id string) ([]byte, error)
	Delete(id string) error
	Exists(id string) bool
	EnsureDir() error
}

// FileSystemStore keeps each blob in {basePath}/{id}.lz4.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Write stores blob for id, replacing any previous blob. The data is written
// to a temporary file in the same directory and renamed into place, so a
// reader sees either the old or the new blob, never a partial one.
func (fs *FileSystemStore) Write(id string, blob []byte) error {
	filePath, err := fs.filePath(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(fs.basePath, "."+id+blobExt+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", id, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write blob %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync blob %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close blob %s: %w", id, err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move blob %s into place: %w", id, err)
	}
	return nil
}

// Read returns the stored blob for id, or ErrBlobNotFound.
func (fs *FileSystemStore) Read(id string) ([]byte, error) {
	filePath, err := fs.filePath(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, id)
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", id, err)
	}
	return data, nil
}

// Delete removes the stored blob for id. Missing blobs are not an error.
func (fs *FileSystemStore) Delete(id string) error {
	filePath, err := fs.filePath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", filePath, err)
	}
	return nil
}

// Exists reports whether a blob is stored for id.
func (fs *FileSystemStore) Exists(id string) bool {
	filePath, err := fs.filePath(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(filePath)
	return err == nil && info.Mode().IsRegular()
}

func (fs *FileSystemStore) filePath(id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	return filepath.Join(fs.basePath, id+blobExt), nil
}

// ValidateID rejects ids that cannot be used as a single file name.
func ValidateID(id string) error {
	switch {
	case id == "", id == ".", id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	case strings.ContainsAny(id, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidID, id)
	case strings.HasPrefix(id, "."):
		return fmt.Errorf("%w: %q must not start with a dot", ErrInvalidID, id)
	case len(id) > 200:
		return fmt.Errorf("%w: longer than 200 bytes", ErrInvalidID)
	}
	return nil
}
