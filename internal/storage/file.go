package storage

/*
Directory layout (File Storage):

	{root}/{namespace}/{key}

One flat file per cached call, one subdirectory per namespace. Keys are
produced by the cachekey package and are already single path segments of
at most 255 bytes, so no sharding is applied.

Writes go to a temp file in the target directory and are renamed into
place, so a concurrent reader sees either the previous state (no file) or
the complete payload, never a partial write.
*/

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const tmpPrefix = ".tmp-"

// fileStorage implements Storage for the local file system
type fileStorage struct {
	basePath string
}

// FileConfig holds file storage configuration
type FileConfig struct {
	BasePath string // Cache root (e.g., "cache" or "/data/gratsample/cache")
}

// NewFileStorage creates a new file storage rooted at cfg.BasePath
func NewFileStorage(cfg FileConfig) (*fileStorage, error) {
	basePath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &fileStorage{basePath: basePath}, nil
}

// Prepare creates the namespace directory (idempotent)
func (s *fileStorage) Prepare(ctx context.Context, namespace string) error {
	if err := os.MkdirAll(filepath.Join(s.basePath, namespace), 0o755); err != nil {
		return fmt.Errorf("failed to create namespace directory: %w", err)
	}
	return nil
}

// Put writes data atomically (temp file + rename)
func (s *fileStorage) Put(ctx context.Context, key string, data []byte) error {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Get reads the object; a missing file (or namespace directory) is ErrNotFound
func (s *fileStorage) Get(ctx context.Context, key string) ([]byte, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// Delete removes data by key
func (s *fileStorage) Delete(ctx context.Context, key string) error {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil // Already deleted, treat as success
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Exists checks if key exists
func (s *fileStorage) Exists(ctx context.Context, key string) (bool, error) {
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}
	return !info.IsDir(), nil
}

// List lists all keys under the given prefix directory
func (s *fileStorage) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath := filepath.Join(s.basePath, filepath.FromSlash(prefix))
	var keys []string

	err := filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		// Skip directories and in-flight temp files
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}
		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return keys, nil
}

func (s *fileStorage) Name() string {
	return "file:" + s.basePath
}

// Root returns the absolute cache root
func (s *fileStorage) Root() string {
	return s.basePath
}
