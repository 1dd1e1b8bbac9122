package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LocalBackend implements the Backend interface for local filesystem storage
type LocalBackend struct {
	basePath string
	logger   zerolog.Logger

	// Directory cache to avoid redundant os.MkdirAll calls. Under
	// concurrent writes many goroutines would call MkdirAll for the
	// same collection directory, causing filesystem lock contention.
	dirCache map[string]bool
	dirMu    sync.RWMutex
}

// NewLocalBackend creates a new local filesystem storage backend
func NewLocalBackend(basePath string, logger zerolog.Logger) (*LocalBackend, error) {
	// Convert to absolute path to avoid issues with filepath.Rel during List operations
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	// Ensure base path exists with owner-only permissions
	if err := os.MkdirAll(absPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}

	return &LocalBackend{
		basePath: absPath,
		logger:   logger.With().Str("component", "local-storage").Logger(),
		dirCache: make(map[string]bool),
	}, nil
}

// Write writes data to the specified path with atomic write (write to temp, then rename)
func (b *LocalBackend) Write(ctx context.Context, path string, data []byte) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	dir := filepath.Dir(fullPath)

	// Fast path: check if directory already exists in cache (RLock)
	b.dirMu.RLock()
	exists := b.dirCache[dir]
	b.dirMu.RUnlock()

	if !exists {
		// Slow path: create directory and update cache (Lock)
		b.dirMu.Lock()
		// Double-check after acquiring write lock
		if !b.dirCache[dir] {
			if err := os.MkdirAll(dir, 0700); err != nil {
				b.dirMu.Unlock()
				return fmt.Errorf("failed to create directory: %w", err)
			}
			b.dirCache[dir] = true
		}
		b.dirMu.Unlock()
	}

	// Write to temporary file with random name so concurrent writers never collide
	tmpFile, err := os.CreateTemp(dir, ".datalake-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", writeErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	b.logger.Debug().
		Str("path", path).
		Int("size", len(data)).
		Msg("Wrote file")

	return nil
}

// Read reads data from the specified path
func (b *LocalBackend) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// List lists all objects with the given prefix
func (b *LocalBackend) List(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := b.validatePath(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}
	var results []string

	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if info.IsDir() {
			return nil
		}

		// Skip hidden files (temp files, .DS_Store)
		if strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}

		results = append(results, filepath.ToSlash(relPath))
		return nil
	})

	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return results, nil
}

// ListObjects lists objects with their metadata at a prefix
func (b *LocalBackend) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	searchPath, err := b.validatePath(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}
	var results []ObjectInfo

	err = filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}

		relPath, err := filepath.Rel(b.basePath, path)
		if err != nil {
			return err
		}

		results = append(results, ObjectInfo{
			Path:         filepath.ToSlash(relPath),
			Size:         info.Size(),
			LastModified: info.ModTime(),
		})
		return nil
	})

	if err != nil {
		if os.IsNotExist(err) {
			return []ObjectInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return results, nil
}

// ListDirectories lists immediate subdirectories at a prefix
func (b *LocalBackend) ListDirectories(ctx context.Context, prefix string) ([]string, error) {
	searchPath, err := b.validatePath(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix: %w", err)
	}

	entries, err := os.ReadDir(searchPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list directories: %w", err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			dirs = append(dirs, entry.Name())
		}
	}

	return dirs, nil
}

// Delete deletes the object at the specified path
func (b *LocalBackend) Delete(ctx context.Context, path string) error {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil // Already deleted, not an error
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.logger.Debug().
		Str("path", path).
		Msg("Deleted file")

	return nil
}

// DeleteBatch deletes multiple objects
func (b *LocalBackend) DeleteBatch(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if err := b.Delete(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

// Exists checks if an object exists at the specified path
func (b *LocalBackend) Exists(ctx context.Context, path string) (bool, error) {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return false, fmt.Errorf("invalid path: %w", err)
	}

	_, err = os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check file existence: %w", err)
	}

	return true, nil
}

// Close closes any resources held by the backend (no-op for local storage)
func (b *LocalBackend) Close() error {
	return nil
}

// BasePath returns the base path for the local storage
func (b *LocalBackend) BasePath() string {
	return b.basePath
}

// Type returns the storage type identifier
func (b *LocalBackend) Type() string {
	return "local"
}

// URI returns the absolute filesystem path for a given storage path
func (b *LocalBackend) URI(path string) string {
	fullPath, err := b.validatePath(path)
	if err != nil {
		return ""
	}
	return fullPath
}

// sanitizePath removes any potentially dangerous path components
func sanitizePath(path string) string {
	// Remove leading slashes
	path = strings.TrimPrefix(path, "/")

	// Replace .. with _ to prevent directory traversal
	path = strings.ReplaceAll(path, "..", "_")

	// Remove any null bytes (can bypass some checks)
	path = strings.ReplaceAll(path, "\x00", "")

	return path
}

// validatePath ensures the resolved path stays within the base path (prevents path traversal)
func (b *LocalBackend) validatePath(path string) (string, error) {
	sanitized := sanitizePath(path)

	fullPath := filepath.Join(b.basePath, sanitized)
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	relPath, err := filepath.Rel(b.basePath, absPath)
	if err != nil {
		return "", fmt.Errorf("path traversal detected")
	}

	// If the relative path starts with "..", it's outside the base path
	if strings.HasPrefix(relPath, "..") {
		return "", fmt.Errorf("path traversal detected: path escapes base directory")
	}

	return absPath, nil
}
