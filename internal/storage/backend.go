package storage

import (
	"context"
	"time"
)

// Backend defines the interface for lake storage backends (local, S3, MinIO, Azure).
// Parquet partitions live under "<collection>/<file>.parquet" keys.
type Backend interface {
	// Write writes data to the specified path
	Write(ctx context.Context, path string, data []byte) error

	// Read reads data from the specified path
	Read(ctx context.Context, path string) ([]byte, error)

	// List lists all object keys with the given prefix
	List(ctx context.Context, prefix string) ([]string, error)

	// ListObjects lists objects with their metadata at a prefix
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// ListDirectories lists immediate subdirectories at a prefix.
	// Top-level directories are the lake's collections.
	ListDirectories(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// Delete deletes the object at the specified path
	Delete(ctx context.Context, path string) error

	// Close closes any resources held by the backend
	Close() error

	// Type returns the storage type identifier ("local", "s3", "azure")
	Type() string

	// URI returns the address DuckDB should use to read the object
	// (an absolute filesystem path, s3://..., or azure://...)
	URI(path string) string
}

// BatchDeleter supports efficient batch deletion of multiple objects.
// Implementations should handle batching internally (e.g., S3 supports up to 1000 objects per batch).
type BatchDeleter interface {
	DeleteBatch(ctx context.Context, paths []string) error
}

// ObjectInfo provides metadata about a storage object.
type ObjectInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// DeleteAll deletes the given keys, batching when the backend supports it.
func DeleteAll(ctx context.Context, b Backend, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if bd, ok := b.(BatchDeleter); ok {
		return bd.DeleteBatch(ctx, paths)
	}
	for _, p := range paths {
		if err := b.Delete(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
