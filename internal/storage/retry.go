package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/antoinevdp/datalake-api/internal/circuitbreaker"
	"github.com/rs/zerolog"
)

// RetryBackend wraps a storage backend with circuit breaker and retry logic.
// Object stores fail transiently, so writes and listings get a few attempts
// with exponential backoff before the error surfaces.
type RetryBackend struct {
	backend Backend
	cb      *circuitbreaker.CircuitBreaker
	logger  zerolog.Logger

	maxRetries    int
	retryDelay    time.Duration
	retryMaxDelay time.Duration
}

// RetryConfig holds configuration for the retry backend
type RetryConfig struct {
	// Circuit breaker settings
	MaxFailures         int
	Timeout             time.Duration
	HalfOpenMaxRequests int

	// Retry settings
	MaxRetries    int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// DefaultRetryConfig returns default retry backend configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxFailures:         5,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
		MaxRetries:          3,
		RetryDelay:          100 * time.Millisecond,
		RetryMaxDelay:       5 * time.Second,
	}
}

// NewRetryBackend creates a new retrying storage backend
func NewRetryBackend(backend Backend, cfg *RetryConfig, logger zerolog.Logger) *RetryBackend {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	cbConfig := &circuitbreaker.Config{
		Name:                "storage",
		MaxFailures:         cfg.MaxFailures,
		Timeout:             cfg.Timeout,
		HalfOpenMaxRequests: cfg.HalfOpenMaxRequests,
	}

	return &RetryBackend{
		backend:       backend,
		cb:            circuitbreaker.New(cbConfig, logger),
		logger:        logger.With().Str("component", "retry-storage").Logger(),
		maxRetries:    cfg.MaxRetries,
		retryDelay:    cfg.RetryDelay,
		retryMaxDelay: cfg.RetryMaxDelay,
	}
}

// do runs fn through the circuit breaker, retrying with exponential backoff.
// It gives up immediately when the circuit is open or the context is done.
func (r *RetryBackend) do(ctx context.Context, op, path string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err := r.cb.Execute(fn)
		if err == nil {
			return nil
		}

		lastErr = err

		if err == circuitbreaker.ErrCircuitOpen {
			r.logger.Warn().
				Str("op", op).
				Str("path", path).
				Msg("Storage operation rejected - circuit breaker open")
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := r.retryDelay * time.Duration(1<<uint(attempt))
		if delay > r.retryMaxDelay {
			delay = r.retryMaxDelay
		}

		r.logger.Warn().
			Err(err).
			Str("op", op).
			Str("path", path).
			Int("attempt", attempt+1).
			Int("max_retries", r.maxRetries).
			Dur("retry_delay", delay).
			Msg("Storage operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("storage %s failed after %d retries: %w", op, r.maxRetries, lastErr)
}

func (r *RetryBackend) Write(ctx context.Context, path string, data []byte) error {
	return r.do(ctx, "write", path, func() error {
		return r.backend.Write(ctx, path, data)
	})
}

func (r *RetryBackend) Read(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := r.do(ctx, "read", path, func() error {
		var readErr error
		data, readErr = r.backend.Read(ctx, path)
		return readErr
	})
	return data, err
}

func (r *RetryBackend) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := r.do(ctx, "list", prefix, func() error {
		var listErr error
		keys, listErr = r.backend.List(ctx, prefix)
		return listErr
	})
	return keys, err
}

func (r *RetryBackend) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	err := r.do(ctx, "list-objects", prefix, func() error {
		var listErr error
		objects, listErr = r.backend.ListObjects(ctx, prefix)
		return listErr
	})
	return objects, err
}

func (r *RetryBackend) ListDirectories(ctx context.Context, prefix string) ([]string, error) {
	var dirs []string
	err := r.do(ctx, "list-directories", prefix, func() error {
		var listErr error
		dirs, listErr = r.backend.ListDirectories(ctx, prefix)
		return listErr
	})
	return dirs, err
}

func (r *RetryBackend) Exists(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := r.do(ctx, "exists", path, func() error {
		var existsErr error
		exists, existsErr = r.backend.Exists(ctx, path)
		return existsErr
	})
	return exists, err
}

func (r *RetryBackend) Delete(ctx context.Context, path string) error {
	return r.do(ctx, "delete", path, func() error {
		return r.backend.Delete(ctx, path)
	})
}

// DeleteBatch forwards to the wrapped backend's batch delete when available,
// falling back to sequential deletes otherwise.
func (r *RetryBackend) DeleteBatch(ctx context.Context, paths []string) error {
	if bd, ok := r.backend.(BatchDeleter); ok {
		return r.do(ctx, "delete-batch", fmt.Sprintf("%d keys", len(paths)), func() error {
			return bd.DeleteBatch(ctx, paths)
		})
	}
	for _, p := range paths {
		if err := r.Delete(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying storage backend
func (r *RetryBackend) Close() error {
	return r.backend.Close()
}

// Type returns the wrapped backend's type identifier
func (r *RetryBackend) Type() string {
	return r.backend.Type()
}

// URI returns the wrapped backend's URI for a path
func (r *RetryBackend) URI(path string) string {
	return r.backend.URI(path)
}

// CircuitBreakerStats returns circuit breaker statistics
func (r *RetryBackend) CircuitBreakerStats() map[string]interface{} {
	return r.cb.Stats()
}

// IsCircuitOpen returns true if the circuit breaker is open
func (r *RetryBackend) IsCircuitOpen() bool {
	return r.cb.IsOpen()
}
