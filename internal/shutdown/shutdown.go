package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Shutdownable is an interface for components that can be shut down gracefully
type Shutdownable interface {
	Close() error
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(ctx context.Context) error

// Coordinator manages graceful shutdown of all components
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	entries []entry

	shutdownOnce sync.Once
	triggerOnce  sync.Once // Separate Once for TriggerShutdown to prevent race condition
	shutdownCh   chan struct{}
}

type entry struct {
	name     string
	fn       ShutdownFunc
	priority int // Lower = shutdown first
	seq      int // Registration order, tiebreak for equal priorities
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger.With().Str("component", "shutdown").Logger(),
		shutdownCh: make(chan struct{}),
	}
}

// Register registers a component for graceful shutdown
// Priority determines shutdown order (lower = shutdown first)
func (c *Coordinator) Register(name string, component Shutdownable, priority int) {
	c.RegisterHook(name, func(context.Context) error {
		return component.Close()
	}, priority)
}

// RegisterHook registers a shutdown hook function
func (c *Coordinator) RegisterHook(name string, hook ShutdownFunc, priority int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, entry{
		name:     name,
		fn:       hook,
		priority: priority,
		seq:      len(c.entries),
	})

	c.logger.Debug().
		Str("name", name).
		Int("priority", priority).
		Msg("Registered component for shutdown")
}

// WaitForSignal blocks until a shutdown signal is received
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-quit:
		c.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// Shutdown performs graceful shutdown of all registered components
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		// Use triggerOnce to safely close the channel (may have been closed by TriggerShutdown)
		c.triggerOnce.Do(func() {
			close(c.shutdownCh)
		})

		c.mu.Lock()
		entries := make([]entry, len(c.entries))
		copy(entries, c.entries)
		c.mu.Unlock()

		sort.Slice(entries, func(i, j int) bool {
			if entries[i].priority != entries[j].priority {
				return entries[i].priority < entries[j].priority
			}
			return entries[i].seq < entries[j].seq
		})

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("components", len(entries)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()

		for _, e := range entries {
			select {
			case <-ctx.Done():
				c.logger.Warn().
					Str("component", e.name).
					Msg("Shutdown timeout reached, skipping remaining components")
				shutdownErr = ctx.Err()
				return
			default:
			}

			c.logger.Debug().
				Str("component", e.name).
				Int("priority", e.priority).
				Msg("Shutting down component")

			if err := e.fn(ctx); err != nil {
				c.logger.Error().
					Err(err).
					Str("component", e.name).
					Msg("Component shutdown failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
			} else {
				c.logger.Debug().
					Str("component", e.name).
					Msg("Component shutdown complete")
			}
		}

		duration := time.Since(start)
		c.logger.Info().
			Dur("duration", duration).
			Msg("Graceful shutdown complete")
	})

	return shutdownErr
}

// TriggerShutdown triggers a shutdown programmatically
// This is safe to call from multiple goroutines concurrently
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}

// Priorities for common components (use these as guidelines)
const (
	PriorityHTTPServer = 10 // Stop accepting new requests first
	PriorityScheduler  = 20 // Stop catalog refresh ticks
	PriorityRegistry   = 30 // Cancel in-flight queries
	PriorityTableStore = 80 // Relational store connections
	PriorityDatabase   = 90 // DuckDB pool
	PriorityStorage    = 95 // Lake storage backends last
)
