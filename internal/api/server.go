package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/catalog"
	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/internal/pagination"
	"github.com/antoinevdp/datalake-api/internal/query"
	"github.com/antoinevdp/datalake-api/internal/scheduler"
	"github.com/antoinevdp/datalake-api/internal/tablestore"
)

// Server is the HTTP API server.
type Server struct {
	app       *fiber.App
	catalog   *catalog.Catalog
	refresher *scheduler.RefreshScheduler
	logger    zerolog.Logger
	host      string
	port      int
	tlsCert   string
	tlsKey    string
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxPayloadSize  int64 // request body cap in bytes
	EnablePprof     bool
	TLSCertFile     string
	TLSKeyFile      string
}

// DefaultServerConfig returns default server configuration.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:            "0.0.0.0",
		Port:            8000,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		MaxPayloadSize:  16 * 1024 * 1024,
	}
}

// NewServer creates the HTTP server with Fiber. The refresh scheduler is
// optional; when present its status shows up in the health payload.
func NewServer(config *ServerConfig, cat *catalog.Catalog, refresher *scheduler.RefreshScheduler, logger zerolog.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	bodyLimit := int(config.MaxPayloadSize)
	if bodyLimit <= 0 {
		bodyLimit = 16 * 1024 * 1024
	}

	app := fiber.New(fiber.Config{
		AppName:               "Datalake API",
		ReadTimeout:           config.ReadTimeout,
		WriteTimeout:          config.WriteTimeout,
		IdleTimeout:           config.IdleTimeout,
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
	})

	app.Use(recover.New(recover.Config{
		// Stack traces only when someone turned debug logging on
		EnableStackTrace: logger.GetLevel() <= zerolog.DebugLevel,
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Accept-Encoding",
	}))

	app.Use(securityHeaders())

	if config.EnablePprof {
		app.Use(pprof.New())
	}

	app.Use(requestLogger(logger))

	return &Server{
		app:       app,
		catalog:   cat,
		refresher: refresher,
		logger:    logger.With().Str("component", "api-server").Logger(),
		host:      config.Host,
		port:      config.Port,
		tlsCert:   config.TLSCertFile,
		tlsKey:    config.TLSKeyFile,
	}
}

// RegisterRoutes registers the built-in health and metrics routes. Domain
// handlers register themselves on GetApp().
func (s *Server) RegisterRoutes() {
	s.app.Get("/health", s.healthHandler)

	// Readiness check (for Kubernetes)
	s.app.Get("/ready", s.readyHandler)

	// Metrics endpoint (Prometheus format, JSON per Accept)
	s.app.Get("/metrics", s.metricsHandler)
}

var startTime = time.Now()

// healthHandler returns server health status.
func (s *Server) healthHandler(c *fiber.Ctx) error {
	uptime := time.Since(startTime)
	body := fiber.Map{
		"status":     "ok",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime":     uptime.String(),
		"uptime_sec": uptime.Seconds(),
	}
	if s.refresher != nil {
		body["refresh"] = s.refresher.Status()
	}
	return c.JSON(body)
}

// readyHandler reports readiness: the catalog has taken a snapshot.
func (s *Server) readyHandler(c *fiber.Ctx) error {
	if s.catalog == nil || !s.catalog.Ready() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "starting",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
	return c.JSON(fiber.Map{
		"status":     "ready",
		"time":       time.Now().UTC().Format(time.RFC3339),
		"uptime_sec": time.Since(startTime).Seconds(),
	})
}

// metricsHandler returns metrics in Prometheus format or JSON.
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	m := metrics.Get()

	if c.Get("Accept") == "application/json" {
		return c.JSON(m.Snapshot())
	}

	c.Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	return c.SendString(m.PrometheusFormat())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().
		Str("host", s.host).
		Int("port", s.port).
		Bool("tls", s.tlsCert != "").
		Msg("Starting datalake API server")

	go func() {
		addr := fmt.Sprintf("%s:%d", s.host, s.port)
		var err error
		if s.tlsCert != "" {
			err = s.app.ListenTLS(addr, s.tlsCert, s.tlsKey)
		} else {
			err = s.app.Listen(addr)
		}
		if err != nil {
			s.logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info().Msg("Shutting down server gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

// GetApp returns the underlying Fiber app (for registering routes).
func (s *Server) GetApp() *fiber.App {
	return s.app
}

// errorHandler translates domain errors to HTTP statuses: unknown source
// 404, structurally invalid input 400, nothing readable or the table
// store down 502, everything else 500.
func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError

		var fiberErr *fiber.Error
		switch {
		case errors.As(err, &fiberErr):
			code = fiberErr.Code
		case errors.Is(err, catalog.ErrSourceNotFound):
			code = fiber.StatusNotFound
		case errors.Is(err, pagination.ErrInvalidPage):
			code = fiber.StatusBadRequest
		case errors.Is(err, tablestore.ErrUnavailable),
			errors.Is(err, query.ErrNoSourcesReadable):
			code = fiber.StatusBadGateway
		}

		logEvent := logger.Warn()
		if code >= 500 {
			logEvent = logger.Error()
		}
		logEvent.
			Err(err).
			Int("status", code).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Msg("Request error")

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

// securityHeaders adds security headers to all responses.
func securityHeaders() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Prevent clickjacking - deny framing from any origin
		c.Set("X-Frame-Options", "DENY")

		// Prevent MIME type sniffing - browsers should trust Content-Type
		c.Set("X-Content-Type-Options", "nosniff")

		// Referrer policy - don't leak referrer to other origins
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Content Security Policy - API-only service, restrictive is fine
		c.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Note: HSTS should be set by the reverse proxy terminating TLS,
		// not by the application

		return c.Next()
	}
}

// requestLogger collects metrics on every request and logs errors only.
func requestLogger(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()
		m := metrics.Get()

		m.IncHTTPRequests()
		m.RecordHTTPLatency(duration.Microseconds())

		if status >= 400 {
			m.IncHTTPError()
		} else {
			m.IncHTTPSuccess()
		}

		// Only log errors to keep the hot path cheap
		if status >= 400 {
			logEvent := logger.Warn()
			if status >= 500 {
				logEvent = logger.Error()
			}

			logEvent.
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", status).
				Dur("duration_ms", duration).
				Int("size", len(c.Response().Body())).
				Str("ip", c.IP()).
				Msg("HTTP request error")
		}

		return err
	}
}
