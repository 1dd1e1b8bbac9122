package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/query"
)

// QueriesHandler exposes the query registry: what is running, what ran,
// and a cancel switch.
type QueriesHandler struct {
	registry *query.Registry
	logger   zerolog.Logger
}

// NewQueriesHandler creates a queries handler.
func NewQueriesHandler(registry *query.Registry, logger zerolog.Logger) *QueriesHandler {
	return &QueriesHandler{
		registry: registry,
		logger:   logger.With().Str("component", "queries-api").Logger(),
	}
}

// RegisterRoutes registers query registry endpoints.
func (h *QueriesHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/api/v1/queries", h.listQueries)
	app.Get("/api/v1/queries/:id", h.getQuery)
	app.Post("/api/v1/queries/:id/cancel", h.cancelQuery)
}

// listQueries returns running queries plus recent history.
func (h *QueriesHandler) listQueries(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	active := h.registry.GetActive()
	history := h.registry.GetHistory(limit)

	return c.JSON(fiber.Map{
		"active":        active,
		"active_count":  len(active),
		"history":       history,
		"history_count": len(history),
	})
}

// getQuery returns one query by ID, running or finished.
func (h *QueriesHandler) getQuery(c *fiber.Ctx) error {
	queryID := c.Params("id")

	q := h.registry.GetQuery(queryID)
	if q == nil {
		return fiber.NewError(fiber.StatusNotFound, "query not found")
	}
	return c.JSON(q)
}

// cancelQuery aborts a running query by ID.
func (h *QueriesHandler) cancelQuery(c *fiber.Ctx) error {
	queryID := c.Params("id")

	if !h.registry.Cancel(queryID) {
		// Finished queries can't be cancelled, only inspected
		if q := h.registry.GetQuery(queryID); q != nil {
			return fiber.NewError(fiber.StatusConflict, "query already "+string(q.Status))
		}
		return fiber.NewError(fiber.StatusNotFound, "query not found")
	}

	h.logger.Info().
		Str("query_id", queryID).
		Msg("Query cancelled via API")

	return c.JSON(fiber.Map{
		"cancelled": true,
		"id":        queryID,
	})
}
