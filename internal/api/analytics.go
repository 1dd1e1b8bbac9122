package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/analytics"
)

// AnalyticsHandler serves the aggregate endpoints. Results are computed
// over every catalog source; a failed source shows up as partial=true in
// the body, not as an error.
type AnalyticsHandler struct {
	engine *analytics.Engine
	logger zerolog.Logger
}

// NewAnalyticsHandler creates an analytics handler.
func NewAnalyticsHandler(engine *analytics.Engine, logger zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		engine: engine,
		logger: logger.With().Str("component", "analytics-api").Logger(),
	}
}

// RegisterRoutes registers analytics endpoints.
func (h *AnalyticsHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/api/v1/analytics/spend/recent", h.recentSpend)
	app.Get("/api/v1/analytics/spend/users", h.userSpend)
	app.Get("/api/v1/analytics/products/top", h.topProducts)
}

// recentSpend handles GET /api/v1/analytics/spend/recent.
func (h *AnalyticsHandler) recentSpend(c *fiber.Ctx) error {
	// Absent or malformed window falls back to the engine default
	window := time.Duration(c.QueryInt("window_minutes", 0)) * time.Minute

	summary, err := h.engine.RecentSpend(c.UserContext(), window)
	if err != nil {
		return err
	}
	return c.JSON(summary)
}

// userSpend handles GET /api/v1/analytics/spend/users.
func (h *AnalyticsHandler) userSpend(c *fiber.Ctx) error {
	report, err := h.engine.UserSpend(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(report)
}

// topProducts handles GET /api/v1/analytics/products/top.
func (h *AnalyticsHandler) topProducts(c *fiber.Ctx) error {
	k := c.QueryInt("k", h.engine.DefaultTopK())

	ranking, err := h.engine.TopProducts(c.UserContext(), k)
	if err != nil {
		return err
	}
	return c.JSON(ranking)
}
