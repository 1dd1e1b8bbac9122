package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/catalog"
)

// SourcesHandler serves the catalog surface: what sources exist, an
// explicit refresh, and the filter vocabulary.
type SourcesHandler struct {
	catalog *catalog.Catalog
	logger  zerolog.Logger
}

// NewSourcesHandler creates a sources handler.
func NewSourcesHandler(cat *catalog.Catalog, logger zerolog.Logger) *SourcesHandler {
	return &SourcesHandler{
		catalog: cat,
		logger:  logger.With().Str("component", "sources-api").Logger(),
	}
}

// RegisterRoutes registers catalog endpoints.
func (h *SourcesHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/api/v1/sources", h.listSources)
	app.Post("/api/v1/sources/refresh", h.refreshSources)
	app.Get("/api/v1/filters", h.listFilters)
}

// listSources returns the current catalog snapshot.
func (h *SourcesHandler) listSources(c *fiber.Ctx) error {
	snap := h.catalog.Snapshot()

	type sourceEntry struct {
		Name      string `json:"name"`
		Kind      string `json:"kind"`
		ItemCount int64  `json:"item_count"`
	}
	sources := make([]sourceEntry, 0, len(snap.Sources))
	for _, src := range snap.Sources {
		sources = append(sources, sourceEntry{
			Name:      src.Name,
			Kind:      string(src.Kind),
			ItemCount: src.ItemCount,
		})
	}

	body := fiber.Map{
		"sources":  sources,
		"count":    len(sources),
		"degraded": snap.Degraded,
	}
	if !snap.RefreshedAt.IsZero() {
		body["refreshed_at"] = snap.RefreshedAt.UTC().Format(time.RFC3339)
	}
	return c.JSON(body)
}

// refreshSources rebuilds the snapshot on demand.
func (h *SourcesHandler) refreshSources(c *fiber.Ctx) error {
	start := time.Now()

	if err := h.catalog.Refresh(c.UserContext()); err != nil {
		// Nothing was readable on either side
		return fiber.NewError(fiber.StatusBadGateway, err.Error())
	}

	snap := h.catalog.Snapshot()
	h.logger.Info().
		Int("sources", len(snap.Sources)).
		Bool("degraded", snap.Degraded).
		Dur("duration", time.Since(start)).
		Msg("Catalog refreshed via API")

	return c.JSON(fiber.Map{
		"refreshed": true,
		"sources":   len(snap.Sources),
		"degraded":  snap.Degraded,
	})
}

// listFilters returns the filter vocabulary sampled from the lake, or
// the static fallback when sampling was impossible.
func (h *SourcesHandler) listFilters(c *fiber.Ctx) error {
	vocab := h.catalog.Vocabulary(c.UserContext())

	return c.JSON(fiber.Map{
		"filters":  vocab.Fields,
		"numeric":  vocab.Numeric,
		"fallback": vocab.Fallback,
	})
}
