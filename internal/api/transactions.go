package api

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/antoinevdp/datalake-api/internal/filter"
	"github.com/antoinevdp/datalake-api/internal/pagination"
	"github.com/antoinevdp/datalake-api/internal/query"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// Valid identifier pattern for source names and sort fields.
var validIdentifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_-]*$`)

// membershipParams maps query parameters to the columns they filter.
var membershipParams = []struct {
	param string
	field string
}{
	{"transaction_type", "TRANSACTION_TYPE"},
	{"status", "STATUS"},
	{"currency", "CURRENCY"},
	{"payment_method", "PAYMENT_METHOD"},
	{"product_category", "PRODUCT_CATEGORY"},
	{"country", "LOCATION_COUNTRY"},
	{"user_id", "USER_ID"},
	{"product_id", "PRODUCT_ID"},
}

// numericParams maps parameter prefixes to the columns they compare.
var numericParams = []struct {
	prefix string
	field  string
}{
	{"amount", "AMOUNT_USD"},
	{"quantity", "QUANTITY"},
	{"rating", "CUSTOMER_RATING"},
}

// TransactionsHandler serves filtered transaction reads: paginated JSON,
// CSV export, and Arrow IPC streaming.
type TransactionsHandler struct {
	executor  *query.Executor
	paginator *pagination.Paginator
	logger    zerolog.Logger
}

// NewTransactionsHandler creates a transactions handler.
func NewTransactionsHandler(executor *query.Executor, paginator *pagination.Paginator, logger zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		executor:  executor,
		paginator: paginator,
		logger:    logger.With().Str("component", "transactions-api").Logger(),
	}
}

// RegisterRoutes registers transaction endpoints.
func (h *TransactionsHandler) RegisterRoutes(app fiber.Router) {
	app.Get("/api/v1/transactions/:source", h.listTransactions)
	app.Get("/api/v1/transactions/:source/export", h.exportCSV)
	app.Get("/api/v1/transactions/:source/arrow", h.exportArrow)
}

// validateIdentifier validates source names and sort fields so no user
// text ever reaches a query as an identifier.
func validateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("name too long (max 128 characters)")
	}
	if !validIdentifierPattern.MatchString(name) {
		return fmt.Errorf("name contains invalid characters (allowed: alphanumeric, underscore, hyphen)")
	}
	return nil
}

// parseFilterSpec builds a filter from the request's query parameters.
// Malformed values are dropped, never failed: an unparseable amount_gt
// simply doesn't constrain the result.
func parseFilterSpec(c *fiber.Ctx) *filter.Spec {
	spec := filter.New()

	args := c.Context().QueryArgs()
	for _, mp := range membershipParams {
		var values []string
		for _, raw := range args.PeekMulti(mp.param) {
			// Repeated params and comma lists both work
			for _, v := range strings.Split(string(raw), ",") {
				values = append(values, v)
			}
		}
		spec.AddMembership(mp.field, values)
	}

	for _, np := range numericParams {
		for _, op := range []filter.Op{filter.OpGt, filter.OpLt, filter.OpEq} {
			if raw := c.Query(np.prefix + "_" + string(op)); raw != "" {
				spec.AddNumeric(op, np.field, raw)
			}
		}
	}

	return spec
}

// listTransactions handles GET /api/v1/transactions/:source.
func (h *TransactionsHandler) listTransactions(c *fiber.Ctx) error {
	source := c.Params("source")
	if err := validateIdentifier(source); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid source: "+err.Error())
	}

	sortField := c.Query("sort")
	if sortField != "" {
		if err := validateIdentifier(sortField); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid sort field: "+err.Error())
		}
	}

	result, err := h.executor.Execute(c.UserContext(), query.Request{
		Source:    source,
		Filter:    parseFilterSpec(c),
		SortField: sortField,
	})
	if err != nil {
		return err
	}

	page, err := h.paginator.Paginate(result.Batch.Records,
		c.QueryInt("page", 0), c.QueryInt("page_size", 0))
	if err != nil {
		return err
	}

	paging := fiber.Map{
		"page":        page.Page,
		"page_size":   page.PageSize,
		"total_pages": page.TotalPages,
		"total_count": page.TotalCount,
		"offset":      page.Offset,
	}
	if page.HasNext {
		paging["next_url"] = pageURL(c, page.Page+1)
	}
	if page.HasPrevious {
		paging["previous_url"] = pageURL(c, page.Page-1)
	}

	body := fiber.Map{
		"source":     result.Source,
		"kind":       string(result.Kind),
		"pagination": paging,
		"results":    renderRecords(page.Items),
	}
	if result.FailedPartitions > 0 {
		body["failed_partitions"] = result.FailedPartitions
	}
	return c.JSON(body)
}

// pageURL rebuilds the request URI with a different page number.
func pageURL(c *fiber.Ctx, page int) string {
	uri := fasthttp.AcquireURI()
	defer fasthttp.ReleaseURI(uri)

	c.Request().URI().CopyTo(uri)
	uri.QueryArgs().Set("page", strconv.Itoa(page))
	return string(uri.RequestURI())
}

// renderRecords copies records for JSON output, formatting timestamps as
// RFC3339. The originals stay untouched; they may be shared.
func renderRecords(records []models.Record) []models.Record {
	out := make([]models.Record, len(records))
	for i, rec := range records {
		rendered := make(models.Record, len(rec))
		for k, v := range rec {
			if t, ok := v.(time.Time); ok {
				rendered[k] = t.UTC().Format(time.RFC3339)
				continue
			}
			rendered[k] = v
		}
		out[i] = rendered
	}
	return out
}
