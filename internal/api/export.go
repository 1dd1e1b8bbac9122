package api

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/antoinevdp/datalake-api/internal/query"
)

// exportCSV handles GET /api/v1/transactions/:source/export. The full
// filtered result streams out as CSV in the batch's column order,
// gzip-compressed when the client accepts it.
func (h *TransactionsHandler) exportCSV(c *fiber.Ctx) error {
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

	useGzip := strings.Contains(c.Get(fiber.HeaderAcceptEncoding), "gzip")

	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+source+`.csv"`)
	if useGzip {
		c.Set(fiber.HeaderContentEncoding, "gzip")
	}

	batch := result.Batch
	logger := h.logger
	start := time.Now()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		var csvWriter *csv.Writer
		var gz *gzip.Writer
		if useGzip {
			gz = gzip.NewWriter(w)
			csvWriter = csv.NewWriter(gz)
		} else {
			csvWriter = csv.NewWriter(w)
		}

		if err := csvWriter.Write(batch.Columns); err != nil {
			logger.Error().Err(err).Msg("Failed to write CSV header")
			return
		}

		row := make([]string, len(batch.Columns))
		for i := 0; i < batch.Len(); i++ {
			for j, v := range batch.Row(i) {
				row[j] = csvCell(v)
			}
			if err := csvWriter.Write(row); err != nil {
				logger.Error().Err(err).Msg("Failed to write CSV row")
				return
			}
		}

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			logger.Error().Err(err).Msg("CSV flush failed")
			return
		}
		if gz != nil {
			if err := gz.Close(); err != nil {
				logger.Error().Err(err).Msg("Gzip close failed")
				return
			}
		}

		logger.Debug().
			Str("source", source).
			Int("rows", batch.Len()).
			Bool("gzip", useGzip).
			Dur("duration", time.Since(start)).
			Msg("CSV export completed")
	})

	return nil
}

// csvCell renders one value for CSV output. Nulls become empty cells.
func csvCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}
