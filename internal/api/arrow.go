package api

import (
	"bufio"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/gofiber/fiber/v2"

	"github.com/antoinevdp/datalake-api/internal/query"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// arrowBatchSize is the number of rows per Arrow record batch. 10K rows
// balances per-batch overhead against peak memory.
const arrowBatchSize = 10000

// exportArrow handles GET /api/v1/transactions/:source/arrow. The full
// filtered result streams out as Arrow IPC record batches.
func (h *TransactionsHandler) exportArrow(c *fiber.Ctx) error {
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

	batch := result.Batch
	schema := batchArrowSchema(batch)

	c.Set(fiber.HeaderContentType, "application/vnd.apache.arrow.stream")

	logger := h.logger
	start := time.Now()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		mem := memory.NewGoAllocator()
		ipcWriter := ipc.NewWriter(w, ipc.WithSchema(schema))
		defer ipcWriter.Close()

		recordBuilder := array.NewRecordBuilder(mem, schema)
		defer recordBuilder.Release()

		flush := func() bool {
			record := recordBuilder.NewRecord()
			defer record.Release()
			if err := ipcWriter.Write(record); err != nil {
				logger.Error().Err(err).Msg("Failed to write Arrow batch")
				return false
			}
			w.Flush()
			return true
		}

		batchRows := 0
		for _, rec := range batch.Records {
			for colIdx, field := range schema.Fields() {
				v, _ := rec.Field(field.Name)
				appendValueToBuilder(recordBuilder.Field(colIdx), v)
			}
			batchRows++

			if batchRows >= arrowBatchSize {
				if !flush() {
					return
				}
				batchRows = 0
			}
		}

		if batchRows > 0 && !flush() {
			return
		}

		logger.Debug().
			Str("source", source).
			Int("rows", batch.Len()).
			Dur("duration", time.Since(start)).
			Msg("Arrow export completed")
	})

	return nil
}

// batchArrowSchema derives the Arrow schema from the batch: the first
// non-null value of each column decides its type, entirely-null columns
// become strings, every field is nullable.
func batchArrowSchema(batch *models.Batch) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(batch.Columns))

	for _, col := range batch.Columns {
		arrowType := arrow.DataType(arrow.BinaryTypes.String)

		for _, rec := range batch.Records {
			v, ok := rec.Field(col)
			if !ok {
				continue
			}
			switch v.(type) {
			case time.Time:
				arrowType = arrow.FixedWidthTypes.Timestamp_us
			case float32, float64:
				arrowType = arrow.PrimitiveTypes.Float64
			case int, int32, int64:
				arrowType = arrow.PrimitiveTypes.Int64
			case bool:
				arrowType = arrow.FixedWidthTypes.Boolean
			}
			break
		}

		fields = append(fields, arrow.Field{Name: col, Type: arrowType, Nullable: true})
	}

	return arrow.NewSchema(fields, nil)
}

// appendValueToBuilder appends a value to the matching Arrow builder.
// Values the column type cannot hold become nulls; mixed-type columns
// degrade, they never fail an export.
func appendValueToBuilder(builder array.Builder, val interface{}) {
	if val == nil {
		builder.AppendNull()
		return
	}

	switch b := builder.(type) {
	case *array.Int64Builder:
		switch v := val.(type) {
		case int64:
			b.Append(v)
		case int32:
			b.Append(int64(v))
		case int:
			b.Append(int64(v))
		default:
			b.AppendNull()
		}
	case *array.Float64Builder:
		switch v := val.(type) {
		case float64:
			b.Append(v)
		case float32:
			b.Append(float64(v))
		case int64:
			b.Append(float64(v))
		case int:
			b.Append(float64(v))
		default:
			b.AppendNull()
		}
	case *array.StringBuilder:
		switch v := val.(type) {
		case string:
			b.Append(v)
		case []byte:
			b.Append(string(v))
		case time.Time:
			b.Append(v.UTC().Format(time.RFC3339Nano))
		default:
			b.AppendNull()
		}
	case *array.BooleanBuilder:
		switch v := val.(type) {
		case bool:
			b.Append(v)
		default:
			b.AppendNull()
		}
	case *array.TimestampBuilder:
		switch v := val.(type) {
		case time.Time:
			b.Append(arrow.Timestamp(v.UTC().UnixMicro()))
		default:
			b.AppendNull()
		}
	default:
		builder.AppendNull()
	}
}
