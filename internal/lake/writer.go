package lake

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// sharedAllocator is reused across writes instead of allocating a new
// allocator per batch.
var sharedAllocator = memory.NewGoAllocator()

// batchSequencePattern extracts the sequence number from a partition
// file name like orders_batch_12_20240101_120000.parquet.
var batchSequencePattern = regexp.MustCompile(`_batch_(\d+)_`)

// Writer appends parquet partitions to lake collections. Files are named
// <collection>_batch_<seq>_<YYYYMMDD_HHMMSS>.parquet; the sequence
// continues from whatever already exists in the collection.
type Writer struct {
	source *Source
	logger zerolog.Logger

	mu      sync.Mutex
	nextSeq map[string]int
}

// NewWriter creates a writer that stores partitions through the source's
// backend and keeps its listing cache coherent.
func NewWriter(source *Source, logger zerolog.Logger) *Writer {
	return &Writer{
		source:  source,
		logger:  logger.With().Str("component", "lake-writer").Logger(),
		nextSeq: make(map[string]int),
	}
}

// WriteBatch encodes the batch as one parquet file and stores it, returning
// the storage key. Empty batches are rejected.
func (w *Writer) WriteBatch(ctx context.Context, collection string, batch *models.Batch) (string, error) {
	if !ValidIdentifier(collection) {
		return "", fmt.Errorf("invalid collection name: %q", collection)
	}
	if batch.Len() == 0 {
		return "", fmt.Errorf("refusing to write empty batch to %s", collection)
	}

	start := time.Now()

	data, err := w.encodeParquet(batch)
	if err != nil {
		return "", fmt.Errorf("failed to encode batch for %s: %w", collection, err)
	}

	seq, err := w.nextSequence(ctx, collection)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("%s/%s_batch_%d_%s.parquet",
		collection, collection, seq, time.Now().UTC().Format("20060102_150405"))

	if err := w.source.backend.Write(ctx, key, data); err != nil {
		metrics.Get().IncStorageErrors()
		return "", fmt.Errorf("failed to store partition %s: %w", key, err)
	}

	m := metrics.Get()
	m.IncStorageWrites()
	m.IncStorageWriteBytes(int64(len(data)))

	w.source.InvalidateCollection(collection)

	w.logger.Debug().
		Str("key", key).
		Int("rows", batch.Len()).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Partition written")

	return key, nil
}

// nextSequence hands out the next batch number for a collection. The first
// write per process lists the collection to continue where it left off.
func (w *Writer) nextSequence(ctx context.Context, collection string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seq, ok := w.nextSeq[collection]; ok {
		w.nextSeq[collection] = seq + 1
		return seq, nil
	}

	keys, err := w.source.backend.List(ctx, collection+"/")
	if err != nil {
		return 0, fmt.Errorf("failed to list %s for sequencing: %w", collection, err)
	}

	maxSeq := 0
	for _, key := range keys {
		m := batchSequencePattern.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > maxSeq {
			maxSeq = n
		}
	}

	seq := maxSeq + 1
	w.nextSeq[collection] = seq + 1
	return seq, nil
}

// encodeParquet builds an Arrow record from the batch and writes it to
// parquet bytes (snappy, dictionary encoding, statistics).
func (w *Writer) encodeParquet(batch *models.Batch) ([]byte, error) {
	schema, err := inferSchema(batch)
	if err != nil {
		return nil, err
	}

	mem := sharedAllocator
	builders := make([]array.Builder, len(schema.Fields()))
	arrays := make([]arrow.Array, len(schema.Fields()))
	defer func() {
		for _, b := range builders {
			if b != nil {
				b.Release()
			}
		}
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()

	for i, field := range schema.Fields() {
		switch field.Type.ID() {
		case arrow.INT64:
			b := array.NewInt64Builder(mem)
			builders[i] = b
			for _, rec := range batch.Records {
				v, ok := rec.Field(field.Name)
				if !ok {
					b.AppendNull()
					continue
				}
				n, ok := toInt64(v)
				if !ok {
					return nil, fmt.Errorf("column %s: expected integer, got %T", field.Name, v)
				}
				b.Append(n)
			}
			arrays[i] = b.NewArray()

		case arrow.TIMESTAMP:
			b := array.NewTimestampBuilder(mem, arrow.FixedWidthTypes.Timestamp_us.(*arrow.TimestampType))
			builders[i] = b
			for _, rec := range batch.Records {
				v, ok := rec.Field(field.Name)
				if !ok {
					b.AppendNull()
					continue
				}
				t, ok := v.(time.Time)
				if !ok {
					return nil, fmt.Errorf("column %s: expected time.Time, got %T", field.Name, v)
				}
				b.Append(arrow.Timestamp(t.UTC().UnixMicro()))
			}
			arrays[i] = b.NewArray()

		case arrow.FLOAT64:
			b := array.NewFloat64Builder(mem)
			builders[i] = b
			for _, rec := range batch.Records {
				v, ok := rec.Field(field.Name)
				if !ok {
					b.AppendNull()
					continue
				}
				f, ok := models.Numeric(v)
				if !ok {
					return nil, fmt.Errorf("column %s: expected number, got %T", field.Name, v)
				}
				b.Append(f)
			}
			arrays[i] = b.NewArray()

		case arrow.STRING:
			b := array.NewStringBuilder(mem)
			builders[i] = b
			for _, rec := range batch.Records {
				v, ok := rec.Field(field.Name)
				if !ok {
					b.AppendNull()
					continue
				}
				s, ok := v.(string)
				if !ok {
					return nil, fmt.Errorf("column %s: expected string, got %T", field.Name, v)
				}
				b.Append(s)
			}
			arrays[i] = b.NewArray()

		case arrow.BOOL:
			b := array.NewBooleanBuilder(mem)
			builders[i] = b
			for _, rec := range batch.Records {
				v, ok := rec.Field(field.Name)
				if !ok {
					b.AppendNull()
					continue
				}
				bv, ok := v.(bool)
				if !ok {
					return nil, fmt.Errorf("column %s: expected bool, got %T", field.Name, v)
				}
				b.Append(bv)
			}
			arrays[i] = b.NewArray()

		default:
			return nil, fmt.Errorf("unsupported Arrow type for column %s: %s", field.Name, field.Type.Name())
		}
	}

	record := array.NewRecord(schema, arrays, -1)
	defer record.Release()

	var buf bytes.Buffer

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
		parquet.WithStats(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, &buf, writerProps, arrowProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	if err := writer.Write(record); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to write record batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return buf.Bytes(), nil
}

// inferSchema derives the Arrow schema from the batch. The first non-null
// value of each column decides its type; columns that are entirely null
// become strings. Every field is nullable.
func inferSchema(batch *models.Batch) (*arrow.Schema, error) {
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
			case string:
				arrowType = arrow.BinaryTypes.String
			default:
				return nil, fmt.Errorf("unsupported value type for column %s: %T", col, v)
			}
			break
		}

		fields = append(fields, arrow.Field{Name: col, Type: arrowType, Nullable: true})
	}

	return arrow.NewSchema(fields, nil), nil
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
