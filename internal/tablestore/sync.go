package tablestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antoinevdp/datalake-api/internal/filter"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

// MirrorName returns the relational mirror table for a lake collection:
// the prefix plus the lower-cased collection name.
func MirrorName(prefix, collection string) string {
	return prefix + strings.ToLower(collection)
}

// DropTable removes a mirror table. Sync drops before recreating so a
// re-run replaces the mirror instead of appending to it.
func (s *Store) DropTable(ctx context.Context, table string) error {
	quoted, err := s.quoteTable(table)
	if err != nil {
		return err
	}
	return s.execute(ctx, "drop "+table, func() error {
		_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoted)
		return err
	})
}

// EnsureTable creates the table if it does not exist, with one column per
// batch column. The first non-null value of a column decides its type;
// all-null columns become text.
func (s *Store) EnsureTable(ctx context.Context, table string, batch *models.Batch) error {
	quoted, err := s.quoteTable(table)
	if err != nil {
		return err
	}

	defs := make([]string, 0, len(batch.Columns))
	for _, col := range batch.Columns {
		if !tableNamePattern.MatchString(col) {
			return fmt.Errorf("invalid column name: %q", col)
		}
		defs = append(defs, fmt.Sprintf(`"%s" %s`, col, s.columnType(batch, col)))
	}

	var ddl string
	if s.driver == "clickhouse" {
		ddl = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s) ENGINE = MergeTree ORDER BY tuple()",
			quoted, strings.Join(defs, ", "))
	} else {
		ddl = fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoted, strings.Join(defs, ", "))
	}

	return s.execute(ctx, "create "+table, func() error {
		_, err := s.db.ExecContext(ctx, ddl)
		return err
	})
}

// InsertBatch appends every record of the batch inside one transaction.
func (s *Store) InsertBatch(ctx context.Context, table string, batch *models.Batch) error {
	if batch.Len() == 0 {
		return nil
	}

	quoted, err := s.quoteTable(table)
	if err != nil {
		return err
	}

	names := make([]string, len(batch.Columns))
	placeholders := make([]string, len(batch.Columns))
	for i, col := range batch.Columns {
		if !tableNamePattern.MatchString(col) {
			return fmt.Errorf("invalid column name: %q", col)
		}
		names[i] = `"` + col + `"`
		if s.Dialect() == filter.DialectNumbered {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
		} else {
			placeholders[i] = "?"
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoted, strings.Join(names, ", "), strings.Join(placeholders, ", "))

	start := time.Now()

	err = s.execute(ctx, "insert "+table, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			tx.Rollback()
			return err
		}

		for i := 0; i < batch.Len(); i++ {
			if _, err := stmt.ExecContext(ctx, batch.Row(i)...); err != nil {
				stmt.Close()
				tx.Rollback()
				return fmt.Errorf("row %d: %w", i, err)
			}
		}

		stmt.Close()
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("table", table).
		Int("rows", batch.Len()).
		Dur("duration", time.Since(start)).
		Msg("Batch inserted")

	return nil
}

func (s *Store) columnType(batch *models.Batch, col string) string {
	var sample interface{}
	for _, rec := range batch.Records {
		if v, ok := rec.Field(col); ok {
			sample = v
			break
		}
	}

	switch sample.(type) {
	case time.Time:
		switch s.driver {
		case "postgres":
			return "TIMESTAMPTZ"
		case "clickhouse":
			return "Nullable(DateTime64(6))"
		default:
			return "DATETIME"
		}
	case float32, float64:
		switch s.driver {
		case "postgres":
			return "DOUBLE PRECISION"
		case "clickhouse":
			return "Nullable(Float64)"
		default:
			return "REAL"
		}
	case int, int32, int64:
		switch s.driver {
		case "postgres":
			return "BIGINT"
		case "clickhouse":
			return "Nullable(Int64)"
		default:
			return "INTEGER"
		}
	case bool:
		switch s.driver {
		case "postgres":
			return "BOOLEAN"
		case "clickhouse":
			return "Nullable(Bool)"
		default:
			return "BOOLEAN"
		}
	default:
		switch s.driver {
		case "clickhouse":
			return "Nullable(String)"
		default:
			return "TEXT"
		}
	}
}
