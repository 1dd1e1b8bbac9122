package filter

import (
	"database/sql"
	"fmt"
	"sort"
	"testing"

	"github.com/antoinevdp/datalake-api/pkg/models"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var knownColumns = []string{"TRANSACTION_ID", "TRANSACTION_TYPE", "STATUS", "AMOUNT_USD", "CUSTOMER_RATING"}

func TestWherePlaceholderStyles(t *testing.T) {
	s := New()
	s.AddMembership("STATUS", []string{"completed", "pending"})
	s.Gt("AMOUNT_USD", 100)

	clause, args := s.Where(DialectPositional, knownColumns)
	assert.Equal(t, `"STATUS" IN (?, ?) AND ("AMOUNT_USD" IS NOT NULL AND "AMOUNT_USD" > ?)`, clause)
	assert.Equal(t, []interface{}{"completed", "pending", 100.0}, args)

	clause, args = s.Where(DialectNumbered, knownColumns)
	assert.Equal(t, `"STATUS" IN ($1, $2) AND ("AMOUNT_USD" IS NOT NULL AND "AMOUNT_USD" > $3)`, clause)
	assert.Len(t, args, 3)
}

func TestWhereEmptySpec(t *testing.T) {
	clause, args := New().Where(DialectPositional, knownColumns)
	assert.Empty(t, clause)
	assert.Nil(t, args)
}

func TestWhereUnknownColumnCompilesToFalse(t *testing.T) {
	s := New()
	s.AddMembership("NO_SUCH_COLUMN; DROP TABLE x", []string{"a"})
	s.Eq("ALSO_MISSING", 1)

	clause, args := s.Where(DialectPositional, knownColumns)
	assert.Equal(t, "1 = 0 AND 1 = 0", clause)
	assert.Empty(t, args, "values of rejected clauses must not be bound")
}

func TestWhereValuesNeverInterpolated(t *testing.T) {
	s := New()
	s.AddMembership("STATUS", []string{"x' OR '1'='1"})

	clause, args := s.Where(DialectPositional, knownColumns)
	assert.NotContains(t, clause, "OR", "hostile value text must stay out of the SQL")
	assert.Equal(t, []interface{}{"x' OR '1'='1"}, args)
}

// The two translators must keep identical surviving sets over the same
// rows. Rows are loaded into an in-memory sqlite table and filtered both
// ways.
func TestTranslatorEquivalence(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE tx (
		TRANSACTION_ID TEXT,
		TRANSACTION_TYPE TEXT,
		STATUS TEXT,
		AMOUNT_USD REAL,
		CUSTOMER_RATING REAL
	)`)
	require.NoError(t, err)

	rows := []models.Record{
		{"TRANSACTION_ID": "t1", "TRANSACTION_TYPE": "purchase", "STATUS": "completed", "AMOUNT_USD": 120.0, "CUSTOMER_RATING": 5.0},
		{"TRANSACTION_ID": "t2", "TRANSACTION_TYPE": "refund", "STATUS": "completed", "AMOUNT_USD": 30.0, "CUSTOMER_RATING": nil},
		{"TRANSACTION_ID": "t3", "TRANSACTION_TYPE": "payment", "STATUS": "pending", "AMOUNT_USD": nil, "CUSTOMER_RATING": 4.0},
		{"TRANSACTION_ID": "t4", "TRANSACTION_TYPE": "purchase", "STATUS": "failed", "AMOUNT_USD": 120.0, "CUSTOMER_RATING": 1.0},
		{"TRANSACTION_ID": "t5", "TRANSACTION_TYPE": "withdrawal", "STATUS": "completed", "AMOUNT_USD": 580.25, "CUSTOMER_RATING": 3.0},
	}
	for _, r := range rows {
		_, err = db.Exec(`INSERT INTO tx VALUES (?, ?, ?, ?, ?)`,
			r["TRANSACTION_ID"], r["TRANSACTION_TYPE"], r["STATUS"], r["AMOUNT_USD"], r["CUSTOMER_RATING"])
		require.NoError(t, err)
	}

	specs := map[string]*Spec{
		"empty": New(),
		"membership": func() *Spec {
			s := New()
			s.AddMembership("TRANSACTION_TYPE", []string{"purchase", "payment"})
			return s
		}(),
		"gt": New().Gt("AMOUNT_USD", 100),
		"lt with nulls": New().Lt("CUSTOMER_RATING", 5),
		"eq": New().Eq("AMOUNT_USD", 120),
		"conjunction": func() *Spec {
			s := New()
			s.AddMembership("STATUS", []string{"completed"})
			s.Gt("AMOUNT_USD", 50)
			return s
		}(),
		"unknown column": func() *Spec {
			s := New()
			s.AddMembership("MISSING", []string{"x"})
			return s
		}(),
	}

	for name, spec := range specs {
		t.Run(name, func(t *testing.T) {
			query := `SELECT TRANSACTION_ID FROM tx`
			clause, args := spec.Where(DialectPositional, knownColumns)
			if clause != "" {
				query += " WHERE " + clause
			}
			res, err := db.Query(query, args...)
			require.NoError(t, err)
			defer res.Close()

			var viaSQL []string
			for res.Next() {
				var id string
				require.NoError(t, res.Scan(&id))
				viaSQL = append(viaSQL, id)
			}
			require.NoError(t, res.Err())

			var viaMemory []string
			match := spec.Predicate()
			for _, r := range rows {
				if match(r) {
					viaMemory = append(viaMemory, r["TRANSACTION_ID"].(string))
				}
			}

			sort.Strings(viaSQL)
			sort.Strings(viaMemory)
			assert.Equal(t, viaMemory, viaSQL, fmt.Sprintf("spec %q must survive identically", name))
		})
	}
}
