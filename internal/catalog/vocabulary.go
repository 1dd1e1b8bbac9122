package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/antoinevdp/datalake-api/pkg/models"
)

// maxVocabularyValues caps the distinct values reported per field.
const maxVocabularyValues = 100

// Range is the observed bounds of a numeric filter field.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Vocabulary maps filterable fields to their usable values: membership
// fields to distinct examples, numeric fields to bounds. Fallback is set
// when the static vocabulary was served because the sample source could
// not be read.
type Vocabulary struct {
	Fields   map[string][]string `json:"fields"`
	Numeric  map[string]Range    `json:"numeric"`
	Fallback bool                `json:"fallback"`
}

// membershipFields are the enumerable filter fields and the record column
// each one samples.
var membershipFields = []struct{ Name, Column string }{
	{"transaction_type", "TRANSACTION_TYPE"},
	{"status", "STATUS"},
	{"currency", "CURRENCY"},
	{"payment_method", "PAYMENT_METHOD"},
	{"product_category", "PRODUCT_CATEGORY"},
	{"country", "LOCATION_COUNTRY"},
}

// numericFields are the range-filterable fields and their record columns.
var numericFields = []struct{ Name, Column string }{
	{"amount", "AMOUNT_USD"},
	{"quantity", "QUANTITY"},
	{"rating", "CUSTOMER_RATING"},
}

// Vocabulary returns the filter vocabulary, sampling the authoritative
// source once per snapshot and falling back to the static vocabulary when
// the sample cannot be read. It never fails.
func (c *Catalog) Vocabulary(ctx context.Context) Vocabulary {
	c.mu.RLock()
	if c.vocab != nil {
		v := *c.vocab
		c.mu.RUnlock()
		return v
	}
	c.mu.RUnlock()

	vocab := c.sampleVocabulary(ctx)

	c.mu.Lock()
	c.vocab = &vocab
	c.mu.Unlock()

	return vocab
}

func (c *Catalog) sampleVocabulary(ctx context.Context) Vocabulary {
	batch, err := c.loadSample(ctx)
	if err != nil || batch.Len() == 0 {
		c.logger.Warn().
			Err(err).
			Str("source", c.vocabularySource).
			Msg("Vocabulary sample unavailable, serving static fallback")
		return StaticVocabulary()
	}
	return deriveVocabulary(batch)
}

// loadSample reads the first partition of the authoritative collection.
// One partition is a sample, not a scan; the producing system fills every
// batch from the same generators, so any partition carries the range.
func (c *Catalog) loadSample(ctx context.Context) (*models.Batch, error) {
	collections, err := c.lake.Collections(ctx)
	if err != nil {
		return nil, err
	}

	name := ""
	for _, collection := range collections {
		if strings.EqualFold(collection, c.vocabularySource) {
			name = collection
			break
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, c.vocabularySource)
	}

	parts, err := c.lake.Partitions(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("collection %s has no partitions", name)
	}

	return c.lake.ReadPartition(ctx, parts[0])
}

// deriveVocabulary collects distinct membership values and numeric bounds
// from a sample batch. Fields the sample does not carry are omitted.
func deriveVocabulary(batch *models.Batch) Vocabulary {
	vocab := Vocabulary{
		Fields:  make(map[string][]string),
		Numeric: make(map[string]Range),
	}

	for _, field := range membershipFields {
		if !batch.HasColumn(field.Column) {
			continue
		}
		seen := make(map[string]struct{})
		for _, rec := range batch.Records {
			v, ok := rec.Field(field.Column)
			if !ok {
				continue
			}
			s, ok := v.(string)
			if !ok {
				continue
			}
			seen[s] = struct{}{}
			if len(seen) >= maxVocabularyValues {
				break
			}
		}
		if len(seen) == 0 {
			continue
		}
		values := make([]string, 0, len(seen))
		for s := range seen {
			values = append(values, s)
		}
		sort.Strings(values)
		vocab.Fields[field.Name] = values
	}

	for _, field := range numericFields {
		if !batch.HasColumn(field.Column) {
			continue
		}
		var min, max float64
		found := false
		for _, rec := range batch.Records {
			v, ok := rec.Field(field.Column)
			if !ok {
				continue
			}
			n, ok := models.Numeric(v)
			if !ok {
				continue
			}
			if !found || n < min {
				min = n
			}
			if !found || n > max {
				max = n
			}
			found = true
		}
		if found {
			vocab.Numeric[field.Name] = Range{Min: min, Max: max}
		}
	}

	return vocab
}

// StaticVocabulary is the fallback served when the sample source is
// unreadable: the value lists the producing system draws from.
func StaticVocabulary() Vocabulary {
	return Vocabulary{
		Fields: map[string][]string{
			"transaction_type": {"purchase", "refund", "payment", "withdrawal"},
			"status":           {"completed", "pending", "failed", "processing", "cancelled"},
			"currency":         {"USD", "EUR", "GBP", "CAD", "JPY", "AUD"},
			"payment_method":   {"credit_card", "paypal", "bank_transfer", "apple_pay", "google_pay", "cryptocurrency"},
			"product_category": {"electronics", "clothing", "books", "home_goods", "food"},
		},
		Numeric: map[string]Range{
			"amount":   {Min: 10, Max: 1000},
			"quantity": {Min: 1, Max: 10},
			"rating":   {Min: 1, Max: 5},
		},
		Fallback: true,
	}
}
