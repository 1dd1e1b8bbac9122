// Package analytics computes spend and product aggregates across every
// catalog source at once. Loads go through the query executor's
// cross-source path, so a failed source degrades a result to partial
// instead of failing it.
package analytics

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoinevdp/datalake-api/internal/metrics"
	"github.com/antoinevdp/datalake-api/internal/query"
	"github.com/antoinevdp/datalake-api/pkg/models"
)

const (
	colType     = "TRANSACTION_TYPE"
	colAmount   = "AMOUNT_USD"
	colUser     = "USER_ID"
	colQuantity = "QUANTITY"
	colProduct  = "PRODUCT_ID"
)

// SpendSummary is the windowed spend total over purchase and payment
// records. Partial is set when at least one source failed to load.
type SpendSummary struct {
	Total       float64   `json:"total"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Partial     bool      `json:"partial,omitempty"`
}

// TypeSpend is one transaction type's share of a user's spend.
type TypeSpend struct {
	TransactionType string  `json:"transaction_type"`
	Total           float64 `json:"total"`
}

// UserSpendEntry is one user's spend broken down by transaction type.
type UserSpendEntry struct {
	UserID    string      `json:"user_id"`
	Total     float64     `json:"total"`
	Breakdown []TypeSpend `json:"breakdown"`
}

// UserSpendReport lists every user's spend, highest total first.
type UserSpendReport struct {
	Users   []UserSpendEntry `json:"users"`
	Partial bool             `json:"partial,omitempty"`
}

// ProductRank is one product's position in the top-K ranking.
type ProductRank struct {
	ProductID string  `json:"product_id"`
	Value     float64 `json:"value"`
	Purchases int     `json:"purchases"`
}

// ProductRanking ranks products by the best metric the merged schema
// offers: summed quantity, then summed amount, then purchase count.
type ProductRanking struct {
	Metric   string        `json:"metric"`
	Products []ProductRank `json:"products"`
	Partial  bool          `json:"partial,omitempty"`
}

// Config holds the analytics defaults.
type Config struct {
	DefaultWindowMinutes int
	DefaultTopK          int
}

// Engine computes aggregates over the merged records of every source.
type Engine struct {
	executor      *query.Executor
	defaultWindow time.Duration
	defaultTopK   int
	now           func() time.Time
	logger        zerolog.Logger
}

// New creates an analytics engine on top of the executor.
func New(executor *query.Executor, cfg *Config, logger zerolog.Logger) *Engine {
	window := 60 * time.Minute
	topK := 10
	if cfg != nil {
		if cfg.DefaultWindowMinutes > 0 {
			window = time.Duration(cfg.DefaultWindowMinutes) * time.Minute
		}
		if cfg.DefaultTopK > 0 {
			topK = cfg.DefaultTopK
		}
	}
	return &Engine{
		executor:      executor,
		defaultWindow: window,
		defaultTopK:   topK,
		now:           time.Now,
		logger:        logger.With().Str("component", "analytics").Logger(),
	}
}

// DefaultWindow returns the window applied when a caller passes none.
func (e *Engine) DefaultWindow() time.Duration {
	return e.defaultWindow
}

// DefaultTopK returns the K applied when a caller passes none.
func (e *Engine) DefaultTopK() int {
	return e.defaultTopK
}

// RecentSpend sums AMOUNT_USD over purchase and payment records whose
// timestamp falls inside the window ending now. A null amount counts
// the record but adds nothing. A non-positive window means the default.
func (e *Engine) RecentSpend(ctx context.Context, window time.Duration) (*SpendSummary, error) {
	m := metrics.Get()
	m.IncAnalyticsRequests()

	if window <= 0 {
		window = e.defaultWindow
	}
	end := e.now()
	start := end.Add(-window)

	res, err := e.executor.ExecuteAll(ctx, nil)
	if err != nil {
		m.IncAnalyticsErrors()
		return nil, err
	}

	summary := &SpendSummary{
		WindowStart: start,
		WindowEnd:   end,
		Partial:     len(res.SourceErrors) > 0,
	}
	for _, rec := range res.Batch.Records {
		if !isSpend(rec) {
			continue
		}
		ts, ok := recordTime(rec)
		if !ok || ts.Before(start) {
			continue
		}
		summary.Count++
		if amt, ok := numericField(rec, colAmount); ok {
			summary.Total += amt
		}
	}
	summary.Total = round2(summary.Total)

	e.logger.Debug().
		Dur("window", window).
		Int("count", summary.Count).
		Float64("total", summary.Total).
		Bool("partial", summary.Partial).
		Msg("Recent spend computed")
	return summary, nil
}

// UserSpend groups spend by user and transaction type. Records missing
// the user, the type, or the amount are left out of the grouping.
func (e *Engine) UserSpend(ctx context.Context) (*UserSpendReport, error) {
	m := metrics.Get()
	m.IncAnalyticsRequests()

	res, err := e.executor.ExecuteAll(ctx, nil)
	if err != nil {
		m.IncAnalyticsErrors()
		return nil, err
	}

	type groupKey struct {
		user   string
		txType string
	}
	sums := make(map[groupKey]float64)
	for _, rec := range res.Batch.Records {
		user, ok := stringField(rec, colUser)
		if !ok {
			continue
		}
		txType, ok := stringField(rec, colType)
		if !ok {
			continue
		}
		amt, ok := numericField(rec, colAmount)
		if !ok {
			continue
		}
		sums[groupKey{user, txType}] += amt
	}

	byUser := make(map[string][]TypeSpend)
	for key, sum := range sums {
		byUser[key.user] = append(byUser[key.user], TypeSpend{
			TransactionType: key.txType,
			Total:           round2(sum),
		})
	}

	report := &UserSpendReport{
		Users:   make([]UserSpendEntry, 0, len(byUser)),
		Partial: len(res.SourceErrors) > 0,
	}
	for user, breakdown := range byUser {
		sort.Slice(breakdown, func(i, j int) bool {
			if breakdown[i].Total != breakdown[j].Total {
				return breakdown[i].Total > breakdown[j].Total
			}
			return breakdown[i].TransactionType < breakdown[j].TransactionType
		})
		var total float64
		for _, ts := range breakdown {
			total += ts.Total
		}
		report.Users = append(report.Users, UserSpendEntry{
			UserID:    user,
			Total:     round2(total),
			Breakdown: breakdown,
		})
	}
	sort.Slice(report.Users, func(i, j int) bool {
		if report.Users[i].Total != report.Users[j].Total {
			return report.Users[i].Total > report.Users[j].Total
		}
		return report.Users[i].UserID < report.Users[j].UserID
	})

	e.logger.Debug().
		Int("users", len(report.Users)).
		Bool("partial", report.Partial).
		Msg("User spend computed")
	return report, nil
}

// TopProducts ranks purchased products. The ranking metric is chosen
// from the merged schema: summed QUANTITY when present, else summed
// AMOUNT_USD, else the raw purchase count. K below 1 is treated as 1,
// never an error.
func (e *Engine) TopProducts(ctx context.Context, k int) (*ProductRanking, error) {
	m := metrics.Get()
	m.IncAnalyticsRequests()

	if k < 1 {
		k = 1
	}

	res, err := e.executor.ExecuteAll(ctx, nil)
	if err != nil {
		m.IncAnalyticsErrors()
		return nil, err
	}

	metric := "count"
	rankField := ""
	switch {
	case res.Batch.HasColumn(colQuantity):
		metric, rankField = "quantity", colQuantity
	case res.Batch.HasColumn(colAmount):
		metric, rankField = "amount", colAmount
	}

	values := make(map[string]float64)
	purchases := make(map[string]int)
	for _, rec := range res.Batch.Records {
		if txType, ok := stringField(rec, colType); !ok || txType != "purchase" {
			continue
		}
		product, ok := stringField(rec, colProduct)
		if !ok {
			continue
		}
		purchases[product]++
		if rankField == "" {
			values[product]++
			continue
		}
		// A null ranking value keeps the product in play but adds nothing
		v, _ := numericField(rec, rankField)
		values[product] += v
	}

	ranked := make([]ProductRank, 0, len(values))
	for product, value := range values {
		ranked = append(ranked, ProductRank{
			ProductID: product,
			Value:     round2(value),
			Purchases: purchases[product],
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value > ranked[j].Value
		}
		return ranked[i].ProductID < ranked[j].ProductID
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	top := &ProductRanking{
		Metric:   metric,
		Products: ranked,
		Partial:  len(res.SourceErrors) > 0,
	}
	e.logger.Debug().
		Str("metric", metric).
		Int("k", k).
		Int("products", len(top.Products)).
		Bool("partial", top.Partial).
		Msg("Top products computed")
	return top, nil
}

func isSpend(rec models.Record) bool {
	txType, ok := stringField(rec, colType)
	return ok && (txType == "purchase" || txType == "payment")
}

func recordTime(rec models.Record) (time.Time, bool) {
	v, ok := rec.Field(models.DefaultTimeField)
	if !ok {
		return time.Time{}, false
	}
	return models.ParseTimestamp(v)
}

func stringField(rec models.Record, name string) (string, bool) {
	v, ok := rec.Field(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func numericField(rec models.Record, name string) (float64, bool) {
	v, ok := rec.Field(name)
	if !ok {
		return 0, false
	}
	return models.Numeric(v)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
