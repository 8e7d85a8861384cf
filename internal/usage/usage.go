// Package usage tallies token usage and cost per provider and tier.
package usage

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/michaelbrown/notemind/internal/llm"
)

var million = decimal.NewFromInt(1_000_000)

// Price is the cost in USD per million tokens.
type Price struct {
	Input  decimal.Decimal
	Output decimal.Decimal
}

// PriceFromFloat builds a Price from per-million-token rates.
func PriceFromFloat(input, output float64) Price {
	return Price{Input: decimal.NewFromFloat(input), Output: decimal.NewFromFloat(output)}
}

// Key identifies one row of the ledger.
type Key struct {
	Provider string
	Tier     llm.Tier
}

// Row is the running total for one provider and tier.
type Row struct {
	Provider         string          `json:"provider"`
	Tier             llm.Tier        `json:"tier"`
	Calls            int64           `json:"calls"`
	PromptTokens     int64           `json:"promptTokens"`
	CompletionTokens int64           `json:"completionTokens"`
	Cost             decimal.Decimal `json:"cost"`
}

// Snapshot is the ledger at a point in time.
type Snapshot struct {
	Since time.Time       `json:"since"`
	Rows  []Row           `json:"rows"`
	Total decimal.Decimal `json:"total"`
}

// Ledger accumulates usage reported by providers. It is safe for concurrent use.
type Ledger struct {
	prices map[Key]Price

	mu    sync.Mutex
	since time.Time
	rows  map[Key]*Row
}

// NewLedger creates a ledger with the given prices. Unpriced usage is
// counted at zero cost.
func NewLedger(prices map[Key]Price) *Ledger {
	return &Ledger{prices: prices, since: time.Now().UTC(), rows: make(map[Key]*Row)}
}

// Observe records one call. It has the llm.UsageObserver signature.
func (l *Ledger) Observe(provider string, tier llm.Tier, u llm.Usage) {
	key := Key{Provider: provider, Tier: tier}
	price := l.prices[key]
	cost := price.Input.Mul(decimal.NewFromInt(u.PromptTokens)).
		Add(price.Output.Mul(decimal.NewFromInt(u.CompletionTokens))).
		Div(million)

	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.rows[key]
	if !ok {
		r = &Row{Provider: provider, Tier: tier, Cost: decimal.Zero}
		l.rows[key] = r
	}
	r.Calls++
	r.PromptTokens += u.PromptTokens
	r.CompletionTokens += u.CompletionTokens
	r.Cost = r.Cost.Add(cost)
}

// Snapshot returns a copy of the totals sorted by provider then tier.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Snapshot{Since: l.since, Rows: make([]Row, 0, len(l.rows)), Total: decimal.Zero}
	for _, r := range l.rows {
		s.Rows = append(s.Rows, *r)
		s.Total = s.Total.Add(r.Cost)
	}
	sort.Slice(s.Rows, func(i, j int) bool {
		if s.Rows[i].Provider != s.Rows[j].Provider {
			return s.Rows[i].Provider < s.Rows[j].Provider
		}
		return s.Rows[i].Tier < s.Rows[j].Tier
	})
	return s
}

// Reset clears all totals.
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = make(map[Key]*Row)
	l.since = time.Now().UTC()
}
