// Package pricing maps provider token usage to integer cost in cents.
//
// The table is immutable for the process lifetime. Every usage event
// persists the snapshot of the rate tuple it was priced with, so later
// price changes never retroactively alter historical bills.
package pricing

import (
	"math"

	"github.com/voxbridge/voxbridge/pkg/types"
)

// Rate is the price pair for one provider, in dollars per thousand tokens.
type Rate struct {
	// InputPerKTokens is the dollar price per 1000 prompt tokens.
	InputPerKTokens float64 `json:"inputPerKTokens"`

	// OutputPerKTokens is the dollar price per 1000 completion tokens.
	OutputPerKTokens float64 `json:"outputPerKTokens"`
}

// Snapshot is the pricing record persisted alongside a usage event.
type Snapshot struct {
	Provider types.Provider `json:"provider"`
	Rate     Rate           `json:"rate"`
}

// Table maps providers to their rates. Construct with [NewTable] or use
// [Default]; a Table is immutable after construction and safe for concurrent
// use.
type Table struct {
	rates map[types.Provider]Rate
}

// defaultRates is the process-wide price list for the mock vendors.
var defaultRates = map[types.Provider]Rate{
	types.VendorA: {InputPerKTokens: 0.03, OutputPerKTokens: 0.06},
	types.VendorB: {InputPerKTokens: 0.015, OutputPerKTokens: 0.075},
}

// NewTable builds a Table from an explicit rate map. The map is copied.
func NewTable(rates map[types.Provider]Rate) *Table {
	copied := make(map[types.Provider]Rate, len(rates))
	for p, r := range rates {
		copied[p] = r
	}
	return &Table{rates: copied}
}

// Default returns the built-in price list.
func Default() *Table {
	return NewTable(defaultRates)
}

// Rate returns the rate for p. Unknown providers price at zero, which keeps
// billing total-safe if a new provider ships before its price is configured.
func (t *Table) Rate(p types.Provider) Rate {
	return t.rates[p]
}

// CostCents computes the cost of a call in whole cents, rounding up.
// Zero tokens cost zero. The result is always non-negative.
func (t *Table) CostCents(p types.Provider, tokensIn, tokensOut int) int64 {
	if tokensIn <= 0 && tokensOut <= 0 {
		return 0
	}
	r := t.rates[p]
	dollars := float64(tokensIn)/1000*r.InputPerKTokens +
		float64(tokensOut)/1000*r.OutputPerKTokens
	cents := int64(math.Ceil(dollars * 100))
	if cents < 0 {
		return 0
	}
	return cents
}

// SnapshotFor returns the persistable pricing snapshot for p.
func (t *Table) SnapshotFor(p types.Provider) Snapshot {
	return Snapshot{Provider: p, Rate: t.rates[p]}
}
