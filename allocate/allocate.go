package allocate

import (
	"errors"
	"fmt"
	"sort"

	"paymaster/activity"
)

// ErrZeroBasis reports that proportional allocation was attempted over a
// registry whose activity deltas sum to zero. The split is undefined in that
// case and must fail loudly rather than divide by zero.
var ErrZeroBasis = errors.New("allocate: zero activity basis")

// Share is one recipient's computed slice of a payout run.
type Share struct {
	ID         string
	Value      float64
	Percentage float64
	Amount     float64
}

// Proportional splits budget across recipients in proportion to their
// activity deltas. The result is sorted by descending share; equal shares
// keep their input order so output is deterministic.
func Proportional(deltas []activity.Delta, budget float64) ([]Share, error) {
	total := activity.Sum(deltas)
	if total == 0 {
		return nil, ErrZeroBasis
	}
	shares := make([]Share, 0, len(deltas))
	for _, d := range deltas {
		percentage := d.Value / total
		shares = append(shares, Share{
			ID:         d.ID,
			Value:      d.Value,
			Percentage: percentage,
			Amount:     budget * percentage,
		})
	}
	sort.SliceStable(shares, func(i, j int) bool {
		return shares[i].Percentage > shares[j].Percentage
	})
	return shares, nil
}

// Tiered prices each recipient's delta at the rate its own magnitude selects
// from the table, then converts the fee-currency amount into payout-token
// units at the supplied exchange price. Enumeration order is preserved; no
// budget conservation holds across recipients.
func Tiered(deltas []activity.Delta, table TierTable, price float64) ([]Share, error) {
	if len(table) == 0 {
		return nil, fmt.Errorf("allocate: tier table required")
	}
	if price <= 0 {
		return nil, fmt.Errorf("allocate: exchange price must be positive, got %v", price)
	}
	shares := make([]Share, 0, len(deltas))
	for _, d := range deltas {
		rate := table.Rate(d.Value)
		shares = append(shares, Share{
			ID:     d.ID,
			Value:  d.Value,
			Amount: d.Value * rate / price,
		})
	}
	return shares, nil
}

// Stipend assigns the same fixed amount to every recipient, independent of
// activity. Enumeration order is preserved.
func Stipend(ids []string, amount float64) []Share {
	shares := make([]Share, 0, len(ids))
	for _, id := range ids {
		shares = append(shares, Share{ID: id, Amount: amount})
	}
	return shares
}
