package period

import (
	"context"
	"fmt"
	"sort"
	"time"

	"paymaster/chain"
)

// Period is a calendar payout window. Boundaries are local-midnight calendar
// instants in the operator's timezone; Start is inclusive, End exclusive.
type Period struct {
	Label string
	Start time.Time
	End   time.Time
}

// Previous returns the calendar month preceding now in the supplied location,
// which is the default payout window: payouts for a month are issued once it
// has fully elapsed.
func Previous(now time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	start := end.AddDate(0, -1, 0)
	return Period{
		Label: start.Format("January 2006"),
		Start: start,
		End:   end,
	}
}

// Span is the block range a period resolves to on one chain.
type Span struct {
	Start uint64
	End   uint64
}

// Resolution maps chain identifiers to resolved block spans.
type Resolution map[string]Span

// Chains returns the resolved chain identifiers in stable order.
func (r Resolution) Chains() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// queryInstant shifts a calendar boundary by its local UTC offset. The block
// index stores plain UTC Unix timestamps while the operator's intent is the
// calendar date itself, so the boundary is asked for as UTC midnight of that
// date regardless of the timezone it was constructed in.
func queryInstant(t time.Time) time.Time {
	_, offset := t.Zone()
	return t.Add(time.Duration(offset) * time.Second)
}

// Resolve maps the period's boundaries to block numbers on every chain in
// indexes. A missing block on any chain aborts resolution; computing deltas
// against a guessed block would silently misprice the whole period.
func Resolve(ctx context.Context, p Period, indexes map[string]chain.BlockIndex) (Resolution, error) {
	if len(indexes) == 0 {
		return nil, fmt.Errorf("period: no block indexes configured")
	}
	resolution := make(Resolution, len(indexes))
	start := queryInstant(p.Start)
	end := queryInstant(p.End)
	names := make([]string, 0, len(indexes))
	for name := range indexes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		index := indexes[name]
		startBlock, err := index.BlockAtOrAfter(ctx, start)
		if err != nil {
			return nil, fmt.Errorf("period: resolve %s start: %w", name, err)
		}
		endBlock, err := index.BlockAtOrAfter(ctx, end)
		if err != nil {
			return nil, fmt.Errorf("period: resolve %s end: %w", name, err)
		}
		resolution[name] = Span{Start: startBlock, End: endBlock}
	}
	return resolution, nil
}
