package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"paymaster/activity"
	"paymaster/allocate"
	"paymaster/chain"
	"paymaster/payout"
	"paymaster/period"
	"paymaster/registry"
)

// Run is one immutable computation pass: period, resolved blocks, and the
// payout records derived from them. A new run replaces the old on every
// recompute; nothing mutates a run after it is returned.
type Run struct {
	ID        string
	Kind      string
	Period    period.Period
	Blocks    period.Resolution
	Records   []payout.Record
	Chain     string
	Safe      common.Address
	CreatedAt time.Time
}

// PartnerSpec describes a proportional payout run over a static registry.
type PartnerSpec struct {
	Partners []registry.Partner
	Sources  []activity.ChainSource
	Budget   float64
	Token    common.Address
	Chain    string
	Safe     common.Address
}

// ComputePartners builds a proportional run: each partner's share of the
// budget follows its share of the activity generated in the period.
func (e *Engine) ComputePartners(ctx context.Context, spec PartnerSpec) (*Run, error) {
	started := e.now()
	p, blocks, err := e.resolvePeriod(ctx, sourceChains(spec.Sources))
	if err != nil {
		e.metrics.RecordError("period", "resolve")
		return nil, err
	}
	deltas, err := activity.Deltas(ctx, registry.IDs(spec.Partners), spec.Sources, blocks)
	if err != nil {
		e.metrics.RecordError("activity", "snapshot")
		return nil, err
	}
	shares, err := allocate.Proportional(deltas, spec.Budget)
	if err != nil {
		e.metrics.RecordError("allocate", "proportional")
		return nil, err
	}
	records, err := recordsFromShares(shares, spec.Partners, spec.Token)
	if err != nil {
		return nil, err
	}
	run := e.newRun("partners", p, blocks, records, spec.Chain, spec.Safe)
	e.metrics.ObserveRun(run.Kind, e.now().Sub(started))
	e.log.Info("computed partner payouts",
		"run", run.ID, "period", p.Label, "recipients", len(records))
	return run, nil
}

// TieredSpec describes a run priced by the tier table instead of a shared
// budget: each partner's own delta selects its fee rate, and amounts are
// converted to payout-token units at the current exchange price.
type TieredSpec struct {
	Partners []registry.Partner
	Sources  []activity.ChainSource
	Tiers    allocate.TierTable
	Token    common.Address
	Chain    string
	Safe     common.Address
}

// ComputeTiered builds a tiered-rate run.
func (e *Engine) ComputeTiered(ctx context.Context, spec TieredSpec) (*Run, error) {
	started := e.now()
	if e.price == nil {
		return nil, fmt.Errorf("engine: price source required for tiered runs")
	}
	p, blocks, err := e.resolvePeriod(ctx, sourceChains(spec.Sources))
	if err != nil {
		e.metrics.RecordError("period", "resolve")
		return nil, err
	}
	deltas, err := activity.Deltas(ctx, registry.IDs(spec.Partners), spec.Sources, blocks)
	if err != nil {
		e.metrics.RecordError("activity", "snapshot")
		return nil, err
	}
	price, err := e.price.Price(ctx)
	if err != nil {
		e.metrics.RecordError("allocate", "price")
		return nil, fmt.Errorf("engine: fetch exchange price: %w", err)
	}
	shares, err := allocate.Tiered(deltas, spec.Tiers, price)
	if err != nil {
		e.metrics.RecordError("allocate", "tiered")
		return nil, err
	}
	records, err := recordsFromShares(shares, spec.Partners, spec.Token)
	if err != nil {
		return nil, err
	}
	run := e.newRun("tiered", p, blocks, records, spec.Chain, spec.Safe)
	e.metrics.ObserveRun(run.Kind, e.now().Sub(started))
	e.log.Info("computed tiered payouts",
		"run", run.ID, "period", p.Label, "recipients", len(records), "price", price)
	return run, nil
}

// SeatSpec describes a stipend run over seat-based recipients.
type SeatSpec struct {
	Councils []registry.Council
	MaxSeats int
	Token    common.Address
	Chain    string
	Safe     common.Address
}

// ComputeSeats builds a fixed-stipend run by discovering current seat
// holders on chain. Membership is read live; no historical period applies.
func (e *Engine) ComputeSeats(ctx context.Context, spec SeatSpec) (*Run, error) {
	started := e.now()
	reader, err := e.reader(spec.Chain)
	if err != nil {
		return nil, err
	}
	var records []payout.Record
	for _, council := range spec.Councils {
		nft := chain.NewNFT(reader, council.NFT, chain.Latest)
		members, err := registry.EnumerateSeats(ctx, nft, spec.MaxSeats)
		if err != nil {
			e.metrics.RecordError("enumerate", "seats")
			return nil, fmt.Errorf("engine: enumerate %s seats: %w", council.Name, err)
		}
		ids := make([]string, 0, len(members))
		for _, member := range members {
			ids = append(ids, member.Hex())
		}
		for i, share := range allocate.Stipend(ids, council.Stipend) {
			records = append(records, payout.Record{
				ID:      fmt.Sprintf("%s %s", council.Name, share.ID),
				Address: members[i],
				Amount:  share.Amount,
				Token:   spec.Token,
			})
		}
	}
	p := period.Previous(e.now(), e.loc)
	run := e.newRun("seats", p, nil, records, spec.Chain, spec.Safe)
	e.metrics.ObserveRun(run.Kind, e.now().Sub(started))
	e.log.Info("computed seat stipends",
		"run", run.ID, "councils", len(spec.Councils), "recipients", len(records))
	return run, nil
}

// ManualSpec describes a free-form run keyed in by the operator, one amount
// column per token.
type ManualSpec struct {
	Text   string
	Tokens []common.Address
	Chain  string
	Safe   common.Address
}

// ComputeManual builds a run from operator-entered payout lines.
func (e *Engine) ComputeManual(ctx context.Context, spec ManualSpec) (*Run, error) {
	started := e.now()
	entries, err := payout.ParseEntries(spec.Text, len(spec.Tokens))
	if err != nil {
		e.metrics.RecordError("manual", "parse")
		return nil, err
	}
	var records []payout.Record
	for _, entry := range entries {
		for i, token := range spec.Tokens {
			if entry.Amounts[i] <= 0 {
				continue
			}
			records = append(records, payout.Record{
				ID:      entry.Address.Hex(),
				Address: entry.Address,
				Amount:  entry.Amounts[i],
				Token:   token,
			})
		}
	}
	run := e.newRun("manual", period.Period{Label: "manual"}, nil, records, spec.Chain, spec.Safe)
	e.metrics.ObserveRun(run.Kind, e.now().Sub(started))
	e.log.Info("parsed manual payouts", "run", run.ID, "recipients", len(records))
	return run, nil
}

func (e *Engine) newRun(kind string, p period.Period, blocks period.Resolution, records []payout.Record, chainName string, safeAddr common.Address) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Kind:      kind,
		Period:    p,
		Blocks:    blocks,
		Records:   records,
		Chain:     chainName,
		Safe:      safeAddr,
		CreatedAt: e.now(),
	}
}

func recordsFromShares(shares []allocate.Share, partners []registry.Partner, token common.Address) ([]payout.Record, error) {
	records := make([]payout.Record, 0, len(shares))
	for _, share := range shares {
		address, ok := registry.AddressOf(partners, share.ID)
		if !ok || zeroAddress(address) {
			return nil, fmt.Errorf("engine: no registered address for %s", share.ID)
		}
		records = append(records, payout.Record{
			ID:         share.ID,
			Address:    address,
			Activity:   share.Value,
			Percentage: share.Percentage,
			Amount:     share.Amount,
			Token:      token,
		})
	}
	return records, nil
}

func sourceChains(sources []activity.ChainSource) []string {
	seen := make(map[string]struct{}, len(sources))
	chains := make([]string, 0, len(sources))
	for _, src := range sources {
		if _, ok := seen[src.Chain]; ok {
			continue
		}
		seen[src.Chain] = struct{}{}
		chains = append(chains, src.Chain)
	}
	return chains
}
