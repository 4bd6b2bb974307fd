// Package engine runs the payout pipeline end to end: resolve the period,
// read activity deltas or enumerate seats, allocate amounts, preflight the
// treasury balance, build the transfer batch, submit it to the multisig
// queue, and reconcile lifecycle status. Every external client is injected;
// the engine owns no process-wide state beyond its pause guard.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"paymaster/chain"
	"paymaster/observability"
	"paymaster/period"
	"paymaster/reconcile"
	"paymaster/safe"
)

// ErrPaused is returned when submission is attempted while the engine's
// pause guard is engaged.
var ErrPaused = errors.New("engine: submissions paused")

// PriceSource supplies the current exchange price used by tiered allocation.
// *activity.PriceFeed satisfies it.
type PriceSource interface {
	Price(ctx context.Context) (float64, error)
}

// Config bundles the engine's injected collaborators.
type Config struct {
	// Indexes resolve timestamps to blocks, one per chain.
	Indexes map[string]chain.BlockIndex
	// Readers issue contract reads, one per chain.
	Readers map[string]*chain.Reader
	// Service is the multisig transaction queue.
	Service safe.Service
	// Signer authorizes queue proposals.
	Signer safe.Signer
	// History lists executed token transfers.
	History reconcile.HistorySource
	// Price converts fee-currency amounts for tiered runs; optional when no
	// tiered flow is configured.
	Price PriceSource
	// Location is the operator's timezone for calendar period boundaries.
	Location *time.Location
	// Now overrides the clock, for tests.
	Now func() time.Time
	// Log receives pipeline lifecycle events.
	Log *slog.Logger
	// Metrics receives engine instrumentation.
	Metrics *observability.EngineMetrics
}

// Engine executes payout runs.
type Engine struct {
	indexes map[string]chain.BlockIndex
	readers map[string]*chain.Reader
	service safe.Service
	signer  safe.Signer
	history reconcile.HistorySource
	price   PriceSource
	loc     *time.Location
	now     func() time.Time
	log     *slog.Logger
	metrics *observability.EngineMetrics

	mu     sync.Mutex
	paused bool
}

// New validates the configuration and constructs an engine.
func New(cfg Config) (*Engine, error) {
	if len(cfg.Readers) == 0 {
		return nil, fmt.Errorf("engine: at least one chain reader required")
	}
	if cfg.Service == nil {
		return nil, fmt.Errorf("engine: queue service required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("engine: signer required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("engine: transfer history source required")
	}
	eng := &Engine{
		indexes: cfg.Indexes,
		readers: cfg.Readers,
		service: cfg.Service,
		signer:  cfg.Signer,
		history: cfg.History,
		price:   cfg.Price,
		loc:     cfg.Location,
		now:     cfg.Now,
		log:     cfg.Log,
		metrics: cfg.Metrics,
	}
	if eng.loc == nil {
		eng.loc = time.Local
	}
	if eng.now == nil {
		eng.now = time.Now
	}
	if eng.log == nil {
		eng.log = slog.Default()
	}
	return eng, nil
}

// Pause blocks new submissions until Resume. Computation and reconciliation
// stay available; only the side-effecting stage is gated.
func (e *Engine) Pause() {
	e.mu.Lock()
	e.paused = true
	e.mu.Unlock()
	e.metrics.SetPause(true)
}

// Resume re-enables submissions.
func (e *Engine) Resume() {
	e.mu.Lock()
	e.paused = false
	e.mu.Unlock()
	e.metrics.SetPause(false)
}

// Paused reports whether the pause guard is engaged.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *Engine) reader(chainName string) (*chain.Reader, error) {
	reader, ok := e.readers[chainName]
	if !ok || reader == nil {
		return nil, fmt.Errorf("engine: no reader configured for chain %s", chainName)
	}
	return reader, nil
}

// resolvePeriod maps the previous calendar month onto the named chains.
func (e *Engine) resolvePeriod(ctx context.Context, chains []string) (period.Period, period.Resolution, error) {
	p := period.Previous(e.now(), e.loc)
	indexes := make(map[string]chain.BlockIndex, len(chains))
	for _, name := range chains {
		index, ok := e.indexes[name]
		if !ok || index == nil {
			return period.Period{}, nil, fmt.Errorf("engine: no block index configured for chain %s", name)
		}
		indexes[name] = index
	}
	resolution, err := period.Resolve(ctx, p, indexes)
	if err != nil {
		return period.Period{}, nil, err
	}
	return p, resolution, nil
}

// Status recomputes the run's payment lifecycle position from live queue and
// chain state.
func (e *Engine) Status(ctx context.Context, run *Run) (reconcile.Result, error) {
	reconciler := reconcile.New(e.service, e.history, run.Safe)
	result, err := reconciler.Check(ctx, run.Records)
	if err != nil {
		e.metrics.RecordError("reconcile", "history")
		return result, err
	}
	if result.PendingErr != nil {
		e.log.Warn("pending queue lookup failed, status is best-effort",
			"run", run.ID, "error", result.PendingErr)
	}
	return result, nil
}

func zeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
