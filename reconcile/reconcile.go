// Package reconcile determines whether a computed payout set is un-submitted,
// queued, or already executed, by cross-referencing the multisig queue's
// pending entries and the chain's historical transfer log.
package reconcile

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"paymaster/payout"
	"paymaster/safe"
)

// Status is a payout set's lifecycle position. It is never persisted; it is
// recomputed from live queue and chain state on demand.
type Status int

const (
	StatusNone Status = iota
	StatusQueued
	StatusExecuted
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusExecuted:
		return "executed"
	default:
		return "none"
	}
}

// TokenTransfer is one historical token movement out of the paying account.
type TokenTransfer struct {
	To    common.Address
	Value *big.Int
}

// HistorySource lists historical token transfers for an account.
type HistorySource interface {
	TokenTransfers(ctx context.Context, token, account common.Address) ([]TokenTransfer, error)
}

// PendingSource lists the queue's pending entries; safe.Service satisfies it.
type PendingSource interface {
	PendingTransactions(ctx context.Context, safeAddr common.Address) ([]safe.PendingTransaction, error)
}

// Reconciler checks payout sets against one paying account.
type Reconciler struct {
	pending PendingSource
	history HistorySource
	safe    common.Address
}

// New constructs a reconciler for the given paying account.
func New(pending PendingSource, history HistorySource, safeAddr common.Address) *Reconciler {
	return &Reconciler{pending: pending, history: history, safe: safeAddr}
}

// Result carries the computed status plus the pending-queue lookup error, if
// any. A non-nil PendingErr means the queued check could not be determined —
// distinct from "determined not queued" — and the status rests on the
// historical check alone.
type Result struct {
	Status     Status
	PendingErr error
}

// Check recomputes the payout set's status. The queued check compares each
// pending entry's decoded recipient set against the expected set; a failure
// there is recorded in Result.PendingErr and does not block the executed
// check. The executed check is deliberately weak: one historical transfer
// matching any single record's recipient and value marks the whole set
// executed, mirroring how operators use the transfer log today.
func (r *Reconciler) Check(ctx context.Context, records []payout.Record) (Result, error) {
	result := Result{Status: StatusNone}
	if len(records) == 0 {
		return result, nil
	}

	pending, err := r.pending.PendingTransactions(ctx, r.safe)
	if err != nil {
		result.PendingErr = fmt.Errorf("reconcile: list pending: %w", err)
	} else {
		expected := recipientSet(records)
		for _, p := range pending {
			if sameSet(expected, sortedAddresses(p.Recipients())) {
				result.Status = StatusQueued
				break
			}
		}
	}

	for _, token := range payout.Tokens(records) {
		transfers, err := r.history.TokenTransfers(ctx, token, r.safe)
		if err != nil {
			return result, fmt.Errorf("reconcile: transfer history: %w", err)
		}
		if anyRecordExecuted(records, token, transfers) {
			result.Status = StatusExecuted
			return result, nil
		}
	}
	return result, nil
}

func anyRecordExecuted(records []payout.Record, token common.Address, transfers []TokenTransfer) bool {
	for _, record := range records {
		if record.Token != token || record.Amount <= 0 {
			continue
		}
		wei, err := payout.ToWei(record.Amount)
		if err != nil {
			continue
		}
		for _, transfer := range transfers {
			if transfer.To == record.Address && transfer.Value != nil && transfer.Value.Cmp(wei) == 0 {
				return true
			}
		}
	}
	return false
}

func recipientSet(records []payout.Record) []common.Address {
	addresses := make([]common.Address, 0, len(records))
	for _, record := range records {
		addresses = append(addresses, record.Address)
	}
	return sortedAddresses(addresses)
}

func sortedAddresses(addresses []common.Address) []common.Address {
	sorted := append([]common.Address(nil), addresses...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Hex() < sorted[j].Hex()
	})
	return sorted
}

func sameSet(a, b []common.Address) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
