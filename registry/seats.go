package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxSeats bounds the ownership scan when the contract's supply read
// fails. Councils in this system hold single-digit seat counts; the bound
// exists to stop a scan against a contract that never yields a zero owner.
const DefaultMaxSeats = 30

// OwnerSource walks one sequentially-indexed ownership contract.
// chain.NFT satisfies it.
type OwnerSource interface {
	TotalSupply(ctx context.Context) (uint64, error)
	OwnerOf(ctx context.Context, index uint64) (common.Address, error)
}

// EnumerateSeats discovers seat holders by walking token indexes from 1. The
// scan prefers the contract's authoritative supply count; when that read
// fails it falls back to bounded scanning: walk until the owner resolves to
// the zero address or the read itself reverts (both mean past the end of
// supply), or until maxSeats indexes have been visited. Exceeding maxSeats
// truncates silently; callers needing completeness must raise the bound.
func EnumerateSeats(ctx context.Context, src OwnerSource, maxSeats int) ([]common.Address, error) {
	if maxSeats <= 0 {
		maxSeats = DefaultMaxSeats
	}
	limit := uint64(maxSeats)
	if supply, err := src.TotalSupply(ctx); err == nil && supply > 0 && supply < limit {
		limit = supply
	}
	var members []common.Address
	for index := uint64(1); index <= limit; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		owner, err := src.OwnerOf(ctx, index)
		if err != nil || owner == (common.Address{}) {
			break
		}
		members = append(members, owner)
	}
	return members, nil
}
