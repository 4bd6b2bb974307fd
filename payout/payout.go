package payout

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"paymaster/chain"
	"paymaster/safe"
)

// ErrInsufficientFunds reports that the paying account does not hold enough
// of the payout token to cover the computed batch. The pipeline must stop
// before any transfer call is constructed.
var ErrInsufficientFunds = errors.New("payout: insufficient treasury balance")

// Record is one recipient's computed payout. Records are derived wholesale on
// every allocation pass and never mutated in place.
type Record struct {
	ID         string
	Address    common.Address
	Activity   float64
	Percentage float64
	Amount     float64
	Token      common.Address
}

// Total sums record amounts for the given token.
func Total(records []Record, token common.Address) float64 {
	total := 0.0
	for _, r := range records {
		if r.Token == token {
			total += r.Amount
		}
	}
	return total
}

// Tokens returns the distinct payout tokens in record order.
func Tokens(records []Record) []common.Address {
	var tokens []common.Address
	seen := make(map[common.Address]struct{})
	for _, r := range records {
		if _, ok := seen[r.Token]; ok {
			continue
		}
		seen[r.Token] = struct{}{}
		tokens = append(tokens, r.Token)
	}
	return tokens
}

var transferSelector = common.FromHex("0xa9059cbb") // transfer(address,uint256)

// BuildBatch encodes every record with a positive amount as a token transfer
// call, in record order. Zero-amount records are dropped, not errors: a
// recipient with no computed payout is expected.
func BuildBatch(records []Record) ([]safe.Transfer, error) {
	batch := make([]safe.Transfer, 0, len(records))
	for _, r := range records {
		if r.Amount <= 0 {
			continue
		}
		wei, err := ToWei(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("payout: record %s: %w", r.ID, err)
		}
		batch = append(batch, safe.Transfer{
			To:   r.Token,
			Data: transferCalldata(r.Address, wei),
		})
	}
	return batch, nil
}

func transferCalldata(recipient common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, transferSelector...)
	data = append(data, common.LeftPadBytes(recipient.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

// BalanceSource reads token balances; *chain.Reader satisfies it.
type BalanceSource interface {
	BalanceOf(ctx context.Context, token, account common.Address, tag chain.BlockTag) (*big.Int, error)
}

// Preflight verifies the paying account holds enough of the token to cover
// total. The balance is truncated to whole tokens for the comparison only.
func Preflight(ctx context.Context, balances BalanceSource, token, account common.Address, total float64) error {
	balance, err := balances.BalanceOf(ctx, token, account, chain.Latest)
	if err != nil {
		return fmt.Errorf("payout: read treasury balance: %w", err)
	}
	whole, _ := new(big.Float).SetInt(WholeTokens(balance)).Float64()
	if total > whole {
		return fmt.Errorf("%w: need %.0f, have %.0f", ErrInsufficientFunds, total, whole)
	}
	return nil
}
