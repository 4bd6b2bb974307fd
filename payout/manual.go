package payout

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Entry is one manually keyed payout line: a recipient and one amount per
// configured token column.
type Entry struct {
	Address common.Address
	Amounts []float64
}

// ParseEntries parses operator-entered payout lines of the form
// "address,amount,amount,..." with one amount column per token. Blank lines
// are skipped, unparseable amounts read as zero, and missing trailing columns
// default to zero; an invalid address fails the whole parse since paying an
// unintended recipient is unrecoverable.
func ParseEntries(text string, columns int) ([]Entry, error) {
	if columns <= 0 {
		return nil, fmt.Errorf("payout: at least one token column required")
	}
	var entries []Entry
	for lineNo, row := range strings.Split(text, "\n") {
		fields := strings.Split(row, ",")
		addr := strings.TrimSpace(fields[0])
		if addr == "" {
			continue
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("payout: line %d: invalid address %q", lineNo+1, addr)
		}
		amounts := make([]float64, columns)
		for i := 0; i < columns && i+1 < len(fields); i++ {
			value, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
			if err != nil {
				continue
			}
			amounts[i] = value
		}
		entries = append(entries, Entry{
			Address: common.HexToAddress(addr),
			Amounts: amounts,
		})
	}
	return entries, nil
}
