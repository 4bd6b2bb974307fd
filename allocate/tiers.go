package allocate

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Tier maps a delta band to a fee rate. UpTo is the band's upper breakpoint
// in fee-currency units; a zero UpTo marks the unbounded top tier.
type Tier struct {
	UpTo float64 `yaml:"up_to"`
	Rate float64 `yaml:"rate"`
}

// TierTable is an ordered breakpoint table. The first band is matched
// strictly below its breakpoint, subsequent bounded bands inclusively, and
// the unbounded band catches everything above.
type TierTable []Tier

// LoadTierTable reads a tier table from the provided YAML file.
func LoadTierTable(path string) (TierTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("allocate: open tiers: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	var table TierTable
	if err := dec.Decode(&table); err != nil {
		return nil, fmt.Errorf("allocate: decode tiers: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate checks structural soundness: at least one band, positive rates,
// ascending breakpoints, and an unbounded final band.
func (t TierTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("allocate: tier table empty")
	}
	prev := 0.0
	for i, tier := range t {
		last := i == len(t)-1
		if tier.Rate < 0 {
			return fmt.Errorf("allocate: tier %d: negative rate", i)
		}
		if last {
			if tier.UpTo != 0 {
				return fmt.Errorf("allocate: final tier must be unbounded (up_to: 0)")
			}
			continue
		}
		if tier.UpTo <= prev {
			return fmt.Errorf("allocate: tier %d: breakpoints must ascend", i)
		}
		prev = tier.UpTo
	}
	return nil
}

// Monotonic reports whether rates never increase as deltas grow. The shipped
// production table fails this check (the top band's rate jumps well above the
// middle band's); that is preserved as configuration, not corrected here, so
// operators are warned rather than blocked.
func (t TierTable) Monotonic() bool {
	for i := 1; i < len(t); i++ {
		if t[i].Rate > t[i-1].Rate {
			return false
		}
	}
	return true
}

// Rate selects the fee rate for the given delta magnitude.
func (t TierTable) Rate(value float64) float64 {
	for i, tier := range t {
		if tier.UpTo == 0 {
			return tier.Rate
		}
		if i == 0 && value < tier.UpTo {
			return tier.Rate
		}
		if i > 0 && value <= tier.UpTo {
			return tier.Rate
		}
	}
	return 0
}
