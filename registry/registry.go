package registry

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Partner is a statically registered payout recipient identified by the id
// its activity indexer tracks.
type Partner struct {
	ID      string
	Address common.Address
}

type partnerFile struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
}

// LoadPartners reads the partner registry from the provided YAML file.
func LoadPartners(path string) ([]Partner, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry: open partners: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	var entries []partnerFile
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("registry: decode partners: %w", err)
	}
	partners := make([]Partner, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			return nil, fmt.Errorf("registry: partner id required")
		}
		key := strings.ToUpper(id)
		if _, exists := seen[key]; exists {
			return nil, fmt.Errorf("registry: duplicate partner %s", id)
		}
		address, err := parseAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("registry: partner %s: %w", id, err)
		}
		partners = append(partners, Partner{ID: id, Address: address})
		seen[key] = struct{}{}
	}
	if len(partners) == 0 {
		return nil, fmt.Errorf("registry: no partners configured")
	}
	return partners, nil
}

// IDs returns the partner ids in registry order.
func IDs(partners []Partner) []string {
	ids := make([]string, 0, len(partners))
	for _, p := range partners {
		ids = append(ids, p.ID)
	}
	return ids
}

// AddressOf returns the registered address for the given partner id.
func AddressOf(partners []Partner, id string) (common.Address, bool) {
	for _, p := range partners {
		if strings.EqualFold(p.ID, id) {
			return p.Address, true
		}
	}
	return common.Address{}, false
}

// Council is a seat-based recipient group: membership is whoever holds the
// sequentially-indexed ownership records of the council's contract, and every
// seat earns the same fixed stipend per period.
type Council struct {
	Name    string
	Symbol  string
	NFT     common.Address
	Stipend float64
}

type councilFile struct {
	Name    string  `yaml:"name"`
	Symbol  string  `yaml:"symbol"`
	NFT     string  `yaml:"nft"`
	Stipend float64 `yaml:"stipend"`
}

// LoadCouncils reads the council registry from the provided YAML file.
func LoadCouncils(path string) ([]Council, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry: open councils: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	var entries []councilFile
	if err := dec.Decode(&entries); err != nil {
		return nil, fmt.Errorf("registry: decode councils: %w", err)
	}
	councils := make([]Council, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("registry: council name required")
		}
		address, err := parseAddress(entry.NFT)
		if err != nil {
			return nil, fmt.Errorf("registry: council %s: %w", name, err)
		}
		if entry.Stipend <= 0 {
			return nil, fmt.Errorf("registry: council %s: stipend must be positive", name)
		}
		councils = append(councils, Council{
			Name:    name,
			Symbol:  strings.TrimSpace(entry.Symbol),
			NFT:     address,
			Stipend: entry.Stipend,
		})
	}
	if len(councils) == 0 {
		return nil, fmt.Errorf("registry: no councils configured")
	}
	return councils, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}
