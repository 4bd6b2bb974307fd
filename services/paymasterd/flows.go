package paymasterd

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"paymaster/activity"
	"paymaster/allocate"
	"paymaster/engine"
	"paymaster/registry"
)

// Flows holds the fully resolved run specifications for this deployment.
// A nil spec means the flow is not configured.
type Flows struct {
	Partners *engine.PartnerSpec
	Tiered   *engine.TieredSpec
	Seats    *engine.SeatSpec
	Manual   *ManualDefaults
}

// ManualDefaults carries the chain, treasury, and token columns applied to
// operator-entered runs.
type ManualDefaults struct {
	Tokens []common.Address
	Chain  string
	Safe   common.Address
}

// BuildFlows loads registries, tier tables, and activity sources for every
// configured flow.
func BuildFlows(cfg FlowsConfig) (Flows, error) {
	var flows Flows
	if cfg.Partners != nil {
		spec, err := buildPartnerFlow(*cfg.Partners)
		if err != nil {
			return Flows{}, fmt.Errorf("partners flow: %w", err)
		}
		flows.Partners = spec
	}
	if cfg.Tiered != nil {
		spec, err := buildTieredFlow(*cfg.Tiered)
		if err != nil {
			return Flows{}, fmt.Errorf("tiered flow: %w", err)
		}
		flows.Tiered = spec
	}
	if cfg.Seats != nil {
		spec, err := buildSeatFlow(*cfg.Seats)
		if err != nil {
			return Flows{}, fmt.Errorf("seats flow: %w", err)
		}
		flows.Seats = spec
	}
	if cfg.Manual != nil {
		defaults, err := buildManualDefaults(*cfg.Manual)
		if err != nil {
			return Flows{}, fmt.Errorf("manual flow: %w", err)
		}
		flows.Manual = defaults
	}
	return flows, nil
}

func buildPartnerFlow(cfg PartnerFlowConfig) (*engine.PartnerSpec, error) {
	partners, err := registry.LoadPartners(cfg.Registry)
	if err != nil {
		return nil, err
	}
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("budget must be positive")
	}
	token, err := parseAddress("token", cfg.Token)
	if err != nil {
		return nil, err
	}
	safeAddr, err := parseAddress("safe", cfg.Safe)
	if err != nil {
		return nil, err
	}
	sources, err := buildSources(cfg.Sources)
	if err != nil {
		return nil, err
	}
	return &engine.PartnerSpec{
		Partners: partners,
		Sources:  sources,
		Budget:   cfg.Budget,
		Token:    token,
		Chain:    cfg.Chain,
		Safe:     safeAddr,
	}, nil
}

func buildTieredFlow(cfg TieredFlowConfig) (*engine.TieredSpec, error) {
	partners, err := registry.LoadPartners(cfg.Registry)
	if err != nil {
		return nil, err
	}
	tiers, err := allocate.LoadTierTable(cfg.Tiers)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token", cfg.Token)
	if err != nil {
		return nil, err
	}
	safeAddr, err := parseAddress("safe", cfg.Safe)
	if err != nil {
		return nil, err
	}
	sources, err := buildSources(cfg.Sources)
	if err != nil {
		return nil, err
	}
	return &engine.TieredSpec{
		Partners: partners,
		Sources:  sources,
		Tiers:    tiers,
		Token:    token,
		Chain:    cfg.Chain,
		Safe:     safeAddr,
	}, nil
}

func buildSeatFlow(cfg SeatFlowConfig) (*engine.SeatSpec, error) {
	councils, err := registry.LoadCouncils(cfg.Councils)
	if err != nil {
		return nil, err
	}
	token, err := parseAddress("token", cfg.Token)
	if err != nil {
		return nil, err
	}
	safeAddr, err := parseAddress("safe", cfg.Safe)
	if err != nil {
		return nil, err
	}
	return &engine.SeatSpec{
		Councils: councils,
		MaxSeats: cfg.MaxSeats,
		Token:    token,
		Chain:    cfg.Chain,
		Safe:     safeAddr,
	}, nil
}

func buildManualDefaults(cfg ManualFlowConfig) (*ManualDefaults, error) {
	if len(cfg.Tokens) == 0 {
		return nil, fmt.Errorf("at least one token must be configured")
	}
	tokens := make([]common.Address, 0, len(cfg.Tokens))
	for _, raw := range cfg.Tokens {
		token, err := parseAddress("token", raw)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	safeAddr, err := parseAddress("safe", cfg.Safe)
	if err != nil {
		return nil, err
	}
	return &ManualDefaults{Tokens: tokens, Chain: cfg.Chain, Safe: safeAddr}, nil
}

func buildSources(configs []SourceConfig) ([]activity.ChainSource, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("at least one activity source must be configured")
	}
	sources := make([]activity.ChainSource, 0, len(configs))
	for _, cfg := range configs {
		src, err := activity.NewSubgraphSource(activity.SubgraphConfig{
			Endpoint:   cfg.Endpoint,
			Entity:     cfg.Entity,
			ValueField: cfg.ValueField,
			Scale:      cfg.Scale,
		})
		if err != nil {
			return nil, fmt.Errorf("source for chain %s: %w", cfg.Chain, err)
		}
		sources = append(sources, activity.ChainSource{Chain: cfg.Chain, Source: src})
	}
	return sources, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(trimmed), nil
}
