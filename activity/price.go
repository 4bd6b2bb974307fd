package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// PriceFeedConfig describes a rates indexer exposing a recent average token
// price.
type PriceFeedConfig struct {
	Endpoint string
	// Entity is the price series collection, e.g. "fifteenMinuteTokenPrices".
	Entity string
	// Field is the average price field within an entry.
	Field string
	// Scale divides raw values; fixed-point feeds use 1e18. Zero means no
	// scaling.
	Scale float64
}

// PriceFeed reads the most recent exchange price from a rates indexer. The
// tiered allocation policy uses it to convert fee-currency amounts into
// payout-token units.
type PriceFeed struct {
	cfg  PriceFeedConfig
	http *http.Client
}

// NewPriceFeed constructs a price feed client.
func NewPriceFeed(cfg PriceFeedConfig) (*PriceFeed, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("activity: price feed endpoint required")
	}
	if strings.TrimSpace(cfg.Entity) == "" {
		return nil, fmt.Errorf("activity: price feed entity required")
	}
	if strings.TrimSpace(cfg.Field) == "" {
		return nil, fmt.Errorf("activity: price feed field required")
	}
	return &PriceFeed{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// Price returns the feed's latest average price.
func (p *PriceFeed) Price(ctx context.Context) (float64, error) {
	query := fmt.Sprintf(
		`{ %s(orderBy: id, orderDirection: desc, first: 1) { id %s } }`,
		p.cfg.Entity, p.cfg.Field,
	)
	body, err := json.Marshal(subgraphRequest{Query: query})
	if err != nil {
		return 0, fmt.Errorf("activity: encode price query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("activity: build price query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("activity: query price feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("activity: price feed status %d", resp.StatusCode)
	}
	var decoded subgraphResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("activity: decode price response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return 0, fmt.Errorf("activity: price feed error: %s", decoded.Errors[0].Message)
	}
	entries, ok := decoded.Data[p.cfg.Entity]
	if !ok || len(entries) == 0 {
		return 0, fmt.Errorf("activity: price feed returned no entries")
	}
	raw, ok := entries[0][p.cfg.Field]
	if !ok {
		return 0, fmt.Errorf("activity: price field %s missing", p.cfg.Field)
	}
	value, err := parseCounter(raw)
	if err != nil {
		return 0, fmt.Errorf("activity: parse price: %w", err)
	}
	if p.cfg.Scale > 0 {
		value /= p.cfg.Scale
	}
	return value, nil
}
