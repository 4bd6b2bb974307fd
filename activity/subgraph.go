package activity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SubgraphConfig describes one subgraph-style activity indexer.
type SubgraphConfig struct {
	// Endpoint is the indexer's GraphQL URL.
	Endpoint string
	// Entity is the collection holding per-recipient counters, e.g.
	// "exchangePartners" or "frontends".
	Entity string
	// ValueField is the cumulative counter field, e.g. "usdFees".
	ValueField string
	// Scale divides raw counter values; indexers that store fixed-point
	// token units use 1e18. Zero means no scaling.
	Scale float64
}

// SubgraphSource reads cumulative activity counters from a subgraph.
type SubgraphSource struct {
	cfg  SubgraphConfig
	http *http.Client
}

// NewSubgraphSource constructs a subgraph client with sane defaults.
func NewSubgraphSource(cfg SubgraphConfig) (*SubgraphSource, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("activity: subgraph endpoint required")
	}
	if strings.TrimSpace(cfg.Entity) == "" {
		return nil, fmt.Errorf("activity: subgraph entity required")
	}
	if strings.TrimSpace(cfg.ValueField) == "" {
		return nil, fmt.Errorf("activity: subgraph value field required")
	}
	return &SubgraphSource{
		cfg:  cfg,
		http: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type subgraphRequest struct {
	Query string `json:"query"`
}

type subgraphResponse struct {
	Data   map[string][]map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Cumulative returns the recipient's counter as of the given block. Recipient
// ids compare case-insensitively; subgraph ids are lowercased hex while
// registries often carry display casing.
func (s *SubgraphSource) Cumulative(ctx context.Context, id string, block uint64) (float64, bool, error) {
	query := fmt.Sprintf(
		`{ %s (block: {number: %d}) { id %s } }`,
		s.cfg.Entity, block, s.cfg.ValueField,
	)
	body, err := json.Marshal(subgraphRequest{Query: query})
	if err != nil {
		return 0, false, fmt.Errorf("activity: encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("activity: build query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return 0, false, fmt.Errorf("activity: query indexer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("activity: indexer status %d", resp.StatusCode)
	}
	var decoded subgraphResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, false, fmt.Errorf("activity: decode indexer response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return 0, false, fmt.Errorf("activity: indexer error: %s", decoded.Errors[0].Message)
	}
	records, ok := decoded.Data[s.cfg.Entity]
	if !ok {
		return 0, false, fmt.Errorf("activity: entity %s missing from response", s.cfg.Entity)
	}
	for _, record := range records {
		rawID, ok := record["id"]
		if !ok {
			continue
		}
		var recordID string
		if err := json.Unmarshal(rawID, &recordID); err != nil {
			continue
		}
		if !strings.EqualFold(recordID, id) {
			continue
		}
		rawValue, ok := record[s.cfg.ValueField]
		if !ok {
			return 0, false, nil
		}
		value, err := parseCounter(rawValue)
		if err != nil {
			return 0, false, fmt.Errorf("activity: parse %s for %s: %w", s.cfg.ValueField, id, err)
		}
		if s.cfg.Scale > 0 {
			value /= s.cfg.Scale
		}
		return value, true, nil
	}
	return 0, false, nil
}

// parseCounter accepts both representations subgraphs use for numerics:
// JSON numbers and decimal strings.
func parseCounter(raw json.RawMessage) (float64, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strconv.ParseFloat(strings.TrimSpace(asString), 64)
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err != nil {
		return 0, err
	}
	return asNumber, nil
}
