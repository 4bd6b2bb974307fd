package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrNoBlock reports that the block index holds no block at or after the
// requested timestamp, typically because the chain has not advanced that far.
// Callers must not substitute a zero block for this condition.
var ErrNoBlock = errors.New("chain: no block at or after timestamp")

// BlockIndex resolves timestamps to block numbers for one chain.
type BlockIndex interface {
	BlockAtOrAfter(ctx context.Context, ts time.Time) (uint64, error)
}

// HTTPBlockIndex implements BlockIndex against a subgraph-style block index
// that answers GraphQL queries over blocks ordered by timestamp.
type HTTPBlockIndex struct {
	endpoint string
	http     *http.Client
}

// NewHTTPBlockIndex constructs a block index client with sane defaults.
func NewHTTPBlockIndex(endpoint string) *HTTPBlockIndex {
	return &HTTPBlockIndex{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type blocksResponse struct {
	Data struct {
		Blocks []struct {
			Number string `json:"number"`
		} `json:"blocks"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// BlockAtOrAfter returns the earliest block whose timestamp is at or after ts.
func (c *HTTPBlockIndex) BlockAtOrAfter(ctx context.Context, ts time.Time) (uint64, error) {
	if c == nil || c.endpoint == "" {
		return 0, fmt.Errorf("chain: block index not configured")
	}
	query := fmt.Sprintf(
		`{ blocks(first: 1, orderBy: timestamp, orderDirection: asc, where: {timestamp_gte: "%d"}) { number } }`,
		ts.Unix(),
	)
	body, err := json.Marshal(graphQLRequest{Query: query})
	if err != nil {
		return 0, fmt.Errorf("chain: encode block query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("chain: build block query: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("chain: query block index: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("chain: block index status %d", resp.StatusCode)
	}
	var decoded blocksResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("chain: decode block index response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return 0, fmt.Errorf("chain: block index error: %s", decoded.Errors[0].Message)
	}
	if len(decoded.Data.Blocks) == 0 {
		return 0, ErrNoBlock
	}
	number, err := strconv.ParseUint(decoded.Data.Blocks[0].Number, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chain: parse block number %q: %w", decoded.Data.Blocks[0].Number, err)
	}
	return number, nil
}
