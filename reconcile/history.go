package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// ExplorerClient implements HistorySource against a block-explorer account
// API. Explorer endpoints throttle aggressively, so requests pass through a
// client-side rate limiter.
type ExplorerClient struct {
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	http    *http.Client
}

// NewExplorerClient constructs a transfer-history client. requestsPerSecond
// caps the outbound query rate; zero applies the free-tier default of 5.
func NewExplorerClient(baseURL, apiKey string, requestsPerSecond float64) *ExplorerClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return &ExplorerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type explorerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		To    string `json:"to"`
		Value string `json:"value"`
	} `json:"result"`
}

// TokenTransfers lists historical token transfers touching the account,
// newest first.
func (c *ExplorerClient) TokenTransfers(ctx context.Context, token, account common.Address) ([]TokenTransfer, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("reconcile: explorer not configured")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("module", "account")
	query.Set("action", "tokentx")
	query.Set("contractaddress", token.Hex())
	query.Set("address", account.Hex())
	query.Set("page", "1")
	query.Set("offset", "10000")
	query.Set("sort", "desc")
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("reconcile: build history request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reconcile: query history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reconcile: explorer status %d", resp.StatusCode)
	}
	var decoded explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("reconcile: decode history response: %w", err)
	}
	// The explorer reports status "0" both for errors and for an empty
	// result set; only a real error carries a distinguishing message.
	if decoded.Status != "1" && len(decoded.Result) == 0 {
		message := strings.TrimSpace(decoded.Message)
		if message != "" && !strings.EqualFold(message, "No transactions found") && !strings.EqualFold(message, "OK") {
			return nil, fmt.Errorf("reconcile: explorer error: %s", message)
		}
	}
	transfers := make([]TokenTransfer, 0, len(decoded.Result))
	for _, entry := range decoded.Result {
		value, ok := new(big.Int).SetString(strings.TrimSpace(entry.Value), 10)
		if !ok {
			return nil, fmt.Errorf("reconcile: invalid transfer value %q", entry.Value)
		}
		transfers = append(transfers, TokenTransfer{
			To:    common.HexToAddress(entry.To),
			Value: value,
		})
	}
	return transfers, nil
}
