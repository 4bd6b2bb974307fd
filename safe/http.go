package safe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HTTPService implements Service against a multisig transaction-service HTTP
// API.
type HTTPService struct {
	baseURL string
	http    *http.Client
}

// NewHTTPService constructs a queue service client with sane defaults.
func NewHTTPService(baseURL string) *HTTPService {
	return &HTTPService{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type safeInfoResponse struct {
	Nonce json.Number `json:"nonce"`
}

// SafeInfo fetches the account's current nonce.
func (s *HTTPService) SafeInfo(ctx context.Context, safeAddr common.Address) (Info, error) {
	var decoded safeInfoResponse
	path := fmt.Sprintf("/api/v1/safes/%s/", safeAddr.Hex())
	if err := s.get(ctx, path, &decoded); err != nil {
		return Info{}, err
	}
	nonce, err := decoded.Nonce.Int64()
	if err != nil || nonce < 0 {
		return Info{}, fmt.Errorf("safe: invalid nonce %q", decoded.Nonce)
	}
	return Info{Nonce: uint64(nonce)}, nil
}

type decodedParameter struct {
	Name         string          `json:"name"`
	Value        json.RawMessage `json:"value"`
	ValueDecoded []nestedCall    `json:"valueDecoded"`
}

type decodedData struct {
	Method     string             `json:"method"`
	Parameters []decodedParameter `json:"parameters"`
}

type nestedCall struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

type pendingEntry struct {
	SafeTxHash  string       `json:"safeTxHash"`
	To          string       `json:"to"`
	Data        string       `json:"data"`
	Nonce       json.Number  `json:"nonce"`
	DataDecoded *decodedData `json:"dataDecoded"`
}

type pendingResponse struct {
	Results []pendingEntry `json:"results"`
}

// PendingTransactions lists the account's queued, not-yet-executed entries
// with their nested batch calls decoded.
func (s *HTTPService) PendingTransactions(ctx context.Context, safeAddr common.Address) ([]PendingTransaction, error) {
	var decoded pendingResponse
	path := fmt.Sprintf("/api/v1/safes/%s/multisig-transactions/?executed=false", safeAddr.Hex())
	if err := s.get(ctx, path, &decoded); err != nil {
		return nil, err
	}
	pending := make([]PendingTransaction, 0, len(decoded.Results))
	for _, entry := range decoded.Results {
		nonce, err := entry.Nonce.Int64()
		if err != nil || nonce < 0 {
			return nil, fmt.Errorf("safe: invalid pending nonce %q", entry.Nonce)
		}
		tx := PendingTransaction{
			TxHash: entry.SafeTxHash,
			To:     common.HexToAddress(entry.To),
			Data:   common.FromHex(entry.Data),
			Nonce:  uint64(nonce),
		}
		if entry.DataDecoded != nil {
			for _, param := range entry.DataDecoded.Parameters {
				for _, call := range param.ValueDecoded {
					tx.Calls = append(tx.Calls, Call{
						To:   common.HexToAddress(call.To),
						Data: common.FromHex(call.Data),
					})
				}
			}
		}
		pending = append(pending, tx)
	}
	return pending, nil
}

type proposalBody struct {
	To                      string `json:"to"`
	Value                   string `json:"value"`
	Data                    string `json:"data"`
	Operation               uint8  `json:"operation"`
	Nonce                   uint64 `json:"nonce"`
	ContractTransactionHash string `json:"contractTransactionHash"`
	Sender                  string `json:"sender"`
	Signature               string `json:"signature"`
}

// ProposeTransaction offers a signed proposal to the queue.
func (s *HTTPService) ProposeTransaction(ctx context.Context, proposal Proposal) error {
	body := proposalBody{
		To:                      proposal.To.Hex(),
		Value:                   proposal.Value.String(),
		Data:                    hexutil.Encode(proposal.Data),
		Operation:               proposal.Operation,
		Nonce:                   proposal.Nonce,
		ContractTransactionHash: proposal.TxHash.Hex(),
		Sender:                  proposal.Sender.Hex(),
		Signature:               hexutil.Encode(proposal.Signature),
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("safe: encode proposal: %w", err)
	}
	path := fmt.Sprintf("/api/v1/safes/%s/multisig-transactions/", proposal.Safe.Hex())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("safe: build proposal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("safe: propose transaction: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("safe: queue service status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

func (s *HTTPService) get(ctx context.Context, path string, out any) error {
	if s == nil || s.baseURL == "" {
		return fmt.Errorf("safe: queue service not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("safe: build request: %w", err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("safe: query queue service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("safe: queue service status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("safe: decode queue response: %w", err)
	}
	return nil
}
