package paymasterd

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"paymaster/chain"
	"paymaster/engine"
	"paymaster/reconcile"
	"paymaster/safe"
)

var (
	testSafe  = common.HexToAddress("0x99F4176EE457afedFfCB1839c7aB7A030a5e4A92")
	testToken = common.HexToAddress("0xC011a73ee8576Fb46F5E1c5751cA3B9Fe0af2a6F")
	testAlice = common.HexToAddress("0x6262998Ced04146fA42253a5C0AF90CA02dfd2A3")
)

type stubCaller struct{ balance *big.Int }

func (s stubCaller) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return common.LeftPadBytes(s.balance.Bytes(), 32), nil
}

type stubQueue struct {
	proposals []safe.Proposal
}

func (s *stubQueue) SafeInfo(context.Context, common.Address) (safe.Info, error) {
	return safe.Info{Nonce: 1}, nil
}

func (s *stubQueue) PendingTransactions(context.Context, common.Address) ([]safe.PendingTransaction, error) {
	pending := make([]safe.PendingTransaction, 0, len(s.proposals))
	for _, p := range s.proposals {
		pending = append(pending, safe.PendingTransaction{To: p.To, Data: p.Data, Nonce: p.Nonce})
	}
	return pending, nil
}

func (s *stubQueue) ProposeTransaction(_ context.Context, p safe.Proposal) error {
	s.proposals = append(s.proposals, p)
	return nil
}

type stubSigner struct{}

func (stubSigner) Address() common.Address { return common.Address{0xAA} }
func (stubSigner) SignHash(hash common.Hash) ([]byte, error) {
	sig := make([]byte, 65)
	copy(sig, hash.Bytes())
	sig[64] = 27
	return sig, nil
}

type stubHistory struct{}

func (stubHistory) TokenTransfers(context.Context, common.Address, common.Address) ([]reconcile.TokenTransfer, error) {
	return nil, nil
}

func newTestServer(t *testing.T, queue *stubQueue) *Server {
	t.Helper()
	balance, ok := new(big.Int).SetString("1000000000000000000000000", 10)
	require.True(t, ok)
	eng, err := engine.New(engine.Config{
		Readers:  map[string]*chain.Reader{"mainnet": chain.NewReader(stubCaller{balance: balance})},
		Service:  queue,
		Signer:   stubSigner{},
		History:  stubHistory{},
		Location: time.UTC,
	})
	require.NoError(t, err)

	auth, err := NewAuthenticator("secret")
	require.NoError(t, err)

	flows := Flows{
		Manual: &ManualDefaults{
			Tokens: []common.Address{testToken},
			Chain:  "mainnet",
			Safe:   testSafe,
		},
	}
	return NewServer(eng, flows, auth, nil)
}

func doRequest(t *testing.T, server *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func TestHealthzIsPublic(t *testing.T) {
	server := newTestServer(t, &stubQueue{})
	rec := doRequest(t, server, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	server := newTestServer(t, &stubQueue{})

	rec := doRequest(t, server, http.MethodGet, "/status", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/status", "wrong", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/status", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnconfiguredFlowReturnsNotFound(t *testing.T) {
	server := newTestServer(t, &stubQueue{})
	rec := doRequest(t, server, http.MethodPost, "/runs/partners", "secret", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualRunLifecycle(t *testing.T) {
	queue := &stubQueue{}
	server := newTestServer(t, queue)

	body, err := json.Marshal(manualRequest{Text: testAlice.Hex() + ",250"})
	require.NoError(t, err)
	rec := doRequest(t, server, http.MethodPost, "/runs/manual", "secret", string(body))
	require.Equal(t, http.StatusCreated, rec.Code)

	var run runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	require.NotEmpty(t, run.ID)
	require.Len(t, run.Records, 1)
	require.Equal(t, testAlice.Hex(), run.Records[0].Address)

	rec = doRequest(t, server, http.MethodGet, "/runs/"+run.ID, "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/runs/"+run.ID+"/submit", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var submitted submitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Equal(t, 1, submitted.Queued)
	require.Len(t, queue.proposals, 1)

	// Resubmitting queues nothing; the identical call is already pending.
	rec = doRequest(t, server, http.MethodPost, "/runs/"+run.ID+"/submit", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))
	require.Zero(t, submitted.Queued)
	require.Equal(t, 1, submitted.Skipped)

	rec = doRequest(t, server, http.MethodGet, "/runs/"+run.ID+"/status", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPauseBlocksSubmission(t *testing.T) {
	server := newTestServer(t, &stubQueue{})

	body, err := json.Marshal(manualRequest{Text: testAlice.Hex() + ",250"})
	require.NoError(t, err)
	rec := doRequest(t, server, http.MethodPost, "/runs/manual", "secret", string(body))
	require.Equal(t, http.StatusCreated, rec.Code)
	var run runResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = doRequest(t, server, http.MethodPost, "/pause", "secret", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/runs/"+run.ID+"/submit", "secret", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/resume", "secret", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/status", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status serviceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.False(t, status.Paused)
	require.Equal(t, 1, status.Runs)
}

func TestUnknownRunReturnsNotFound(t *testing.T) {
	server := newTestServer(t, &stubQueue{})
	rec := doRequest(t, server, http.MethodPost, "/runs/nope/submit", "secret", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
