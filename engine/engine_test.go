package engine

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"paymaster/activity"
	"paymaster/allocate"
	"paymaster/chain"
	"paymaster/payout"
	"paymaster/reconcile"
	"paymaster/registry"
	"paymaster/safe"
)

var (
	treasury = common.HexToAddress("0x99F4176EE457afedFfCB1839c7aB7A030a5e4A92")
	token    = common.HexToAddress("0xC011a73ee8576Fb46F5E1c5751cA3B9Fe0af2a6F")
	alice    = common.HexToAddress("0x6262998Ced04146fA42253a5C0AF90CA02dfd2A3")
	bob      = common.HexToAddress("0x6c8c7b0aC52A73F1a132c54cE495fC48a913502c")
)

var (
	selTotalSupply = common.FromHex("0x18160ddd")
	selOwnerOf     = common.FromHex("0x6352211e")
	selBalanceOf   = common.FromHex("0x70a08231")
)

// fakeChain answers the contract reads the engine issues: treasury balance
// for preflight and supply/owner reads for seat enumeration.
type fakeChain struct {
	balance *big.Int
	supply  uint64
	owners  map[uint64]common.Address
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	switch {
	case bytes.HasPrefix(msg.Data, selBalanceOf):
		return common.LeftPadBytes(f.balance.Bytes(), 32), nil
	case bytes.HasPrefix(msg.Data, selTotalSupply):
		return common.LeftPadBytes(new(big.Int).SetUint64(f.supply).Bytes(), 32), nil
	case bytes.HasPrefix(msg.Data, selOwnerOf):
		index := new(big.Int).SetBytes(msg.Data[4:]).Uint64()
		owner, ok := f.owners[index]
		if !ok {
			return nil, errors.New("execution reverted")
		}
		return common.LeftPadBytes(owner.Bytes(), 32), nil
	}
	return nil, errors.New("unexpected call")
}

type fakeIndex struct {
	blocks map[int64]uint64
}

func (f *fakeIndex) BlockAtOrAfter(_ context.Context, ts time.Time) (uint64, error) {
	block, ok := f.blocks[ts.Unix()]
	if !ok {
		return 0, chain.ErrNoBlock
	}
	return block, nil
}

type fakeActivity struct {
	counters map[string]map[uint64]float64
}

func (f *fakeActivity) Cumulative(_ context.Context, id string, block uint64) (float64, bool, error) {
	value, ok := f.counters[id][block]
	return value, ok, nil
}

// fakeQueue reflects its own recorded proposals back as pending entries, the
// behaviour the dedupe check depends on.
type fakeQueue struct {
	nonce     uint64
	proposals []safe.Proposal
	extra     []safe.PendingTransaction
}

func (f *fakeQueue) SafeInfo(context.Context, common.Address) (safe.Info, error) {
	return safe.Info{Nonce: f.nonce}, nil
}

func (f *fakeQueue) PendingTransactions(context.Context, common.Address) ([]safe.PendingTransaction, error) {
	pending := append([]safe.PendingTransaction(nil), f.extra...)
	for _, p := range f.proposals {
		pending = append(pending, safe.PendingTransaction{
			To:    p.To,
			Data:  p.Data,
			Nonce: p.Nonce,
		})
	}
	return pending, nil
}

func (f *fakeQueue) ProposeTransaction(_ context.Context, p safe.Proposal) error {
	f.proposals = append(f.proposals, p)
	return nil
}

type fakeSigner struct{}

func (fakeSigner) Address() common.Address { return common.Address{0xAA} }
func (fakeSigner) SignHash(hash common.Hash) ([]byte, error) {
	sig := make([]byte, 65)
	copy(sig, hash.Bytes())
	sig[64] = 27
	return sig, nil
}

type fakeHistory struct {
	transfers []reconcile.TokenTransfer
}

func (f *fakeHistory) TokenTransfers(context.Context, common.Address, common.Address) ([]reconcile.TokenTransfer, error) {
	return f.transfers, nil
}

type fixedPrice float64

func (p fixedPrice) Price(context.Context) (float64, error) { return float64(p), nil }

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2021, time.June, 15, 10, 0, 0, 0, time.UTC)
	}
}

func mayBlocks() *fakeIndex {
	start := time.Date(2021, time.May, 1, 0, 0, 0, 0, time.UTC).Unix()
	end := time.Date(2021, time.June, 1, 0, 0, 0, 0, time.UTC).Unix()
	return &fakeIndex{blocks: map[int64]uint64{start: 100, end: 200}}
}

func newTestEngine(t *testing.T, chainState *fakeChain, queue *fakeQueue, history *fakeHistory, price PriceSource) *Engine {
	t.Helper()
	eng, err := New(Config{
		Indexes:  map[string]chain.BlockIndex{"mainnet": mayBlocks()},
		Readers:  map[string]*chain.Reader{"mainnet": chain.NewReader(chainState)},
		Service:  queue,
		Signer:   fakeSigner{},
		History:  history,
		Price:    price,
		Location: time.UTC,
		Now:      fixedClock(),
	})
	require.NoError(t, err)
	return eng
}

func partnerSpec() PartnerSpec {
	return PartnerSpec{
		Partners: []registry.Partner{
			{ID: "CURVE", Address: alice},
			{ID: "DHEDGE", Address: bob},
		},
		Sources: []activity.ChainSource{{
			Chain: "mainnet",
			Source: &fakeActivity{counters: map[string]map[uint64]float64{
				"CURVE":  {100: 1000, 200: 4000},
				"DHEDGE": {100: 500, 200: 1500},
			}},
		}},
		Budget: 40000,
		Token:  token,
		Chain:  "mainnet",
		Safe:   treasury,
	}
}

func TestComputePartnersBuildsRun(t *testing.T) {
	eng := newTestEngine(t, &fakeChain{balance: big.NewInt(0)}, &fakeQueue{}, &fakeHistory{}, nil)

	run, err := eng.ComputePartners(context.Background(), partnerSpec())
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.Equal(t, "partners", run.Kind)
	require.Equal(t, "May 2021", run.Period.Label)

	require.Len(t, run.Records, 2)
	// CURVE earned 3000 of 4000, so it leads with 75 percent of the budget.
	require.Equal(t, "CURVE", run.Records[0].ID)
	require.InDelta(t, 30000.0, run.Records[0].Amount, 1e-6)
	require.Equal(t, alice, run.Records[0].Address)
	require.InDelta(t, 10000.0, run.Records[1].Amount, 1e-6)
}

func TestSubmitIsIdempotent(t *testing.T) {
	balance, err := payout.ToWei(100000)
	require.NoError(t, err)
	queue := &fakeQueue{nonce: 7}
	eng := newTestEngine(t, &fakeChain{balance: balance}, queue, &fakeHistory{}, nil)

	run, err := eng.ComputePartners(context.Background(), partnerSpec())
	require.NoError(t, err)

	first, err := eng.Submit(context.Background(), run)
	require.NoError(t, err)
	require.Len(t, first.Queued, 2)
	require.Len(t, queue.proposals, 2)
	require.Equal(t, uint64(7), queue.proposals[0].Nonce)

	second, err := eng.Submit(context.Background(), run)
	require.NoError(t, err)
	require.Empty(t, second.Queued)
	require.Len(t, second.Skipped, 2)
	require.Len(t, queue.proposals, 2)
}

func TestSubmitFailsPreflight(t *testing.T) {
	balance, err := payout.ToWei(100)
	require.NoError(t, err)
	queue := &fakeQueue{}
	eng := newTestEngine(t, &fakeChain{balance: balance}, queue, &fakeHistory{}, nil)

	run, err := eng.ComputePartners(context.Background(), partnerSpec())
	require.NoError(t, err)

	_, err = eng.Submit(context.Background(), run)
	require.ErrorIs(t, err, payout.ErrInsufficientFunds)
	require.Empty(t, queue.proposals)
}

func TestSubmitRespectsPause(t *testing.T) {
	eng := newTestEngine(t, &fakeChain{balance: big.NewInt(0)}, &fakeQueue{}, &fakeHistory{}, nil)
	run, err := eng.ComputePartners(context.Background(), partnerSpec())
	require.NoError(t, err)

	eng.Pause()
	require.True(t, eng.Paused())
	_, err = eng.Submit(context.Background(), run)
	require.ErrorIs(t, err, ErrPaused)

	eng.Resume()
	require.False(t, eng.Paused())
}

func TestComputeTieredUsesPriceAndTable(t *testing.T) {
	spec := TieredSpec{
		Partners: []registry.Partner{{ID: "KWENTA", Address: alice}},
		Sources: []activity.ChainSource{{
			Chain: "mainnet",
			Source: &fakeActivity{counters: map[string]map[uint64]float64{
				"KWENTA": {100: 0, 200: 500_000},
			}},
		}},
		Tiers: allocate.TierTable{
			{UpTo: 1_000_000, Rate: 0.1},
			{UpTo: 0, Rate: 0.5},
		},
		Token: token,
		Chain: "mainnet",
		Safe:  treasury,
	}
	eng := newTestEngine(t, &fakeChain{balance: big.NewInt(0)}, &fakeQueue{}, &fakeHistory{}, fixedPrice(2))

	run, err := eng.ComputeTiered(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, "tiered", run.Kind)
	require.Len(t, run.Records, 1)
	// 500000 at the 10 percent band, converted at price 2.
	require.InDelta(t, 25000.0, run.Records[0].Amount, 1e-6)
}

func TestComputeTieredRequiresPriceSource(t *testing.T) {
	eng := newTestEngine(t, &fakeChain{balance: big.NewInt(0)}, &fakeQueue{}, &fakeHistory{}, nil)
	_, err := eng.ComputeTiered(context.Background(), TieredSpec{Chain: "mainnet"})
	require.Error(t, err)
}

func TestComputeSeatsEnumeratesHolders(t *testing.T) {
	chainState := &fakeChain{
		balance: big.NewInt(0),
		supply:  2,
		owners:  map[uint64]common.Address{1: alice, 2: bob},
	}
	eng := newTestEngine(t, chainState, &fakeQueue{}, &fakeHistory{}, nil)

	run, err := eng.ComputeSeats(context.Background(), SeatSpec{
		Councils: []registry.Council{{
			Name:    "Spartan Council",
			NFT:     common.Address{0xCC},
			Stipend: 2000,
		}},
		MaxSeats: 30,
		Token:    token,
		Chain:    "mainnet",
		Safe:     treasury,
	})
	require.NoError(t, err)
	require.Equal(t, "seats", run.Kind)
	require.Len(t, run.Records, 2)
	require.Equal(t, alice, run.Records[0].Address)
	require.Equal(t, bob, run.Records[1].Address)
	for _, record := range run.Records {
		require.InDelta(t, 2000.0, record.Amount, 1e-9)
		require.Equal(t, token, record.Token)
	}
}

func TestComputeManualParsesLines(t *testing.T) {
	eng := newTestEngine(t, &fakeChain{balance: big.NewInt(0)}, &fakeQueue{}, &fakeHistory{}, nil)

	run, err := eng.ComputeManual(context.Background(), ManualSpec{
		Text:   alice.Hex() + ",100\n" + bob.Hex() + ",0",
		Tokens: []common.Address{token},
		Chain:  "mainnet",
		Safe:   treasury,
	})
	require.NoError(t, err)
	require.Equal(t, "manual", run.Kind)
	// Zero-amount lines produce no record.
	require.Len(t, run.Records, 1)
	require.Equal(t, alice, run.Records[0].Address)
}

func TestStatusReflectsQueueAndHistory(t *testing.T) {
	run := &Run{
		ID:   "run-1",
		Safe: treasury,
		Records: []payout.Record{
			{ID: "CURVE", Address: alice, Amount: 100, Token: token},
		},
	}

	transferData := append(common.FromHex("0xa9059cbb"), common.LeftPadBytes(alice.Bytes(), 32)...)
	transferData = append(transferData, make([]byte, 32)...)
	queue := &fakeQueue{extra: []safe.PendingTransaction{{
		Calls: []safe.Call{{To: token, Data: transferData}},
	}}}
	eng := newTestEngine(t, &fakeChain{balance: big.NewInt(0)}, queue, &fakeHistory{}, nil)

	result, err := eng.Status(context.Background(), run)
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusQueued, result.Status)

	wei, err := payout.ToWei(100)
	require.NoError(t, err)
	eng = newTestEngine(t, &fakeChain{balance: big.NewInt(0)}, &fakeQueue{}, &fakeHistory{
		transfers: []reconcile.TokenTransfer{{To: alice, Value: wei}},
	}, nil)

	result, err = eng.Status(context.Background(), run)
	require.NoError(t, err)
	require.Equal(t, reconcile.StatusExecuted, result.Status)
}
