package safe

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var testSafe = common.HexToAddress("0x99F4176EE457afedFfCB1839c7aB7A030a5e4A92")

type fakeService struct {
	nonce       uint64
	pending     []PendingTransaction
	proposals   []Proposal
	proposeErr  error
	failAfter   int
	pendingErr  error
	infoErr     error
	proposeSeen int
}

func (f *fakeService) SafeInfo(context.Context, common.Address) (Info, error) {
	if f.infoErr != nil {
		return Info{}, f.infoErr
	}
	return Info{Nonce: f.nonce}, nil
}

func (f *fakeService) PendingTransactions(context.Context, common.Address) ([]PendingTransaction, error) {
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	return f.pending, nil
}

func (f *fakeService) ProposeTransaction(_ context.Context, p Proposal) error {
	f.proposeSeen++
	if f.proposeErr != nil && f.proposeSeen > f.failAfter {
		return f.proposeErr
	}
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

func transfer(token byte, payload ...byte) Transfer {
	data := append(append([]byte{}, transferSelector...), payload...)
	return Transfer{To: common.Address{token}, Data: data}
}

func TestSubmitQueuesStagedTransfers(t *testing.T) {
	service := &fakeService{nonce: 5}
	client, err := NewClient(service, testSafe, fakeSigner{})
	require.NoError(t, err)

	first := transfer(1, make([]byte, 64)...)
	second := transfer(2, make([]byte, 64)...)
	client.Append(first, false)
	client.Append(second, false)

	result, err := client.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Queued, 2)
	require.Empty(t, result.Skipped)

	require.Len(t, service.proposals, 2)
	require.Equal(t, uint64(5), service.proposals[0].Nonce)
	require.Equal(t, uint64(6), service.proposals[1].Nonce)
	require.Equal(t, TransactionHash(testSafe, first.To, nil, first.Data, 0, 5), service.proposals[0].TxHash)
}

func TestSubmitSkipsTransfersAlreadyPending(t *testing.T) {
	duplicate := transfer(1, make([]byte, 64)...)
	fresh := transfer(2, make([]byte, 64)...)
	service := &fakeService{
		nonce: 3,
		pending: []PendingTransaction{{
			To:    duplicate.To,
			Data:  duplicate.Data,
			Nonce: 3,
		}},
	}
	client, err := NewClient(service, testSafe, fakeSigner{})
	require.NoError(t, err)
	client.Append(duplicate, false)
	client.Append(fresh, false)

	result, err := client.Submit(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Transfer{fresh}, result.Queued)
	require.Equal(t, []Transfer{duplicate}, result.Skipped)
	// Fresh proposal lands above the highest pending nonce.
	require.Equal(t, uint64(4), service.proposals[0].Nonce)
}

func TestSubmitEntireBatchPendingIsSuccess(t *testing.T) {
	duplicate := transfer(1, make([]byte, 64)...)
	service := &fakeService{
		pending: []PendingTransaction{{To: duplicate.To, Data: duplicate.Data}},
	}
	client, err := NewClient(service, testSafe, fakeSigner{})
	require.NoError(t, err)
	client.Append(duplicate, false)

	result, err := client.Submit(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Queued)
	require.Len(t, result.Skipped, 1)
}

func TestSubmitForceBypassesDeduplication(t *testing.T) {
	duplicate := transfer(1, make([]byte, 64)...)
	service := &fakeService{
		pending: []PendingTransaction{{To: duplicate.To, Data: duplicate.Data}},
	}
	client, err := NewClient(service, testSafe, fakeSigner{})
	require.NoError(t, err)
	client.Append(duplicate, true)

	result, err := client.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Queued, 1)
}

func TestSubmitMatchesNestedBatchCalls(t *testing.T) {
	duplicate := transfer(1, make([]byte, 64)...)
	service := &fakeService{
		pending: []PendingTransaction{{
			To:    common.Address{0xEE}, // multisend wrapper
			Calls: []Call{{To: duplicate.To, Data: duplicate.Data}},
		}},
	}
	client, err := NewClient(service, testSafe, fakeSigner{})
	require.NoError(t, err)
	client.Append(duplicate, false)

	result, err := client.Submit(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Queued)
}

func TestSubmitPartialFailureReturnsProgress(t *testing.T) {
	service := &fakeService{proposeErr: errors.New("service unavailable"), failAfter: 1}
	client, err := NewClient(service, testSafe, fakeSigner{})
	require.NoError(t, err)
	client.Append(transfer(1, make([]byte, 64)...), false)
	client.Append(transfer(2, make([]byte, 64)...), false)

	result, err := client.Submit(context.Background())
	require.ErrorIs(t, err, ErrSubmissionFailed)
	require.Len(t, result.Queued, 1)
}

func TestSubmitPendingLookupFailure(t *testing.T) {
	service := &fakeService{pendingErr: errors.New("service unavailable")}
	client, err := NewClient(service, testSafe, fakeSigner{})
	require.NoError(t, err)
	client.Append(transfer(1, make([]byte, 64)...), false)

	_, err = client.Submit(context.Background())
	require.ErrorIs(t, err, ErrSubmissionFailed)
	require.Empty(t, service.proposals)
}

func TestSubmitEmptyStageIsNoop(t *testing.T) {
	service := &fakeService{}
	client, err := NewClient(service, testSafe, fakeSigner{})
	require.NoError(t, err)

	result, err := client.Submit(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Queued)
	require.Zero(t, service.proposeSeen)
}
