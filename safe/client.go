package safe

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Client is a submission session bound to one multisig account and signer.
// Transfers are staged with Append and proposed together by Submit; the
// session consults the queue's pending set so identical calls are skipped
// rather than re-queued.
type Client struct {
	service Service
	safe    common.Address
	signer  Signer
	staged  []stagedTransfer
}

type stagedTransfer struct {
	transfer Transfer
	force    bool
}

// NewClient constructs a session against the given queue service.
func NewClient(service Service, safeAddr common.Address, signer Signer) (*Client, error) {
	if service == nil {
		return nil, fmt.Errorf("safe: queue service required")
	}
	if signer == nil {
		return nil, fmt.Errorf("safe: signer required")
	}
	if safeAddr == (common.Address{}) {
		return nil, fmt.Errorf("safe: account address required")
	}
	return &Client{service: service, safe: safeAddr, signer: signer}, nil
}

// Append stages a transfer for submission. With force false the transfer is
// skipped at submit time when an identical call is already pending.
func (c *Client) Append(t Transfer, force bool) {
	c.staged = append(c.staged, stagedTransfer{transfer: t, force: force})
}

// SubmitResult reports what Submit actually changed in the queue. Zero
// queued transfers for a non-empty batch is a valid outcome: the payout was
// already awaiting execution.
type SubmitResult struct {
	Queued  []Transfer
	Skipped []Transfer
}

// Submit proposes every staged transfer, deduplicating against the pending
// queue, and clears the stage. On a mid-batch failure the transfers proposed
// so far remain queued; the partial result is returned alongside the error.
func (c *Client) Submit(ctx context.Context) (SubmitResult, error) {
	var result SubmitResult
	staged := c.staged
	c.staged = nil
	if len(staged) == 0 {
		return result, nil
	}

	pending, err := c.service.PendingTransactions(ctx, c.safe)
	if err != nil {
		return result, fmt.Errorf("%w: list pending: %v", ErrSubmissionFailed, err)
	}
	info, err := c.service.SafeInfo(ctx, c.safe)
	if err != nil {
		return result, fmt.Errorf("%w: account info: %v", ErrSubmissionFailed, err)
	}
	nonce := info.Nonce
	for _, p := range pending {
		if p.Nonce >= nonce {
			nonce = p.Nonce + 1
		}
	}

	for _, s := range staged {
		if !s.force && pendingContains(pending, s.transfer) {
			result.Skipped = append(result.Skipped, s.transfer)
			continue
		}
		hash := TransactionHash(c.safe, s.transfer.To, nil, s.transfer.Data, 0, nonce)
		signature, err := c.signer.SignHash(hash)
		if err != nil {
			return result, fmt.Errorf("%w: sign: %v", ErrSubmissionFailed, err)
		}
		proposal := Proposal{
			Safe:      c.safe,
			To:        s.transfer.To,
			Value:     big.NewInt(0),
			Data:      s.transfer.Data,
			Operation: 0,
			Nonce:     nonce,
			TxHash:    hash,
			Sender:    c.signer.Address(),
			Signature: signature,
		}
		if err := c.service.ProposeTransaction(ctx, proposal); err != nil {
			return result, fmt.Errorf("%w: propose nonce %d: %v", ErrSubmissionFailed, nonce, err)
		}
		result.Queued = append(result.Queued, s.transfer)
		nonce++
	}
	return result, nil
}

func pendingContains(pending []PendingTransaction, t Transfer) bool {
	for _, p := range pending {
		if p.Contains(t) {
			return true
		}
	}
	return false
}
