// Package safe submits payout batches to a multisig transaction queue
// service and answers questions about its pending queue. The queue itself is
// an external black box: this package proposes transfer calls, relies on the
// service's identical-call deduplication, and decodes enough of the pending
// entries to compare recipient sets.
package safe

import (
	"bytes"
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSubmissionFailed wraps relay or signer errors during submission. Calls
// proposed before the failure stay queued; the relay is append-only and no
// local rollback exists.
var ErrSubmissionFailed = errors.New("safe: submission failed")

// Transfer is the atomic unit proposed to the queue: a call against a token
// contract carrying transfer calldata.
type Transfer struct {
	To   common.Address
	Data []byte
}

// Equal reports byte-identity of destination and payload, the relay's own
// notion of a duplicate call.
func (t Transfer) Equal(other Transfer) bool {
	return t.To == other.To && bytes.Equal(t.Data, other.Data)
}

// Signer authorizes proposals on behalf of a multisig owner.
type Signer interface {
	Address() common.Address
	SignHash(hash common.Hash) ([]byte, error)
}

// Info is the queue service's view of a multisig account.
type Info struct {
	Nonce uint64
}

// Proposal is one transaction offered to the queue service.
type Proposal struct {
	Safe      common.Address
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation uint8
	Nonce     uint64
	TxHash    common.Hash
	Sender    common.Address
	Signature []byte
}

// Call is a decoded sub-call nested inside a pending batched transaction.
type Call struct {
	To   common.Address
	Data []byte
}

// Recipient extracts the transfer destination from the call's payload, or
// the zero address when the payload is not a token transfer.
func (c Call) Recipient() common.Address {
	return transferRecipient(c.Data)
}

// PendingTransaction is an entry awaiting execution in the queue.
type PendingTransaction struct {
	TxHash string
	To     common.Address
	Data   []byte
	Nonce  uint64
	Calls  []Call
}

// Recipients returns the transfer destinations of the entry's nested batch
// calls, or of the entry itself when it is a plain transfer. Non-transfer
// payloads contribute nothing.
func (p PendingTransaction) Recipients() []common.Address {
	var recipients []common.Address
	if len(p.Calls) > 0 {
		for _, call := range p.Calls {
			if r := call.Recipient(); r != (common.Address{}) {
				recipients = append(recipients, r)
			}
		}
		return recipients
	}
	if r := transferRecipient(p.Data); r != (common.Address{}) {
		recipients = append(recipients, r)
	}
	return recipients
}

// Contains reports whether the pending entry carries a call identical to t,
// either as the entry itself or nested in its batch.
func (p PendingTransaction) Contains(t Transfer) bool {
	if (Transfer{To: p.To, Data: p.Data}).Equal(t) {
		return true
	}
	for _, call := range p.Calls {
		if (Transfer{To: call.To, Data: call.Data}).Equal(t) {
			return true
		}
	}
	return false
}

// Service is the queue service API surface the client needs.
type Service interface {
	SafeInfo(ctx context.Context, safeAddr common.Address) (Info, error)
	PendingTransactions(ctx context.Context, safeAddr common.Address) ([]PendingTransaction, error)
	ProposeTransaction(ctx context.Context, proposal Proposal) error
}

var transferSelector = common.FromHex("0xa9059cbb")

func transferRecipient(data []byte) common.Address {
	if len(data) < 4+32 || !bytes.Equal(data[:4], transferSelector) {
		return common.Address{}
	}
	return common.BytesToAddress(data[4:36])
}

// TransactionHash computes the digest the signer authorizes for a proposal:
// a domain-separated keccak commitment over the call and its queue position.
func TransactionHash(safeAddr, to common.Address, value *big.Int, data []byte, operation uint8, nonce uint64) common.Hash {
	if value == nil {
		value = big.NewInt(0)
	}
	domain := crypto.Keccak256(safeAddr.Bytes())
	payload := crypto.Keccak256(
		common.LeftPadBytes(to.Bytes(), 32),
		common.LeftPadBytes(value.Bytes(), 32),
		crypto.Keccak256(data),
		[]byte{operation},
		common.LeftPadBytes(new(big.Int).SetUint64(nonce).Bytes(), 32),
	)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domain, payload)
}
