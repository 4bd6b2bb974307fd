package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// BlockTag identifies the block a contract read executes against. The zero
// value means the chain's latest block; historical reads carry an explicit
// block number.
type BlockTag uint64

// Latest is the conventional tag for live reads where historical precision is
// not required, such as current seat membership or treasury balance lookups.
const Latest BlockTag = 0

func (t BlockTag) blockNumber() *big.Int {
	if t == 0 {
		return nil
	}
	return new(big.Int).SetUint64(uint64(t))
}

// Caller is the subset of the Ethereum RPC client used for contract reads.
// *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Function selectors for the token read calls the engine issues. Encoded by
// hand; the call surface is small enough that a generated binding would be
// heavier than the calls themselves.
var (
	selectorBalanceOf   = common.FromHex("0x70a08231") // balanceOf(address)
	selectorOwnerOf     = common.FromHex("0x6352211e") // ownerOf(uint256)
	selectorName        = common.FromHex("0x06fdde03") // name()
	selectorSymbol      = common.FromHex("0x95d89b41") // symbol()
	selectorTotalSupply = common.FromHex("0x18160ddd") // totalSupply()
)

// Reader issues token contract reads against a single chain.
type Reader struct {
	caller Caller
}

// NewReader constructs a Reader over the provided RPC caller.
func NewReader(caller Caller) *Reader {
	return &Reader{caller: caller}
}

func (r *Reader) call(ctx context.Context, contract common.Address, data []byte, tag BlockTag) ([]byte, error) {
	if r == nil || r.caller == nil {
		return nil, fmt.Errorf("chain: reader not configured")
	}
	msg := ethereum.CallMsg{To: &contract, Data: data}
	return r.caller.CallContract(ctx, msg, tag.blockNumber())
}

// BalanceOf returns the token balance of account at the given block tag.
func (r *Reader) BalanceOf(ctx context.Context, token, account common.Address, tag BlockTag) (*big.Int, error) {
	data := append(append([]byte{}, selectorBalanceOf...), common.LeftPadBytes(account.Bytes(), 32)...)
	out, err := r.call(ctx, token, data, tag)
	if err != nil {
		return nil, fmt.Errorf("chain: balanceOf %s: %w", token.Hex(), err)
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out), nil
}

// OwnerOf returns the owner of the sequentially-indexed token. Contracts
// revert for indexes past the end of supply; callers treat that error as the
// end of the scan rather than a failure.
func (r *Reader) OwnerOf(ctx context.Context, nft common.Address, index uint64, tag BlockTag) (common.Address, error) {
	arg := common.LeftPadBytes(new(big.Int).SetUint64(index).Bytes(), 32)
	data := append(append([]byte{}, selectorOwnerOf...), arg...)
	out, err := r.call(ctx, nft, data, tag)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: ownerOf %d: %w", index, err)
	}
	if len(out) < 32 {
		return common.Address{}, nil
	}
	return common.BytesToAddress(out[len(out)-32:]), nil
}

// TotalSupply returns the token's reported supply at the given block tag.
func (r *Reader) TotalSupply(ctx context.Context, token common.Address, tag BlockTag) (*big.Int, error) {
	out, err := r.call(ctx, token, append([]byte{}, selectorTotalSupply...), tag)
	if err != nil {
		return nil, fmt.Errorf("chain: totalSupply %s: %w", token.Hex(), err)
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out), nil
}

// Name returns the token's name.
func (r *Reader) Name(ctx context.Context, token common.Address, tag BlockTag) (string, error) {
	out, err := r.call(ctx, token, append([]byte{}, selectorName...), tag)
	if err != nil {
		return "", fmt.Errorf("chain: name %s: %w", token.Hex(), err)
	}
	return decodeString(out), nil
}

// Symbol returns the token's symbol.
func (r *Reader) Symbol(ctx context.Context, token common.Address, tag BlockTag) (string, error) {
	out, err := r.call(ctx, token, append([]byte{}, selectorSymbol...), tag)
	if err != nil {
		return "", fmt.Errorf("chain: symbol %s: %w", token.Hex(), err)
	}
	return decodeString(out), nil
}

// decodeString handles both ABI encodings in the wild: a dynamic string
// (offset, length, bytes) and the legacy bytes32 right-padded form.
func decodeString(out []byte) string {
	if len(out) == 0 {
		return ""
	}
	if len(out) >= 64 {
		length := new(big.Int).SetBytes(out[32:64]).Int64()
		if length > 0 && 64+int(length) <= len(out) {
			return string(out[64 : 64+int(length)])
		}
	}
	return strings.TrimRight(string(out), "\x00")
}

// NFT binds a Reader to one ownership contract so seat enumeration can walk
// it without carrying the contract address and block tag through every call.
type NFT struct {
	reader  *Reader
	address common.Address
	tag     BlockTag
}

// NewNFT constructs an NFT view over the given contract. A zero tag reads
// live membership from the latest block.
func NewNFT(reader *Reader, address common.Address, tag BlockTag) *NFT {
	return &NFT{reader: reader, address: address, tag: tag}
}

// TotalSupply reports the contract's authoritative seat count.
func (n *NFT) TotalSupply(ctx context.Context) (uint64, error) {
	supply, err := n.reader.TotalSupply(ctx, n.address, n.tag)
	if err != nil {
		return 0, err
	}
	if !supply.IsUint64() {
		return 0, fmt.Errorf("chain: total supply out of range")
	}
	return supply.Uint64(), nil
}

// OwnerOf reports the owner of the given seat index.
func (n *NFT) OwnerOf(ctx context.Context, index uint64) (common.Address, error) {
	return n.reader.OwnerOf(ctx, n.address, index, n.tag)
}

// Address returns the underlying contract address.
func (n *NFT) Address() common.Address {
	return n.address
}
