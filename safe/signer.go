package safe

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeySigner signs queue proposals with a raw ECDSA key. Connection-backed
// wallet sessions satisfy Signer the same way and are supplied externally.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex-encoded private key.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("safe: signer key required")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("safe: parse signer key: %w", err)
	}
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the signing account.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignHash produces a recoverable signature over the digest with the v byte
// in the 27/28 convention the queue service expects.
func (s *KeySigner) SignHash(hash common.Hash) ([]byte, error) {
	signature, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("safe: sign hash: %w", err)
	}
	if len(signature) == 65 && signature[64] < 27 {
		signature[64] += 27
	}
	return signature, nil
}
