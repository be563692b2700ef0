// Package identity turns a signed request into a verified caller address.
// The ledger only ever sees the recovered address.
package identity

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignerMismatch   = errors.New("signature does not match caller")
)

const domain = "staking-ledger/v1"

// Request is the payload a caller signs to authorize one operation.
type Request struct {
	Action string
	Pool   common.Hash
	Amount uint64
	Nonce  uint64
}

// Digest is keccak256(domain ‖ action ‖ 0x00 ‖ pool ‖ amount ‖ nonce), with
// integers big-endian.
func (r Request) Digest() common.Hash {
	var amount, nonce [8]byte
	binary.BigEndian.PutUint64(amount[:], r.Amount)
	binary.BigEndian.PutUint64(nonce[:], r.Nonce)
	return crypto.Keccak256Hash(
		[]byte(domain),
		[]byte(r.Action),
		[]byte{0},
		r.Pool.Bytes(),
		amount[:],
		nonce[:],
	)
}

// Signer holds a secp256k1 key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key, with or without 0x prefix.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *Signer) Address() common.Address {
	return s.address
}

// Sign returns a 65-byte [R || S || V] signature over req.Digest().
func (s *Signer) Sign(req Request) ([]byte, error) {
	digest := req.Digest()
	sig, err := crypto.Sign(digest.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign request: %w", err)
	}
	return sig, nil
}

// Recover returns the address that produced sig over req.
func Recover(req Request, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(sig))
	}
	digest := req.Digest()
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify recovers the signer of req and checks it against claimed.
func Verify(req Request, sig []byte, claimed common.Address) error {
	signer, err := Recover(req, sig)
	if err != nil {
		return err
	}
	if signer != claimed {
		return fmt.Errorf("%w: signed by %s, claimed %s", ErrSignerMismatch, signer.Hex(), claimed.Hex())
	}
	return nil
}

// PrivateKey returns the raw 32-byte key.
func (s *Signer) PrivateKey() []byte {
	return crypto.FromECDSA(s.key)
}
