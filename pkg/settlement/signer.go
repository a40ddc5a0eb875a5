package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/trace"
)

// ErrBadSignature is returned by Verify for any signature that does not check out.
var ErrBadSignature = errors.New("settlement: bad signature")

// Signer signs handoffs with a secp256k1 key.
type Signer struct {
	key *secp256k1.PrivateKey
}

// NewSigner parses a hex encoded 32 byte private key, with or without 0x.
func NewSigner(hexKey string) (*Signer, error) {
	hexKey = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"), "0X")

	keyBytes, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("settlement: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("settlement: private key must be 32 bytes, got %d", len(keyBytes))
	}

	key := secp256k1.PrivKeyFromBytes(keyBytes)
	if key.Key.IsZero() {
		return nil, errors.New("settlement: private key is zero")
	}
	return &Signer{key: key}, nil
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("settlement: generate key: %w", err)
	}
	return &Signer{key: key}, nil
}

// PublicKey returns the compressed public key as hex.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(s.key.PubKey().SerializeCompressed())
}

// Sign stamps h with the signer's public key and a DER signature over the
// SHA-256 of its canonical JSON without the signature field.
func (s *Signer) Sign(h *Handoff) error {
	h.PublicKey = s.PublicKey()
	digest, err := signingDigest(*h)
	if err != nil {
		return err
	}
	h.Signature = hex.EncodeToString(ecdsa.Sign(s.key, digest).Serialize())
	return nil
}

// Verify checks h against the public key it carries.
func Verify(h Handoff) error {
	if h.Signature == "" || h.PublicKey == "" {
		return fmt.Errorf("%w: handoff is unsigned", ErrBadSignature)
	}

	pubBytes, err := hex.DecodeString(h.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrBadSignature, err)
	}
	pub, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return fmt.Errorf("%w: public key: %v", ErrBadSignature, err)
	}

	sigBytes, err := hex.DecodeString(h.Signature)
	if err != nil {
		return fmt.Errorf("%w: signature: %v", ErrBadSignature, err)
	}
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("%w: signature: %v", ErrBadSignature, err)
	}

	digest, err := signingDigest(h)
	if err != nil {
		return err
	}
	if !sig.Verify(digest, pub) {
		return ErrBadSignature
	}
	return nil
}

func signingDigest(h Handoff) ([]byte, error) {
	h.Signature = ""
	payload, err := trace.Canonical(h)
	if err != nil {
		return nil, fmt.Errorf("settlement: canonical handoff: %w", err)
	}
	sum := sha256.Sum256(payload)
	return sum[:], nil
}
