// Package crypto implements the cryptographic primitives shared by the user
// store and link emitter: X25519 keypairs, UUID v4 identifiers, short-id
// derivation, and password-derived envelope encryption for material at rest.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/meridianvpn/fleet/pkg/ferrors"
	"golang.org/x/crypto/curve25519"
)

// KeyPairEncodedLen is the length of a 32-byte X25519 key encoded as
// padded standard Base64.
const KeyPairEncodedLen = 44

// KeyPair is an X25519 keypair, transported as padded standard Base64 strings.
type KeyPair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeyPair draws a private scalar from the crypto RNG and derives the
// matching public point. It retries on the vanishingly unlikely case of a
// zero scalar.
func GenerateKeyPair() (KeyPair, error) {
	for {
		var priv [32]byte
		if _, err := rand.Read(priv[:]); err != nil {
			return KeyPair{}, fmt.Errorf("crypto: generate keypair: %w", err)
		}
		if isZero(priv[:]) {
			continue
		}
		pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
		if err != nil {
			return KeyPair{}, fmt.Errorf("crypto: derive public key: %w", err)
		}
		return KeyPair{
			PrivateKey: encodeKey(priv[:]),
			PublicKey:  encodeKey(pub),
		}, nil
	}
}

// DerivePublicKey computes the public key for an already-encoded private
// key. It is deterministic: the same input always yields the same output.
func DerivePublicKey(encodedPrivate string) (string, error) {
	priv, err := decodeKey(encodedPrivate)
	if err != nil {
		return "", err
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("crypto: derive public key: %w", err)
	}
	return encodeKey(pub), nil
}

// ValidatePrivateKey reports whether s decodes to exactly 32 bytes. Any
// 32-byte string is a mathematically valid X25519 scalar.
func ValidatePrivateKey(s string) error {
	_, err := decodeKey(s)
	return err
}

func encodeKey(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decodeKey(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Reality/VLESS tooling commonly emits unpadded keys; accept both.
		b, err = base64.RawStdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("%w: not valid base64", ferrors.ErrInvalidKeyFormat)
		}
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", ferrors.ErrInvalidKeyFormat, len(b))
	}
	return b, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
