package encoding

import (
	"crypto/ed25519"
	"fmt"
)

// Ed25519Signer signs package digests with a held private key. The spec
// pins Ed25519 as the package signature algorithm (64-byte signature over
// the digest), so this wraps the standard library directly rather than an
// external crypto provider.
type Ed25519Signer struct {
	Key ed25519.PrivateKey
}

func (s Ed25519Signer) Sign(digest []byte) ([]byte, error) {
	if len(s.Key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("encoding: invalid ed25519 private key size %d", len(s.Key))
	}
	return ed25519.Sign(s.Key, digest), nil
}

// Ed25519Verifier checks package signatures against a held public key.
type Ed25519Verifier struct {
	Key ed25519.PublicKey
}

func (v Ed25519Verifier) Verify(digest, signature []byte) bool {
	if len(v.Key) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(v.Key, digest, signature)
}

func (v Ed25519Verifier) SignatureSize() int { return ed25519.SignatureSize }
