package encoding

import (
	"golang.org/x/crypto/sha3"
)

// NewSHA3Hasher returns a Keccak-family digest (SHA3-256) as an alternate
// Hasher for WithHasher/WithVerifyHasher, for deployments that want to
// exercise a non-default digest algorithm. The package's mandatory default
// remains SHA-256 (spec §6.1); this is opt-in only.
func NewSHA3Hasher() Hasher {
	return sha3.New256()
}
