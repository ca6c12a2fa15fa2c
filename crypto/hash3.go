package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Hash3 returns the SHA3-256 hash of data as a lowercase hex string. This is
// the hash primitive the canonical codec and consensus messages use;
// Hash/HashBytes (SHA-256) remain for address derivation only.
func Hash3(data []byte) string {
	h := sha3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Hash3Bytes returns the raw SHA3-256 digest of data.
func Hash3Bytes(data []byte) [32]byte {
	return sha3.Sum256(data)
}
