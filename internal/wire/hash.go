package wire

import (
	"crypto/sha256"
	"crypto/subtle"
)

// HashWire computes the SHA-256 digest used to identify a failed relay
// attempt in a send-error message (spec's crypto_hash_sha256 primitive).
func HashWire(wireBytes []byte) [32]byte {
	return sha256.Sum256(wireBytes)
}

// CookiesEqual compares two cookies in constant time, as required for the
// handshake's server_cookie validation.
func CookiesEqual(a, b Cookie) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}
