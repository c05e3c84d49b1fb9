package wire

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

// ErrDecryptionFailed is returned when box authentication fails.
var ErrDecryptionFailed = errors.New("wire: could not decrypt or authenticate message")

// GenerateKeyPair creates a fresh NaCl curve25519 key pair, used for a
// session's ephemeral server key and for permanent server keys.
func GenerateKeyPair() (PublicKey, SecretKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, SecretKey{}, err
	}
	return PublicKey(*pub), SecretKey(*priv), nil
}

// Box is an authenticated public-key encryption context bound to a
// (my secret, their public) pair. It models the sum type described by the
// spec's design notes (Preauth vs Authenticated) as a value that is only
// ever constructed once both keys are known; until then, callers hold a
// bare SecretKey and send/receive unencrypted handshake steps directly.
type Box struct {
	shared [KeySize]byte
}

// NewBox precomputes the shared key between mySecret and theirPublic.
func NewBox(mySecret SecretKey, theirPublic PublicKey) *Box {
	b := &Box{}
	sk := [KeySize]byte(mySecret)
	pk := [KeySize]byte(theirPublic)
	box.Precompute(&b.shared, &pk, &sk)
	return b
}

// Seal encrypts plaintext under nonce using the precomputed shared key.
func (b *Box) Seal(plaintext []byte, nonce Nonce) []byte {
	n := [24]byte(nonce)
	return box.SealAfterPrecomputation(nil, plaintext, &n, &b.shared)
}

// Open decrypts and authenticates ciphertext under nonce.
func (b *Box) Open(ciphertext []byte, nonce Nonce) ([]byte, error) {
	n := [24]byte(nonce)
	plaintext, ok := box.OpenAfterPrecomputation(nil, ciphertext, &n, &b.shared)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
