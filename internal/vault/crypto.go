package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for deriving the key-encryption key.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	keyLen       = 32 // AES-256
	saltLen      = 16
	nonceLen     = 12
)

// checkPlaintext is sealed with the KEK so a later unseal can tell a wrong
// passphrase from a right one.
var checkPlaintext = []byte("relayscan-vault-v1")

var errShortCiphertext = errors.New("ciphertext too short")

// DeriveKEK stretches a passphrase into an AES-256 key with Argon2id.
func DeriveKEK(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
}

// randomBytes returns n bytes from crypto/rand.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// NewSalt returns a random salt for DeriveKEK.
func NewSalt() ([]byte, error) { return randomBytes(saltLen) }

// NewDataKey returns a random per-secret data key.
func NewDataKey() ([]byte, error) { return randomBytes(keyLen) }

// sealBytes encrypts plaintext with AES-256-GCM, binding it to aad. The
// output is nonce || ciphertext || tag.
func sealBytes(key, plaintext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce, err := randomBytes(nonceLen)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

// openBytes reverses sealBytes. It fails when the key or aad differ.
func openBytes(key, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < nonceLen {
		return nil, errShortCiphertext
	}
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, sealed[:nonceLen], sealed[nonceLen:], aad)
	if err != nil {
		return nil, fmt.Errorf("open sealed data: %w", err)
	}
	return plain, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// newCheckBlob seals checkPlaintext under kek.
func newCheckBlob(kek []byte) ([]byte, error) {
	return sealBytes(kek, checkPlaintext, nil)
}

// kekMatches reports whether kek opens a blob made by newCheckBlob.
func kekMatches(kek, blob []byte) bool {
	plain, err := openBytes(kek, blob, nil)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(plain, checkPlaintext) == 1
}

// wipe zeroes b in place.
func wipe(b []byte) {
	clear(b)
}
