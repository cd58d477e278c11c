package vault

import (
	"errors"
	"sync"
)

// ErrSealed is returned when a secret is read or written while no
// passphrase has been supplied.
var ErrSealed = errors.New("vault is sealed")

// ErrWrongPassphrase is returned when the passphrase does not open the
// stored check blob.
var ErrWrongPassphrase = errors.New("wrong vault passphrase")

// KeyManager keeps the key-encryption key in memory and wraps per-secret
// data keys with it. Safe for concurrent use.
type KeyManager struct {
	mu    sync.RWMutex
	kek   []byte // nil while sealed
	salt  []byte
	check []byte
}

// NewKeyManager returns a sealed manager with no master record.
func NewKeyManager() *KeyManager {
	return &KeyManager{}
}

// Load installs a master record read from storage. It does not unseal.
func (km *KeyManager) Load(salt, check []byte) {
	km.mu.Lock()
	defer km.mu.Unlock()
	km.salt = salt
	km.check = check
}

// HasMaster reports whether a master record is installed.
func (km *KeyManager) HasMaster() bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.salt != nil
}

// IsSealed reports whether no KEK is held.
func (km *KeyManager) IsSealed() bool {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.kek == nil
}

// Setup creates a fresh master record from passphrase and unseals. The
// returned salt and check blob must be persisted by the caller.
func (km *KeyManager) Setup(passphrase string) (salt, check []byte, err error) {
	km.mu.Lock()
	defer km.mu.Unlock()
	if km.salt != nil {
		return nil, nil, errors.New("vault master record already exists")
	}
	salt, err = NewSalt()
	if err != nil {
		return nil, nil, err
	}
	kek := DeriveKEK(passphrase, salt)
	check, err = newCheckBlob(kek)
	if err != nil {
		wipe(kek)
		return nil, nil, err
	}
	km.salt, km.check, km.kek = salt, check, kek
	return salt, check, nil
}

// Unseal derives the KEK from passphrase and checks it against the master
// record. Unsealing an unsealed manager is a no-op.
func (km *KeyManager) Unseal(passphrase string) error {
	km.mu.Lock()
	defer km.mu.Unlock()
	if km.salt == nil {
		return errors.New("vault has no master record")
	}
	if km.kek != nil {
		return nil
	}
	kek := DeriveKEK(passphrase, km.salt)
	if !kekMatches(kek, km.check) {
		wipe(kek)
		return ErrWrongPassphrase
	}
	km.kek = kek
	return nil
}

// Seal drops the KEK from memory.
func (km *KeyManager) Seal() {
	km.mu.Lock()
	defer km.mu.Unlock()
	wipe(km.kek)
	km.kek = nil
}

// Encrypt seals plaintext under a new data key bound to owner. It returns
// the wrapped data key and the ciphertext.
func (km *KeyManager) Encrypt(owner string, plaintext []byte) (wrappedKey, ciphertext []byte, err error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.kek == nil {
		return nil, nil, ErrSealed
	}
	dek, err := NewDataKey()
	if err != nil {
		return nil, nil, err
	}
	defer wipe(dek)

	ciphertext, err = sealBytes(dek, plaintext, []byte(owner))
	if err != nil {
		return nil, nil, err
	}
	wrappedKey, err = sealBytes(km.kek, dek, []byte(owner))
	if err != nil {
		return nil, nil, err
	}
	return wrappedKey, ciphertext, nil
}

// Decrypt reverses Encrypt for the same owner.
func (km *KeyManager) Decrypt(owner string, wrappedKey, ciphertext []byte) ([]byte, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if km.kek == nil {
		return nil, ErrSealed
	}
	dek, err := openBytes(km.kek, wrappedKey, []byte(owner))
	if err != nil {
		return nil, err
	}
	defer wipe(dek)
	return openBytes(dek, ciphertext, []byte(owner))
}
