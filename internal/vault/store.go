package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// VaultStore persists the master record and sealed secrets.
type VaultStore struct {
	db *sql.DB
}

// NewVaultStore wraps db.
func NewVaultStore(db *sql.DB) *VaultStore {
	return &VaultStore{db: db}
}

// sealedSecret is one owner's encrypted secret as stored.
type sealedSecret struct {
	WrappedKey []byte
	Ciphertext []byte
	UpdatedAt  time.Time
}

// GetMaster returns the master salt and check blob, or nil slices when no
// master record exists yet.
func (s *VaultStore) GetMaster(ctx context.Context) (salt, check []byte, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT salt, check_blob FROM vault_master WHERE id = 1`,
	).Scan(&salt, &check)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get vault master: %w", err)
	}
	return salt, check, nil
}

// InsertMaster stores the master record. There is only ever one.
func (s *VaultStore) InsertMaster(ctx context.Context, salt, check []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_master (id, salt, check_blob, created_at) VALUES (1, ?, ?, ?)`,
		salt, check, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert vault master: %w", err)
	}
	return nil
}

// PutSecret inserts or replaces the secret for owner.
func (s *VaultStore) PutSecret(ctx context.Context, owner string, wrappedKey, ciphertext []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_secrets (owner_id, wrapped_key, ciphertext, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(owner_id) DO UPDATE SET
			wrapped_key = excluded.wrapped_key,
			ciphertext  = excluded.ciphertext,
			updated_at  = excluded.updated_at`,
		owner, wrappedKey, ciphertext, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

// GetSecret returns the secret for owner, or nil when there is none.
func (s *VaultStore) GetSecret(ctx context.Context, owner string) (*sealedSecret, error) {
	var sec sealedSecret
	err := s.db.QueryRowContext(ctx,
		`SELECT wrapped_key, ciphertext, updated_at FROM vault_secrets WHERE owner_id = ?`, owner,
	).Scan(&sec.WrappedKey, &sec.Ciphertext, &sec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get secret: %w", err)
	}
	return &sec, nil
}

// DeleteSecret removes owner's secret. Deleting a missing secret is not an error.
func (s *VaultStore) DeleteSecret(ctx context.Context, owner string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vault_secrets WHERE owner_id = ?`, owner); err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}

// SecretCount returns the number of stored secrets.
func (s *VaultStore) SecretCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vault_secrets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count secrets: %w", err)
	}
	return n, nil
}
