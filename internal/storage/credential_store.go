package storage

import (
	"context"
	"errors"
	"fmt"

	"keymint-go/internal/auth"
)

// CredentialStore implements auth.CredentialStore over SQLite, encrypting
// secrets at rest with AES-256-GCM.
type CredentialStore struct {
	db            *SQLiteStorage
	encryptionKey []byte
}

// NewCredentialStore creates a new CredentialStore.
func NewCredentialStore(db *SQLiteStorage, key []byte) (*CredentialStore, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	return &CredentialStore{db: db, encryptionKey: key}, nil
}

// Upsert encrypts and stores a credential, replacing any prior one for the
// same provider.
func (cs *CredentialStore) Upsert(ctx context.Context, cred *auth.Credential) error {
	if cred == nil {
		return errors.New("credential cannot be nil")
	}

	ciphertext, nonce, err := EncryptSecret(cs.encryptionKey, []byte(cred.Secret))
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	return cs.db.UpsertCredential(ctx, &CredentialRow{
		Provider:    string(cred.Provider),
		Secret:      ciphertext,
		Nonce:       nonce,
		IssuanceID:  cred.Metadata.IssuanceID,
		DisplayName: cred.Metadata.DisplayName,
		IssuedAt:    cred.Metadata.IssuedAt,
		SecretHint:  cred.Metadata.SecretHint,
		Source:      string(cred.Metadata.Source),
	})
}

// GetByProvider retrieves and decrypts the credential for a provider.
// Returns (nil, nil) when no row exists. A cleared row comes back with an
// empty secret and empty metadata, not an error, so callers can tell a
// logged-out provider from an unknown one.
func (cs *CredentialStore) GetByProvider(ctx context.Context, provider auth.Provider) (*auth.Credential, error) {
	row, err := cs.db.GetCredential(ctx, string(provider))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	cred := &auth.Credential{
		Provider:  provider,
		CreatedAt: row.CreatedAt,
		Metadata: auth.CredentialMetadata{
			IssuanceID:  row.IssuanceID,
			DisplayName: row.DisplayName,
			IssuedAt:    row.IssuedAt,
			SecretHint:  row.SecretHint,
			Source:      auth.CredentialSource(row.Source),
		},
	}

	if len(row.Secret) == 0 {
		return cred, nil
	}

	plaintext, err := DecryptSecret(cs.encryptionKey, row.Secret, row.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt secret: %w", err)
	}
	cred.Secret = string(plaintext)
	return cred, nil
}

// Clear empties the secret and metadata but keeps the provider row.
func (cs *CredentialStore) Clear(ctx context.Context, provider auth.Provider) error {
	err := cs.db.ClearCredential(ctx, string(provider))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Delete removes the credential row entirely.
func (cs *CredentialStore) Delete(ctx context.Context, provider auth.Provider) error {
	return cs.db.DeleteCredential(ctx, string(provider))
}
