package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// CredentialRow is the raw credential record as stored. The secret is an
// AES-GCM ciphertext; metadata lives in explicit columns rather than a
// serialized blob.
type CredentialRow struct {
	Provider    string
	Secret      []byte
	Nonce       []byte
	IssuanceID  string
	DisplayName string
	IssuedAt    string
	SecretHint  string
	Source      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SQLiteStorage handles all database operations
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage creates a new SQLiteStorage instance
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &SQLiteStorage{db: db, path: path}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func validateRow(row *CredentialRow) error {
	if row == nil {
		return fmt.Errorf("%w: row cannot be nil", ErrInvalidInput)
	}
	if row.Provider == "" {
		return fmt.Errorf("%w: provider cannot be empty", ErrInvalidInput)
	}
	return nil
}

// UpsertCredential inserts or replaces the credential row for a provider.
// The original created_at is preserved across replacements.
func (s *SQLiteStorage) UpsertCredential(ctx context.Context, row *CredentialRow) error {
	if err := validateRow(row); err != nil {
		return err
	}

	query := `
		INSERT INTO credentials (
			provider, secret, nonce, issuance_id, display_name, issued_at, secret_hint, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			secret=excluded.secret, nonce=excluded.nonce,
			issuance_id=excluded.issuance_id, display_name=excluded.display_name,
			issued_at=excluded.issued_at, secret_hint=excluded.secret_hint,
			source=excluded.source, updated_at=CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		row.Provider, row.Secret, row.Nonce, row.IssuanceID,
		row.DisplayName, row.IssuedAt, row.SecretHint, row.Source)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// GetCredential retrieves the credential row for a provider.
func (s *SQLiteStorage) GetCredential(ctx context.Context, provider string) (*CredentialRow, error) {
	if provider == "" {
		return nil, fmt.Errorf("%w: provider cannot be empty", ErrInvalidInput)
	}

	row := &CredentialRow{}
	err := s.db.QueryRowContext(ctx, `
		SELECT provider, secret, nonce, issuance_id, display_name, issued_at, secret_hint, source, created_at, updated_at
		FROM credentials
		WHERE provider = ?`,
		provider).Scan(
		&row.Provider,
		&row.Secret,
		&row.Nonce,
		&row.IssuanceID,
		&row.DisplayName,
		&row.IssuedAt,
		&row.SecretHint,
		&row.Source,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: credential not found for provider %s", ErrNotFound, provider)
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}
	return row, nil
}

// ClearCredential empties the secret and metadata columns but keeps the
// provider row for audit history.
func (s *SQLiteStorage) ClearCredential(ctx context.Context, provider string) error {
	if provider == "" {
		return fmt.Errorf("%w: provider cannot be empty", ErrInvalidInput)
	}

	query := `
		UPDATE credentials
		SET secret = X'', nonce = X'', issuance_id = '', display_name = '',
		    issued_at = '', secret_hint = '', source = '', updated_at = CURRENT_TIMESTAMP
		WHERE provider = ?
	`
	result, err := s.db.ExecContext(ctx, query, provider)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: credential not found for provider %s", ErrNotFound, provider)
	}
	return nil
}

// DeleteCredential removes the credential row for a provider.
func (s *SQLiteStorage) DeleteCredential(ctx context.Context, provider string) error {
	query := `DELETE FROM credentials WHERE provider = ?`
	_, err := s.db.ExecContext(ctx, query, provider)
	return err
}
