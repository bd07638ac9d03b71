package auth

import (
	"context"
	"sync"
)

// fakeCredStore is an in-memory CredentialStore used by orchestrator tests.
// Clear mirrors the real store: the row survives with its secret and
// metadata emptied.
type fakeCredStore struct {
	mu   sync.Mutex
	rows map[Provider]*Credential
}

func newFakeCredStore() *fakeCredStore {
	return &fakeCredStore{rows: make(map[Provider]*Credential)}
}

func (f *fakeCredStore) Upsert(ctx context.Context, cred *Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cred
	f.rows[cred.Provider] = &c
	return nil
}

func (f *fakeCredStore) GetByProvider(ctx context.Context, provider Provider) (*Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[provider]
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

func (f *fakeCredStore) Clear(ctx context.Context, provider Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[provider]
	if !ok {
		return nil
	}
	row.Secret = ""
	row.Metadata = CredentialMetadata{}
	return nil
}

func (f *fakeCredStore) Delete(ctx context.Context, provider Provider) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, provider)
	return nil
}

// hasRow reports whether a row exists for provider, cleared or not.
func (f *fakeCredStore) hasRow(provider Provider) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[provider]
	return ok
}
