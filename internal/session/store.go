// Package session provides the time-bounded key-value store holding
// in-flight authorization attempts.
package session

import (
	"context"
	"time"
)

// Store is a minimal key-value contract for short-lived auth state.
// Single-key operations only; implementations honor TTL on Upsert and
// treat a missing key as (found=false, err=nil).
type Store interface {
	Upsert(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
}
