// Package kv provides the flat key-value port that document state is persisted
// through, with memory, Redis and PostgreSQL adapters.
//
// The port deliberately offers nothing richer than single-key operations. Update
// is the one atomic primitive: fn runs exactly once while the key is held, so a
// side effect performed inside fn happens at most once per successful write.
package kv

import "context"

// UpdateFunc computes the next value for a key. found reports whether the key
// existed; current is nil when it did not. Returning an error aborts the update
// and nothing is written.
//
// ctx expires no later than the key stops being held exclusively. Side effects
// performed inside fn must run under ctx; one that outlives it can be repeated
// by the next holder.
type UpdateFunc func(ctx context.Context, current []byte, found bool) ([]byte, error)

// Store is a flat key-value store with single-key atomicity and no transactions
// spanning keys. Get returns sentinel.ErrNotFound for absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
