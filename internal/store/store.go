// Package store implements the persistent object store underneath the chat
// data layer: a durable, namespaced key/value abstraction with a SQLite
// implementation for real use and an in-memory one for tests.
//
// Contract:
//   - Get returns ErrNotFound when the key is absent.
//   - Put is a blind upsert. Writes to distinct keys are independent and
//     concurrent writes to the same key are last-write-wins; no
//     read-modify-write atomicity is provided. Callers that need it must
//     serialize themselves (see chats.Repository's per-id locking).
//   - Delete is idempotent.
//   - Iterate visits every entry in unspecified order; a visitor error
//     stops iteration and is returned to the caller.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists under the key.
var ErrNotFound = errors.New("store: key not found")

// Store is a durable key/value namespace.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Iterate(ctx context.Context, visit func(key string, value []byte) error) error
}

// Namespaces used by the data layer. The migration version counter lives
// outside the chat namespace so migrations can rewrite every chat record
// without touching their own bookkeeping.
const (
	NamespaceChats = "chats"
	NamespaceMeta  = "meta"
)
