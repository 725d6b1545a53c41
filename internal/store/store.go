// Package store defines the capability contract the chat core needs from
// its backing engine and provides the Redis implementation. All durable
// state lives here; the rest of the core holds no authoritative state
// in-process.
package store

import (
	"context"
	"time"
)

// Store is the set of atomic primitives the core builds on: keyed records
// with a refreshable expiry, unique-member sets, and append-only lists.
// Every method returns an error only for infrastructural failures; those
// are fatal to the in-flight operation and must propagate to the caller.
type Store interface {
	// WriteRecord creates or replaces a keyed record. The record has no
	// expiry until RefreshRecord is called on it.
	WriteRecord(ctx context.Context, key string, fields map[string]string) error

	// RefreshRecord resets the record's expiry. Refreshing a missing key
	// is a no-op.
	RefreshRecord(ctx context.Context, key string, ttl time.Duration) error

	// RecordField returns the named field of a record, or "" if the
	// record or field does not exist.
	RecordField(ctx context.Context, key, field string) (string, error)

	// Exists reports whether the key currently exists (not expired).
	Exists(ctx context.Context, key string) (bool, error)

	// SetAdd adds a member to a set, reporting whether it was newly added.
	SetAdd(ctx context.Context, key, member string) (bool, error)

	// SetRemove removes a member from a set.
	SetRemove(ctx context.Context, key, member string) error

	// SetHas reports whether the member is in the set.
	SetHas(ctx context.Context, key, member string) (bool, error)

	// SetMembers returns all members of a set.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// SetCard returns the cardinality of a set.
	SetCard(ctx context.Context, key string) (int, error)

	// ListPush appends a value to the tail of a list.
	ListPush(ctx context.Context, key, value string) error

	// ListTail returns the last n values of a list, oldest first.
	ListTail(ctx context.Context, key string, n int) ([]string, error)

	// ListLen returns the length of a list.
	ListLen(ctx context.Context, key string) (int, error)

	// SetIfAbsent writes a plain value only if the key does not exist,
	// reporting whether the write took effect.
	SetIfAbsent(ctx context.Context, key, value string) (bool, error)

	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}
