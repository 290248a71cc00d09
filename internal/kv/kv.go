// Package kv defines the expiring key-value collaborator used by the ledger
// and the response cache.
package kv

import (
	"context"
	"time"
)

// Store offers hash-per-key semantics with key-level TTL plus the plain
// string and set operations the response cache needs.
type Store interface {
	// HSet writes the given fields into the hash at key.
	HSet(ctx context.Context, key string, fields map[string]string) error

	// HGetAll returns every field of the hash at key. A missing key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// HExists reports whether field exists in the hash at key.
	HExists(ctx context.Context, key, field string) (bool, error)

	// Exists reports whether key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire sets the time-to-live of key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Del removes keys and returns how many existed.
	Del(ctx context.Context, keys ...string) (int64, error)

	// Get returns the string value at key; ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores a string value with a TTL. A zero TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SMembers returns the members of the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Close releases the underlying connection.
	Close() error
}
