// Package store provides the two logical state stores: a TTL'd key/value
// hot store (Redis) for dynamic whitelists, profile counters, and success
// streaks, and a durable store (Postgres) for alerts, static whitelist
// entries, tenant config, and the suppression audit.
//
// Keys follow the kind:tenant:subject convention, e.g. "bf:acme-corp:10.0.0.5".
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("key not found")

// HotStore is the minimal interface the pipeline needs from the hot state
// backend. The concrete Redis client is created in cmd/siemd and injected,
// so tests can run against miniredis and outages degrade per policy instead
// of failing.
type HotStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error

	// Incr increments a counter and applies ttl on first increment.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Key joins parts with the kind:tenant:subject convention.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
