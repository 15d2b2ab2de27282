// Package kvstore implements the optional external key/value adapter used by
// the LimitUsage plugin to persist rate-limit bucket state outside the
// process. Two backends are available:
//
//   - Memory — in-process map, zero external dependencies. When no external
//     store is configured, LimitUsage does not use it: the plugin keeps its
//     own in-process buckets instead.
//   - Redis  — shared across replicas, graceful degradation on error.
//
// Both implement the KVStore interface so they are fully interchangeable.
package kvstore

import "context"

// KVStore is the external interface specified for LimitUsage's rate-limit
// bucket storage: get(key) -> bytes|null, set(key, bytes).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte) error
}
