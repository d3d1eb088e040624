// Package store implements the sharded in-memory key-value store and its
// background TTL reaper.
//
// The keyspace is partitioned across a power-of-two number of shards, each
// an independently locked map with per-entry expiry. Per key, operations are
// linearizable; across shards there is no coordination at all.
package store
