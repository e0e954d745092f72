// Package storage implements the composite-key KV store ZipCase
// persists every entity in: users' credentials and sessions, cases and
// their summaries, name searches. Two backends satisfy the same Store
// interface — DynamoStore for production, BoltStore for local runs and
// tests — so the rest of the codebase never imports an AWS SDK type
// directly.
package storage

import (
	"context"
	"encoding/json"
	"time"
)

// Key identifies an item by the composite primary key conventions in
// spec.md §4.1, e.g. {"USER#<id>", "PORTAL_CREDENTIALS"} or
// {"CASE#<caseNumber>", "SUMMARY"}.
type Key struct {
	PK string
	SK string
}

// RawItem is an item's attributes, JSON-encoded, with the key and TTL
// attributes already stripped. Callers unmarshal into the concrete type
// they expect.
type RawItem []byte

// Unmarshal decodes the item into out.
func (r RawItem) Unmarshal(out any) error {
	return json.Unmarshal(r, out)
}

// Store is the narrow interface spec.md §4.1 asks for: get, put, and
// batch-get over a composite-key KV. TTL is enforced by every
// implementation at read time, independent of any storage-side reaper.
type Store interface {
	// Get fetches one item. It returns (nil, false, nil) if the item is
	// absent or its TTL has passed.
	Get(ctx context.Context, key Key) (RawItem, bool, error)

	// Put writes item at key. A zero ttl means the item never expires.
	Put(ctx context.Context, key Key, item any, ttl time.Time) error

	// BatchGet reads many keys at once, chunking into groups of at most
	// batchChunkSize and fanning the chunks out concurrently. Keys
	// absent or expired are simply missing from the result map; BatchGet
	// never returns a partial-failure error for an individual key.
	BatchGet(ctx context.Context, keys []Key) (map[Key]RawItem, error)

	// Delete removes an item. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error

	Close() error
}

// batchChunkSize is the max number of keys per underlying batch
// operation, per spec.md §4.1 ("chunk into groups of at most 25 keys").
const batchChunkSize = 25

func chunkKeys(keys []Key, size int) [][]Key {
	if size <= 0 {
		size = batchChunkSize
	}
	var chunks [][]Key
	for size < len(keys) {
		keys, chunks = keys[size:], append(chunks, keys[0:size:size])
	}
	return append(chunks, keys)
}
