package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketItems = []byte("items")

// boltEnvelope is what actually gets marshaled into the bucket: the
// caller's item plus the TTL, so TTL can be checked without needing a
// second bucket or index.
type boltEnvelope struct {
	Item json.RawMessage `json:"item"`
	TTL  int64           `json:"ttl,omitempty"` // absolute epoch seconds, 0 = no TTL
}

// BoltStore implements Store against a local bbolt file. It is the
// backend selected by ZIPCASE_STORAGE_BACKEND=bolt and for every test in this
// module that needs a Store without live AWS credentials.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketItems)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func boltKey(key Key) []byte {
	return []byte(key.PK + "\x00" + key.SK)
}

func (s *BoltStore) Get(_ context.Context, key Key) (RawItem, bool, error) {
	var envelope *boltEnvelope
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		data := b.Get(boltKey(key))
		if data == nil {
			return nil
		}
		var e boltEnvelope
		if err := json.Unmarshal(data, &e); err != nil {
			return fmt.Errorf("storage: decode envelope for %s/%s: %w", key.PK, key.SK, err)
		}
		envelope = &e
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if envelope == nil {
		return nil, false, nil
	}
	if expired(envelope.TTL) {
		return nil, false, nil
	}
	return RawItem(envelope.Item), true, nil
}

func (s *BoltStore) Put(_ context.Context, key Key, item any, ttl time.Time) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("storage: encode item for %s/%s: %w", key.PK, key.SK, err)
	}

	envelope := boltEnvelope{Item: raw}
	if !ttl.IsZero() {
		envelope.TTL = ttl.Unix()
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("storage: encode envelope for %s/%s: %w", key.PK, key.SK, err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		return b.Put(boltKey(key), data)
	})
}

func (s *BoltStore) Delete(_ context.Context, key Key) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketItems)
		return b.Delete(boltKey(key))
	})
}

// BatchGet is a plain sequential loop against the single local file —
// bbolt has no network round trip to amortize, so the chunk-and-fan-out
// strategy DynamoStore uses would only add goroutine overhead here.
func (s *BoltStore) BatchGet(ctx context.Context, keys []Key) (map[Key]RawItem, error) {
	results := make(map[Key]RawItem, len(keys))
	for _, k := range keys {
		item, ok, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			results[k] = item
		}
	}
	return results, nil
}

func expired(ttl int64) bool {
	return ttl != 0 && time.Now().Unix() > ttl
}
