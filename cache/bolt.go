package cache

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltCache stores every partition in its own bbolt bucket.
type BoltCache struct {
	db *bolt.DB
}

func NewBoltCache(filename string) (BoltCache, error) {
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return BoltCache{}, fmt.Errorf("open bolt db: %w", err)
	}
	return BoltCache{db: db}, nil
}

func (b BoltCache) Open(partition string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(partition))
		return err
	})
}

func (b BoltCache) Partitions() ([]string, error) {
	names := make([]string, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (b BoltCache) Get(partition, key string) ([]byte, bool, error) {
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return nil
		}
		// values are only valid for the life of the transaction
		if v := bucket.Get([]byte(key)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	return data, data != nil, err
}

func (b BoltCache) Put(partition, key string, bytes []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(partition))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), bytes)
	})
}

func (b BoltCache) Purge(partition, key string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func (b BoltCache) Has(partition, key string) bool {
	_, ok, err := b.Get(partition, key)
	return ok && err == nil
}

func (b BoltCache) Keys(partition string, cb func(string)) error {
	keys := make([]string, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(partition))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return err
	}
	// callbacks run outside the transaction so they may use the cache themselves
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (b BoltCache) Delete(partition string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket([]byte(partition)) == nil {
			return nil
		}
		return tx.DeleteBucket([]byte(partition))
	})
}

func (b BoltCache) Close() error {
	return b.db.Close()
}
